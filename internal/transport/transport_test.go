package transport_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerchat/internal/domain"
	"peerchat/internal/protocol/packet"
	"peerchat/internal/transport"
)

func startServer(t *testing.T, h transport.HandlerFunc) string {
	t.Helper()
	srv := &transport.Server{Handler: h, IOTimeout: time.Second}
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv.Addr().String()
}

func TestExchangeOK(t *testing.T) {
	var (
		mu  sync.Mutex
		got packet.Packet
	)
	addr := startServer(t, func(_ context.Context, remote *net.TCPAddr, p packet.Packet) error {
		mu.Lock()
		defer mu.Unlock()
		got = p
		assert.True(t, remote.IP.IsLoopback())
		return nil
	})

	d := transport.Dialer{DialTimeout: time.Second, IOTimeout: time.Second}
	err := d.Exchange(context.Background(), addr, packet.SessionKey{SenderID: "a1b2c3d4", Data: "AAAA"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, packet.SessionKey{SenderID: "a1b2c3d4", Data: "AAAA"}, got)
}

func TestExchangeRejected(t *testing.T) {
	addr := startServer(t, func(context.Context, *net.TCPAddr, packet.Packet) error {
		return errors.New("no session key\nfor you")
	})
	d := transport.Dialer{}
	err := d.Exchange(context.Background(), addr, packet.StatusUpdate{MessageID: 1, Status: domain.StatusRead})
	require.ErrorIs(t, err, domain.ErrRejected)
	assert.Contains(t, err.Error(), "no session key for you")
}

func TestServerRejectsGarbage(t *testing.T) {
	called := false
	addr := startServer(t, func(context.Context, *net.TCPAddr, packet.Packet) error {
		called = true
		return nil
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := conn.Read(buf)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "ERR "), "ack was %q", buf[:n])
	assert.False(t, called)
}

func TestExchangeUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = transport.Dialer{DialTimeout: 200 * time.Millisecond}.
		Exchange(context.Background(), addr, packet.SessionKey{SenderID: "x", Data: "y"})
	assert.Error(t, err)
}

func TestReadPacketCap(t *testing.T) {
	big := `{"type":"session_key","sender_id":"x","data":"` + strings.Repeat("A", transport.MaxPacketBytes) + `"}`
	_, err := transport.ReadPacket(strings.NewReader(big))
	assert.ErrorIs(t, err, domain.ErrMalformedPacket)
}

func TestDatagramRoundTrip(t *testing.T) {
	l, err := transport.ListenDatagrams("127.0.0.1:0", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx, func(data []byte, _ *net.UDPAddr) {
			select {
			case got <- string(data):
			default:
			}
		})
	}()

	s, err := transport.NewDatagramSender(l.Addr().String())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Send([]byte("hello")))

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

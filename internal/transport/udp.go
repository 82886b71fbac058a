package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// MaxDatagramBytes is the UDP read buffer size.
const MaxDatagramBytes = 4096

// readRetryDelay is the pause after a failed read before trying again.
var readRetryDelay = 100 * time.Millisecond

// DatagramSender writes datagrams to a fixed target. Broadcast targets work
// because the runtime enables SO_BROADCAST on UDP sockets.
type DatagramSender struct {
	conn   *net.UDPConn
	target *net.UDPAddr
}

// NewDatagramSender opens an unbound UDP socket aimed at target (host:port).
func NewDatagramSender(target string) (*DatagramSender, error) {
	addr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, err
	}
	return &DatagramSender{conn: conn, target: addr}, nil
}

// Send writes one datagram.
func (s *DatagramSender) Send(b []byte) error {
	_, err := s.conn.WriteToUDP(b, s.target)
	return err
}

func (s *DatagramSender) Close() error { return s.conn.Close() }

// udpConn is the part of *net.UDPConn the listener uses.
type udpConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	LocalAddr() net.Addr
	Close() error
}

// DatagramListener reads datagrams from a bound UDP socket.
type DatagramListener struct {
	conn udpConn
	log  *zap.Logger
}

// ListenDatagrams binds addr, e.g. ":6667".
func ListenDatagrams(addr string, log *zap.Logger) (*DatagramListener, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", ua)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DatagramListener{conn: conn, log: log}, nil
}

func (l *DatagramListener) Close() error { return l.conn.Close() }

func (l *DatagramListener) Addr() *net.UDPAddr { return l.conn.LocalAddr().(*net.UDPAddr) }

// Serve calls fn for every datagram until ctx is cancelled. fn runs on the
// reading goroutine and must not retain data.
func (l *DatagramListener) Serve(ctx context.Context, fn func(data []byte, from *net.UDPAddr)) error {
	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()
	defer l.conn.Close()

	buf := make([]byte, MaxDatagramBytes)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("udp read failed", zap.Error(err))
			t := time.NewTimer(readRetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}
		fn(buf[:n], from)
	}
}

package node_test

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerchat/internal/dispatch"
	"peerchat/internal/domain"
	"peerchat/internal/node"
	"peerchat/internal/services/directory"
	"peerchat/internal/services/identity"
	"peerchat/internal/services/message"
	"peerchat/internal/services/session"
	"peerchat/internal/store"
	"peerchat/internal/transport"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

type stack struct {
	ident *identity.Service
	dir   *directory.Service
	msgs  *message.Service
	log   *store.SQLiteMessageLog
	node  *node.Node

	mu     sync.Mutex
	events []domain.InboundEvent
}

func (s *stack) received() []domain.InboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InboundEvent(nil), s.events...)
}

func newStack(t *testing.T, id domain.NodeID, name domain.Username, listenUDP, broadcastUDP int) *stack {
	t.Helper()
	home := t.TempDir()
	s := &stack{}

	s.ident = identity.NewWithID(id, store.NewKeyFileStore(home, ""), nil)
	require.NoError(t, s.ident.SetUsername(name))
	_, err := s.ident.EnsureKeys()
	require.NoError(t, err)

	s.log, err = store.OpenMessageLog(context.Background(), filepath.Join(home, "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.log.Close() })

	dialer := transport.Dialer{DialTimeout: time.Second, IOTimeout: 2 * time.Second}
	s.dir = directory.New(id, directory.Options{})
	disp := dispatch.New(nil)
	disp.Subscribe(func(ev domain.InboundEvent) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, ev)
	})
	s.msgs = message.New(message.Deps{
		Identity:   s.ident,
		Directory:  s.dir,
		Sessions:   session.New(s.ident, dialer, nil, nil),
		Log:        s.log,
		Dispatcher: disp,
		Net:        dialer,
	})
	s.node = node.New(node.Config{
		DiscoveryListen: node.HostPort("127.0.0.1", listenUDP),
		BroadcastAddr:   node.HostPort("127.0.0.1", broadcastUDP),
		Interval:        50 * time.Millisecond,
		MessagingListen: "127.0.0.1:0",
		IOTimeout:       2 * time.Second,
	}, node.Deps{Identity: s.ident, Directory: s.dir, Handler: s.msgs})
	return s
}

func run(t *testing.T, n *node.Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	select {
	case <-n.Ready():
	case err := <-done:
		t.Fatalf("node exited early: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("node did not stop")
		}
	})
}

func TestTwoNodesDiscoverAndChat(t *testing.T) {
	pa, pb := freeUDPPort(t), freeUDPPort(t)
	alice := newStack(t, "aaa111", "alice", pa, pb)
	bob := newStack(t, "bbb222", "bob", pb, pa)
	run(t, alice.node)
	run(t, bob.node)

	require.Eventually(t, func() bool {
		return len(alice.dir.ListActive(time.Now())) == 1 && len(bob.dir.ListActive(time.Now())) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.NodeID("bbb222"), alice.dir.ListActive(time.Now())[0].ID)
	assert.Equal(t, domain.NodeID("aaa111"), bob.dir.ListActive(time.Now())[0].ID)

	rcpt, err := alice.msgs.Send(context.Background(), "bbb222", "hi bob")
	require.NoError(t, err)

	events := bob.received()
	require.Len(t, events, 1)
	assert.Equal(t, domain.Username("alice"), events[0].Sender)
	assert.Equal(t, "hi bob", events[0].Message)

	m, ok, err := alice.log.Get(context.Background(), rcpt.MessageID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusDelivered, m.Status)
}

func TestRunBeforeLogin(t *testing.T) {
	ident := identity.NewWithID("aaa111", store.NewKeyFileStore(t.TempDir(), ""), nil)
	n := node.New(node.Config{}, node.Deps{Identity: ident})
	assert.ErrorIs(t, n.Run(context.Background()), domain.ErrNoIdentity)
}

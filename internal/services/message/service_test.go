package message_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerchat/internal/crypto"
	"peerchat/internal/dispatch"
	"peerchat/internal/domain"
	"peerchat/internal/protocol/packet"
	"peerchat/internal/services/directory"
	"peerchat/internal/services/identity"
	"peerchat/internal/services/message"
	"peerchat/internal/services/session"
	"peerchat/internal/store"
	"peerchat/internal/transport"
)

type countingNet struct {
	transport.Dialer
	calls atomic.Int32
}

func (c *countingNet) Exchange(ctx context.Context, addr string, p packet.Packet) error {
	c.calls.Add(1)
	return c.Dialer.Exchange(ctx, addr, p)
}

type testNode struct {
	ident *identity.Service
	dir   *directory.Service
	sess  *session.Service
	disp  *dispatch.Dispatcher
	log   *store.SQLiteMessageLog
	svc   *message.Service
	net   *countingNet
	port  int

	mu     sync.Mutex
	events []domain.InboundEvent
}

func (n *testNode) received() []domain.InboundEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.InboundEvent(nil), n.events...)
}

func newTestNode(t *testing.T, id domain.NodeID, name domain.Username) *testNode {
	t.Helper()
	home := t.TempDir()

	n := &testNode{net: &countingNet{Dialer: transport.Dialer{DialTimeout: time.Second, IOTimeout: 2 * time.Second}}}
	n.ident = identity.NewWithID(id, store.NewKeyFileStore(home, ""), nil)
	require.NoError(t, n.ident.SetUsername(name))
	_, err := n.ident.EnsureKeys()
	require.NoError(t, err)

	n.log, err = store.OpenMessageLog(context.Background(), filepath.Join(home, "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.log.Close() })

	n.dir = directory.New(id, directory.Options{})
	n.sess = session.New(n.ident, n.net, nil, nil)
	disp := dispatch.New(nil)
	n.disp = disp
	disp.Subscribe(func(ev domain.InboundEvent) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.events = append(n.events, ev)
	})
	n.svc = message.New(message.Deps{
		Identity:   n.ident,
		Directory:  n.dir,
		Sessions:   n.sess,
		Log:        n.log,
		Dispatcher: disp,
		Net:        n.net,
	})

	srv := &transport.Server{Handler: n.svc, IOTimeout: 2 * time.Second}
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	n.port = srv.Addr().Port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return n
}

// introduce makes each node's directory aware of the other.
func introduce(t *testing.T, nodes ...*testNode) {
	t.Helper()
	for _, a := range nodes {
		for _, b := range nodes {
			if a == b {
				continue
			}
			name, _ := b.ident.Username()
			pemText, err := b.ident.PublicKeyPEM()
			require.NoError(t, err)
			require.True(t, a.dir.Observe(domain.Announcement{
				UserID:       b.ident.NodeID(),
				Username:     name,
				PublicKeyPEM: pemText,
				TCPPort:      b.port,
			}, "127.0.0.1", time.Now()))
		}
	}
}

func TestSendDeliversAndRelaysStatus(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")
	bob := newTestNode(t, "bbb222", "bob")
	introduce(t, alice, bob)
	ctx := context.Background()

	rcpt, err := alice.svc.Send(ctx, "bbb222", "hi bob")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeID("bbb222"), rcpt.PeerID)

	events := bob.received()
	require.Len(t, events, 1)
	assert.Equal(t, domain.Username("alice"), events[0].Sender)
	assert.Equal(t, domain.NodeID("aaa111"), events[0].SenderID)
	assert.Equal(t, "hi bob", events[0].Message)

	bobConv, err := bob.log.Conversation(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	require.Len(t, bobConv, 1)
	assert.Equal(t, domain.StatusDelivered, bobConv[0].Status)
	assert.Equal(t, rcpt.MessageID, bobConv[0].RemoteID)

	// bob relayed "delivered" before acking, so alice's copy has moved on.
	sent, ok, err := alice.log.Get(ctx, rcpt.MessageID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusDelivered, sent.Status)
	assert.Equal(t, "hi bob", sent.Message)
}

func TestSendToByNameAndReadReceipts(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")
	bob := newTestNode(t, "bbb222", "bob")
	introduce(t, alice, bob)
	ctx := context.Background()

	rcpt, err := alice.svc.SendTo(ctx, "bob", "are you there?")
	require.NoError(t, err)

	n, err := bob.svc.MarkRead(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent, _, err := alice.log.Get(ctx, rcpt.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, sent.Status)

	unread, err := bob.log.Unread(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestSendUnknownPeerDoesNoIO(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")

	_, err := alice.svc.Send(context.Background(), "zzz999", "hello?")
	require.ErrorIs(t, err, domain.ErrPeerUnavailable)
	assert.Zero(t, alice.net.calls.Load())

	conv, err := alice.log.Conversation(context.Background(), "alice", "zzz999", 0)
	require.NoError(t, err)
	assert.Empty(t, conv)
}

func TestTamperedMessageFailsClosed(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")
	bob := newTestNode(t, "bbb222", "bob")
	introduce(t, alice, bob)
	ctx := context.Background()

	bobRec, err := alice.dir.Resolve("bbb222", time.Now())
	require.NoError(t, err)
	key, err := alice.sess.EnsureOutbound(ctx, bobRec)
	require.NoError(t, err)

	sealed, err := crypto.Seal(key.Slice(), []byte("secret"), []byte("aaa111"))
	require.NoError(t, err)

	for name, mutate := range map[string]func(s *crypto.Sealed){
		"ciphertext": func(s *crypto.Sealed) { s.Ciphertext[0] ^= 1 },
		"tag":        func(s *crypto.Sealed) { s.Tag[len(s.Tag)-1] ^= 1 },
	} {
		t.Run(name, func(t *testing.T) {
			bad := crypto.Sealed{
				Nonce:      sealed.Nonce,
				Ciphertext: append([]byte(nil), sealed.Ciphertext...),
				Tag:        append([]byte(nil), sealed.Tag...),
			}
			mutate(&bad)
			err := bob.svc.HandlePacket(ctx, nil, packet.SecureMessage{
				Sender:   "alice",
				SenderID: "aaa111",
				Payload: packet.Payload{
					Nonce:      crypto.B64(bad.Nonce),
					Ciphertext: crypto.B64(bad.Ciphertext),
					Tag:        crypto.B64(bad.Tag),
				},
			})
			assert.ErrorIs(t, err, domain.ErrDecrypt)
		})
	}

	assert.Empty(t, bob.received())
	conv, err := bob.log.Conversation(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, conv)
}

func TestMessageWithoutSessionKeyRejected(t *testing.T) {
	bob := newTestNode(t, "bbb222", "bob")
	err := bob.svc.HandlePacket(context.Background(), nil, packet.SecureMessage{
		Sender:   "mallory",
		SenderID: "fff000",
		Payload:  packet.Payload{Nonce: "AAAA", Ciphertext: "AAAA", Tag: "AAAA"},
	})
	assert.ErrorIs(t, err, domain.ErrNoSessionKey)
	assert.Empty(t, bob.received())
}

func TestStatusUpdateTouchesOnlyItsMessage(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")
	bob := newTestNode(t, "bbb222", "bob")
	introduce(t, alice, bob)
	ctx := context.Background()

	for i := 1; i <= 42; i++ {
		_, err := alice.log.Save(ctx, domain.StoredMessage{
			Sender: "alice", Recipient: "bob", Message: fmt.Sprintf("m%d", i), Encrypted: true,
		})
		require.NoError(t, err)
	}

	require.NoError(t, bob.svc.SendStatus(ctx, "aaa111", 42, domain.StatusDelivered))

	conv, err := alice.log.Conversation(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	require.Len(t, conv, 42)
	for _, m := range conv {
		if m.ID == 42 {
			assert.Equal(t, domain.StatusDelivered, m.Status)
		} else {
			assert.Equal(t, domain.StatusSent, m.Status, "message %d", m.ID)
		}
	}

	// A downgrade is acknowledged but ignored.
	require.NoError(t, bob.svc.SendStatus(ctx, "aaa111", 42, domain.StatusSent))
	m, _, err := alice.log.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, m.Status)
}

func TestDiscoveryOverTCPRejected(t *testing.T) {
	bob := newTestNode(t, "bbb222", "bob")
	err := bob.svc.HandlePacket(context.Background(), nil, packet.Discovery{UserID: "x", Username: "x", PublicKey: "k"})
	assert.ErrorIs(t, err, domain.ErrUnknownPacketType)
}

func TestRejectedSendRenegotiates(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")
	bob := newTestNode(t, "bbb222", "bob")
	introduce(t, alice, bob)
	ctx := context.Background()

	_, err := alice.svc.Send(ctx, "bbb222", "first")
	require.NoError(t, err)

	// bob restarts with fresh keys and no inbound session for alice.
	bob2 := newTestNode(t, "bbb222", "bob")
	introduce(t, alice, bob2)

	_, err = alice.svc.Send(ctx, "bbb222", "lost")
	require.ErrorIs(t, err, domain.ErrRejected)
	_, ok := alice.sess.Outbound("bbb222")
	assert.False(t, ok)

	_, err = alice.svc.Send(ctx, "bbb222", "again")
	require.NoError(t, err)
	events := bob2.received()
	require.Len(t, events, 1)
	assert.Equal(t, "again", events[0].Message)

	// The rejected message left no row behind.
	conv, err := alice.log.Conversation(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "first", conv[0].Message)
	assert.Equal(t, "again", conv[1].Message)
}

func TestStatusUpdateCannotTouchOtherConversations(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")
	bob := newTestNode(t, "bbb222", "bob")
	carol := newTestNode(t, "ccc333", "carol")
	introduce(t, alice, bob, carol)
	ctx := context.Background()

	_, err := carol.svc.Send(ctx, "aaa111", "hi alice")
	require.NoError(t, err)
	events := alice.received()
	require.Len(t, events, 1)
	inbound := events[0].MessageID

	toBob, err := alice.log.Save(ctx, domain.StoredMessage{Sender: "alice", Recipient: "bob", Message: "hi bob"})
	require.NoError(t, err)

	// bob names alice's row from carol, and carol names alice's row to bob.
	require.NoError(t, bob.svc.SendStatus(ctx, "aaa111", inbound, domain.StatusRead))
	require.NoError(t, carol.svc.SendStatus(ctx, "aaa111", toBob, domain.StatusRead))

	m, _, err := alice.log.Get(ctx, inbound)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, m.Status)
	m, _, err = alice.log.Get(ctx, toBob)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, m.Status)

	unread, err := alice.log.Unread(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	// A status from a node alice has never seen is rejected.
	err = alice.svc.HandlePacket(ctx, nil, packet.StatusUpdate{
		SenderID: "fff000", MessageID: toBob, Status: domain.StatusDelivered,
	})
	assert.ErrorIs(t, err, domain.ErrUnknownPeer)
}

func TestBlockedSubscriberStallsOnlyItsConnection(t *testing.T) {
	alice := newTestNode(t, "aaa111", "alice")
	bob := newTestNode(t, "bbb222", "bob")
	carol := newTestNode(t, "ccc333", "carol")
	introduce(t, alice, bob, carol)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	bob.disp.Subscribe(func(ev domain.InboundEvent) {
		if ev.SenderID == "aaa111" {
			close(entered)
			<-release
		}
	})

	aliceDone := make(chan error, 1)
	go func() {
		_, err := alice.svc.Send(ctx, "bbb222", "slow")
		aliceDone <- err
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never ran")
	}

	// alice's connection is parked in the subscriber; carol's is not.
	_, err := carol.svc.Send(ctx, "bbb222", "fast")
	require.NoError(t, err)
	select {
	case err := <-aliceDone:
		t.Fatalf("alice's send finished while its subscriber was blocked: %v", err)
	default:
	}

	close(release)
	require.NoError(t, <-aliceDone)
	assert.Len(t, bob.received(), 2)
}

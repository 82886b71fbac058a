// Package node runs the long-lived loops of a peerchat node: the presence
// broadcaster, the discovery listener, the TCP accept loop and the optional
// metrics endpoint. All of them share one context; cancelling it closes
// every socket and Run returns once each loop has stopped.
package node

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"peerchat/internal/domain"
	"peerchat/internal/metrics"
	"peerchat/internal/services/presence"
	"peerchat/internal/transport"
)

// Config holds the network settings of a node.
type Config struct {
	// DiscoveryListen is the UDP bind address, e.g. ":6667".
	DiscoveryListen string
	// BroadcastAddr is where announcements go, e.g. "255.255.255.255:6667".
	BroadcastAddr string
	Interval      time.Duration
	// MessagingListen is the TCP bind address, e.g. ":6668".
	MessagingListen string
	IOTimeout       time.Duration
	// MetricsListen enables the Prometheus endpoint when non-empty.
	MetricsListen string
}

// Deps are the services the node drives.
type Deps struct {
	Identity  domain.IdentityService
	Directory domain.PeerDirectory
	Handler   transport.Handler
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Node binds nothing until Run.
type Node struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu      sync.Mutex
	tcpAddr *net.TCPAddr
	udpAddr *net.UDPAddr
	ready   chan struct{}
}

// New returns a Node.
func New(cfg Config, deps Deps) *Node {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Node{cfg: cfg, deps: deps, log: deps.Logger.Named("node"), ready: make(chan struct{})}
}

// Ready is closed once every socket is bound.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// Addrs returns the bound messaging and discovery addresses after Ready.
func (n *Node) Addrs() (*net.TCPAddr, *net.UDPAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tcpAddr, n.udpAddr
}

// Run opens the sockets and blocks until ctx is cancelled or a loop fails.
// It fails with domain.ErrNoIdentity before login. Run may be called once.
func (n *Node) Run(ctx context.Context) error {
	if _, ok := n.deps.Identity.Username(); !ok {
		return fmt.Errorf("%w: no username", domain.ErrNoIdentity)
	}
	if _, err := n.deps.Identity.PublicKeyPEM(); err != nil {
		return err
	}

	srv := &transport.Server{Handler: n.deps.Handler, IOTimeout: n.cfg.IOTimeout, Logger: n.deps.Logger}
	if err := srv.Listen(n.cfg.MessagingListen); err != nil {
		return err
	}
	udp, err := transport.ListenDatagrams(n.cfg.DiscoveryListen, n.deps.Logger)
	if err != nil {
		_ = srv.Close()
		return err
	}
	out, err := transport.NewDatagramSender(n.cfg.BroadcastAddr)
	if err != nil {
		_ = srv.Close()
		_ = udp.Close()
		return err
	}
	defer out.Close()

	n.mu.Lock()
	n.tcpAddr, n.udpAddr = srv.Addr(), udp.Addr()
	n.mu.Unlock()
	close(n.ready)

	n.log.Info("node started",
		zap.String("node_id", n.deps.Identity.NodeID().String()),
		zap.Stringer("messaging", srv.Addr()),
		zap.Stringer("discovery", udp.Addr()),
		zap.String("broadcast", n.cfg.BroadcastAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error {
		l := &presence.Listener{
			Directory: n.deps.Directory,
			Source:    udp,
			Logger:    n.deps.Logger,
			Metrics:   n.deps.Metrics,
		}
		return l.Run(gctx)
	})
	g.Go(func() error {
		b := &presence.Broadcaster{
			Identity: n.deps.Identity,
			Sender:   out,
			Interval: n.cfg.Interval,
			TCPPort:  srv.Addr().Port,
			Logger:   n.deps.Logger,
			Metrics:  n.deps.Metrics,
		}
		return b.Run(gctx)
	})
	if n.cfg.MetricsListen != "" && n.deps.Metrics != nil {
		g.Go(func() error { return metrics.NewServer(n.cfg.MetricsListen, n.deps.Metrics).Run(gctx) })
	}

	err = g.Wait()
	n.log.Info("node stopped", zap.Error(err))
	return err
}

// HostPort joins host and port.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

package app

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"peerchat/internal/dispatch"
	"peerchat/internal/domain"
	"peerchat/internal/metrics"
	"peerchat/internal/node"
	"peerchat/internal/services/directory"
	"peerchat/internal/services/identity"
	messagesvc "peerchat/internal/services/message"
	sessionsvc "peerchat/internal/services/session"
	"peerchat/internal/store"
	"peerchat/internal/transport"
)

// WireOptions selects the logged-in user.
type WireOptions struct {
	Username   domain.Username
	Passphrase string
	// NodeID reuses a node id; empty generates a new one.
	NodeID domain.NodeID
	Logger *zap.Logger
}

// Wire bundles all stores and services of a running node.
type Wire struct {
	Identity   *identity.Service
	Directory  *directory.Service
	Sessions   *sessionsvc.Service
	Messages   *messagesvc.Service
	Dispatcher *dispatch.Dispatcher
	Log        *store.SQLiteMessageLog
	Metrics    *metrics.Metrics
	Node       *node.Node
}

// NewWire constructs the dependency graph from cfg.
func NewWire(ctx context.Context, cfg *Config, opts WireOptions) (*Wire, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Stores
	keys := store.NewKeyFileStore(cfg.Home, opts.Passphrase)
	msgLog, err := store.OpenMessageLog(ctx, filepath.Join(cfg.Home, store.DefaultDBFile))
	if err != nil {
		return nil, err
	}
	if days := cfg.History.RetainDays; days > 0 {
		n, err := msgLog.ClearOlderThan(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			_ = msgLog.Close()
			return nil, err
		}
		log.Info("pruned message history", zap.Int64("deleted", n), zap.Int("retain_days", days))
	}

	// Identity
	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = identity.NewNodeID()
	}
	ident := identity.NewWithID(nodeID, keys, log)
	if err := ident.SetUsername(opts.Username); err != nil {
		_ = msgLog.Close()
		return nil, err
	}
	if _, err := ident.EnsureKeys(); err != nil {
		_ = msgLog.Close()
		return nil, err
	}

	// Services
	m := metrics.New("peerchat")
	dialer := transport.Dialer{DialTimeout: cfg.Messaging.DialTimeout, IOTimeout: cfg.Messaging.IOTimeout}
	dir := directory.New(nodeID, directory.Options{
		StaleAfter:  cfg.Discovery.StaleAfter,
		DefaultPort: cfg.Messaging.Port,
		Logger:      log,
		Metrics:     m,
	})
	sessions := sessionsvc.New(ident, dialer, log, m)
	disp := dispatch.New(log)
	msgs := messagesvc.New(messagesvc.Deps{
		Identity:    ident,
		Directory:   dir,
		Sessions:    sessions,
		Log:         msgLog,
		Dispatcher:  disp,
		Net:         dialer,
		DefaultPort: cfg.Messaging.Port,
		Logger:      log,
		Metrics:     m,
	})

	n := node.New(node.Config{
		DiscoveryListen: node.HostPort("", cfg.Discovery.Port),
		BroadcastAddr:   node.HostPort(cfg.Discovery.Broadcast, cfg.Discovery.Port),
		Interval:        cfg.Discovery.Interval,
		MessagingListen: node.HostPort("", cfg.Messaging.Port),
		IOTimeout:       cfg.Messaging.IOTimeout,
		MetricsListen:   cfg.Metrics.Listen,
	}, node.Deps{
		Identity:  ident,
		Directory: dir,
		Handler:   msgs,
		Logger:    log,
		Metrics:   m,
	})

	return &Wire{
		Identity:   ident,
		Directory:  dir,
		Sessions:   sessions,
		Messages:   msgs,
		Dispatcher: disp,
		Log:        msgLog,
		Metrics:    m,
		Node:       n,
	}, nil
}

// Close releases the message log.
func (w *Wire) Close() error { return w.Log.Close() }

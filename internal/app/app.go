package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"peerchat/internal/domain"
	"peerchat/internal/store"
)

// ErrBadCredentials is returned by Login for an unknown user or wrong password.
var ErrBadCredentials = errors.New("invalid username or password")

// App is the part of the graph every command needs.
type App struct {
	Config      *Config
	Logger      *zap.Logger
	Credentials domain.CredentialStore
	Keys        *store.KeyFileStore
}

// New prepares the home directory and the credential store.
func New(cfg *Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		Config:      cfg,
		Logger:      log,
		Credentials: store.NewCredentialFileStore(cfg.Home),
		Keys:        store.NewKeyFileStore(cfg.Home, ""),
	}, nil
}

// NewLogger builds the process logger.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return zc.Build()
}

// Register creates a user. It fails with domain.ErrUserExists for a taken name.
func (a *App) Register(username domain.Username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	ok, err := a.Credentials.Create(username, password)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUserExists, username)
	}
	a.Logger.Info("user registered", zap.String("username", username.String()))
	return nil
}

// Login verifies the credentials and builds the node graph for username.
// The password also seals the node's private key on disk.
func (a *App) Login(ctx context.Context, username domain.Username, password string) (*Wire, error) {
	ok, err := a.Credentials.Verify(username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBadCredentials
	}
	return NewWire(ctx, a.Config, WireOptions{
		Username:   username,
		Passphrase: password,
		Logger:     a.Logger,
	})
}

// OpenLog opens the message log without logging in, for read-only commands.
func (a *App) OpenLog(ctx context.Context) (*store.SQLiteMessageLog, error) {
	return store.OpenMessageLog(ctx, filepath.Join(a.Config.Home, store.DefaultDBFile))
}

package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerchat/internal/app"
	"peerchat/internal/domain"
)

func TestRegisterAndLogin(t *testing.T) {
	cfg, err := app.Load("", map[string]any{"home": t.TempDir()})
	require.NoError(t, err)
	a, err := app.New(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, a.Register("alice", "s3cret"))
	assert.ErrorIs(t, a.Register("alice", "again"), domain.ErrUserExists)

	_, err = a.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, app.ErrBadCredentials)

	w, err := a.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	defer w.Close()

	name, ok := w.Identity.Username()
	assert.True(t, ok)
	assert.Equal(t, domain.Username("alice"), name)
	_, err = w.Identity.PublicKeyPEM()
	require.NoError(t, err)

	ids, err := a.Keys.List()
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeID{w.Identity.NodeID()}, ids)
}

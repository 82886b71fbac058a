package crypto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerchat/internal/crypto"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, crypto.KeyBytes)
	s, err := crypto.Seal(key, []byte("hello bob"), []byte("a1b2c3d4"))
	require.NoError(t, err)
	assert.Len(t, s.Nonce, crypto.NonceBytes)
	assert.Len(t, s.Tag, crypto.TagBytes)
	assert.Len(t, s.Ciphertext, len("hello bob"))

	pt, err := crypto.Open(key, s, []byte("a1b2c3d4"))
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(pt))
}

func TestOpenFailsClosed(t *testing.T) {
	key := bytes.Repeat([]byte{1}, crypto.KeyBytes)
	s, err := crypto.Seal(key, []byte("payload"), nil)
	require.NoError(t, err)

	flipTag := crypto.Sealed{Nonce: s.Nonce, Ciphertext: s.Ciphertext, Tag: append([]byte(nil), s.Tag...)}
	flipTag.Tag[0] ^= 0x01
	_, err = crypto.Open(key, flipTag, nil)
	assert.ErrorIs(t, err, crypto.ErrOpen)

	flipCT := crypto.Sealed{Nonce: s.Nonce, Ciphertext: append([]byte(nil), s.Ciphertext...), Tag: s.Tag}
	flipCT.Ciphertext[0] ^= 0x80
	_, err = crypto.Open(key, flipCT, nil)
	assert.ErrorIs(t, err, crypto.ErrOpen)

	_, err = crypto.Open(key, s, []byte("other sender"))
	assert.ErrorIs(t, err, crypto.ErrOpen)

	_, err = crypto.Open(key, crypto.Sealed{Nonce: s.Nonce[:4], Ciphertext: s.Ciphertext, Tag: s.Tag}, nil)
	assert.ErrorIs(t, err, crypto.ErrOpen)

	other := bytes.Repeat([]byte{2}, crypto.KeyBytes)
	_, err = crypto.Open(other, s, nil)
	assert.ErrorIs(t, err, crypto.ErrOpen)
}

func TestWrapUnwrap(t *testing.T) {
	priv, err := crypto.GenerateRSA()
	require.NoError(t, err)
	key := bytes.Repeat([]byte{9}, 32)

	wrapped, err := crypto.WrapKey(&priv.PublicKey, key)
	require.NoError(t, err)
	got, err := crypto.UnwrapKey(priv, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	stranger, err := crypto.GenerateRSA()
	require.NoError(t, err)
	_, err = crypto.UnwrapKey(stranger, wrapped)
	assert.Error(t, err)
}

func TestPEMRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateRSA()
	require.NoError(t, err)

	pubPEM, err := crypto.MarshalPublicPEM(&priv.PublicKey)
	require.NoError(t, err)
	pub, err := crypto.ParsePublicPEM(pubPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&priv.PublicKey))

	privPEM, err := crypto.MarshalPrivatePEM(priv)
	require.NoError(t, err)
	back, err := crypto.ParsePrivatePEM(privPEM)
	require.NoError(t, err)
	assert.True(t, back.Equal(priv))

	_, err = crypto.ParsePublicPEM([]byte("not a key"))
	assert.Error(t, err)
}

func TestFingerprintStable(t *testing.T) {
	priv, err := crypto.GenerateRSA()
	require.NoError(t, err)
	a, err := crypto.Fingerprint(&priv.PublicKey)
	require.NoError(t, err)
	b, err := crypto.Fingerprint(&priv.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 20)
}

func TestPasswordHash(t *testing.T) {
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	h := crypto.HashPassword("hunter2", salt)
	assert.True(t, crypto.VerifyPassword("hunter2", salt, h))
	assert.False(t, crypto.VerifyPassword("hunter3", salt, h))
}

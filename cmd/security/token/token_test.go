package token

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasher_Modes(t *testing.T) {
	t.Parallel()

	h, err := NewHasher("", false)
	require.NoError(t, err)
	assert.False(t, h.HMACEnabled())
	assert.Equal(t, HashSHA256Hex("abc"), h.Hash("abc"))

	_, err = NewHasher("  ", true)
	assert.ErrorIs(t, err, ErrHMACKeyMissing)

	_, err = NewHasher("short-key", false)
	assert.ErrorIs(t, err, ErrHMACKeyTooShort)

	key := strings.Repeat("k", MinHMACKeyBytes)
	h, err = NewHasher(key, true)
	require.NoError(t, err)
	assert.True(t, h.HMACEnabled())
	assert.Equal(t, HashHMACSHA256Hex("abc", []byte(key)), h.Hash("abc"))
	assert.NotEqual(t, HashSHA256Hex("abc"), h.Hash("abc"))
}

func TestHash_Length(t *testing.T) {
	t.Parallel()

	var h Hasher
	assert.Len(t, h.Hash("anything"), 64)
}

func TestNewOpaque(t *testing.T) {
	t.Parallel()

	a, err := NewOpaque(24)
	require.NoError(t, err)
	b, err := NewOpaque(24)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 24)
}

package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestClaimsSealer_SealOpen(t *testing.T) {
	s, err := NewClaimsSealer(testKey())
	require.NoError(t, err)

	plain := []byte(`{"id":"42","email":"a@x.io","name":"A","timestamp":1700000000}`)
	sealed, err := s.Seal(plain)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "a@x.io")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestClaimsSealer_NonceIsRandom(t *testing.T) {
	s, err := NewClaimsSealer(testKey())
	require.NoError(t, err)

	a, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestClaimsSealer_RejectsTampering(t *testing.T) {
	s, err := NewClaimsSealer(testKey())
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = s.Open(sealed)
	assert.Error(t, err)

	_, err = s.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrSealedPayloadTooShort)
}

func TestClaimsSealer_WrongKey(t *testing.T) {
	s, err := NewClaimsSealer(testKey())
	require.NoError(t, err)
	other, err := NewClaimsSealer(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestNewClaimsSealer_InvalidKeySize(t *testing.T) {
	_, err := NewClaimsSealer([]byte("short"))
	assert.Error(t, err)
}

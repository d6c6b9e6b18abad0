package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash([]byte("correct horse"))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.NoError(t, h.Compare(hash, []byte("correct horse")))
	assert.Error(t, h.Compare(hash, []byte("wrong horse")))
}

func TestNewHasher_ClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).cost)
	assert.Equal(t, bcrypt.MinCost, NewHasher(1).cost)
	assert.Equal(t, bcrypt.MaxCost, NewHasher(99).cost)
}

func TestNewDeviceKey(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	m, err := NewDeviceKey(h)
	require.NoError(t, err)

	assert.Len(t, m.Key, 2*DeviceKeyBytes)
	assert.Equal(t, Fingerprint(m.Key), m.Fingerprint)
	assert.Len(t, m.Fingerprint, 64)

	// the stored hash proves possession of the plaintext key
	assert.NoError(t, h.Compare(m.Hash, []byte(m.Key)))

	m2, err := NewDeviceKey(h)
	require.NoError(t, err)
	assert.NotEqual(t, m.Key, m2.Key)
	assert.NotEqual(t, m.Fingerprint, m2.Fingerprint)
}

func TestFingerprint_Deterministic(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
}

package security

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mkorchagin/camstream/internal/common"
)

// DeviceKeyBytes is the entropy of a freshly issued device key. The key
// itself is the hex encoding, so its string form is twice this length.
const DeviceKeyBytes = 32

// DeviceKeyMaterial is what key issuance produces. Key is handed to the
// device exactly once; only Fingerprint and Hash are ever stored.
type DeviceKeyMaterial struct {
	Key         string
	Fingerprint string
	Hash        string
}

// Fingerprint returns the SHA-256 hex digest of a device key. It is a fast,
// deterministic lookup index, not a possession proof: key verification must
// always go through Hasher.Compare against the stored hash.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewDeviceKey generates a fresh random device key and derives its
// fingerprint and verification hash.
func NewDeviceKey(hasher *Hasher) (*DeviceKeyMaterial, error) {
	key, err := common.MakeRandHexString(DeviceKeyBytes)
	if err != nil {
		return nil, err
	}

	hash, err := hasher.Hash([]byte(key))
	if err != nil {
		return nil, err
	}

	return &DeviceKeyMaterial{
		Key:         key,
		Fingerprint: Fingerprint(key),
		Hash:        hash,
	}, nil
}

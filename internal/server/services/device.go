package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/server/config"
	"github.com/mkorchagin/camstream/internal/server/models"
	"github.com/mkorchagin/camstream/internal/server/repositories/repomanager"
	"github.com/mkorchagin/camstream/internal/server/security"
)

// ProvisionResult reports the outcome of a device provisioning call. Key is
// the plaintext device key, available exactly once; it is never stored and
// never recoverable afterwards.
type ProvisionResult struct {
	Device *models.Device
	Key    string
	// Rotated is true when an existing (user, name) device had its key
	// replaced instead of a new device being created.
	Rotated bool
}

// DeviceService provisions device identities, rotates keys, verifies
// presented keys, and tracks ingestion-time device state.
type DeviceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      *security.Hasher
}

// NewDeviceService constructs a DeviceService using repositories and server config.
func NewDeviceService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *DeviceService {
	return &DeviceService{
		db:          db,
		repomanager: m,
		hasher:      security.NewHasher(cfg.BcryptCost),
	}
}

// Provision creates a device under (userID, name) or, when the pair already
// exists, rotates its key while preserving the device identifier and name.
// The previous key stops verifying the moment the upsert commits.
func (s *DeviceService) Provision(ctx context.Context, userID, name string) (*ProvisionResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, common.ErrorValidation
	}

	material, err := security.NewDeviceKey(s.hasher)
	if err != nil {
		return nil, common.ErrorInternal
	}

	device := &models.Device{
		DeviceID:       uuid.NewString(),
		UserID:         userID,
		Name:           name,
		KeyHash:        material.Hash,
		KeyFingerprint: material.Fingerprint,
	}

	repo := s.repomanager.Devices(s.db)
	rotated, err := repo.Upsert(ctx, device)
	if err != nil {
		if errors.Is(err, common.ErrorFingerprintCollision) {
			return nil, err
		}
		return nil, common.ErrorInternal
	}

	return &ProvisionResult{Device: device, Key: material.Key, Rotated: rotated}, nil
}

// List returns the user's devices, most recently updated first, without key
// material.
func (s *DeviceService) List(ctx context.Context, userID string) ([]*models.DeviceSummary, error) {
	repo := s.repomanager.Devices(s.db)
	list, err := repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return list, nil
}

// AuthenticateKey resolves a presented device key to its device. The
// fingerprint selects the candidate row, the bcrypt hash proves possession;
// a fingerprint match alone never authenticates.
func (s *DeviceService) AuthenticateKey(ctx context.Context, key string) (*models.Device, error) {
	if key == "" {
		return nil, common.ErrorUnknownDevice
	}

	repo := s.repomanager.Devices(s.db)
	device, err := repo.GetByFingerprint(ctx, security.Fingerprint(key))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnknownDevice
		}
		return nil, common.ErrorInternal
	}

	if err := s.hasher.Compare(device.KeyHash, []byte(key)); err != nil {
		return nil, common.ErrorInvalidKey
	}

	return device, nil
}

// GetOwned returns the device only when userID owns it. Not-owned and
// non-existent devices are both common.ErrorNotFound so existence never
// leaks to non-owners.
func (s *DeviceService) GetOwned(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	repo := s.repomanager.Devices(s.db)
	device, err := repo.GetOwned(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, common.ErrorInternal
	}
	return device, nil
}

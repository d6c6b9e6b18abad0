package devices

import (
	"context"
	"time"

	"github.com/mkorchagin/camstream/internal/server/models"
)

// Repository defines persistence for devices.
type Repository interface {
	// Upsert provisions a device by (user, name). If the pair already exists
	// the stored key material is replaced and rotated reports true; the
	// device identifier and name are preserved. The passed device is updated
	// in place with the authoritative row values.
	Upsert(ctx context.Context, d *models.Device) (rotated bool, err error)

	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Device, error)

	// GetOwned returns the device only when it belongs to userID. A device
	// owned by someone else is reported as common.ErrorNotFound, identical
	// to a device that does not exist.
	GetOwned(ctx context.Context, userID, deviceID string) (*models.Device, error)

	// ListByUser returns the user's devices, most recently updated first,
	// with key material excluded from the projection.
	ListByUser(ctx context.Context, userID string) ([]*models.DeviceSummary, error)

	// Touch records ingestion-time state: last-seen, current name, and
	// location when present. The row is recreated from d if it went missing.
	Touch(ctx context.Context, d *models.Device, name string, loc *models.Location, at time.Time) error
}

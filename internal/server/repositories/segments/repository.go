package segments

import (
	"context"

	"github.com/mkorchagin/camstream/internal/server/models"
)

// Repository defines append-only persistence for segments. Rows are never
// mutated after creation except for storage_key, which records archive
// offload.
type Repository interface {
	Create(ctx context.Context, seg *models.Segment) (*models.Segment, error)

	// Latest returns the most recent segment for deviceID by finished_at,
	// or common.ErrorNotFound when the device has no segments.
	Latest(ctx context.Context, deviceID string) (*models.Segment, error)

	// ListRecent returns up to limit segments for deviceID ordered by
	// finished_at descending. The caller is responsible for clamping limit.
	ListRecent(ctx context.Context, deviceID string, limit int) ([]*models.Segment, error)

	// Get returns a single segment scoped to deviceID, or
	// common.ErrorNotFound.
	Get(ctx context.Context, deviceID, segmentID string) (*models.Segment, error)

	// SetStorageKey marks the segment as archived under the given object
	// storage key.
	SetStorageKey(ctx context.Context, segmentID, key string) error
}

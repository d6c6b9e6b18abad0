// Package segments provides a PostgreSQL-backed repository for the
// append-only segment log.
package segments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/dbx"
	"github.com/mkorchagin/camstream/internal/server/models"
)

// PostgresRepository implements segment storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const segmentColumns = `id, device_id, user_id, device_name, payload,
	started_at, finished_at, duration_ms, size_bytes, mime_type,
	location_lat, location_lng, storage_key, created_at`

// Create appends a segment and returns it with ID and CreatedAt populated.
func (r *PostgresRepository) Create(ctx context.Context, seg *models.Segment) (*models.Segment, error) {
	var lat, lng sql.NullFloat64
	if seg.Location != nil {
		lat = sql.NullFloat64{Float64: seg.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: seg.Location.Lng, Valid: true}
	}

	query := `
		INSERT INTO segments (device_id, user_id, device_name, payload,
			started_at, finished_at, duration_ms, size_bytes, mime_type,
			location_lat, location_lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		seg.DeviceID, seg.UserID, seg.DeviceName, seg.Payload,
		seg.StartedAt, seg.FinishedAt, seg.DurationMs, seg.SizeBytes, seg.MimeType,
		lat, lng).Scan(&seg.ID, &seg.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return seg, nil
}

// Latest returns the most recent segment for the device by finished_at.
// If the device has no segments, it returns common.ErrorNotFound.
func (r *PostgresRepository) Latest(ctx context.Context, deviceID string) (*models.Segment, error) {
	query := `
		SELECT ` + segmentColumns + `
		FROM segments
		WHERE device_id = $1
		ORDER BY finished_at DESC
		LIMIT 1
	`
	return scanSegment(r.db.QueryRowContext(ctx, query, deviceID))
}

// ListRecent returns up to limit segments for the device, newest first.
func (r *PostgresRepository) ListRecent(ctx context.Context, deviceID string, limit int) ([]*models.Segment, error) {
	query := `
		SELECT ` + segmentColumns + `
		FROM segments
		WHERE device_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Segment
	for rows.Next() {
		seg, err := scanSegmentRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// Get returns a single segment scoped to the device.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, deviceID, segmentID string) (*models.Segment, error) {
	query := `
		SELECT ` + segmentColumns + `
		FROM segments
		WHERE device_id = $1 AND id = $2
	`
	return scanSegment(r.db.QueryRowContext(ctx, query, deviceID, segmentID))
}

// SetStorageKey records the object storage key of an archived payload.
func (r *PostgresRepository) SetStorageKey(ctx context.Context, segmentID, key string) error {
	query := `
		UPDATE segments SET storage_key = $2
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, segmentID, key)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row *sql.Row) (*models.Segment, error) {
	seg, err := scanSegmentRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return seg, nil
}

func scanSegmentRow(row rowScanner) (*models.Segment, error) {
	var (
		seg        models.Segment
		lat, lng   sql.NullFloat64
		storageKey sql.NullString
	)
	err := row.Scan(&seg.ID, &seg.DeviceID, &seg.UserID, &seg.DeviceName, &seg.Payload,
		&seg.StartedAt, &seg.FinishedAt, &seg.DurationMs, &seg.SizeBytes, &seg.MimeType,
		&lat, &lng, &storageKey, &seg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lat.Valid && lng.Valid {
		seg.Location = &models.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if storageKey.Valid {
		seg.StorageKey = storageKey.String
	}
	return &seg, nil
}

// Package devices provides a PostgreSQL-backed repository for device
// identities and their ingestion-time state.
package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/dbx"
	"github.com/mkorchagin/camstream/internal/server/models"
)

const (
	uniqueViolation      = "23505"
	fingerprintIndexName = "devices_fingerprint_idx"
)

// PostgresRepository implements device storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the device or, when (user_id, name) already exists, replaces
// its key material in a single atomic statement. The xmax trick distinguishes
// a fresh insert (xmax = 0) from a rotation. A fingerprint collision with
// another device surfaces as common.ErrorFingerprintCollision.
func (r *PostgresRepository) Upsert(ctx context.Context, d *models.Device) (bool, error) {
	query := `
		INSERT INTO devices (device_id, user_id, name, key_hash, key_fingerprint)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, name)
		DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			key_fingerprint = EXCLUDED.key_fingerprint,
			updated_at = now()
		RETURNING device_id, created_at, updated_at, (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		d.DeviceID, d.UserID, d.Name, d.KeyHash, d.KeyFingerprint).
		Scan(&d.DeviceID, &d.CreatedAt, &d.UpdatedAt, &inserted)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == fingerprintIndexName {
				return false, common.ErrorFingerprintCollision
			}
			// concurrent rotation lost the race on (user_id, name)
			return false, common.ErrorInternal
		}
		return false, fmt.Errorf("db error: %w", err)
	}

	return !inserted, nil
}

// GetByFingerprint returns the device whose key fingerprint matches, with key
// material included for hash verification. If not found, it returns
// common.ErrorNotFound.
func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Device, error) {
	query := `
		SELECT device_id, user_id, name, key_hash, key_fingerprint,
		       last_seen_at, location_lat, location_lng, created_at, updated_at
		FROM devices
		WHERE key_fingerprint = $1
	`
	return r.scanDevice(r.db.QueryRowContext(ctx, query, fingerprint))
}

// GetOwned returns the device only if it belongs to userID; otherwise
// common.ErrorNotFound, indistinguishable from a missing device.
func (r *PostgresRepository) GetOwned(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	query := `
		SELECT device_id, user_id, name, key_hash, key_fingerprint,
		       last_seen_at, location_lat, location_lng, created_at, updated_at
		FROM devices
		WHERE device_id = $1 AND user_id = $2
	`
	return r.scanDevice(r.db.QueryRowContext(ctx, query, deviceID, userID))
}

// ListByUser returns key-material-free device summaries, most recently
// updated first. Hash and fingerprint columns are never selected here.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.DeviceSummary, error) {
	query := `
		SELECT device_id, name, last_seen_at, location_lat, location_lng,
		       created_at, updated_at
		FROM devices
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.DeviceSummary
	for rows.Next() {
		var (
			item     models.DeviceSummary
			lastSeen sql.NullTime
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&item.DeviceID, &item.Name, &lastSeen, &lat, &lng,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			item.LastSeenAt = &lastSeen.Time
		}
		if lat.Valid && lng.Valid {
			item.Location = &models.Location{Lat: lat.Float64, Lng: lng.Float64}
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// Touch upserts ingestion-time state for the device: last-seen timestamp,
// current name, and location when reported. If the row is missing it is
// recreated from the authenticated device identity. updated_at is left
// alone: it tracks provisioning, not ingestion.
func (r *PostgresRepository) Touch(ctx context.Context, d *models.Device, name string, loc *models.Location, at time.Time) error {
	var lat, lng sql.NullFloat64
	if loc != nil {
		lat = sql.NullFloat64{Float64: loc.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: loc.Lng, Valid: true}
	}

	query := `
		INSERT INTO devices (device_id, user_id, name, key_hash, key_fingerprint,
		                     last_seen_at, location_lat, location_lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id)
		DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			name = EXCLUDED.name,
			location_lat = COALESCE(EXCLUDED.location_lat, devices.location_lat),
			location_lng = COALESCE(EXCLUDED.location_lng, devices.location_lng)
	`
	if _, err := r.db.ExecContext(ctx, query,
		d.DeviceID, d.UserID, name, d.KeyHash, d.KeyFingerprint, at, lat, lng); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanDevice(row *sql.Row) (*models.Device, error) {
	var (
		d        models.Device
		lastSeen sql.NullTime
		lat, lng sql.NullFloat64
	)
	err := row.Scan(&d.DeviceID, &d.UserID, &d.Name, &d.KeyHash, &d.KeyFingerprint,
		&lastSeen, &lat, &lng, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastSeen.Valid {
		d.LastSeenAt = &lastSeen.Time
	}
	if lat.Valid && lng.Valid {
		d.Location = &models.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &d, nil
}

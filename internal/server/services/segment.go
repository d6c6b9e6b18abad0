package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/dbx"
	"github.com/mkorchagin/camstream/internal/server/config"
	"github.com/mkorchagin/camstream/internal/server/models"
	"github.com/mkorchagin/camstream/internal/server/repositories/repomanager"
)

const (
	// DefaultRecentLimit is used when the caller supplies no usable limit.
	DefaultRecentLimit = 5
	// MaxRecentLimit bounds recent-segment reads regardless of the caller.
	MaxRecentLimit = 25

	presignValidity = 15 * time.Minute
)

// Notifier delivers segment-metadata events to realtime subscribers of a
// device. Implementations must not block the caller.
type Notifier interface {
	NotifySegment(deviceID string, event *models.SegmentEvent)
}

// IngestInput is the validated-on-entry shape of an ingestion request.
// Payload is base64; timestamps are unix milliseconds.
type IngestInput struct {
	Payload    string
	StartedAt  *int64
	FinishedAt *int64
	DeviceName string
	DeviceID   string
	Location   *models.Location
}

// SegmentService implements the ingestion pipeline and segment reads.
type SegmentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	config      *config.Config

	now func() time.Time
}

// NewSegmentService constructs a SegmentService. notifier may not be nil;
// pass a no-op implementation when realtime delivery is disabled.
func NewSegmentService(db *sql.DB, m repomanager.RepositoryManager, notifier Notifier, cfg *config.Config) *SegmentService {
	return &SegmentService{
		db:          db,
		repomanager: m,
		notifier:    notifier,
		config:      cfg,
		now:         time.Now,
	}
}

// Ingest validates and persists a segment for the authenticated device,
// updates the device's ingestion-time state, and then emits a metadata-only
// event to the device's subscribers. The event fires only after the
// transaction commits, so subscribers never learn of a segment a concurrent
// read could miss.
func (s *SegmentService) Ingest(ctx context.Context, device *models.Device, in *IngestInput) (*models.Segment, error) {
	if in.DeviceID != "" && in.DeviceID != device.DeviceID {
		return nil, common.ErrorDeviceMismatch
	}

	payload, err := base64.StdEncoding.DecodeString(in.Payload)
	if err != nil || len(payload) == 0 {
		return nil, common.ErrorInvalidPayload
	}

	now := s.now()
	startedAt := millisOrDefault(in.StartedAt, now)
	finishedAt := millisOrDefault(in.FinishedAt, now)

	name := device.Name
	if trimmed := strings.TrimSpace(in.DeviceName); trimmed != "" {
		name = trimmed
	}

	seg := &models.Segment{
		DeviceID:   device.DeviceID,
		UserID:     device.UserID,
		DeviceName: name,
		Payload:    payload,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DurationMs: durationMs(startedAt, finishedAt),
		SizeBytes:  int64(len(payload)),
		MimeType:   models.SegmentMimeType,
		Location:   finiteLocation(in.Location),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Segments(tx).Create(ctx, seg); err != nil {
			return err
		}
		return s.repomanager.Devices(tx).Touch(ctx, device, name, seg.Location, now)
	})
	if err != nil {
		return nil, common.ErrorInternal
	}

	s.notifier.NotifySegment(device.DeviceID, &models.SegmentEvent{
		SegmentID:  seg.ID,
		DeviceID:   seg.DeviceID,
		FinishedAt: seg.FinishedAt,
		DurationMs: seg.DurationMs,
		SizeBytes:  seg.SizeBytes,
	})

	return seg, nil
}

// Latest returns the device's most recent segment for its owner. Ownership
// and existence failures are both common.ErrorNotFound.
func (s *SegmentService) Latest(ctx context.Context, userID, deviceID string) (*models.Segment, error) {
	if err := s.checkOwnership(ctx, userID, deviceID); err != nil {
		return nil, err
	}

	seg, err := s.repomanager.Segments(s.db).Latest(ctx, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, common.ErrorInternal
	}
	return seg, nil
}

// Recent returns up to limit segments for the device, newest first. The
// limit is clamped to [1, MaxRecentLimit], defaulting to DefaultRecentLimit
// when non-positive.
func (s *SegmentService) Recent(ctx context.Context, userID, deviceID string, limit int) ([]*models.Segment, error) {
	if err := s.checkOwnership(ctx, userID, deviceID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	list, err := s.repomanager.Segments(s.db).ListRecent(ctx, deviceID, limit)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return list, nil
}

// DownloadURL returns a presigned, short-lived URL for the segment's payload
// in the archive, offloading the payload to object storage first if it has
// not been archived yet. Without a configured archive it reports
// common.ErrorNotFound.
func (s *SegmentService) DownloadURL(ctx context.Context, userID, deviceID, segmentID string) (string, error) {
	if err := s.checkOwnership(ctx, userID, deviceID); err != nil {
		return "", err
	}

	repo := s.repomanager.Segments(s.db)
	seg, err := repo.Get(ctx, deviceID, segmentID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", err
		}
		return "", common.ErrorInternal
	}

	if seg.StorageKey == "" {
		if !s.config.ArchiveEnabled() {
			return "", common.ErrorNotFound
		}
		key, err := s.archivePayload(ctx, seg)
		if err != nil {
			return "", common.ErrorInternal
		}
		if err := repo.SetStorageKey(ctx, seg.ID, key); err != nil {
			return "", common.ErrorInternal
		}
		seg.StorageKey = key
	}

	url, err := s.presignedGetURL(ctx, seg.StorageKey)
	if err != nil {
		return "", common.ErrorInternal
	}
	return url, nil
}

// RandomStorageKey builds a date-partitioned object key for archived payloads.
func RandomStorageKey(at time.Time) string {
	return fmt.Sprintf("segments/%d/%02d/%02d/%v", at.Year(), at.Month(), at.Day(), uuid.New())
}

func (s *SegmentService) s3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

func (s *SegmentService) archivePayload(ctx context.Context, seg *models.Segment) (string, error) {
	client, err := s.s3Client(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	key := RandomStorageKey(seg.CreatedAt)
	contentType := seg.MimeType

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(seg.Payload),
		ContentType: &contentType,
	})
	if err != nil {
		return "", err
	}

	return key, nil
}

func (s *SegmentService) presignedGetURL(ctx context.Context, key string) (string, error) {
	client, err := s.s3Client(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := s3.NewPresignClient(client).PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

func (s *SegmentService) checkOwnership(ctx context.Context, userID, deviceID string) error {
	_, err := s.repomanager.Devices(s.db).GetOwned(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return common.ErrorInternal
	}
	return nil
}

func millisOrDefault(ms *int64, fallback time.Time) time.Time {
	if ms == nil {
		return fallback
	}
	return time.UnixMilli(*ms)
}

func durationMs(startedAt, finishedAt time.Time) int64 {
	d := finishedAt.Sub(startedAt).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// finiteLocation drops coordinates that are not finite numbers; partial
// telemetry is acceptable, bad telemetry is not an error.
func finiteLocation(loc *models.Location) *models.Location {
	if loc == nil {
		return nil
	}
	if math.IsNaN(loc.Lat) || math.IsInf(loc.Lat, 0) ||
		math.IsNaN(loc.Lng) || math.IsInf(loc.Lng, 0) {
		return nil
	}
	return loc
}

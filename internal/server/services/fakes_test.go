package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/mkorchagin/camstream/internal/dbx"
	"github.com/mkorchagin/camstream/internal/server/models"
	"github.com/mkorchagin/camstream/internal/server/repositories/devices"
	"github.com/mkorchagin/camstream/internal/server/repositories/segments"
	"github.com/mkorchagin/camstream/internal/server/repositories/users"
)

type fakeUsers struct {
	create     func(ctx context.Context, user *models.User) (*models.User, error)
	getByEmail func(ctx context.Context, email string) (*models.User, error)
	getByID    func(ctx context.Context, id string) (*models.User, error)
}

func (f *fakeUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	return f.create(ctx, user)
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return f.getByEmail(ctx, email)
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return f.getByID(ctx, id)
}

type fakeDevices struct {
	upsert           func(ctx context.Context, d *models.Device) (bool, error)
	getByFingerprint func(ctx context.Context, fingerprint string) (*models.Device, error)
	getOwned         func(ctx context.Context, userID, deviceID string) (*models.Device, error)
	listByUser       func(ctx context.Context, userID string) ([]*models.DeviceSummary, error)
	touch            func(ctx context.Context, d *models.Device, name string, loc *models.Location, at time.Time) error
}

func (f *fakeDevices) Upsert(ctx context.Context, d *models.Device) (bool, error) {
	return f.upsert(ctx, d)
}

func (f *fakeDevices) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Device, error) {
	return f.getByFingerprint(ctx, fingerprint)
}

func (f *fakeDevices) GetOwned(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	return f.getOwned(ctx, userID, deviceID)
}

func (f *fakeDevices) ListByUser(ctx context.Context, userID string) ([]*models.DeviceSummary, error) {
	return f.listByUser(ctx, userID)
}

func (f *fakeDevices) Touch(ctx context.Context, d *models.Device, name string, loc *models.Location, at time.Time) error {
	return f.touch(ctx, d, name, loc, at)
}

type fakeSegments struct {
	create        func(ctx context.Context, seg *models.Segment) (*models.Segment, error)
	latest        func(ctx context.Context, deviceID string) (*models.Segment, error)
	listRecent    func(ctx context.Context, deviceID string, limit int) ([]*models.Segment, error)
	get           func(ctx context.Context, deviceID, segmentID string) (*models.Segment, error)
	setStorageKey func(ctx context.Context, segmentID, key string) error
}

func (f *fakeSegments) Create(ctx context.Context, seg *models.Segment) (*models.Segment, error) {
	return f.create(ctx, seg)
}

func (f *fakeSegments) Latest(ctx context.Context, deviceID string) (*models.Segment, error) {
	return f.latest(ctx, deviceID)
}

func (f *fakeSegments) ListRecent(ctx context.Context, deviceID string, limit int) ([]*models.Segment, error) {
	return f.listRecent(ctx, deviceID, limit)
}

func (f *fakeSegments) Get(ctx context.Context, deviceID, segmentID string) (*models.Segment, error) {
	return f.get(ctx, deviceID, segmentID)
}

func (f *fakeSegments) SetStorageKey(ctx context.Context, segmentID, key string) error {
	return f.setStorageKey(ctx, segmentID, key)
}

type fakeManager struct {
	users    *fakeUsers
	devices  *fakeDevices
	segments *fakeSegments
}

func (m *fakeManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *fakeManager) Users(db dbx.DBTX) users.Repository { return m.users }

func (m *fakeManager) Devices(db dbx.DBTX) devices.Repository { return m.devices }

func (m *fakeManager) Segments(db dbx.DBTX) segments.Repository { return m.segments }

type fakeNotifier struct {
	events []*models.SegmentEvent
	onSend func()
}

func (n *fakeNotifier) NotifySegment(deviceID string, event *models.SegmentEvent) {
	if n.onSend != nil {
		n.onSend()
	}
	n.events = append(n.events, event)
}

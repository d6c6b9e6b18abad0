package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/dbx"
	"github.com/mkorchagin/camstream/internal/logging"
	"github.com/mkorchagin/camstream/internal/server/config"
	"github.com/mkorchagin/camstream/internal/server/hub"
	"github.com/mkorchagin/camstream/internal/server/models"
	"github.com/mkorchagin/camstream/internal/server/repositories/devices"
	"github.com/mkorchagin/camstream/internal/server/repositories/segments"
	"github.com/mkorchagin/camstream/internal/server/repositories/users"
	"github.com/mkorchagin/camstream/internal/server/services"
)

// In-memory repositories implementing the same contracts as the Postgres
// ones, so handler tests exercise the full service stack.

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	byEmail map[string]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}, byEmail: map[string]*models.User{}}
}

func (m *memUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[user.Email]; ok {
		return nil, common.ErrorEmailTaken
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	m.byID[user.ID] = user
	m.byEmail[user.Email] = user
	return user, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return user, nil
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return user, nil
}

type memDevices struct {
	mu   sync.Mutex
	byID map[string]*models.Device
}

func newMemDevices() *memDevices {
	return &memDevices{byID: map[string]*models.Device{}}
}

func (m *memDevices) Upsert(ctx context.Context, d *models.Device) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, existing := range m.byID {
		if existing.UserID == d.UserID && existing.Name == d.Name {
			existing.KeyHash = d.KeyHash
			existing.KeyFingerprint = d.KeyFingerprint
			existing.UpdatedAt = now
			*d = *existing
			return true, nil
		}
	}

	d.CreatedAt = now
	d.UpdatedAt = now
	stored := *d
	m.byID[d.DeviceID] = &stored
	return false, nil
}

func (m *memDevices) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.byID {
		if d.KeyFingerprint == fingerprint {
			copied := *d
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memDevices) GetOwned(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[deviceID]
	if !ok || d.UserID != userID {
		return nil, common.ErrorNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *memDevices) ListByUser(ctx context.Context, userID string) ([]*models.DeviceSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []*models.DeviceSummary
	for _, d := range m.byID {
		if d.UserID != userID {
			continue
		}
		list = append(list, &models.DeviceSummary{
			DeviceID:   d.DeviceID,
			Name:       d.Name,
			LastSeenAt: d.LastSeenAt,
			Location:   d.Location,
			CreatedAt:  d.CreatedAt,
			UpdatedAt:  d.UpdatedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list, nil
}

func (m *memDevices) Touch(ctx context.Context, d *models.Device, name string, loc *models.Location, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[d.DeviceID]
	if !ok {
		copied := *d
		stored = &copied
		m.byID[d.DeviceID] = stored
	}
	stored.LastSeenAt = &at
	stored.Name = name
	if loc != nil {
		stored.Location = loc
	}
	return nil
}

type memSegments struct {
	mu   sync.Mutex
	list []*models.Segment
}

func newMemSegments() *memSegments { return &memSegments{} }

func (m *memSegments) Create(ctx context.Context, seg *models.Segment) (*models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg.ID = uuid.NewString()
	seg.CreatedAt = time.Now()
	stored := *seg
	m.list = append(m.list, &stored)
	return seg, nil
}

func (m *memSegments) Latest(ctx context.Context, deviceID string) (*models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.Segment
	for _, seg := range m.list {
		if seg.DeviceID != deviceID {
			continue
		}
		if latest == nil || seg.FinishedAt.After(latest.FinishedAt) {
			latest = seg
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	copied := *latest
	return &copied, nil
}

func (m *memSegments) ListRecent(ctx context.Context, deviceID string, limit int) ([]*models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Segment
	for _, seg := range m.list {
		if seg.DeviceID == deviceID {
			copied := *seg
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].FinishedAt.After(matched[j].FinishedAt) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memSegments) Get(ctx context.Context, deviceID, segmentID string) (*models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seg := range m.list {
		if seg.DeviceID == deviceID && seg.ID == segmentID {
			copied := *seg
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memSegments) SetStorageKey(ctx context.Context, segmentID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seg := range m.list {
		if seg.ID == segmentID {
			seg.StorageKey = key
			return nil
		}
	}
	return common.ErrorNotFound
}

type memManager struct {
	users    *memUsers
	devices  *memDevices
	segments *memSegments
}

func (m *memManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *memManager) Users(db dbx.DBTX) users.Repository { return m.users }

func (m *memManager) Devices(db dbx.DBTX) devices.Repository { return m.devices }

func (m *memManager) Segments(db dbx.DBTX) segments.Repository { return m.segments }

// testStack is a full HTTP surface over in-memory repositories. The sqlmock
// handle only backs transaction boundaries; each ingestion consumes one
// begin/commit pair.
type testStack struct {
	server *httptest.Server
	mock   sqlmock.Sqlmock
	repos  *memManager
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		SecretKey:            "test-secret",
		SessionTokenValidity: time.Hour,
		BcryptCost:           4,
		MaxPayloadBytes:      1 << 20,
	}

	m := &memManager{users: newMemUsers(), devices: newMemDevices(), segments: newMemSegments()}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	h := hub.NewHub(logger)

	handler := NewHandler(logger,
		services.NewUserService(db, m, cfg),
		services.NewDeviceService(db, m, cfg),
		services.NewSegmentService(db, m, h, cfg),
		h, cfg)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &testStack{server: server, mock: mock, repos: m}
}

// expectIngestTx queues transaction expectations for n ingestion calls.
func (ts *testStack) expectIngestTx(n int) {
	for i := 0; i < n; i++ {
		ts.mock.ExpectBegin()
		ts.mock.ExpectCommit()
	}
}

func (ts *testStack) doJSON(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	fields := map[string]json.RawMessage{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fields))
	return resp, fields
}

func rawString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

// registerUser creates an account and returns its session token and user id.
func (ts *testStack) registerUser(t *testing.T, email string) (token, userID string) {
	t.Helper()

	resp, fields := ts.doJSON(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Tester", "email": email, "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var user struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(fields["user"], &user))
	return rawString(t, fields["token"]), user.ID
}

// provisionDevice registers a device and returns its id and plaintext key.
func (ts *testStack) provisionDevice(t *testing.T, token, name string) (deviceID, deviceKey string) {
	t.Helper()

	resp, fields := ts.doJSON(t, http.MethodPost, "/api/devices/register", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return rawString(t, fields["deviceId"]), rawString(t, fields["deviceKey"])
}

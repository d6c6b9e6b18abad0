package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/server/auth"
	"github.com/mkorchagin/camstream/internal/server/config"
	"github.com/mkorchagin/camstream/internal/server/models"
	"github.com/mkorchagin/camstream/internal/server/security"
)

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:            "test-secret",
		SessionTokenValidity: time.Hour,
		BcryptCost:           4,
	}
}

func TestUserServiceRegister(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	var created *models.User
	m := &fakeManager{users: &fakeUsers{
		create: func(ctx context.Context, user *models.User) (*models.User, error) {
			created = user
			user.ID = "user-1"
			user.CreatedAt = time.Now()
			return user, nil
		},
	}}

	s := NewUserService(nil, m, cfg)

	session, err := s.Register(ctx, " Alice ", " Alice@Example.COM ", "hunter22")
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, "Alice", created.Name)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.NotEqual(t, "hunter22", created.PasswordHash)
	assert.Equal(t, "user-1", session.User.ID)

	claims, err := auth.ParseToken(session.Token, []byte(cfg.SecretKey))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestUserServiceRegisterValidation(t *testing.T) {
	ctx := context.Background()
	s := NewUserService(nil, &fakeManager{}, testConfig())

	tests := []struct {
		name, userName, email, password string
	}{
		{"empty name", "", "a@b.c", "pass"},
		{"blank name", "   ", "a@b.c", "pass"},
		{"empty email", "Alice", "", "pass"},
		{"empty password", "Alice", "a@b.c", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.userName, tt.email, tt.password)
			assert.ErrorIs(t, err, common.ErrorValidation)
		})
	}
}

func TestUserServiceRegisterEmailTaken(t *testing.T) {
	ctx := context.Background()
	m := &fakeManager{users: &fakeUsers{
		create: func(ctx context.Context, user *models.User) (*models.User, error) {
			return nil, common.ErrorEmailTaken
		},
	}}

	s := NewUserService(nil, m, testConfig())

	_, err := s.Register(ctx, "Alice", "a@b.c", "pass")
	assert.ErrorIs(t, err, common.ErrorEmailTaken)
}

func TestUserServiceLogin(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte("hunter22"))
	require.NoError(t, err)

	stored := &models.User{ID: "user-1", Name: "Alice", Email: "alice@example.com", PasswordHash: hash}
	m := &fakeManager{users: &fakeUsers{
		getByEmail: func(ctx context.Context, email string) (*models.User, error) {
			if email != stored.Email {
				return nil, common.ErrorNotFound
			}
			return stored, nil
		},
	}}

	s := NewUserService(nil, m, cfg)

	session, err := s.Login(ctx, " Alice@Example.COM ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.User.ID)
	assert.NotEmpty(t, session.Token)

	// Wrong password and unknown email must be indistinguishable.
	_, err = s.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, common.ErrorInvalidCredentials)

	_, err = s.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, common.ErrorInvalidCredentials)
}

func TestUserServiceVerifyToken(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	stored := &models.User{ID: "user-1", Name: "Alice", Email: "alice@example.com"}
	m := &fakeManager{users: &fakeUsers{
		getByID: func(ctx context.Context, id string) (*models.User, error) {
			if id != stored.ID {
				return nil, common.ErrorNotFound
			}
			return stored, nil
		},
	}}

	s := NewUserService(nil, m, cfg)

	token, err := auth.GenerateToken("user-1", "alice@example.com", []byte(cfg.SecretKey), time.Hour)
	require.NoError(t, err)

	user, err := s.VerifyToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	_, err = s.VerifyToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	orphan, err := auth.GenerateToken("user-gone", "x@y.z", []byte(cfg.SecretKey), time.Hour)
	require.NoError(t, err)

	_, err = s.VerifyToken(ctx, orphan)
	assert.ErrorIs(t, err, common.ErrorUnknownPrincipal)
}

// Package services contains server-side business logic: account registration
// and login, device provisioning and key verification, and the segment
// ingestion pipeline.
package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mkorchagin/camstream/internal/common"
	"github.com/mkorchagin/camstream/internal/server/auth"
	"github.com/mkorchagin/camstream/internal/server/config"
	"github.com/mkorchagin/camstream/internal/server/models"
	"github.com/mkorchagin/camstream/internal/server/repositories/repomanager"
	"github.com/mkorchagin/camstream/internal/server/security"
)

// Session bundles a freshly issued token with the user it belongs to.
type Session struct {
	Token string
	User  *models.User
}

// UserService provides account operations:
// - Register: create an account and issue a session
// - Login: verify credentials and issue a session
// - VerifyToken: resolve a session token back to its user
type UserService struct {
	db                   *sql.DB
	repomanager          repomanager.RepositoryManager
	hasher               *security.Hasher
	jwtSecret            []byte
	sessionTokenValidity time.Duration
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                   db,
		repomanager:          m,
		hasher:               security.NewHasher(cfg.BcryptCost),
		jwtSecret:            []byte(cfg.SecretKey),
		sessionTokenValidity: cfg.SessionTokenValidity,
	}
}

// NormalizeEmail canonicalizes an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account and issues a session token. A duplicate
// email yields common.ErrorEmailTaken.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, common.ErrorValidation
	}

	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, common.ErrorInternal
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.Create(ctx, &models.User{Name: name, Email: email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, common.ErrorEmailTaken) {
			return nil, err
		}
		return nil, common.ErrorInternal
	}

	return s.newSession(user)
}

// Login verifies the credentials and issues a session token. Unknown email
// and wrong password both yield common.ErrorInvalidCredentials.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, common.ErrorInvalidCredentials
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorInvalidCredentials
		}
		return nil, common.ErrorInternal
	}

	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, common.ErrorInvalidCredentials
	}

	return s.newSession(user)
}

// VerifyToken parses a session token and resolves the bound user. A valid
// token whose user no longer exists yields common.ErrorUnknownPrincipal.
func (s *UserService) VerifyToken(ctx context.Context, token string) (*models.User, error) {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnknownPrincipal
		}
		return nil, common.ErrorInternal
	}

	return user, nil
}

func (s *UserService) newSession(user *models.User) (*Session, error) {
	token, err := auth.GenerateToken(user.ID, user.Email, s.jwtSecret, s.sessionTokenValidity)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return &Session{Token: token, User: user}, nil
}

package users

import (
	"context"

	"github.com/mkorchagin/camstream/internal/server/models"
)

// Repository defines persistence for user accounts.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

package repomanager

import (
	"context"
	"database/sql"

	"github.com/mkorchagin/camstream/internal/dbx"
	"github.com/mkorchagin/camstream/internal/server/repositories/devices"
	"github.com/mkorchagin/camstream/internal/server/repositories/segments"
	"github.com/mkorchagin/camstream/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to a DBTX, so
// services can run several repositories inside one transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Devices(db dbx.DBTX) devices.Repository
	Segments(db dbx.DBTX) segments.Repository
}

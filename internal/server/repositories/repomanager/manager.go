package repomanager

import (
	"context"
	"database/sql"

	"github.com/corpass/corpass/internal/dbx"
	"github.com/corpass/corpass/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}

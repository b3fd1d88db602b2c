package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/turbocore/internal/dbx"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so that the same
// code runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	PasswordResets(db dbx.DBTX) passwordresets.Repository
}

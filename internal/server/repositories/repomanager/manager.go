package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/osfrelay/internal/dbx"
	"github.com/dmitrijs2005/osfrelay/internal/server/repositories/experiments"
	"github.com/dmitrijs2005/osfrelay/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/osfrelay/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or a
// transaction, so services can compose several writes under dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Experiments(db dbx.DBTX) experiments.Repository
	IdempotencyKeys(db dbx.DBTX) idempotency.Repository
}

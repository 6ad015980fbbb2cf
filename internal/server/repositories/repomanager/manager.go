package repomanager

import (
	"context"
	"database/sql"

	"github.com/verifai/verifai/internal/dbx"
	"github.com/verifai/verifai/internal/server/repositories/jobs"
	"github.com/verifai/verifai/internal/server/repositories/ratelimits"
	"github.com/verifai/verifai/internal/server/repositories/reports"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// multiple repository calls inside one transaction when needed.
type RepositoryManager interface {
	Jobs(db dbx.DBTX) jobs.Repository
	Reports(db dbx.DBTX) reports.Repository
	RateLimits(db dbx.DBTX) ratelimits.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}

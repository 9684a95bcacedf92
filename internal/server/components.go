package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/osfrelay/internal/cryptox"
	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/retryx"
	"github.com/dmitrijs2005/osfrelay/internal/server/config"
	"github.com/dmitrijs2005/osfrelay/internal/server/osf"
	"github.com/dmitrijs2005/osfrelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/osfrelay/internal/server/services"
)

// Components are the pieces shared by the HTTP server and relayctl.
type Components struct {
	DB          *sql.DB
	Repos       repomanager.RepositoryManager
	Users       *services.UserService
	Experiments *services.ExperimentService
}

// openDB is a seam for tests.
var openDB = repomanager.OpenDB

// RetryPolicy derives the bounded retry policy from configuration.
func RetryPolicy(c *config.Config) retryx.Policy {
	p := retryx.DefaultPolicy
	p.Attempts = c.RetryAttempts
	if c.RetryDelay > 0 {
		p.Delay = c.RetryDelay
	}
	if c.OSFRequestTimeout > 0 {
		p.AttemptTimeout = c.OSFRequestTimeout
	}
	return p
}

// NewComponents opens the database and wires repositories, the OSF client
// and the services. Migrations are not run here.
func NewComponents(ctx context.Context, c *config.Config, logger logging.Logger) (*Components, error) {
	sealer, err := cryptox.NewSealer(c.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token sealer init error: %w", err)
	}

	client, err := osf.NewClient(c.OSFBaseURL,
		osf.WithRequestTimeout(c.OSFRequestTimeout),
		osf.WithRateLimit(c.OSFRateLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("osf client init error: %w", err)
	}

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	policy := RetryPolicy(c)

	return &Components{
		DB:          db,
		Repos:       rm,
		Users:       services.NewUserService(db, rm, client, sealer, logger, policy),
		Experiments: services.NewExperimentService(db, rm, client, sealer, logger, policy),
	}, nil
}

// Migrate brings the schema up to date.
func (c *Components) Migrate(ctx context.Context) error {
	return c.Repos.RunMigrations(ctx, c.DB)
}

func (c *Components) Close() error {
	return c.DB.Close()
}

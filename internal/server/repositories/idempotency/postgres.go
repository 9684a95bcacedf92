// Package idempotency stores caller-supplied idempotency keys for experiment
// provisioning, so a repeated request maps back to the experiment it created.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/dbx"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Find(ctx context.Context, userID string, key string) (*models.IdempotencyKey, error) {
	query := `SELECT user_id, key, experiment_id, created_at FROM idempotency_keys WHERE user_id = $1 AND key = $2`

	k := &models.IdempotencyKey{}
	err := r.db.QueryRowContext(ctx, query, userID, key).Scan(&k.UserID, &k.Key, &k.ExperimentID, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return k, nil
}

// Create records the key. A second Create for the same (userID, key) fails
// with a unique violation, which is how concurrent duplicates are detected.
func (r *PostgresRepository) Create(ctx context.Context, userID string, key string, experimentID string) error {
	query :=
		`INSERT INTO idempotency_keys (user_id, key, experiment_id)
		 VALUES ($1, $2, $3)
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, key, experimentID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Package users provides the PostgreSQL-backed user repository: account
// rows, the sealed OSF token and the user's experiment set.
package users

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

// Ensure creates the user row if it does not exist yet.
func (r *PostgresRepository) Ensure(ctx context.Context, userID string) error {
	query := `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID loads the user together with its experiment set.
func (r *PostgresRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	query :=
		`SELECT id, osf_token, osf_token_valid, created_at FROM users
		 WHERE id = $1
		 `

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&user.ID, &user.OSFToken, &user.OSFTokenValid, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	experiments, err := r.experimentIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Experiments = experiments

	return user, nil
}

func (r *PostgresRepository) experimentIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT experiment_id FROM user_experiments WHERE user_id = $1 ORDER BY added_at, experiment_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select user experiments: %w", err)
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetOSFToken stores the sealed token and its validity flag.
func (r *PostgresRepository) SetOSFToken(ctx context.Context, userID string, sealedToken string, valid bool) error {
	query := `UPDATE users SET osf_token = $2, osf_token_valid = $3 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, userID, sealedToken, valid)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// AddExperiment adds experimentID to the user's set. Adding an id that is
// already present is a no-op, so concurrent appends compose as a union.
func (r *PostgresRepository) AddExperiment(ctx context.Context, userID string, experimentID string) error {
	query :=
		`INSERT INTO user_experiments (user_id, experiment_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, experiment_id) DO NOTHING
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, experimentID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

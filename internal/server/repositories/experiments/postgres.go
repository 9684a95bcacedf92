// Package experiments provides the PostgreSQL-backed experiment repository.
package experiments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/dbx"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
)

// PostgresRepository implements experiment storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts e and fills in CreatedAt. A colliding id surfaces as a
// unique violation wrapped in "db error".
func (r *PostgresRepository) Create(ctx context.Context, e *models.Experiment) error {
	query :=
		`INSERT INTO experiments (id, title, owner, osf_repo, osf_files_link, active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.Title, e.Owner, e.OSFRepo, e.OSFFilesLink, e.Active).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns the experiment or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Experiment, error) {
	query :=
		`SELECT id, title, owner, osf_repo, osf_files_link, active, created_at FROM experiments
		 WHERE id = $1
		 `

	e := &models.Experiment{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&e.ID, &e.Title, &e.Owner, &e.OSFRepo, &e.OSFFilesLink, &e.Active, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

// ListByOwner returns the owner's experiments, oldest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]*models.Experiment, error) {
	query := ` SELECT id, title, owner, osf_repo, osf_files_link, active, created_at from experiments
		WHERE owner=$1 ORDER BY created_at, id
		`
	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to select experiments: %w", err)
	}
	defer rows.Close()

	result := []*models.Experiment{}
	for rows.Next() {
		var item models.Experiment
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Owner, &item.OSFRepo, &item.OSFFilesLink, &item.Active, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

package idempotency

import (
	"context"

	"github.com/dmitrijs2005/osfrelay/internal/server/models"
)

type Repository interface {
	// Find returns the record for (userID, key) or common.ErrorNotFound.
	Find(ctx context.Context, userID string, key string) (*models.IdempotencyKey, error)
	Create(ctx context.Context, userID string, key string, experimentID string) error
}

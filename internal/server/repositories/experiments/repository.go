package experiments

import (
	"context"

	"github.com/dmitrijs2005/osfrelay/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, e *models.Experiment) error
	GetByID(ctx context.Context, id string) (*models.Experiment, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.Experiment, error)
}

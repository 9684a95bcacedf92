package users

import (
	"context"

	"github.com/dmitrijs2005/osfrelay/internal/server/models"
)

type Repository interface {
	Ensure(ctx context.Context, userID string) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	SetOSFToken(ctx context.Context, userID string, sealedToken string, valid bool) error
	AddExperiment(ctx context.Context, userID string, experimentID string) error
}

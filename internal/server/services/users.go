package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/dbx"
	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/retryx"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
	"github.com/dmitrijs2005/osfrelay/internal/server/osf"
	"github.com/dmitrijs2005/osfrelay/internal/server/repositories/repomanager"
)

// UserService manages relay accounts and their OSF connection.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	osf         OSFClient
	sealer      TokenSealer
	logger      logging.Logger
	policy      retryx.Policy
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, client OSFClient, sealer TokenSealer, logger logging.Logger, policy retryx.Policy) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		osf:         client,
		sealer:      sealer,
		logger:      logger.With("service", "users"),
		policy:      policy,
	}
}

// EnsureUser creates the account on first contact; existing accounts are
// left untouched.
func (s *UserService) EnsureUser(ctx context.Context, userID string) error {
	if userID == "" {
		return common.ErrorUnauthorized
	}
	if err := s.repomanager.Users(s.db).Ensure(ctx, userID); err != nil {
		return fmt.Errorf("error ensuring user: %w", err)
	}
	return nil
}

// Profile returns the user with the sealed token cleared.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	user.OSFToken = ""
	return user, nil
}

// ConnectOSF checks token against OSF and, if OSF accepts it, stores it
// sealed and marks it valid. A rejected token stores nothing.
func (s *UserService) ConnectOSF(ctx context.Context, userID, token string) (*osf.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: OSF token is required", common.ErrorValidation)
	}

	osfUser, err := retryx.Do(ctx, s.policy, osf.Retryable, nil, func(ctx context.Context) (*osf.User, error) {
		return s.osf.CurrentUser(ctx, token)
	})
	if err != nil {
		s.logger.Warn(ctx, "OSF token check failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", osfKind(err), err)
	}

	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return nil, fmt.Errorf("error sealing token: %w", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		if err := repo.Ensure(ctx, userID); err != nil {
			return err
		}
		return repo.SetOSFToken(ctx, userID, sealed, true)
	})
	if err != nil {
		return nil, fmt.Errorf("error storing OSF token: %w", err)
	}

	s.logger.Info(ctx, "OSF account connected", "user_id", userID, "osf_user", osfUser.ID)
	return osfUser, nil
}

// DisconnectOSF forgets the user's OSF token.
func (s *UserService) DisconnectOSF(ctx context.Context, userID string) error {
	if err := s.repomanager.Users(s.db).SetOSFToken(ctx, userID, "", false); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error clearing OSF token: %w", err)
	}
	s.logger.Info(ctx, "OSF account disconnected", "user_id", userID)
	return nil
}

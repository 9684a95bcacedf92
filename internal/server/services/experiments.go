package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/dbx"
	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/retryx"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
	"github.com/dmitrijs2005/osfrelay/internal/server/osf"
	"github.com/dmitrijs2005/osfrelay/internal/server/repositories/repomanager"
)

// compensationTimeout bounds the cleanup of an orphaned OSF node; it runs
// even when the caller's context is already cancelled.
const compensationTimeout = 30 * time.Second

// ExperimentService provisions experiments and lists a user's experiments.
type ExperimentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	osf         OSFClient
	sealer      TokenSealer
	logger      logging.Logger
	policy      retryx.Policy
	newID       func() (string, error)
}

// NewExperimentService wires the service. policy bounds the retries of the
// safe OSF calls and of the persisting transaction.
func NewExperimentService(db *sql.DB, m repomanager.RepositoryManager, client OSFClient, sealer TokenSealer, logger logging.Logger, policy retryx.Policy) *ExperimentService {
	return &ExperimentService{
		db:          db,
		repomanager: m,
		osf:         client,
		sealer:      sealer,
		logger:      logger.With("service", "experiments"),
		policy:      policy,
		newID:       common.NewExperimentID,
	}
}

func (s *ExperimentService) fail(kind, err error) *ProvisionError {
	return &ProvisionError{Kind: kind, Err: err}
}

// CreateExperiment provisions an OSF data node under the caller's project
// and records a new, inactive experiment pointing at it.
//
// The node is created exactly once per call. If anything fails after it
// exists, the node is deleted again and the returned *ProvisionError says
// whether that worked. The experiment row, the user's set membership and
// the idempotency key are written in one transaction.
func (s *ExperimentService) CreateExperiment(ctx context.Context, userID string, in CreateExperimentInput) (*models.Experiment, error) {
	if userID == "" {
		return nil, s.fail(common.ErrorValidation, errors.New("missing user identity"))
	}
	if err := in.Validate(); err != nil {
		return nil, s.fail(common.ErrorValidation, err)
	}

	log := s.logger.With("user_id", userID, "osf_project", in.OSFProjectReference)

	if in.IdempotencyKey != "" {
		exp, err := s.replay(ctx, userID, in.IdempotencyKey)
		if err != nil {
			return nil, s.fail(common.ErrPersistence, err)
		}
		if exp != nil {
			log.Info(ctx, "idempotent replay", "experiment_id", exp.ID)
			return exp, nil
		}
	}

	id, err := s.newID()
	if err != nil {
		return nil, s.fail(common.ErrorInternal, fmt.Errorf("generate experiment id: %w", err))
	}
	log = log.With("experiment_id", id)

	token, perr := s.osfToken(ctx, userID)
	if perr != nil {
		log.Warn(ctx, "no usable OSF token", "error", perr.Err)
		return nil, perr
	}

	node, err := s.osf.CreateChildNode(ctx, token, in.OSFProjectReference, osf.NodeAttributes{
		Title:       in.OSFComponentName,
		Category:    osf.CategoryData,
		Description: osf.Description,
	})
	if err != nil {
		log.Warn(ctx, "OSF node creation failed", "error", err)
		return nil, s.fail(osfKind(err), err)
	}
	log = log.With("osf_node", node.ID)

	uploadLink, err := s.uploadLink(ctx, log, token, node)
	if err != nil {
		return nil, s.abort(ctx, log, token, node.ID, osfKind(err), err)
	}

	exp := &models.Experiment{
		ID:           id,
		Title:        in.Title,
		Owner:        userID,
		OSFRepo:      node.ID,
		OSFFilesLink: uploadLink,
		Active:       false,
	}

	if err := s.persist(ctx, log, exp, in.IdempotencyKey); err != nil {
		if in.IdempotencyKey != "" && dbx.IsUniqueViolation(err) {
			// a concurrent request with the same key committed first
			if winner, rerr := s.replay(ctx, userID, in.IdempotencyKey); rerr == nil && winner != nil {
				s.compensate(ctx, log, token, node.ID)
				log.Info(ctx, "idempotency key raced, returning first result", "winner", winner.ID)
				return winner, nil
			}
		}
		return nil, s.abort(ctx, log, token, node.ID, common.ErrPersistence, err)
	}

	log.Info(ctx, "experiment created", "osf_files_link", uploadLink)
	return exp, nil
}

// osfToken reads and unseals the caller's stored OSF token. An empty token
// is returned as is; OSF rejects the request and that is the error the
// caller sees.
func (s *ExperimentService) osfToken(ctx context.Context, userID string) (string, *ProvisionError) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// No user row means no token was ever stored. Report the auth
			// error OSF would return without sending the anonymous POST.
			return "", s.fail(common.ErrOSFUnauthorized, common.ErrOSFNotConnected)
		}
		return "", s.fail(common.ErrPersistence, err)
	}

	token, err := s.sealer.Open(user.OSFToken)
	if err != nil {
		return "", s.fail(common.ErrOSFUnauthorized, fmt.Errorf("stored OSF token is unreadable: %w", err))
	}
	return token, nil
}

// uploadLink resolves the node's files relationship to the first storage
// provider's upload link.
func (s *ExperimentService) uploadLink(ctx context.Context, log logging.Logger, token string, node *osf.Node) (string, error) {
	if node.FilesLink == "" {
		return "", fmt.Errorf("%w: node %s has no files link", common.ErrOSFMalformedResponse, node.ID)
	}

	providers, err := retryx.Do(ctx, s.policy, osf.Retryable, s.onRetry(ctx, log, "list OSF files"),
		func(ctx context.Context) ([]osf.StorageProvider, error) {
			return s.osf.ListFiles(ctx, token, node.FilesLink)
		})
	if err != nil {
		return "", err
	}

	if len(providers) == 0 {
		return "", fmt.Errorf("%w: node %s has no storage providers", common.ErrOSFMalformedResponse, node.ID)
	}
	if len(providers) > 1 {
		log.Debug(ctx, "several storage providers, using the first", "provider", providers[0].Provider, "count", len(providers))
	}
	if providers[0].UploadLink == "" {
		return "", fmt.Errorf("%w: provider %q has no upload link", common.ErrOSFMalformedResponse, providers[0].Provider)
	}
	return providers[0].UploadLink, nil
}

// persist writes the experiment, the set membership and the idempotency key
// atomically. The whole transaction is re-run only when pgx reports that
// nothing reached the server.
func (s *ExperimentService) persist(ctx context.Context, log logging.Logger, exp *models.Experiment, key string) error {
	_, err := retryx.Do(ctx, s.policy, dbx.IsRetryable, s.onRetry(ctx, log, "persist experiment"),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
				if err := s.repomanager.Experiments(tx).Create(ctx, exp); err != nil {
					return fmt.Errorf("error creating experiment: %w", err)
				}
				if err := s.repomanager.Users(tx).AddExperiment(ctx, exp.Owner, exp.ID); err != nil {
					return fmt.Errorf("error adding experiment to user: %w", err)
				}
				if key != "" {
					if err := s.repomanager.IdempotencyKeys(tx).Create(ctx, exp.Owner, key, exp.ID); err != nil {
						return fmt.Errorf("error storing idempotency key: %w", err)
					}
				}
				return nil
			})
		})
	return err
}

// replay returns the experiment an idempotency key already produced, or nil.
func (s *ExperimentService) replay(ctx context.Context, userID, key string) (*models.Experiment, error) {
	k, err := s.repomanager.IdempotencyKeys(s.db).Find(ctx, userID, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.repomanager.Experiments(s.db).GetByID(ctx, k.ExperimentID)
}

// abort compensates the created node and builds the error for the caller.
func (s *ExperimentService) abort(ctx context.Context, log logging.Logger, token, nodeID string, kind, err error) *ProvisionError {
	log.Warn(ctx, "provisioning failed after OSF node creation", "error", err)
	perr := s.fail(kind, err)
	perr.OrphanNodeID = nodeID
	perr.Compensated = s.compensate(ctx, log, token, nodeID) == nil
	return perr
}

func (s *ExperimentService) compensate(ctx context.Context, log logging.Logger, token, nodeID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	_, err := retryx.Do(ctx, s.policy, osf.Retryable, s.onRetry(ctx, log, "delete OSF node"),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.osf.DeleteNode(ctx, token, nodeID)
		})
	if err != nil {
		log.Error(ctx, "orphaned OSF node needs manual cleanup", "error", err)
		return err
	}
	log.Info(ctx, "orphaned OSF node deleted")
	return nil
}

func (s *ExperimentService) onRetry(ctx context.Context, log logging.Logger, op string) retryx.OnRetry {
	return func(attempt uint, err error) {
		log.Warn(ctx, "retrying", "op", op, "attempt", attempt+1, "error", err)
	}
}

// ListExperiments returns the user's experiments, oldest first.
func (s *ExperimentService) ListExperiments(ctx context.Context, userID string) ([]*models.Experiment, error) {
	list, err := s.repomanager.Experiments(s.db).ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing experiments: %w", err)
	}
	return list, nil
}

// GetExperiment returns one of the user's experiments. Experiments owned by
// someone else are reported as common.ErrorNotFound.
func (s *ExperimentService) GetExperiment(ctx context.Context, userID, id string) (*models.Experiment, error) {
	exp, err := s.repomanager.Experiments(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error getting experiment: %w", err)
	}
	if exp.Owner != userID {
		return nil, common.ErrorNotFound
	}
	return exp, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/server"
	"github.com/dmitrijs2005/osfrelay/internal/server/config"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
	"github.com/dmitrijs2005/osfrelay/internal/server/osf"
	"github.com/dmitrijs2005/osfrelay/internal/server/services"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// Backend is what the commands need from the relay's storage and services.
type Backend interface {
	Migrate(ctx context.Context) error
	ConnectOSF(ctx context.Context, userID, token string) (*osf.User, error)
	DisconnectOSF(ctx context.Context, userID string) error
	ListExperiments(ctx context.Context, userID string) ([]*models.Experiment, error)
	CreateExperiment(ctx context.Context, userID string, in services.CreateExperimentInput) (*models.Experiment, error)
	Close() error
}

// OpenBackendFunc connects a Backend for one command invocation.
type OpenBackendFunc func(ctx context.Context, cfg *config.Config, logger logging.Logger) (Backend, error)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	openBackend  OpenBackendFunc
	output       io.Writer
	logOutput    io.Writer
	input        io.Reader
	inputFd      int
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
	newKey       func() string
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	OpenBackend OpenBackendFunc
	Output      io.Writer
	LogOutput   io.Writer
	// Input is read for secrets when it is not a terminal.
	Input io.Reader
}

// NewRunner creates a new Runner; nil options fall back to the process
// streams and the database-backed services.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.OpenBackend == nil {
		opts.OpenBackend = openComponents
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}

	return &Runner{
		openBackend:  opts.OpenBackend,
		output:       opts.Output,
		logOutput:    opts.LogOutput,
		input:        opts.Input,
		inputFd:      int(os.Stdin.Fd()),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
		newKey:       uuid.NewString,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{migrateCommand(r)}
	commands = append(commands, osfCommands(r)...)
	commands = append(commands, experimentCommands(r)...)
	commands = append(commands, issueTokenCommand(r))
	return commands
}

// loadConfig layers server defaults, the optional JSON file and the
// global flags that were set explicitly.
func (r *Runner) loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := &config.Config{}
	cfg.LoadDefaults()

	if path := cmd.String("config"); path != "" {
		if err := config.LoadJSONFile(cfg, path); err != nil {
			return nil, err
		}
	}

	for name, dst := range map[string]*string{
		"dsn":        &cfg.DatabaseDSN,
		"secret-key": &cfg.SecretKey,
		"token-key":  &cfg.TokenEncryptionKey,
		"osf-url":    &cfg.OSFBaseURL,
		"log-level":  &cfg.LogLevel,
	} {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	return cfg, nil
}

// withBackend loads configuration, opens a backend and closes it after fn.
func (r *Runner) withBackend(ctx context.Context, cmd *cli.Command, fn func(b Backend, logger logging.Logger) error) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewConsoleLogger(r.logOutput, cfg.LogLevel)

	b, err := r.openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn(ctx, "failed to close backend", "error", err)
		}
	}()

	return fn(b, logger)
}

func (r *Runner) writeJSON(data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// componentsBackend adapts the server's wired components to Backend.
type componentsBackend struct {
	*server.Components
}

func openComponents(ctx context.Context, cfg *config.Config, logger logging.Logger) (Backend, error) {
	c, err := server.NewComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return componentsBackend{c}, nil
}

func (b componentsBackend) ConnectOSF(ctx context.Context, userID, token string) (*osf.User, error) {
	return b.Users.ConnectOSF(ctx, userID, token)
}

func (b componentsBackend) DisconnectOSF(ctx context.Context, userID string) error {
	return b.Users.DisconnectOSF(ctx, userID)
}

func (b componentsBackend) ListExperiments(ctx context.Context, userID string) ([]*models.Experiment, error) {
	return b.Experiments.ListExperiments(ctx, userID)
}

func (b componentsBackend) CreateExperiment(ctx context.Context, userID string, in services.CreateExperimentInput) (*models.Experiment, error) {
	return b.Experiments.CreateExperiment(ctx, userID, in)
}

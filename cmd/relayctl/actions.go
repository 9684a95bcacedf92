package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/server/auth"
	"github.com/dmitrijs2005/osfrelay/internal/server/services"
	"github.com/urfave/cli/v3"
)

// Migrate applies pending schema migrations.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	return r.withBackend(ctx, cmd, func(b Backend, logger logging.Logger) error {
		logger.Info(ctx, "running database migrations")
		if err := b.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return r.writePlain("migrations applied\n")
	})
}

// readSecret prompts on a terminal without echo, or reads one line from
// the input stream when it is piped.
func (r *Runner) readSecret(prompt string) (string, error) {
	if r.isTerminal(r.inputFd) {
		if err := r.writePlain("%s", prompt); err != nil {
			return "", err
		}
		b, err := r.readPassword(r.inputFd)
		r.writePlain("\n")
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(r.input).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ConnectOSF verifies and stores a user's OSF personal access token.
func (r *Runner) ConnectOSF(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	token, err := r.readSecret("OSF personal access token: ")
	if err != nil {
		return err
	}

	return r.withBackend(ctx, cmd, func(b Backend, _ logging.Logger) error {
		u, err := b.ConnectOSF(ctx, userID, token)
		if err != nil {
			return err
		}
		return r.writePlain("Connected %s to OSF account %s (%s)\n", userID, u.ID, u.FullName)
	})
}

// DisconnectOSF forgets a user's OSF token.
func (r *Runner) DisconnectOSF(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	return r.withBackend(ctx, cmd, func(b Backend, _ logging.Logger) error {
		if err := b.DisconnectOSF(ctx, userID); err != nil {
			return err
		}
		return r.writePlain("Disconnected %s from OSF\n", userID)
	})
}

// ListExperiments prints the user's experiments as a table or JSON.
func (r *Runner) ListExperiments(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	return r.withBackend(ctx, cmd, func(b Backend, _ logging.Logger) error {
		list, err := b.ListExperiments(ctx, userID)
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(list)
		}
		if len(list) == 0 {
			return r.writePlain("No experiments for %s\n", userID)
		}

		tw := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tOSF NODE\tACTIVE\tCREATED")
		for _, e := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", e.ID, e.Title, e.OSFRepo, e.Active, e.CreatedAt.Format(time.DateTime))
		}
		return tw.Flush()
	})
}

// CreateExperiment provisions an OSF component and records the experiment.
func (r *Runner) CreateExperiment(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	in := services.CreateExperimentInput{
		Title:               cmd.String("title"),
		OSFProjectReference: cmd.String("project"),
		OSFComponentName:    cmd.String("component"),
		IdempotencyKey:      cmd.String("idempotency-key"),
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.newKey()
	}

	return r.withBackend(ctx, cmd, func(b Backend, logger logging.Logger) error {
		logger.Debug(ctx, "creating experiment", "user_id", userID, "idempotency_key", in.IdempotencyKey)

		exp, err := b.CreateExperiment(ctx, userID, in)
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(exp)
		}
		return r.writePlain("Created experiment %s\nOSF node: %s\nUpload link: %s\nIdempotency key: %s\n",
			exp.ID, exp.OSFRepo, exp.OSFFilesLink, in.IdempotencyKey)
	})
}

// IssueToken mints a bearer token signed with the configured secret.
func (r *Runner) IssueToken(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	token, err := auth.GenerateToken(cmd.String("user"), []byte(cfg.SecretKey), cmd.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	return r.writePlain("%s\n", token)
}

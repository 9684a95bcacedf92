package main

import (
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/buildinfo"
	"github.com/dmitrijs2005/osfrelay/internal/flagx"
	"github.com/urfave/cli/v3"
)

// newApp assembles the relayctl command tree around r.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:     "relayctl",
		Usage:    "Administer an OSF Relay installation",
		Version:  buildinfo.Version(),
		Flags:    globalFlags(),
		Commands: r.register(),
	}
}

// globalFlags mirror the server's configuration so both read the same
// JSON file and environment.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the relay JSON configuration file",
			Sources: cli.EnvVars(flagx.ConfigFileEnv),
		},
		&cli.StringFlag{
			Name:    "dsn",
			Aliases: []string{"d"},
			Usage:   "PostgreSQL DSN",
			Sources: cli.EnvVars("OSF_RELAY_DSN"),
		},
		&cli.StringFlag{
			Name:    "secret-key",
			Usage:   "JWT HMAC secret",
			Sources: cli.EnvVars("OSF_RELAY_SECRET_KEY"),
		},
		&cli.StringFlag{
			Name:    "token-key",
			Usage:   "Secret OSF tokens are sealed under",
			Sources: cli.EnvVars("OSF_RELAY_TOKEN_KEY"),
		},
		&cli.StringFlag{
			Name:    "osf-url",
			Usage:   "OSF API root",
			Sources: cli.EnvVars("OSF_RELAY_OSF_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"v"},
			Usage:   "debug, info, warn or error",
			Sources: cli.EnvVars("OSF_RELAY_LOG_LEVEL"),
		},
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User id (JWT subject)",
		Required: true,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply database migrations",
		Action: r.Migrate,
	}
}

func osfCommands(r *Runner) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "connect-osf",
			Usage:  "Verify an OSF personal access token and store it for a user",
			Flags:  []cli.Flag{userFlag()},
			Action: r.ConnectOSF,
		},
		{
			Name:   "disconnect-osf",
			Usage:  "Forget a user's OSF token",
			Flags:  []cli.Flag{userFlag()},
			Action: r.DisconnectOSF,
		},
	}
}

func experimentCommands(r *Runner) []*cli.Command {
	return []*cli.Command{
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "List a user's experiments",
			Flags: []cli.Flag{
				userFlag(),
				&cli.BoolFlag{
					Name:  "json",
					Usage: "Output raw JSON",
				},
			},
			Action: r.ListExperiments,
		},
		{
			Name:  "create",
			Usage: "Provision an OSF component and record a new experiment",
			Flags: []cli.Flag{
				userFlag(),
				&cli.StringFlag{
					Name:     "title",
					Usage:    "Experiment title",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "project",
					Aliases:  []string{"p"},
					Usage:    "OSF project id or URL",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "component",
					Usage:    "Name of the OSF component to create",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "idempotency-key",
					Usage: "Key that makes a repeated create return the first result (generated when empty)",
				},
				&cli.BoolFlag{
					Name:  "json",
					Usage: "Output raw JSON",
				},
			},
			Action: r.CreateExperiment,
		},
	}
}

func issueTokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "issue-token",
		Usage: "Mint a development bearer token for the HTTP API",
		Flags: []cli.Flag{
			userFlag(),
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: r.IssueToken,
	}
}

// Command marketctl runs marketplace maintenance operations against the
// database: earnings promotion, balance recomputes, task status repair and
// payout settlement.
package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("marketctl failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "marketctl",
		Usage: "marketplace maintenance",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "postgres connection url",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Commands: []*cli.Command{
			cmdMigrate,
			cmdPromoteEarnings,
			cmdRecompute,
			cmdSyncTask,
			cmdCompleteWithdrawal,
			cmdCancelWithdrawal,
		},
	}
}

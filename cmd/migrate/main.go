package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"

	"github.com/splax/recipebox/internal/app/migrate"
	"github.com/splax/recipebox/pkg/config"
	"github.com/splax/recipebox/pkg/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "migrate",
		Usage: "manage the recipebox postgres schema",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "command timeout"},
			&cli.StringFlag{Name: "dir", Usage: "migrations directory; empty uses the embedded set"},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: withRunner(func(ctx context.Context, _ *cli.Command, runner migrate.Runner) error {
					return runner.Ensure(ctx)
				}),
			},
			{
				Name:  "status",
				Usage: "print migration status",
				Action: withRunner(func(ctx context.Context, _ *cli.Command, runner migrate.Runner) error {
					return runner.Status(ctx)
				}),
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "target", Usage: "roll back to this version; 0 rolls back one step"},
				},
				Action: withRunner(func(ctx context.Context, cmd *cli.Command, runner migrate.Runner) error {
					return runner.Down(ctx, cmd.Int("target"))
				}),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("migration command failed", "error", err)
		os.Exit(1)
	}
}

func withRunner(fn func(context.Context, *cli.Command, migrate.Runner) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.LoadAPIConfig()
		if err != nil {
			return err
		}
		log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

		ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cmd.String("dir"), log)
		if err != nil {
			pool.Close()
			return fmt.Errorf("configure migration runner: %w", err)
		}
		defer runner.Close()

		if err := fn(ctx, cmd, runner); err != nil {
			return err
		}
		log.Info("migration command completed", "command", cmd.Name)
		return nil
	}
}

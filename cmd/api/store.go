package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/recipebox/internal/app/migrate"
	"github.com/splax/recipebox/internal/repository"
	firestorerepo "github.com/splax/recipebox/internal/repository/firestore"
	"github.com/splax/recipebox/internal/repository/memory"
	"github.com/splax/recipebox/internal/repository/postgres"
	"github.com/splax/recipebox/pkg/config"
)

// store bundles the repositories selected by STORE_DRIVER.
type store struct {
	users   repository.UserRepository
	recipes repository.RecipeRepository
	ping    func(context.Context) error
	close   func()
}

func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return openPostgres(ctx, cfg, log)
	case config.StoreDriverFirestore:
		return openFirestore(ctx, cfg, log)
	case config.StoreDriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		repo := memory.New()
		return store{users: repo, recipes: repo, close: func() {}}, nil
	default:
		return store{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openPostgres(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return store{}, fmt.Errorf("connect to database: %w", err)
	}
	dir := cfg.MigrationsDir
	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			log.Info("migrations dir not found, using embedded migrations", "dir", dir)
			dir = ""
		}
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, dir, log)
	if err != nil {
		pool.Close()
		return store{}, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		runner.Close()
		return store{}, fmt.Errorf("database ping: %w", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		runner.Close()
		return store{}, fmt.Errorf("apply migrations: %w", err)
	}
	repo := postgres.New(pool)
	return store{users: repo, recipes: repo, ping: repo.Ping, close: runner.Close}, nil
}

func openFirestore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (store, error) {
	if cfg.FirestoreProjectID == "" {
		return store{}, errors.New("FIRESTORE_PROJECT_ID is required for the firestore store")
	}
	client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
	if err != nil {
		return store{}, fmt.Errorf("create firestore client: %w", err)
	}
	log.Info("using firestore store", "project", cfg.FirestoreProjectID)
	repo := firestorerepo.New(client)
	return store{
		users:   repo,
		recipes: repo,
		ping:    repo.Ping,
		close: func() {
			if err := client.Close(); err != nil {
				log.Warn("firestore close failed", "error", err)
			}
		},
	}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpx "github.com/splax/recipebox/internal/http"
	"github.com/splax/recipebox/internal/service/auth"
	"github.com/splax/recipebox/internal/service/recipe"
	"github.com/splax/recipebox/internal/ws"
	"github.com/splax/recipebox/pkg/config"
	"github.com/splax/recipebox/pkg/logger"
)

const (
	shutdownTimeout    = 10 * time.Second
	generatorClientPad = 2 * time.Second
)

func main() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, log *slog.Logger) error {
	if cfg.JWTSecret == "supersecuresecret" && cfg.Environment == "production" {
		return errors.New("JWT_SECRET must be set in production")
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	hub := ws.NewHub()
	defer hub.Close()

	authSvc := auth.New(st.users, log, cfg)
	recipeSvc := recipe.New(st.recipes, newGenerator(cfg, log), hub, log, cfg.GeneratorTimeout)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(ctx, addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, recipeSvc, hub, limiter, cfg.CORSAllowedOrigins, st.ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			return err
		}
		log.Info("api server stopped")
		return nil
	})
	return g.Wait()
}

func newGenerator(cfg config.APIConfig, log *slog.Logger) recipe.Generator {
	url := strings.TrimSpace(cfg.GeneratorURL)
	if url == "" {
		log.Info("using template recipe generator")
		return recipe.TemplateGenerator{}
	}
	client := &http.Client{Timeout: cfg.GeneratorTimeout + generatorClientPad}
	log.Info("using remote recipe generator", "url", url, "rps", cfg.GeneratorRPS)
	return recipe.NewRemoteGenerator(client, url, cfg.GeneratorAPIKey, cfg.GeneratorRPS)
}

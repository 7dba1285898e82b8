package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"disclosure-cache-api/internal/auth"
	"disclosure-cache-api/internal/cache"
	"disclosure-cache-api/internal/config"
	"disclosure-cache-api/internal/database"
	"disclosure-cache-api/internal/handlers"
	"disclosure-cache-api/internal/logging"
	"disclosure-cache-api/internal/metrics"
	"disclosure-cache-api/internal/realtime"
	"disclosure-cache-api/internal/routes"
	"disclosure-cache-api/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and the admin user, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.Open(cfg.Database.Path, log)
			if err != nil {
				return err
			}
			_, err = database.SeedAdmin(db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
			return err
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	gin.SetMode(cfg.Server.GinMode)

	db, err := database.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	if _, err := database.SeedAdmin(db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return err
	}

	m := metrics.New()
	store := cache.NewStore[any](cache.Config{
		DefaultTTL:       cfg.Cache.DefaultTTL,
		CleanupInterval:  cfg.Cache.CleanupInterval,
		MaxKeys:          cfg.Cache.MaxKeys,
		MaxSize:          cfg.Cache.MaxSize,
		StrictInvariants: cfg.Cache.StrictInvariants,
	}, cache.WithLogger(log), cache.WithObserver(m))
	defer store.Close()
	m.RegisterStats(store.Stats)

	optimizer := storage.NewOptimizer(storage.NewDirBucket(cfg.Storage.RootDir), storage.Config{
		DefaultTTL: cfg.Storage.DefaultTTL,
		MaxItems:   cfg.Storage.MaxItems,
	}, log)

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, cfg.Auth.TokenTTL)
	h := handlers.New(handlers.Deps{
		DB:      db,
		Issuer:  issuer,
		Cache:   store,
		Storage: optimizer,
		Hub:     realtime.NewHub(log),
		Metrics: m,
		Logger:  log,
	})

	router := routes.SetupRoutes(routes.Options{
		Handler: h,
		Issuer:  issuer,
		Metrics: m.Handler(),
		Logger:  log.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown", zap.Error(err))
		return err
	}
	return nil
}

// cmd/identityd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/server"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("storage init failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	h, err := newHandler(context.Background(), cfg, store, logger)
	if err != nil {
		logger.Error("server init failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           server.NewMetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("identityd starting", "addr", srv.Addr, "env", cfg.Env, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		logger.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	} else {
		logger.Info("shutdown complete")
	}
}

// openStore opens the configured account store. Postgres schemas are
// migrated here; SQLite migrates on open.
func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewMemory(), nil
	case "postgres":
		s, err := storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	case "sqlite":
		return storage.NewSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

// newHandler wires the executor, ledger and HTTP handler over store and
// seeds the configured relayer key.
func newHandler(ctx context.Context, cfg config.Config, store storage.Store, logger *slog.Logger) (*server.Handler, error) {
	exec := runtime.New(store, runtime.WithLogger(logger))
	l, err := ledger.New(exec, store, ledger.Config{
		IdentityProgram: cfg.IdentityProgram,
		FactoryProgram:  cfg.FactoryProgram,
		FactoryInstance: cfg.FactoryInstance,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if err := server.SeedRelayerKey(ctx, store, cfg, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("seed relayer key: %w", err)
	}
	return server.New(cfg, l, store, logger)
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/companyimport/internal/config"
	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/events"
	"github.com/JonMunkholm/companyimport/internal/logging"
	"github.com/JonMunkholm/companyimport/internal/store/postgres"
	"github.com/JonMunkholm/companyimport/internal/store/sqlite"
	"github.com/JonMunkholm/companyimport/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// migrator is implemented by both store backends.
type migrator interface {
	Migrate(ctx context.Context) error
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, &cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Database.AutoMigrate {
		if err := store.(migrator).Migrate(ctx); err != nil {
			slog.Error("failed to migrate schema", "error", err)
			os.Exit(1)
		}
		slog.Info("schema up to date")
	}

	mapping := core.DefaultFieldMapping()
	if cfg.Ingest.FieldMappingFile != "" {
		mapping, err = core.LoadFieldMapping(cfg.Ingest.FieldMappingFile)
		if err != nil {
			slog.Error("failed to load field mapping", "path", cfg.Ingest.FieldMappingFile, "error", err)
			os.Exit(1)
		}
		slog.Info("field mapping loaded", "path", cfg.Ingest.FieldMappingFile)
	}

	// Validate already accepted the policy string.
	policy, _ := core.ParseDedupPolicy(cfg.Ingest.DedupPolicy)

	var publisher core.EventPublisher = events.Nop{}
	if len(cfg.Events.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, cfg.Events.WriteTimeout)
		slog.Info("ingestion events enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("event publisher close error", "error", err)
		}
	}()

	service := core.NewService(store, core.ServiceConfig{
		Pipeline: core.PipelineConfig{
			Mapping:           mapping,
			MaxFileSize:       cfg.Upload.MaxFileSize,
			Policy:            policy,
			VerifyINNChecksum: cfg.Ingest.VerifyINNChecksum,
			CommitTimeout:     cfg.Upload.CommitTimeout,
		},
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxWait:       cfg.Upload.MaxWaitTime,
		UploadTimeout: cfg.Upload.Timeout,
	}, publisher)

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active ingestions to commit (with timeout)
		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for ingestions to complete", "active", status.Active)
			if err := service.WaitForIngestions(shutdownCtx); err != nil {
				slog.Warn("ingestions did not complete in time", "error", err)
			} else {
				slog.Info("all ingestions completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// openStore connects the configured backend and returns a close function.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (core.CompanyStore, func(), error) {
	if strings.EqualFold(cfg.Driver, config.DriverSQLite) {
		s, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		slog.Info("connected to sqlite", "path", cfg.URL)
		return s, func() { s.Close() }, nil
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return postgres.New(pool), pool.Close, nil
}

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

	"github.com/joho/godotenv"

	"github.com/finovahq/javob/internal/auth"
	"github.com/finovahq/javob/internal/config"
	"github.com/finovahq/javob/internal/correlate"
	"github.com/finovahq/javob/internal/ingest"
	"github.com/finovahq/javob/internal/kpi"
	"github.com/finovahq/javob/internal/server"
	"github.com/finovahq/javob/internal/sla"
	"github.com/finovahq/javob/internal/storage"
	"github.com/finovahq/javob/internal/sweep"
	"github.com/finovahq/javob/internal/telemetry"
	"github.com/finovahq/javob/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("JAVOB_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("javob starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database. The same DSN doubles as the dedicated
	// LISTEN/NOTIFY connection for escalation delivery.
	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	// Run migrations. RunMigrations tracks applied files in
	// schema_migrations and skips duplicates, so errors here indicate real
	// failures (not "already exists").
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Assemble the monitoring pipeline.
	policy := sla.NewPolicy(cfg.SLAThresholds, cfg.SLADefault)
	classifier := ingest.NewClassifier(cfg.QuestionKeywords, cfg.ClientRoles)
	ingestSvc := ingest.NewService(db, classifier, cfg.DefaultResponderRole, logger)
	engine := correlate.NewEngine(db, cfg.AnswerWindow, cfg.ClientRoles, logger)
	sweeper := sweep.New(db, db, policy, cfg.QuestionTimeout, cfg.SweepBatchSize, logger)
	aggregator := kpi.NewAggregator(db, policy, cfg.KpiWeights, cfg.KpiBands, kpi.Sources{}, logger)

	// Start the timeout sweep loop.
	go sweepLoop(ctx, sweeper, logger, cfg.SweepInterval)

	// Create and start HTTP server.
	srv := server.New(server.ServerConfig{
		Store:        db,
		JWTMgr:       jwtMgr,
		IngestSvc:    ingestSvc,
		Engine:       engine,
		Aggregator:   aggregator,
		Logger:       logger,
		AdminAPIKey:  cfg.AdminAPIKey,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting new HTTP requests and drain
	// in-flight ones. The sweep loop exits with the signal context; an
	// interrupted sweep is safe to rerun because timeout transitions are
	// guarded on PENDING.
	slog.Info("javob shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("javob stopped")
	return nil
}

func sweepLoop(ctx context.Context, sweeper *sweep.Sweeper, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.Run(ctx)
			if err != nil {
				logger.Warn("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("sweep complete", "timed_out", n)
			}
		}
	}
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "modernc.org/sqlite"

	"github.com/randalmurphal/convoflow/internal/config"
	"github.com/randalmurphal/convoflow/internal/feedback"
	"github.com/randalmurphal/convoflow/internal/intent"
	"github.com/randalmurphal/convoflow/internal/orchestrator"
	"github.com/randalmurphal/convoflow/internal/server"
	"github.com/randalmurphal/convoflow/internal/session"
	"github.com/randalmurphal/convoflow/internal/telemetry"
	"github.com/randalmurphal/convoflow/internal/workflow"
	"github.com/randalmurphal/convoflow/pkg/convoflow/checkpoint"
	"github.com/randalmurphal/convoflow/pkg/resilience"
)

func main() {
	if err := run(); err != nil {
		slog.Error("orchestrator exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONVOFLOW_CONFIG"), "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Telemetry.Enabled {
		name := cfg.Telemetry.ServiceName
		if name == "" {
			name = "convoflow-orchestrator"
		}
		shutdown, err := telemetry.InitTracer(name, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	db, err := openDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := session.NewSQLiteStoreDB(db)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	feedbackStore, err := feedback.NewSQLiteStoreDB(db)
	if err != nil {
		return fmt.Errorf("feedback store: %w", err)
	}
	executions, err := workflow.NewSQLiteExecutionStoreDB(db)
	if err != nil {
		return fmt.Errorf("execution store: %w", err)
	}

	var checkpoints checkpoint.Store
	if cfg.Storage.CheckpointingEnabled {
		checkpoints, err = checkpoint.NewSQLiteStoreDB(db)
		if err != nil {
			return fmt.Errorf("checkpoint store: %w", err)
		}
	}

	catalog := intent.Defaults()
	if cfg.Workflow.IntentsPath != "" {
		catalog, err = intent.FromFile(cfg.Workflow.IntentsPath)
		if err != nil {
			return fmt.Errorf("load intents: %w", err)
		}
	}

	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		Threshold:   cfg.Resilience.BreakerThreshold,
		OpenTimeout: cfg.Resilience.BreakerTimeout,
	})
	clients := make(map[string]*resilience.Client, len(cfg.Services))
	for name, svc := range cfg.Services {
		clients[name] = resilience.NewClient(name, svc.BaseURL, breakers.Get(name),
			resilience.WithRetryConfig(resilience.RetryConfig{
				MaxRetries: cfg.Resilience.MaxRetries,
				BaseDelay:  cfg.Resilience.BaseDelay,
				MaxDelay:   cfg.Resilience.MaxDelay,
				Jitter:     0.1,
			}),
			resilience.WithHTTPClient(&http.Client{
				Timeout:   cfg.Resilience.CallTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}),
			resilience.WithLogger(logger.With(slog.String("dependency", name))),
		)
	}

	engine, err := workflow.NewEngine(workflow.Config{
		Catalog:             catalog,
		Tools:               workflow.NewServiceInvoker(clients),
		Checkpoints:         checkpoints,
		Executions:          executions,
		ConfidenceThreshold: cfg.Workflow.ConfidenceThreshold,
		MaxIterations:       cfg.Workflow.MaxIterations,
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	coordinator := feedback.NewCoordinator(feedbackStore, sessions, cfg.Workflow.FeedbackTTL, logger)

	svc := orchestrator.New(orchestrator.Config{
		Sessions:   sessions,
		Feedback:   coordinator,
		Engine:     engine,
		Executions: executions,
		Breakers:   breakers,
		DB:         db,
		SessionTTL: cfg.Workflow.SessionTTL,
		Logger:     logger,
	})

	srv := server.New(svc, logger, cfg.Server.RequestTimeout)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweeper(ctx, svc, cfg.Workflow.SweepInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator listening",
			slog.String("addr", httpServer.Addr),
			slog.Bool("checkpointing", cfg.Storage.CheckpointingEnabled),
			slog.Int("services", len(clients)),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("orchestrator stopped")
	return nil
}

// openDatabase opens the shared SQLite handle every store builds its
// tables on. WAL keeps readers from blocking the writer.
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	return db, nil
}

// sweeper periodically times out overdue feedback requests and expires
// idle sessions.
func sweeper(ctx context.Context, svc *orchestrator.Service, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, requests := svc.Sweep(ctx)
			if sessions > 0 || requests > 0 {
				logger.Info("sweep completed",
					slog.Int("expired_sessions", sessions),
					slog.Int("timed_out_requests", requests))
			}
		}
	}
}

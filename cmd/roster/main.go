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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/teachme-ai/roster/api"
	"github.com/teachme-ai/roster/internal/audit"
	"github.com/teachme-ai/roster/internal/config"
	"github.com/teachme-ai/roster/internal/identity"
	"github.com/teachme-ai/roster/internal/membership"
	"github.com/teachme-ai/roster/internal/server"
	"github.com/teachme-ai/roster/internal/service/roster"
	"github.com/teachme-ai/roster/internal/supabase"
	"github.com/teachme-ai/roster/internal/telemetry"
	"github.com/teachme-ai/roster/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ROSTER_LOG_LEVEL") == "debug" {
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

	slog.Info("roster starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Process-wide data-service clients, constructed once. Per-request
	// channels are derived from these inside the server middleware.
	anon, err := supabase.New(supabase.Config{
		BaseURL: cfg.SupabaseURL,
		APIKey:  cfg.SupabaseAnonKey,
		Timeout: cfg.SupabaseTimeout,
	})
	if err != nil {
		return fmt.Errorf("supabase anon client: %w", err)
	}
	admin, err := supabase.New(supabase.Config{
		BaseURL:     cfg.SupabaseURL,
		APIKey:      cfg.ServiceKey(),
		ServiceRole: true,
		Timeout:     cfg.SupabaseTimeout,
	})
	if err != nil {
		return fmt.Errorf("supabase admin client: %w", err)
	}

	// Audit sink: direct Postgres when a connection string is configured,
	// else the service-role REST channel.
	var sink audit.Sink = audit.NewRESTSink(admin)
	if cfg.SupabaseDBURL != "" {
		pool, err := pgxpool.New(ctx, cfg.SupabaseDBURL)
		if err != nil {
			return fmt.Errorf("audit pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("audit pool ping: %w", err)
		}
		if err := audit.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			return fmt.Errorf("audit migrations: %w", err)
		}
		sink = audit.NewPostgresSink(pool)
		slog.Info("audit sink: direct postgres")
	}
	recorder := audit.NewRecorder(sink, logger)

	resolver := identity.NewResolver(membership.NewStore(admin), logger)

	srv := server.New(server.ServerConfig{
		Resolver:      resolver,
		Anon:          anon,
		Admin:         admin,
		RosterSvc:     roster.New(logger),
		Recorder:      recorder,
		Logger:        logger,
		Port:          cfg.Port,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		CORSOrigins:   cfg.CORSOrigins,
		Version:       version,
		HasServiceKey: cfg.HasServiceRoleKey(),
		OpenAPISpec:   api.OpenAPISpec,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// Let in-flight audit writes finish before the sinks close.
	if err := recorder.Drain(shutdownCtx); err != nil {
		slog.Warn("audit drain timed out", "error", err)
	}
	return nil
}

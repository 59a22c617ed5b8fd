// Command steward runs the governance core: a permission kernel, trust
// ledger, and surfacing layer for an autonomous agent runtime.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/steward-sh/steward/pkg/api"
	"github.com/steward-sh/steward/pkg/approval"
	"github.com/steward-sh/steward/pkg/artifacts"
	"github.com/steward-sh/steward/pkg/config"
	"github.com/steward-sh/steward/pkg/coordinator"
	"github.com/steward-sh/steward/pkg/enforcer"
	"github.com/steward-sh/steward/pkg/maintenance"
	"github.com/steward-sh/steward/pkg/observability"
	"github.com/steward-sh/steward/pkg/orchestrator"
	"github.com/steward-sh/steward/pkg/reputation"
	"github.com/steward-sh/steward/pkg/rules"
	"github.com/steward-sh/steward/pkg/runlog"
	"github.com/steward-sh/steward/pkg/skill"
	"github.com/steward-sh/steward/pkg/state"
	"github.com/steward-sh/steward/pkg/surfacing"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // Postgres driver
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands; exported for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}
	switch args[1] {
	case "serve":
		return runServe(stderr)
	case "status":
		return runStatus(stdout, stderr)
	case "snapshot":
		return runSnapshot(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "steward "+version)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\nusage: steward [serve|status|snapshot|version]\n", args[1])
		return 2
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openStore(cfg *config.Config) (state.Store, error) {
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store, err := state.NewPostgresStore(db)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := state.OpenSQLite(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func signingKey(cfg *config.Config, logger *slog.Logger) []byte {
	if cfg.TokenSigningKey != "" {
		return []byte(cfg.TokenSigningKey)
	}
	// Without a configured key, grants do not survive a restart.
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Error("failed to generate ephemeral signing key", "error", err)
		os.Exit(1)
	}
	logger.Warn("STEWARD_TOKEN_KEY not set, using an ephemeral signing key")
	return []byte(hex.EncodeToString(buf))
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)
	logger := slog.Default().With("component", "main")

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "profile: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "state store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ledger := reputation.NewLedger(store, profile.Ladder)
	if err := ledger.LoadSnapshot(ctx, cfg.SnapshotPath); err != nil {
		logger.Warn("snapshot load failed, starting from store state", "error", err)
	}
	if n, err := ledger.MaturePendingRewards(ctx); err != nil {
		logger.Warn("startup maturation sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("matured rewards at startup", "count", n)
	}

	grants, err := approval.NewGrants(store, signingKey(cfg, logger))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "approval grants: %v\n", err)
		return 1
	}
	enf := enforcer.New(ledger, grants)

	engine, err := rules.NewEngine(rules.DefaultRules())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rules: %v\n", err)
		return 1
	}

	runlogs, err := runlog.NewFileStore(cfg.RunLogDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "run logs: %v\n", err)
		return 1
	}

	arts := artifacts.NewStore(store)

	tools := skill.NewRegistry()
	tools.Register(skill.NewCapability("evidence_search", func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		limit := 3
		hits, err := arts.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(hits))
		for _, h := range hits {
			out = append(out, map[string]any{"url": "steward://artifacts/" + h.ID, "title": h.Content})
		}
		return out, nil
	}))
	tools.Register(skill.NewCapability("get_artifact", func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["id"].(string)
		doc, found, err := arts.GetArtifact(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("artifact %s not found", id)
		}
		return doc, nil
	}))

	runner := skill.NewRunner(30 * time.Second)
	runner.Register(orchestrator.PlanVerifyAndStore, skill.VerifyAndStore(arts))

	var telemetry *observability.Provider
	if cfg.TelemetryOn {
		telemetry, err = observability.New(ctx, &observability.Config{
			ServiceName:    "steward",
			ServiceVersion: version,
			Environment:    "production",
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			BatchTimeout:   5 * time.Second,
			Enabled:        true,
			Insecure:       true,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "observability: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(shutdownCtx)
		}()
	}

	orch := orchestrator.New(enf, engine, tools, runner, arts, runlogs).WithIndex(arts)
	if telemetry != nil {
		orch = orch.WithTelemetry(telemetry)
	}

	buffer := surfacing.NewBuffer(profile.Surfacing.MaxBuffered)
	coord := coordinator.New(store, arts, arts).WithBuffer(buffer)

	var window surfacing.Window
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		window = surfacing.NewRedisWindow(client, "steward:surfacing:window", time.Hour)
	} else {
		window = surfacing.NewMemoryWindow(time.Hour)
	}
	feedback := surfacing.NewFeedbackTracker(store)
	quiet := surfacing.NewCalculator(profile.QuietMode, window, feedback)

	scheduler := maintenance.NewScheduler(store, buffer)
	if err := maintenance.RegisterDefaultTasks(scheduler, profile.Maintenance, store, ledger, grants, arts); err != nil {
		_, _ = fmt.Fprintf(stderr, "maintenance: %v\n", err)
		return 1
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	go snapshotLoop(ctx, ledger, cfg.SnapshotPath, cfg.SnapshotEvery, logger)

	addr := os.Getenv("STEWARD_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(orch, coord, ledger, grants, buffer, quiet, feedback, window).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "profile", profile.Name)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if err := ledger.SaveSnapshot(shutdownCtx, cfg.SnapshotPath); err != nil {
		logger.Error("final snapshot failed", "error", err)
	}
	return 0
}

// snapshotLoop autosaves the reputation snapshot until the context ends.
func snapshotLoop(ctx context.Context, ledger *reputation.Ledger, path string, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ledger.SaveSnapshot(ctx, path); err != nil {
				logger.Warn("snapshot autosave failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func runStatus(stdout, stderr io.Writer) int {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "profile: %v\n", err)
		return 1
	}

	store, err := openStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "state store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	ledger := reputation.NewLedger(store, profile.Ladder)
	domains, err := ledger.Domains(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "domains: %v\n", err)
		return 1
	}

	out := map[string]any{
		"global_score": ledger.GlobalScore(ctx),
		"domains":      domains,
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	return 0
}

func runSnapshot(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", "", "snapshot destination (defaults to STEWARD_SNAPSHOT_PATH)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	setupLogger(cfg.LogLevel)
	if *path == "" {
		*path = cfg.SnapshotPath
	}

	store, err := openStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "state store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "profile: %v\n", err)
		return 1
	}

	ledger := reputation.NewLedger(store, profile.Ladder)
	if err := ledger.SaveSnapshot(context.Background(), *path); err != nil {
		_, _ = fmt.Fprintf(stderr, "snapshot: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "snapshot written to %s\n", *path)
	return 0
}

// Command cadenza-worker registers with a dispatch server and runs voice
// agent jobs in supervised child processes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/cadenza/internal/config"
	"github.com/MrWong99/cadenza/internal/observe"
	"github.com/MrWong99/cadenza/internal/worker"
	"github.com/MrWong99/cadenza/pkg/ipc"
	"github.com/MrWong99/cadenza/pkg/turn"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Job children share the binary with the worker; they speak the
	// supervision protocol on stdin/stdout and take no flags.
	if ipc.IsChildProcess() {
		return runChild()
	}

	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ─────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cadenza-worker: %v\n", err)
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("cadenza worker starting",
		"config", *configPath,
		"agent", cfg.Worker.AgentName,
		"server", cfg.Worker.ServerURL,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ─────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ──────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: cfg.Worker.Version,
	})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		octx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(octx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	token, err := cfg.Worker.ResolveToken()
	if err != nil {
		slog.Error("failed to resolve dispatch token", "err", err)
		return 1
	}

	// ── Process pool ───────────────────────────────────────────────────────
	spawner := func(ctx context.Context) (worker.JobExecutor, error) {
		return ipc.StartProc(ctx, ipc.ProcOptions{
			InitializeTimeout: cfg.Pool.InitializeTimeout.Std(),
		})
	}
	pool := worker.NewProcPool(spawner, worker.PoolOptions{
		NumIdleProcesses:   cfg.Pool.NumIdleProcesses,
		SpawnRetryInterval: cfg.Pool.SpawnRetryInterval.Std(),
	})
	pool.Start()

	// ── Worker ─────────────────────────────────────────────────────────────
	w := worker.New(pool, worker.Options{
		ServerURL:         cfg.Worker.ServerURL,
		Token:             token,
		AgentName:         cfg.Worker.AgentName,
		Version:           cfg.Worker.Version,
		RegisterTimeout:   cfg.Worker.RegisterTimeout.Std(),
		AssignmentTimeout: cfg.Worker.AssignmentTimeout.Std(),
	})

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker stopped", "err", err)
			return 1
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining…")
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Close(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runChild runs the supervised job-process side of the protocol. The parent
// configures logging through the initialize handshake.
func runChild() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := ipc.RunChild(ctx, ipc.RunnerOptions{
		JobHandler: runJob,
		InferenceHandlers: map[string]ipc.InferenceHandler{
			turn.InferenceMethod: predictEndOfTurn,
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("job process failed", "err", err)
		return 1
	}
	return 0
}

// runJob serves one assigned job until the parent shuts the process down.
// Room and provider wiring is installed here by the embedding application;
// the bare worker only accepts the assignment and holds the job open.
func runJob(ctx context.Context, job ipc.RunningJobInfo) error {
	slog.Info("job started", "job_id", job.Job.ID, "room", job.Job.RoomName)
	<-ctx.Done()
	slog.Info("job finished", "job_id", job.Job.ID)
	return nil
}

// predictEndOfTurn answers EOU inference requests. No model ships with the
// worker; until a model-backed handler replaces this, the unavailable
// probability disables endpointing gating.
func predictEndOfTurn(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
	var req turn.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode eou request: %w", err)
	}
	return json.Marshal(turn.Response{Probability: turn.ProbabilityUnavailable})
}

// ── Logger ─────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Package daemon hosts the cubqueue server, either in the foreground
// or as a detached background process controlled through a PID file.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"cubqueue/internal/config"
	"cubqueue/internal/observability"
	"cubqueue/internal/runner"
	"cubqueue/internal/server"
	"cubqueue/internal/server/handlers"
	"cubqueue/internal/store"
	"cubqueue/internal/store/sqlite"
	"cubqueue/internal/workspace"
)

// drainTimeout bounds how long shutdown waits for running tasks after
// the HTTP server has stopped.
const drainTimeout = 15 * time.Second

// Daemon owns the server lifecycle for one base directory.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger
}

// New creates a daemon around the given configuration.
func New(cfg *config.Config, log *slog.Logger) *Daemon {
	return &Daemon{cfg: cfg, log: log}
}

// Run wires the store, workspace, runner and HTTP server together and
// serves until the context is cancelled or a SIGINT/SIGTERM arrives.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	// A detached child owns the PID record for its lifetime.
	if os.Getenv(EnvMarker) != "" {
		defer d.clearOwnPID()
	}

	st, err := sqlite.New(d.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	ws, err := workspace.New(d.cfg.BaseDir, d.cfg.AllowedExtensions(), d.log)
	if err != nil {
		return err
	}

	run := runner.New(runner.Config{
		MaxConcurrent: d.cfg.MaxConcurrentJobs,
		CancelGrace:   d.cfg.CancelGracePeriod,
		Timeout:       d.cfg.JobTimeout,
		Interpreters:  d.cfg.Interpreters,
	}, st, ws, d.log)

	// Tasks left in the running state by a previous process no longer
	// have a live subprocess; resolve them before accepting new work.
	recovered, err := run.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		d.log.Warn("marked interrupted tasks as failed", "count", recovered)
	}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	if err := observability.RegisterRunningTasksGauge(func(ctx context.Context) (int64, error) {
		return st.CountTasksByStatus(ctx, store.TaskRunning)
	}); err != nil {
		d.log.Warn("failed to register running tasks gauge", "error", err)
	}

	if d.cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "cubqueue", d.cfg.OTELEndpoint)
		if err != nil {
			d.log.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracer(shutdownCtx)
			}()
		}
	}

	h := handlers.New(st, run, ws, d.cfg, d.log)
	srv := server.New(d.cfg, h, metricsHandler, d.log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.log.Info("cubqueue server listening",
			"addr", d.cfg.Addr(),
			"base_dir", d.cfg.BaseDir,
			"max_concurrent", d.cfg.MaxConcurrentJobs,
		)
		return srv.Run(gctx)
	})

	if d.cfg.CleanupDays > 0 {
		sched, err := d.newJanitor(ws)
		if err != nil {
			return err
		}
		g.Go(func() error {
			sched.Start()
			<-gctx.Done()
			return sched.Shutdown()
		})
	}

	err = g.Wait()

	// Give in-flight tasks a bounded chance to exit cleanly.
	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := run.Shutdown(dctx); derr != nil {
		d.log.Warn("tasks did not drain before shutdown", "error", derr)
	}

	d.log.Info("cubqueue server stopped")
	return err
}

// newJanitor schedules expired job directory cleanup on the configured
// cron expression.
func (d *Daemon) newJanitor(ws *workspace.Store) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create janitor scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.CronJob(d.cfg.CleanupSchedule, false),
		gocron.NewTask(func() {
			removed := ws.PruneOlderThan(d.cfg.CleanupDays)
			if removed > 0 {
				d.log.Info("janitor removed expired job directories", "count", removed)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule janitor: %w", err)
	}

	return sched, nil
}

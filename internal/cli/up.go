package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/docker"
	"github.com/WillMorrison/tailhole/internal/engine"
	"github.com/WillMorrison/tailhole/internal/health"
	"github.com/WillMorrison/tailhole/internal/pihole"
	"github.com/WillMorrison/tailhole/internal/stack"
	"github.com/WillMorrison/tailhole/internal/supervisor"
	"github.com/WillMorrison/tailhole/internal/verify"
)

func newUpCmd(a *app) *cobra.Command {
	var (
		detach bool
		dryRun bool
		pull   bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Converge the stack and supervise it",
		Long: `Load the stack file, converge it against the Docker engine (create,
start, or recreate containers as needed), and then keep watching container
events, re-converging whenever the running state drifts from the
descriptor. With --detach, converge once and exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runUp(cmd.Context(), detach, dryRun, pull)
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "converge once and exit instead of supervising")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log planned actions without applying them")
	cmd.Flags().BoolVar(&pull, "pull", false, "pull images before creating containers")

	return cmd
}

func (a *app) runUp(parent context.Context, detach, dryRun, pull bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	st, err := stack.Load(a.cfg.StackFile)
	if err != nil {
		return fmt.Errorf("loading stack: %w", err)
	}

	client, err := docker.NewClient(ctx,
		docker.WithHost(a.cfg.DockerHost),
		docker.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("creating docker client: %w", err)
	}
	defer client.Close()

	engCfg := engine.Config{
		DryRun:      dryRun || a.cfg.DryRun,
		Pull:        pull || a.cfg.Pull,
		StopTimeout: int(a.cfg.StopTimeout.Seconds()),
	}
	eng := engine.New(client, st,
		engine.WithConfig(engCfg),
		engine.WithLogger(a.logger),
		engine.WithStackDir(filepath.Dir(a.cfg.StackFile)),
	)

	a.logger.Info("tailhole starting",
		slog.String("version", a.version),
		slog.String("stack", st.Name),
		slog.Int("services", len(st.Services)),
		slog.Bool("dry_run", engCfg.DryRun),
	)

	// State shared between the converge closure and the status endpoint.
	var (
		convergeMu   sync.Mutex
		lastConverge time.Time
	)

	converge := func() error {
		convergeMu.Lock()
		defer convergeMu.Unlock()

		result, err := eng.Up(ctx)
		if err != nil {
			a.logger.Error("convergence failed", slog.String("error", err.Error()))
			return err
		}
		lastConverge = time.Now()
		a.logger.Info("convergence complete",
			slog.Int("created", result.CreatedCount()),
			slog.Int("removed", result.RemovedCount()),
			slog.Int("skipped", result.SkippedCount()),
			slog.Int("errors", result.FailedCount()),
			slog.Duration("duration", result.Duration()),
		)
		return result.Err()
	}

	if err := converge(); err != nil {
		if detach || engCfg.DryRun {
			return err
		}
		// Supervision may converge the stack once the cause clears;
		// failed actions were already logged above.
		a.logger.Warn("initial convergence incomplete",
			slog.String("error", err.Error()),
		)
	}

	if detach || engCfg.DryRun {
		return nil
	}

	sup := supervisor.New(client, st.Name, func() { _ = converge() },
		supervisor.WithLogger(a.logger),
	)

	healthServer := health.New(a.cfg.HealthPort, health.WithLogger(a.logger))
	healthServer.RegisterChecker("docker", client.Ping)

	if a.cfg.PiholePassword != "" {
		ph := pihole.NewClient(a.cfg.PiholeURL, a.cfg.PiholePassword,
			pihole.WithLogger(a.logger),
		)
		healthServer.RegisterChecker("pihole-api", ph.Ping)
	}

	if a.cfg.Resolver != "" {
		v := verify.NewVerifier(a.cfg.Resolver,
			verify.WithLogger(a.logger),
			verify.WithBlockingMode(pihole.BlockingMode(a.cfg.BlockingMode)),
		)
		healthServer.RegisterDegradedChecker("dns-filtering", func(ctx context.Context) (bool, string) {
			if err := v.CheckBlocked(ctx, "doubleclick.net"); err != nil {
				return true, fmt.Sprintf("ad blocking check: %v", err)
			}
			return false, ""
		})
	}

	healthServer.RegisterDegradedChecker("restarts", func(_ context.Context) (bool, string) {
		for _, name := range st.ServiceNames() {
			if n := sup.RestartCount(name); n > 0 {
				return true, fmt.Sprintf("service %s restarted %d times", name, n)
			}
		}
		return false, ""
	})

	healthServer.SetSnapshotFunc(func(ctx context.Context) (health.StackSnapshot, error) {
		managed, err := eng.Status(ctx)
		if err != nil {
			return health.StackSnapshot{}, err
		}

		restarts := make(map[string]int)
		for _, name := range st.ServiceNames() {
			if n := sup.RestartCount(name); n > 0 {
				restarts[name] = n
			}
		}

		convergeMu.Lock()
		last := lastConverge
		convergeMu.Unlock()

		return health.StackSnapshot{
			Stack:           st.Name,
			ServicesRunning: len(managed.Running()),
			ServicesTotal:   len(st.Services),
			LastConverge:    last,
			Restarts:        restarts,
		}, nil
	})

	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	// Periodic convergence as a safety net for missed events.
	if a.cfg.ConvergeInterval > 0 {
		go func() {
			ticker := time.NewTicker(a.cfg.ConvergeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.logger.Debug("periodic convergence triggered",
						slog.Duration("interval", a.cfg.ConvergeInterval),
					)
					_ = converge()
				}
			}
		}()
	}

	a.logger.Info("tailhole supervising",
		slog.String("stack", st.Name),
		slog.Int("health_port", a.cfg.HealthPort),
		slog.Duration("converge_interval", a.cfg.ConvergeInterval),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()
	sup.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("health server shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("tailhole shutdown complete")
	return nil
}

package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/docker"
	"github.com/WillMorrison/tailhole/internal/engine"
	"github.com/WillMorrison/tailhole/internal/stack"
)

func newDownCmd(a *app) *cobra.Command {
	var removeVolumes bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the stack's containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

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

			eng := engine.New(client, st,
				engine.WithConfig(engine.Config{StopTimeout: int(a.cfg.StopTimeout.Seconds())}),
				engine.WithLogger(a.logger),
				engine.WithStackDir(filepath.Dir(a.cfg.StackFile)),
			)

			result, err := eng.Down(ctx, removeVolumes)
			if err != nil {
				return fmt.Errorf("tearing down stack: %w", err)
			}

			a.logger.Info("stack down",
				slog.String("stack", st.Name),
				slog.Int("removed", result.RemovedCount()),
				slog.Int("errors", result.FailedCount()),
				slog.Duration("duration", result.Duration()),
			)

			if result.FailedCount() > 0 {
				return fmt.Errorf("%d containers failed to stop cleanly", result.FailedCount())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&removeVolumes, "volumes", false, "also remove the stack's named volumes")

	return cmd
}

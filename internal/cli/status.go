package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/docker"
	"github.com/WillMorrison/tailhole/internal/engine"
	"github.com/WillMorrison/tailhole/internal/stack"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the stack's containers",
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

			eng := engine.New(client, st, engine.WithLogger(a.logger))
			managed, err := eng.Status(ctx)
			if err != nil {
				return fmt.Errorf("listing containers: %w", err)
			}
			byService := managed.ByService()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tCONTAINER\tSTATE\tCONFIG")
			for _, name := range st.ServiceNames() {
				m, ok := byService[name]
				if !ok {
					fmt.Fprintf(w, "%s\t-\tabsent\t-\n", name)
					continue
				}

				drift := "current"
				if m.ConfigHash != stack.ConfigHash(st.Services[name]) {
					drift = "drifted"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, m.Name, m.State, drift)
			}
			return w.Flush()
		},
	}
}

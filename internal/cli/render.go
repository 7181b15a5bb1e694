package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/pihole"
	"github.com/WillMorrison/tailhole/internal/serve"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		outDir   string
		nodeName string
		backend  string
		funnel   bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the serve descriptor and Pi-hole settings",
		Long: `Render the node's serve descriptor (HTTPS termination for the admin UI)
and the pihole.toml settings file from the current configuration. Files are
written under --out, or printed to stdout when --out is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			serveCfg, err := serve.ForAdminUI(serve.AdminUIOptions{
				NodeName: nodeName,
				Backend:  backend,
				Funnel:   funnel,
			})
			if err != nil {
				return fmt.Errorf("building serve descriptor: %w", err)
			}
			serveJSON, err := serveCfg.MarshalJSONIndent()
			if err != nil {
				return fmt.Errorf("encoding serve descriptor: %w", err)
			}

			settings := pihole.DefaultSettings()
			settings.DNS.BlockingMode = pihole.BlockingMode(a.cfg.BlockingMode)

			if outDir == "" {
				fmt.Fprintln(out, "# serve.json")
				fmt.Fprintln(out, string(serveJSON))
				fmt.Fprintln(out, "# pihole.toml")
				return settings.Render(out)
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			servePath := filepath.Join(outDir, "serve.json")
			if err := os.WriteFile(servePath, append(serveJSON, '\n'), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", servePath, err)
			}
			fmt.Fprintf(out, "wrote %s\n", servePath)

			settingsPath := filepath.Join(outDir, "pihole.toml")
			if err := settings.WriteFile(settingsPath); err != nil {
				return fmt.Errorf("writing %s: %w", settingsPath, err)
			}
			fmt.Fprintf(out, "wrote %s\n", settingsPath)

			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write rendered files into")
	cmd.Flags().StringVar(&nodeName, "node", "", "the node's DNS name on the mesh (required)")
	cmd.Flags().StringVar(&backend, "backend", "", "admin UI backend (default: http://127.0.0.1:80)")
	cmd.Flags().BoolVar(&funnel, "funnel", false, "expose the admin UI outside the tailnet")
	_ = cmd.MarkFlagRequired("node")

	return cmd
}

package cli

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/deploy"
	"github.com/WillMorrison/tailhole/internal/pihole"
	"github.com/WillMorrison/tailhole/internal/policy"
	"github.com/WillMorrison/tailhole/internal/serve"
	"github.com/WillMorrison/tailhole/internal/stack"
)

func newDeployCmd(a *app) *cobra.Command {
	var (
		nodeName string
		backend  string
		funnel   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Push descriptors and secrets to the remote host over SSH",
		Long: `Validate the stack and policy, then push them together with the stack's
secret files to the configured remote host over SFTP. With --node, the
rendered serve descriptor and Pi-hole settings are included. If a reload
command is configured it runs after all files have landed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if !a.cfg.Deploy.Enabled() {
				return fmt.Errorf("no deploy target configured (set TAILHOLE_DEPLOY_HOST or the deploy section)")
			}

			st, err := stack.Load(a.cfg.StackFile)
			if err != nil {
				return fmt.Errorf("loading stack: %w", err)
			}

			bundle := deploy.NewBundle()

			stackData, err := os.ReadFile(a.cfg.StackFile)
			if err != nil {
				return fmt.Errorf("reading stack file: %w", err)
			}
			bundle.Add(filepath.Base(a.cfg.StackFile), stackData)

			if _, err := os.Stat(a.cfg.PolicyFile); err == nil {
				if _, err := policy.Load(a.cfg.PolicyFile); err != nil {
					return fmt.Errorf("policy %s: %w", a.cfg.PolicyFile, err)
				}
				policyData, err := os.ReadFile(a.cfg.PolicyFile)
				if err != nil {
					return fmt.Errorf("reading policy file: %w", err)
				}
				bundle.Add(filepath.Base(a.cfg.PolicyFile), policyData)
			}

			if nodeName != "" {
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
				bundle.Add("serve.json", append(serveJSON, '\n'))

				settings := pihole.DefaultSettings()
				settings.DNS.BlockingMode = pihole.BlockingMode(a.cfg.BlockingMode)
				var buf bytes.Buffer
				if err := settings.Render(&buf); err != nil {
					return fmt.Errorf("rendering pihole settings: %w", err)
				}
				bundle.Add("pihole.toml", buf.Bytes())
			}

			stackDir := filepath.Dir(a.cfg.StackFile)
			for name, sec := range st.Secrets {
				p := sec.File
				if !filepath.IsAbs(p) {
					p = filepath.Join(stackDir, p)
				}
				data, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("reading secret %s: %w", name, err)
				}
				bundle.AddSecret(path.Join("secrets", name), data)
			}

			d, err := deploy.New(a.cfg.Deploy, deploy.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if err := d.Connect(ctx); err != nil {
				return err
			}
			defer d.Close()

			a.logger.Info("deploying bundle",
				slog.String("host", a.cfg.Deploy.Host),
				slog.String("path", a.cfg.Deploy.Path),
				slog.Int("files", bundle.Len()),
			)

			if err := d.Push(ctx, bundle); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deployed %d files to %s:%s\n",
				bundle.Len(), a.cfg.Deploy.Host, a.cfg.Deploy.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeName, "node", "", "include rendered serve.json and pihole.toml for this node name")
	cmd.Flags().StringVar(&backend, "backend", "", "admin UI backend for the serve descriptor")
	cmd.Flags().BoolVar(&funnel, "funnel", false, "expose the admin UI outside the tailnet")

	return cmd
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/pihole"
	"github.com/WillMorrison/tailhole/internal/verify"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		blocked []string
		allowed []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Probe the resolver to confirm DNS filtering works",
		Long: `Send real DNS queries at the configured resolver: domains expected to be
blocked must answer the way the blocking mode dictates, and normal domains
must still resolve. Exits non-zero when any probe fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			v := verify.NewVerifier(a.cfg.Resolver,
				verify.WithLogger(a.logger),
				verify.WithBlockingMode(pihole.BlockingMode(a.cfg.BlockingMode)),
				verify.WithTimeout(timeout),
			)

			probes := verify.DefaultProbes()
			if len(blocked) > 0 || len(allowed) > 0 {
				probes = nil
				for _, d := range blocked {
					probes = append(probes, verify.Probe{Name: "blocked:" + d, Domain: d, WantBlocked: true})
				}
				for _, d := range allowed {
					probes = append(probes, verify.Probe{Name: "allowed:" + d, Domain: d})
				}
			}

			report, err := v.Run(cmd.Context(), probes)
			if err != nil {
				return fmt.Errorf("running probes: %w", err)
			}

			for _, res := range report.Results {
				status := "ok"
				if res.Err != nil {
					status = res.Err.Error()
				}
				fmt.Fprintf(out, "%-40s %s\n", res.Probe.Name, status)
			}

			if !report.OK() {
				return fmt.Errorf("%d of %d probes failed", report.Failed(), len(report.Results))
			}
			fmt.Fprintf(out, "all %d probes passed against %s\n", len(report.Results), a.cfg.Resolver)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&blocked, "blocked", nil, "domains that must be blocked")
	cmd.Flags().StringSliceVar(&allowed, "allowed", nil, "domains that must resolve")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-query timeout")

	return cmd
}

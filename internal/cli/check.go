package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/policy"
	"github.com/WillMorrison/tailhole/internal/stack"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the stack file and access policy without touching Docker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			var problems []string

			st, err := stack.Load(a.cfg.StackFile)
			if err != nil {
				problems = append(problems, fmt.Sprintf("stack %s: %v", a.cfg.StackFile, err))
			} else {
				order, err := st.StartOrder()
				if err != nil {
					problems = append(problems, fmt.Sprintf("stack %s: %v", a.cfg.StackFile, err))
				} else {
					fmt.Fprintf(out, "stack %s: ok (%d services, start order: %s)\n",
						a.cfg.StackFile, len(st.Services), strings.Join(order, ", "))
				}
			}

			if _, err := os.Stat(a.cfg.PolicyFile); err == nil {
				p, err := policy.Load(a.cfg.PolicyFile)
				if err != nil {
					problems = append(problems, fmt.Sprintf("policy %s: %v", a.cfg.PolicyFile, err))
				} else {
					fmt.Fprintf(out, "policy %s: ok (%d rules, %d groups, %d tags)\n",
						a.cfg.PolicyFile, len(p.ACLs), len(p.Groups), len(p.TagOwners))
				}
			} else {
				fmt.Fprintf(out, "policy %s: not present, skipped\n", a.cfg.PolicyFile)
			}

			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return fmt.Errorf("%d problems found", len(problems))
			}
			return nil
		},
	}
}

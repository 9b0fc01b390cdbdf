package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPoliciesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the preflight policies",
		Long: `List the built-in policies and the ones loaded from --policy paths or the
settings file, with their severity and whether they are evaluated.`,
		Example: `  # Built-in policies
  fire-cfg policies

  # Including a directory of site policies
  fire-cfg policies --policy /etc/fire/policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.newApp(cmd, noArchive)
			if err != nil {
				return err
			}
			defer func() { err = joinClose(err, a.close(cmd.Context())) }()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range a.policies.ListPolicies() {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return tw.Flush()
		},
	}

	return cmd
}

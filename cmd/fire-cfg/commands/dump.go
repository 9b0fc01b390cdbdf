package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDumpCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "dump <script> [-- args...]",
		Short: "Evaluate a config script and print the handoff",
		Long: `Evaluate a config script and print what is handed to the native fire
executable: the libraries to load, in order, and the parameter dump of the
process.

The handoff is only printed when the process passes validation, the schema,
and every blocking policy. Findings go to stderr.`,
		Example: `  # Print the handoff as JSON
  fire-cfg dump config.py

  # Pass arguments to the script (argv[1:])
  fire-cfg dump config.py -- /data/run_9001 10

  # YAML, without archiving
  fire-cfg dump -o yaml --no-archive config.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer func() { err = joinClose(err, a.close(cmd.Context())) }()

			path, argv := scriptArgs(args)
			report, err := a.pipeline.Run(cmd.Context(), path, argv, "dump")
			if err != nil {
				return err
			}
			if rerr := report.Err(); rerr != nil {
				if perr := printReport(cmd.ErrOrStderr(), report); perr != nil {
					return perr
				}
				if !force {
					return rerr
				}
			}
			return encode(cmd.OutOrStdout(), a.settings.Format, report.Handoff)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "print the handoff even when checks fail")

	return cmd
}

// joinClose keeps the command error and adds a failure to close.
func joinClose(err, cerr error) error {
	if cerr == nil {
		return err
	}
	if err == nil {
		return cerr
	}
	return fmt.Errorf("%w (close: %v)", err, cerr)
}

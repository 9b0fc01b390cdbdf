package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <script> [-- args...]",
		Short: "Check a config script without printing the handoff",
		Long: `Evaluate a config script and run every check on the process it builds.

This command checks:
  - The script evaluates and builds exactly one process
  - Struct validation (log levels, regexes, seed mode, max tries)
  - CUE schema conformance of the parameter dump
  - Policy compliance (OPA/rego)

It exits non-zero when the process would be rejected. With --strict,
warnings and schema issues count too.`,
		Example: `  # Validate a configuration
  fire-cfg validate config.py -- /data/run_9001

  # Strict validation with extra policies
  fire-cfg validate --strict --policy ./policies config.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer func() { err = joinClose(err, a.close(cmd.Context())) }()

			path, argv := scriptArgs(args)
			log.Debug().Str("script", path).Bool("strict", a.settings.Strict).Msg("Validating configuration")

			report, err := a.pipeline.Run(cmd.Context(), path, argv, "validate")
			if err != nil {
				return err
			}
			if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return report.Err()
		},
	}

	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPrintCommand(opts *rootOptions) *cobra.Command {
	var purpose string

	cmd := &cobra.Command{
		Use:   "print <script> [-- args...]",
		Short: "Evaluate a config script and print a summary of the process",
		Long: `Evaluate a config script and print the human-readable summary of the
process: run and event limit, conditions, the processor sequence, input and
output files, storage and drop/keep rules.

The processors in the sequence that storage listens to are listed last.`,
		Example: `  # Summarize a configuration
  fire-cfg print config.py -- /data/run_9001

  # Which processors does storage listen to for the "trigger" purpose
  fire-cfg print --purpose trigger config.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer func() { err = joinClose(err, a.close(cmd.Context())) }()

			path, argv := scriptArgs(args)
			report, err := a.pipeline.Run(cmd.Context(), path, argv, "print")
			if err != nil {
				return err
			}

			p := report.Process
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, p.String())

			names := make([]string, len(p.Sequence))
			for i, proc := range p.Sequence {
				names[i] = proc.Name
			}
			listening, err := p.Storage.Listening(names, purpose)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Storage listens to: %v\n", listening)

			if report.Err() != nil {
				return printReport(cmd.ErrOrStderr(), report)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&purpose, "purpose", "", "storage purpose to check listening rules against")

	return cmd
}

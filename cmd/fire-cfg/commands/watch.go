package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fire-framework/firecfg/pkg/pipeline"
	"github.com/fire-framework/firecfg/pkg/settings"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch <script> [-- args...]",
		Short: "Re-check a config script whenever it changes",
		Long: `Evaluate and check a config script, then again every time the script or a
file it loads changes, until interrupted.

Every evaluation is reported on one line followed by its findings. With
--metrics-addr the evaluation metrics are served on /metrics.`,
		Example: `  # Re-check on save
  fire-cfg watch config.py -- /data/run_9001

  # Expose metrics while watching
  fire-cfg watch --metrics-addr :9464 config.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.newApp(cmd, func(s *settings.Settings) {
				if metricsAddr != "" {
					s.Telemetry.Metrics.ListenAddress = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer func() { err = joinClose(err, a.close(cmd.Context())) }()

			ctx := cmd.Context()
			if err := a.tel.Metrics.StartMetricsServer(ctx, a.tel.Logger); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			path, argv := scriptArgs(args)
			w, err := a.pipeline.Watch(ctx, path, argv, func(report *pipeline.Report, err error) {
				if report == nil {
					log.Error().Err(err).Str("script", path).Msg("Watch evaluation failed")
					return
				}
				if err != nil {
					fmt.Fprintf(out, "%s: %s: %v\n", report.Script, report.Outcome, err)
					return
				}
				if perr := printReport(out, report); perr != nil {
					log.Error().Err(perr).Msg("Failed to print report")
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = w.Stop() }()

			log.Info().Str("script", path).Msg("Watching configuration, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve metrics on this address while watching")

	return cmd
}

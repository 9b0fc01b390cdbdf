// Package telemetry instruments configuration evaluations with structured
// logging (zerolog), tracing (OpenTelemetry), and metrics (Prometheus).
//
// A Telemetry value bundles the three. Each evaluation stage is wrapped
// with StartStage, which opens a span, derives a stage logger, and records
// the stage duration when it ends:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	stage := tel.StartStage(ctx, "policy")
//	result, err := engine.EvaluateProcess(stage.Ctx, process, nil)
//	stage.End(err)
//
// Logs go to stderr by default so that parameter dumps written to stdout
// stay machine readable. Metrics can be served over HTTP while watching a
// script, or written to a textfile for the node exporter when a command
// exits.
package telemetry

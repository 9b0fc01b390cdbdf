// Package pipeline runs a configuration script through every check that
// precedes the handoff to the native executable: evaluation, struct
// validation, the parameter dump schema, and the preflight policies. Each
// evaluated process is optionally archived.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fire-framework/firecfg/pkg/cfg"
	"github.com/fire-framework/firecfg/pkg/policy"
	"github.com/fire-framework/firecfg/pkg/schema"
	"github.com/fire-framework/firecfg/pkg/script"
	"github.com/fire-framework/firecfg/pkg/stores"
	"github.com/fire-framework/firecfg/pkg/telemetry"
)

// Stages, in order.
const (
	StageEvaluate = "evaluate"
	StageValidate = "validate"
	StageSchema   = "schema"
	StagePolicy   = "policy"
	StageArchive  = "archive"
)

// ErrRejected is wrapped by Report.Err when a configuration must not be
// handed off.
var ErrRejected = errors.New("configuration rejected")

// Options configures a Pipeline.
type Options struct {
	Evaluator *script.Evaluator
	Schemas   *schema.Registry
	Policies  *policy.Engine

	// Archive receives every evaluated process when set.
	Archive stores.Store

	// Retention prunes archived records older than this after each write,
	// 0 keeps everything.
	Retention time.Duration

	// Strict rejects configurations with policy warnings or schema issues.
	Strict bool

	Telemetry *telemetry.Telemetry
}

// Pipeline checks configuration scripts.
type Pipeline struct {
	opts   Options
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// New creates a pipeline. Evaluator, Schemas, and Policies are required.
func New(opts Options) (*Pipeline, error) {
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("pipeline needs an evaluator")
	}
	if opts.Schemas == nil {
		return nil, fmt.Errorf("pipeline needs a schema registry")
	}
	if opts.Policies == nil {
		return nil, fmt.Errorf("pipeline needs a policy engine")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.NewNop()
	}
	return &Pipeline{
		opts:   opts,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("pipeline"),
	}, nil
}

// Report is the outcome of running a script through the pipeline.
type Report struct {
	Script       string `json:"script"`
	ScriptSHA256 string `json:"script_sha256"`
	Operation    string `json:"operation"`

	// Process is nil when the script failed to evaluate.
	Process *cfg.Process `json:"-"`

	// Handoff is the library list and parameter dump of Process.
	Handoff *cfg.Handoff `json:"handoff,omitempty"`

	// Loaded are the files the script pulled in through load().
	Loaded []string `json:"loaded,omitempty"`

	// ValidationError is the struct validation failure, if any.
	ValidationError string `json:"validation_error,omitempty"`

	// SchemaIssues are the parameter dump schema violations.
	SchemaIssues []schema.Issue `json:"schema_issues,omitempty"`

	// Policy is the preflight policy result.
	Policy *policy.Result `json:"policy,omitempty"`

	// RecordID is the archive record written for this run.
	RecordID string `json:"record_id,omitempty"`

	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`

	strict bool
}

// Err explains why the configuration may not be handed off, nil when it
// may.
func (r *Report) Err() error {
	var reasons []string
	if r.ValidationError != "" {
		reasons = append(reasons, r.ValidationError)
	}
	if r.Policy != nil {
		for _, v := range r.Policy.Violations {
			reasons = append(reasons, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		for _, e := range r.Policy.Errors {
			reasons = append(reasons, e)
		}
	}
	if r.strict {
		for _, issue := range r.SchemaIssues {
			reasons = append(reasons, "schema: "+issue.String())
		}
		if r.Policy != nil {
			for _, w := range r.Policy.Warnings {
				if w.Severity == policy.SeverityInfo {
					continue
				}
				reasons = append(reasons, fmt.Sprintf("%s: %s", w.Policy, w.Message))
			}
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRejected, strings.Join(reasons, "; "))
}

// Run evaluates the script at path and checks the process it builds. The
// returned error is non-nil only when the script could not be evaluated or
// the archive failed; check findings are in the report.
func (p *Pipeline) Run(ctx context.Context, path string, argv []string, operation string) (*Report, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config script: %w", err)
	}
	return p.RunSource(ctx, path, src, argv, operation)
}

// RunSource is Run on an in-memory script.
func (p *Pipeline) RunSource(ctx context.Context, filename string, src []byte, argv []string, operation string) (*Report, error) {
	ctx, span := p.tel.Tracer.StartEvaluationSpan(ctx, filename, operation)
	defer span.End()

	timer := telemetry.NewTimer()
	report := newReport(filename, src, operation, p.opts.Strict)

	stage := p.tel.StartStage(ctx, StageEvaluate, telemetry.AttrScript.String(filename))
	result, err := p.opts.Evaluator.Evaluate(stage.Ctx, filename, src, argv)
	stage.End(err)
	if err != nil {
		p.fail(report, err)
		telemetry.RecordError(span, err)
		return report, err
	}

	if err := p.check(ctx, report, result); err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}
	report.Duration = timer.Duration()
	telemetry.RecordSuccess(span)
	return report, nil
}

func newReport(filename string, src []byte, operation string, strict bool) *Report {
	sum := sha256.Sum256(src)
	return &Report{
		Script:       filename,
		ScriptSHA256: hex.EncodeToString(sum[:]),
		Operation:    operation,
		strict:       strict,
	}
}

func (p *Pipeline) fail(report *Report, err error) {
	report.Outcome = telemetry.OutcomeScriptError
	class := string(cfg.GetErrorClass(err))
	p.tel.Metrics.RecordError(class)
	p.tel.Metrics.RecordEvaluation(report.Outcome)
	p.logger.WithScript(report.Script).WithError(err).
		WithField("error_class", class).
		Warn("Config script failed")
}

// check runs every stage after evaluation and archives the result.
func (p *Pipeline) check(ctx context.Context, report *Report, result *script.Result) error {
	proc := result.Process
	report.Process = proc
	report.Loaded = result.Loaded
	report.Handoff = proc.Handoff()
	p.tel.Metrics.SetSequenceLength(len(proc.Sequence))

	logger := p.logger.WithScript(report.Script).WithPass(proc.PassName)

	stage := p.tel.StartStage(ctx, StageValidate)
	verr := proc.Validate()
	stage.End(verr)
	if verr != nil {
		report.ValidationError = verr.Error()
	}

	stage = p.tel.StartStage(ctx, StageSchema)
	serr := p.opts.Schemas.ValidateDump(stage.Ctx, report.Handoff.Process)
	stage.End(serr)
	var schemaErr *schema.ValidationError
	switch {
	case serr == nil:
	case errors.As(serr, &schemaErr):
		report.SchemaIssues = schemaErr.Issues
		p.tel.Metrics.RecordSchemaIssues(len(schemaErr.Issues))
	default:
		return fmt.Errorf("schema validation failed: %w", serr)
	}

	stage = p.tel.StartStage(ctx, StagePolicy)
	presult, perr := p.opts.Policies.EvaluateProcess(stage.Ctx, proc, &policy.Context{
		Script:    report.Script,
		Operation: report.Operation,
	})
	if perr == nil {
		stage.Span.SetAttributes(telemetry.AttrViolations.Int(len(presult.Violations)))
	}
	stage.End(perr)
	if perr != nil {
		return fmt.Errorf("policy evaluation failed: %w", perr)
	}
	report.Policy = presult
	for _, v := range findings(presult) {
		p.tel.Metrics.RecordPolicyFinding(v.Policy, string(v.Severity))
	}

	switch {
	case report.ValidationError != "" || (p.opts.Strict && len(report.SchemaIssues) > 0):
		report.Outcome = telemetry.OutcomeInvalid
	case report.Err() != nil:
		report.Outcome = telemetry.OutcomeBlocked
	default:
		report.Outcome = telemetry.OutcomeOK
	}
	p.tel.Metrics.RecordEvaluation(report.Outcome)

	if err := p.archive(ctx, report); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"outcome":    report.Outcome,
		"violations": len(presult.Violations),
		"warnings":   len(presult.Warnings),
		"issues":     len(report.SchemaIssues),
	}).Info("Config checked")
	return nil
}

func (p *Pipeline) archive(ctx context.Context, report *Report) error {
	if p.opts.Archive == nil {
		return nil
	}

	stage := p.tel.StartStage(ctx, StageArchive)
	record, err := newRecord(report)
	if err == nil {
		err = p.opts.Archive.SaveRecord(stage.Ctx, record)
	}
	if err == nil && p.opts.Retention > 0 {
		var pruned int64
		pruned, err = p.opts.Archive.PruneBefore(stage.Ctx, time.Now().Add(-p.opts.Retention))
		if pruned > 0 {
			stage.Logger.Debugf("Pruned %d archived records", pruned)
		}
	}
	if err == nil {
		stage.Span.SetAttributes(telemetry.AttrRecordID.String(record.ID))
	}
	stage.End(err)
	if err != nil {
		return fmt.Errorf("failed to archive evaluation: %w", err)
	}

	report.RecordID = record.ID
	p.tel.Metrics.RecordArchived()
	return nil
}

func newRecord(report *Report) (*stores.Record, error) {
	dump, err := json.Marshal(report.Handoff.Process)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameter dump: %w", err)
	}
	record := &stores.Record{
		PassName:     report.Process.PassName,
		Run:          report.Process.Run,
		ScriptPath:   report.Script,
		ScriptSHA256: report.ScriptSHA256,
		Libraries:    report.Handoff.Libraries,
		Dump:         string(dump),
		Allowed:      report.Err() == nil,
	}
	if report.Policy != nil {
		for _, v := range findings(report.Policy) {
			record.Findings = append(record.Findings, stores.Finding{
				Policy:   v.Policy,
				Severity: string(v.Severity),
				Path:     v.Path,
				Message:  v.Message,
			})
		}
	}
	for _, issue := range report.SchemaIssues {
		record.Findings = append(record.Findings, stores.Finding{
			Policy:   "schema",
			Severity: string(policy.SeverityWarning),
			Path:     issue.Path,
			Message:  issue.Message,
		})
	}
	return record, nil
}

// findings lists violations then warnings.
func findings(r *policy.Result) []policy.Violation {
	out := make([]policy.Violation, 0, len(r.Violations)+len(r.Warnings))
	out = append(out, r.Violations...)
	return append(out, r.Warnings...)
}

// Watch runs the script through the pipeline now and again whenever it or a
// file it loads changes, until ctx is done. fn receives every report.
func (p *Pipeline) Watch(ctx context.Context, path string, argv []string, fn func(*Report, error)) (*script.Watcher, error) {
	var evaluated atomic.Bool
	w := p.opts.Evaluator.NewWatcher(path, argv, func(result *script.Result, err error) {
		if evaluated.Swap(true) {
			p.tel.Metrics.RecordWatchReload()
		}

		src, rerr := os.ReadFile(path)
		if rerr != nil {
			fn(nil, fmt.Errorf("failed to read config script: %w", rerr))
			return
		}
		report := newReport(path, src, "watch", p.opts.Strict)
		if err != nil {
			p.fail(report, err)
			fn(report, err)
			return
		}
		timer := telemetry.NewTimer()
		err = p.check(ctx, report, result)
		report.Duration = result.ExecutionTime + timer.Duration()
		fn(report, err)
	})
	if err := w.Watch(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

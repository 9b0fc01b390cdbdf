package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fire-framework/firecfg/pkg/pipeline"
	"github.com/fire-framework/firecfg/pkg/policy"
	"github.com/fire-framework/firecfg/pkg/schema"
	"github.com/fire-framework/firecfg/pkg/script"
	"github.com/fire-framework/firecfg/pkg/settings"
	"github.com/fire-framework/firecfg/pkg/stores"
	"github.com/fire-framework/firecfg/pkg/telemetry"
)

// app holds everything a command needs, built from the settings.
type app struct {
	settings *settings.Settings
	tel      *telemetry.Telemetry
	policies *policy.Engine
	archive  *stores.SQLiteStore
	pipeline *pipeline.Pipeline
}

// loadSettings reads the settings file and applies the flags that were set,
// then the command specific overrides.
func (o *rootOptions) loadSettings(cmd *cobra.Command, overrides ...func(*settings.Settings)) (*settings.Settings, error) {
	s, err := settings.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		s.Timeout = o.timeout
	}
	if flags.Changed("max-steps") {
		s.MaxSteps = o.maxSteps
	}
	if flags.Changed("format") {
		s.Format = o.format
	}
	if flags.Changed("strict") {
		s.Strict = o.strict
	}
	if flags.Changed("archive") {
		s.Archive.Enabled = true
		s.Archive.Path = o.archive
	}
	if o.noArchive {
		s.Archive.Enabled = false
	}
	s.Policy.Paths = append(s.Policy.Paths, o.policies...)
	s.Policy.Disabled = append(s.Policy.Disabled, o.disabled...)
	if o.verbose {
		s.Telemetry.Logging.Level = "debug"
	}
	s.Telemetry.ServiceVersion = o.version
	for _, override := range overrides {
		override(s)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// newApp builds the telemetry, policy engine, archive, and pipeline.
// close must be called when the command is done.
func (o *rootOptions) newApp(cmd *cobra.Command, overrides ...func(*settings.Settings)) (*app, error) {
	s, err := o.loadSettings(cmd, overrides...)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()

	tel, err := telemetry.NewTelemetry(&s.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a := &app{settings: s, tel: tel}

	logger := tel.Logger.NewComponentLogger("cli").Zerolog()
	a.policies, err = policy.NewEngine(logger)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}
	if len(s.Policy.Paths) > 0 {
		if err := a.policies.LoadPolicies(ctx, s.Policy.Paths); err != nil {
			return nil, errors.Join(err, a.close(ctx))
		}
	}
	for _, name := range s.Policy.Disabled {
		if err := a.policies.DisablePolicy(name); err != nil {
			return nil, errors.Join(err, a.close(ctx))
		}
	}

	if s.Archive.Enabled {
		if a.archive, err = openArchive(ctx, s.Archive.Path); err != nil {
			return nil, errors.Join(err, a.close(ctx))
		}
	}

	popts := pipeline.Options{
		Evaluator: script.NewEvaluator(script.Options{
			Timeout:  s.Timeout,
			MaxSteps: s.MaxSteps,
			Stdin:    os.Stdin,
			Logger:   tel.Logger.NewComponentLogger("script").Zerolog(),
		}),
		Schemas:   schema.NewRegistry(),
		Policies:  a.policies,
		Retention: s.Archive.Retention,
		Strict:    s.Strict,
		Telemetry: tel,
	}
	// A nil *SQLiteStore in the interface would not compare equal to nil.
	if a.archive != nil {
		popts.Archive = a.archive
	}
	if a.pipeline, err = pipeline.New(popts); err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}
	return a, nil
}

func openArchive(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	archive, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := archive.Init(ctx); err != nil {
		return nil, err
	}
	if err := archive.Migrate(ctx); err != nil {
		_ = archive.Close()
		return nil, err
	}
	return archive, nil
}

// noArchive is an override for commands that never touch the archive.
func noArchive(s *settings.Settings) {
	s.Archive.Enabled = false
}

// requireArchive fails for commands that read the history when archiving is
// disabled.
func (a *app) requireArchive() error {
	if a.archive == nil {
		return fmt.Errorf("the archive is disabled")
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	errs = append(errs, a.tel.Shutdown(context.WithoutCancel(ctx)))
	return errors.Join(errs...)
}

// scriptArgs splits the positional arguments into the script path and the
// arguments passed to it as argv[1:].
func scriptArgs(args []string) (string, []string) {
	return args[0], args[1:]
}

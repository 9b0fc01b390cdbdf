// Package settings loads the fire-cfg command line settings from an
// optional YAML file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fire-framework/firecfg/pkg/telemetry"
)

// EnvConfigPath names the settings file when --config is not given.
const EnvConfigPath = "FIRE_CFG_CONFIG"

// Output formats for parameter dumps.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Settings configures a fire-cfg invocation.
type Settings struct {
	// Timeout bounds a single script evaluation.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// MaxSteps bounds the Starlark steps of an evaluation, 0 for no bound.
	MaxSteps uint64 `yaml:"max_steps"`

	// Format is the parameter dump format.
	Format string `yaml:"format" validate:"oneof=json yaml"`

	// Strict turns policy warnings and schema issues into failures.
	Strict bool `yaml:"strict"`

	Archive   ArchiveSettings  `yaml:"archive"`
	Policy    PolicySettings   `yaml:"policy"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ArchiveSettings configures the archive of evaluated configurations.
type ArchiveSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`

	// Retention prunes records older than this on every write, 0 keeps
	// everything.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// PolicySettings configures the preflight policy checks.
type PolicySettings struct {
	// Paths are extra .rego, JSON, or YAML policy files and directories.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Disabled names policies that are not evaluated.
	Disabled []string `yaml:"disabled" validate:"dive,required"`
}

// Default returns the settings used when no file is given.
func Default() *Settings {
	return &Settings{
		Timeout: 30 * time.Second,
		Format:  FormatJSON,
		Archive: ArchiveSettings{
			Enabled: true,
			Path:    DefaultArchivePath(),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// DefaultArchivePath is archive.db under the user's config directory, or
// in the working directory when there is none.
func DefaultArchivePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "fire-cfg-archive.db"
	}
	return filepath.Join(dir, "fire-cfg", "archive.db")
}

// Load reads settings from path over the defaults. An empty path falls back
// to $FIRE_CFG_CONFIG, and to the defaults when that is unset too.
func Load(path string) (*Settings, error) {
	s := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return s, s.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	// Relative paths in the file are relative to the file.
	base := filepath.Dir(path)
	if s.Archive.Path != "" && s.Archive.Path != ":memory:" {
		s.Archive.Path = resolve(base, s.Archive.Path)
	}
	for i, p := range s.Policy.Paths {
		s.Policy.Paths[i] = resolve(base, p)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Validate checks the settings and the telemetry configuration.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %s", strings.TrimPrefix(fe.Namespace(), "Settings."), fe.Tag())
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return s.Telemetry.Validate()
}

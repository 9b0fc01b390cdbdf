package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags. Flags that are set override the
// settings file.
type rootOptions struct {
	version string

	configPath string
	timeout    time.Duration
	maxSteps   uint64
	format     string
	strict     bool
	archive    string
	noArchive  bool
	policies   []string
	disabled   []string
	verbose    bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &rootOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "fire-cfg",
		Short: "Evaluate and check fire processing configurations",
		Long: `fire-cfg runs a fire configuration script and produces the library list
and parameter dump handed to the native fire executable.

Every evaluation is checked before it is handed off:
  - Struct validation of the process (levels, regexes, seed mode)
  - CUE schema validation of the parameter dump
  - Preflight policies (OPA/rego), built-in and user supplied
  - Archived to a local SQLite history`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "settings file path (default $FIRE_CFG_CONFIG)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "script evaluation timeout")
	flags.Uint64Var(&opts.maxSteps, "max-steps", 0, "maximum Starlark execution steps")
	flags.StringVarP(&opts.format, "format", "o", "", "dump format (json or yaml)")
	flags.BoolVar(&opts.strict, "strict", false, "treat policy warnings and schema issues as failures")
	flags.StringVar(&opts.archive, "archive", "", "archive database path")
	flags.BoolVar(&opts.noArchive, "no-archive", false, "do not archive evaluations")
	flags.StringSliceVar(&opts.policies, "policy", nil, "extra policy file or directory (repeatable)")
	flags.StringSliceVar(&opts.disabled, "disable-policy", nil, "policy to skip (repeatable)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newDumpCommand(opts))
	rootCmd.AddCommand(newPrintCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newShowCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))

	return rootCmd
}

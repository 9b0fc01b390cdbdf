package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/fire-framework/firecfg/pkg/pipeline"
	"github.com/fire-framework/firecfg/pkg/settings"
)

// encode writes v as indented JSON or YAML.
func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case settings.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	case settings.FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// printReport writes the outcome of a pipeline run and every finding.
func printReport(w io.Writer, report *pipeline.Report) error {
	pass := ""
	if report.Process != nil {
		pass = report.Process.PassName
	}
	fmt.Fprintf(w, "%s: %s", report.Script, report.Outcome)
	if pass != "" {
		fmt.Fprintf(w, " (pass %s)", pass)
	}
	if report.RecordID != "" {
		fmt.Fprintf(w, " [%s]", report.RecordID)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if report.ValidationError != "" {
		fmt.Fprintf(tw, "  invalid\tprocess\t\t%s\n", report.ValidationError)
	}
	for _, issue := range report.SchemaIssues {
		fmt.Fprintf(tw, "  schema\tprocess\t%s\t%s\n", issue.Path, issue.Message)
	}
	if report.Policy != nil {
		for _, v := range report.Policy.Violations {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", v.Severity, v.Policy, v.Path, v.Message)
		}
		for _, v := range report.Policy.Warnings {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", v.Severity, v.Policy, v.Path, v.Message)
		}
		for _, e := range report.Policy.Errors {
			fmt.Fprintf(tw, "  failed\tpolicy\t\t%s\n", e)
		}
	}
	return tw.Flush()
}

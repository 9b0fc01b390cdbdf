package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fire-framework/firecfg/pkg/pipeline"
	"github.com/fire-framework/firecfg/pkg/settings"
	"github.com/fire-framework/firecfg/pkg/stores"
)

const recoScript = `
p = fire.Process('reco')
p.run = 9001
p.event_limit = int(argv[1]) if len(argv) > 1 else 10
p.output_file = fire.OutputFile('reco_events.h5')
sim = fire.Producer('sim', 'fire::test::Generator', 'Test')
ecal = fire.Analyzer('ecal', 'fire::test::EcalHistos', 'Ecal')
p.sequence = [sim, ecal]
p.storage.default(False)
p.storage.listen(ecal)
`

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reco.star")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(settings.EnvConfigPath, "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestDump_JSON(t *testing.T) {
	path := writeScript(t, recoScript)

	out, _, err := execute(t, "dump", "--no-archive", path, "--", "25")
	if err != nil {
		t.Fatalf("dump failed: %v", err)
	}

	var handoff struct {
		Libraries []string       `json:"libraries"`
		Process   map[string]any `json:"process"`
	}
	if err := json.Unmarshal([]byte(out), &handoff); err != nil {
		t.Fatalf("dump is not JSON: %v\n%s", err, out)
	}
	if strings.Join(handoff.Libraries, ",") != "libfire_framework.so,libTest.so,libEcal.so" {
		t.Errorf("unexpected libraries %v", handoff.Libraries)
	}
	if handoff.Process["event_limit"] != float64(25) {
		t.Errorf("expected argv to reach the script, got event_limit %v", handoff.Process["event_limit"])
	}
	if _, ok := handoff.Process["libraries"]; ok {
		t.Error("libraries leaked into the parameter dump")
	}
}

func TestDump_YAML(t *testing.T) {
	path := writeScript(t, recoScript)

	out, _, err := execute(t, "dump", "--no-archive", "-o", "yaml", path)
	if err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	if !strings.Contains(out, "pass_name: reco") || !strings.Contains(out, "- libEcal.so") {
		t.Errorf("unexpected YAML dump:\n%s", out)
	}
}

func TestDump_Rejected(t *testing.T) {
	path := writeScript(t, "p = fire.Process('reco')\np.event_limit = 1\n")

	out, errOut, err := execute(t, "dump", "--no-archive", path)
	if !errors.Is(err, pipeline.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if out != "" {
		t.Errorf("expected no handoff, got %s", out)
	}
	if !strings.Contains(errOut, "sequence-required") {
		t.Errorf("expected finding on stderr, got %s", errOut)
	}

	out, _, err = execute(t, "dump", "--no-archive", "--force", path)
	if err != nil {
		t.Fatalf("forced dump failed: %v", err)
	}
	if !strings.Contains(out, `"pass_name": "reco"`) {
		t.Errorf("expected forced handoff, got %s", out)
	}
}

func TestPrint_Listening(t *testing.T) {
	path := writeScript(t, recoScript)

	out, _, err := execute(t, "print", "--no-archive", path)
	if err != nil {
		t.Fatalf("print failed: %v", err)
	}
	if !strings.Contains(out, "Process with pass name 'reco'") {
		t.Errorf("expected process summary, got %s", out)
	}
	if !strings.Contains(out, "Storage listens to: [ecal]") {
		t.Errorf("expected listening report, got %s", out)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		args    []string
		wantErr bool
		wantOut string
	}{
		{name: "clean", src: recoScript, wantOut: ": ok (pass reco)"},
		{name: "warning", src: recoScript + "p.event_limit = -1\n", wantOut: "production-limit"},
		{name: "strict warning", src: recoScript + "p.event_limit = -1\n", args: []string{"--strict"}, wantErr: true, wantOut: "blocked"},
		{
			name:    "disabled policy",
			src:     recoScript + "p.event_limit = -1\n",
			args:    []string{"--strict", "--disable-policy", "production-limit"},
			wantOut: ": ok",
		},
		{name: "invalid", src: recoScript + "p.term_level = 9\n", wantErr: true, wantOut: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, tt.src)
			args := append([]string{"validate", "--no-archive"}, tt.args...)
			out, _, err := execute(t, append(args, path)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate error = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("expected %q in output:\n%s", tt.wantOut, out)
			}
		})
	}
}

func TestValidate_ScriptError(t *testing.T) {
	path := writeScript(t, "fire.Processor('orphan', 'fire::test::Orphan', 'Test')\n")
	if _, _, err := execute(t, "validate", "--no-archive", path); err == nil {
		t.Error("expected a processor without a process to fail")
	}
}

func TestHistoryAndShow(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "db", "archive.db")
	path := writeScript(t, recoScript)

	for _, limit := range []string{"10", "20"} {
		if _, _, err := execute(t, "dump", "--archive", archive, path, "--", limit); err != nil {
			t.Fatalf("dump failed: %v", err)
		}
	}

	out, _, err := execute(t, "history", "--archive", archive, "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var records []*stores.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("history is not JSON: %v\n%s", err, out)
	}
	if len(records) != 2 || records[0].PassName != "reco" || !records[0].Allowed {
		t.Fatalf("unexpected history %+v", records)
	}

	out, _, err = execute(t, "show", "--archive", archive, "--pass", "reco", "--dump")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, `"event_limit": 20`) {
		t.Errorf("expected the latest dump, got %s", out)
	}

	out, _, err = execute(t, "show", "--archive", archive, records[1].ID)
	if err != nil {
		t.Fatalf("show by id failed: %v", err)
	}
	var shown map[string]any
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("show is not JSON: %v\n%s", err, out)
	}
	dump, ok := shown["dump"].(map[string]any)
	if !ok || dump["event_limit"] != float64(10) {
		t.Errorf("expected decoded dump of the first record, got %v", shown["dump"])
	}

	if _, _, err := execute(t, "show", "--archive", archive, "missing"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := execute(t, "show", "--archive", archive); err == nil {
		t.Error("expected error without id or pass")
	}
	if _, _, err := execute(t, "history", "--no-archive"); err == nil {
		t.Error("expected error with the archive disabled")
	}
}

func TestPolicies(t *testing.T) {
	dir := t.TempDir()
	rego := `# severity: warning
package fire.policies.site

import rego.v1

deny contains violation if {
	input.process.run < 0
	violation := {"message": "run number is required at this site"}
}
`
	if err := os.WriteFile(filepath.Join(dir, "site-run.rego"), []byte(rego), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "policies", "--policy", dir, "--disable-policy", "seed-mode")
	if err != nil {
		t.Fatalf("policies failed: %v", err)
	}
	for _, want := range []string{"sequence-required", "site-run", "warning"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output:\n%s", want, out)
		}
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "seed-mode") && !strings.Contains(line, "false") {
			t.Errorf("expected seed-mode to be disabled: %s", line)
		}
	}
}

func TestSettingsFile(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "archive.db")
	cfgPath := filepath.Join(t.TempDir(), "fire-cfg.yaml")
	content := "format: yaml\narchive:\n  enabled: true\n  path: " + archive + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeScript(t, recoScript)

	out, _, err := execute(t, "dump", "--config", cfgPath, path)
	if err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	if !strings.Contains(out, "pass_name: reco") {
		t.Errorf("expected YAML from the settings file, got %s", out)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Errorf("expected archive from the settings file: %v", err)
	}

	if _, _, err := execute(t, "dump", "--config", cfgPath, "-o", "toml", path); err == nil {
		t.Error("expected an invalid format flag to fail")
	}
}

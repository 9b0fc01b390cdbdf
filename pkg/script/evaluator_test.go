package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fire-framework/firecfg/pkg/cfg"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return NewEvaluator(Options{
		Timeout: 5 * time.Second,
		Stdout:  &out,
		Logger:  zerolog.Nop(),
	}), &out
}

func evaluate(t *testing.T, ev *Evaluator, src string, argv ...string) (*Result, error) {
	t.Helper()
	return ev.Evaluate(context.Background(), "config.py", []byte(src), argv)
}

const fireScript = `
p = fire.cfg.Process('test')
fire.cfg.Process.addModule('ShouldWork')
p.output_file = fire.cfg.OutputFile('test.h5')
p.keep('.*')
p.drop('.*')

if p.conditions.providers[-1] != p.rnss:
    fail('rnss should be the first provider')
if p.rnss.seedMode != 'run':
    fail('unexpected seed mode ' + p.rnss.seedMode)
p.rnss.time()
if p.rnss.seedMode != 'time':
    fail('time() did not switch mode')
p.rnss.external(420)
if p.rnss.seedMode != 'external' or p.rnss.seed != 420:
    fail('external() did not set seed')

cp = fire.cfg.ConditionsProvider('Provides', 'test::Provider', 'CPModule')
if p.conditions.providers[-1] != cp:
    fail('provider was not registered')
if p.libraries[-1] != 'libCPModule.so':
    fail('provider module not loaded')

p.setConditionsGlobalTag('NewDefault')
for c in p.conditions.providers:
    if c.tag_name != 'NewDefault':
        fail('provider kept tag ' + c.tag_name)

proc = fire.cfg.Processor('test', 'TestPythonConf', 'TestModule', threshold = 1.5)
if p.libraries[-1] != 'libTestModule.so':
    fail('processor module not loaded')
p.sequence = [proc]

p.storage.default(False)
p.storage.listen(proc)
p.inputDir(argv[1])

summary = str(p)
dump = p.parameterDump()
if 'libraries' in dump:
    fail('libraries leaked into the dump')
`

func TestEvaluator_FireVocabulary(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.h5", "two.h5", "three.h5", "noop.root", "listing.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ev, _ := newTestEvaluator(t)
	result, err := evaluate(t, ev, fireScript, dir)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	p := result.Process
	if p.PassName != "test" {
		t.Errorf("expected pass name test, got %s", p.PassName)
	}

	wantLibs := []string{"libfire_framework.so", "libShouldWork.so", "libCPModule.so", "libTestModule.so"}
	if strings.Join(p.Libraries, ",") != strings.Join(wantLibs, ",") {
		t.Errorf("expected libraries %v, got %v", wantLibs, p.Libraries)
	}

	if p.OutputFile == nil || p.OutputFile.Name != "test.h5" {
		t.Errorf("unexpected output file %v", p.OutputFile)
	}
	if len(p.DropKeepRules) != 2 || !p.DropKeepRules[0].Keep || p.DropKeepRules[1].Keep {
		t.Errorf("unexpected drop/keep rules %v", p.DropKeepRules)
	}

	if p.RNSS.SeedMode != cfg.SeedModeExternal || p.RNSS.Seed != 420 {
		t.Errorf("unexpected rnss %s/%d", p.RNSS.SeedMode, p.RNSS.Seed)
	}

	if len(p.Sequence) != 1 || p.Sequence[0].Name != "test" {
		t.Fatalf("unexpected sequence %v", p.Sequence)
	}
	if v, ok := p.Sequence[0].Params.Get("threshold"); !ok || v != 1.5 {
		t.Errorf("expected threshold parameter, got %v", v)
	}

	if p.Storage.DefaultKeep {
		t.Error("expected default drop")
	}
	rule := p.Storage.ListeningRules[len(p.Storage.ListeningRules)-1]
	if !regexp.MustCompile(rule.Processor).MatchString("test") {
		t.Errorf("rule %s should match the processor", rule.Processor)
	}

	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	got := append([]string(nil), p.InputFiles...)
	sort.Strings(got)
	want := []string{
		filepath.Join(real, "one.h5"),
		filepath.Join(real, "three.h5"),
		filepath.Join(real, "two.h5"),
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected input files %v, got %v", want, got)
	}
}

const legacyScript = `
ldmxcfg.Process.lastProcess = None
p = ldmxcfg.Process('test')
ldmxcfg.Process.addModule('ShouldWork')
p.outputFiles = ['test.h5']
p.keep = ['keep .*', 'drop .*']
p.maxEvents = 10

if p.conditions.providers[-1] != p.rnss():
    fail('rnss should be the first provider')
p.rnss().time()
p.rnss().external(420)

cp = ldmxcfg.ConditionsObjectProvider('Provides', 'test::Provider', 'CPModule')
if p.conditions.providers[-1] != cp:
    fail('provider was not registered')

p.setConditionsGlobalTag('NewDefault')

proc = ldmxcfg.Producer('test', 'TestPythonConf', 'TestModule')
proc2 = ldmxcfg.Analyzer('test2', 'Testing', library = '/full/path/to/lib.so')
if p.libraries[-1] != '/full/path/to/lib.so':
    fail('library not registered')

p.sequence = [proc]
p.sequence.append(proc2)

if not p.storage.default_keep:
    fail('expected default keep')
p.skimDefaultIsDrop()
p.skimConsider('test2')
if p.storage.listening_rules[0].processor != 'test2':
    fail('skimConsider did not add a rule')
`

func TestEvaluator_LegacyVocabulary(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	result, err := evaluate(t, ev, legacyScript)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	p := result.Process
	if p.OutputFile == nil || p.OutputFile.Name != "test.h5" {
		t.Errorf("unexpected output file %v", p.OutputFile)
	}
	if p.EventLimit != 10 {
		t.Errorf("expected event limit 10, got %d", p.EventLimit)
	}
	if len(p.DropKeepRules) != 2 {
		t.Errorf("expected two rules, got %v", p.DropKeepRules)
	}
	if p.RNSS.SeedMode != cfg.SeedModeExternal || p.RNSS.Seed != 420 {
		t.Errorf("unexpected rnss %s/%d", p.RNSS.SeedMode, p.RNSS.Seed)
	}
	for _, cp := range p.Conditions.Providers {
		if cp.Base().TagName != "NewDefault" {
			t.Errorf("provider %s kept tag %s", cp.Base().ObjName, cp.Base().TagName)
		}
	}
	if len(p.Sequence) != 2 {
		t.Fatalf("expected appended sequence, got %v", p.Sequence)
	}
	if p.Sequence[0].Kind != cfg.KindProducer || p.Sequence[1].Kind != cfg.KindAnalyzer {
		t.Errorf("unexpected kinds %s, %s", p.Sequence[0].Kind, p.Sequence[1].Kind)
	}
	if p.Storage.DefaultKeep {
		t.Error("expected default drop")
	}
}

func TestEvaluator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		check  func(error) bool
	}{
		{
			name:   "module before process",
			script: "fire.Process.addModule('ShouldntWork')",
			check:  func(err error) bool { return errors.Is(err, cfg.ErrNoProcess) },
		},
		{
			name:   "processor before process",
			script: "fire.Processor('a', 'A', 'Mod')",
			check:  func(err error) bool { return errors.Is(err, cfg.ErrNoProcess) },
		},
		{
			name:   "second process",
			script: "p = fire.Process('one')\np2 = fire.Process('CantCreateTwo')",
			check:  func(err error) bool { return errors.Is(err, cfg.ErrProcessExists) },
		},
		{
			name:   "no process built",
			script: "x = 1",
			check:  func(err error) bool { return errors.Is(err, cfg.ErrNoProcess) },
		},
		{
			name:   "listen to a string",
			script: "p = fire.Process('t')\np.storage.listen('not_a_processor_instance')",
			check:  cfg.IsContract,
		},
		{
			name:   "sequence with a string",
			script: "p = fire.Process('t')\np.sequence = ['nope']",
			check:  cfg.IsContract,
		},
		{
			name:   "live sequence with a string",
			script: "p = fire.Process('t')\np.sequence.append('nope')",
			check:  cfg.IsContract,
		},
		{
			name:   "library that is not a string",
			script: "p = fire.Process('t')\np.libraries.append(3)",
			check:  cfg.IsContract,
		},
		{
			name:   "drop keep rule that is a string",
			script: "p = fire.Process('t')\np.drop_keep_rules.append('drop .*')",
			check:  cfg.IsContract,
		},
		{
			name:   "listening rule with an unknown field",
			script: "p = fire.Process('t')\np.storage.listening_rules.append(struct(name = 'x'))",
			check:  cfg.IsContract,
		},
		{
			name:   "dict parameter edited in place",
			script: "p = fire.Process('t')\nproc = fire.Producer('a', 'ns::A', 'Mod', opts = {'x': 1})\nproc.opts['y'] = 2",
			check:  func(err error) bool { return strings.Contains(err.Error(), "frozen") },
		},
		{
			name:   "nested list parameter edited in place",
			script: "p = fire.Process('t')\nproc = fire.Producer('a', 'ns::A', 'Mod', grid = [[1]])\nproc.grid[0].append(2)",
			check:  func(err error) bool { return strings.Contains(err.Error(), "frozen") },
		},
		{
			name:   "provider list edited in place",
			script: "p = fire.Process('t')\np.conditions.providers.append(p.rnss)",
			check:  func(err error) bool { return strings.Contains(err.Error(), "frozen") },
		},
		{
			name:   "rnss overrides edited in place",
			script: "p = fire.Process('t')\np.rnss.overrides['sim'] = 1",
			check:  func(err error) bool { return strings.Contains(err.Error(), "frozen") },
		},
		{
			name:   "two legacy output files",
			script: "p = ldmxcfg.Process('t')\np.outputFiles = ['a.h5', 'b.h5']",
			check:  cfg.IsContract,
		},
		{
			name:   "unknown array library",
			script: "p = fire.Process('t')\nfire.array_library('xr')",
			check:  func(err error) bool { return cfg.GetErrorClass(err) == cfg.ErrorClassSelection },
		},
		{
			name:   "syntax error",
			script: "p = fire.Process('t'",
			check:  func(err error) bool { return err != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, _ := newTestEvaluator(t)
			_, err := evaluate(t, ev, tt.script)
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEvaluator_ListEdits(t *testing.T) {
	tests := []struct {
		name   string
		script string
		check  func(*testing.T, *cfg.Process)
	}{
		{
			name:   "append to libraries",
			script: "p.libraries.append('libExtra.so')",
			check: func(t *testing.T, p *cfg.Process) {
				if got := p.Libraries[len(p.Libraries)-1]; got != "libExtra.so" {
					t.Errorf("expected libExtra.so last, got %v", p.Libraries)
				}
			},
		},
		{
			name:   "extend and remove libraries",
			script: "p.libraries.extend(['libA.so', 'libB.so'])\np.libraries.remove('libA.so')\nif 'libB.so' not in p.libraries:\n    fail('missing libB.so')",
			check: func(t *testing.T, p *cfg.Process) {
				if got := strings.Join(p.Libraries, ","); got != "libfire_framework.so,libMod.so,libB.so" {
					t.Errorf("unexpected libraries %s", got)
				}
			},
		},
		{
			name:   "augmented assignment to libraries",
			script: "p.libraries += ['libPlus.so']",
			check: func(t *testing.T, p *cfg.Process) {
				if got := p.Libraries[len(p.Libraries)-1]; got != "libPlus.so" {
					t.Errorf("expected libPlus.so last, got %v", p.Libraries)
				}
			},
		},
		{
			name:   "append to drop keep rules",
			script: "p.drop_keep_rules.append(fire.cfg.DropKeepRule('.*', False))\nrules = p.drop_keep_rules\nrules.insert(0, fire.cfg.DropKeepRule('Sim.*'))",
			check: func(t *testing.T, p *cfg.Process) {
				if len(p.DropKeepRules) != 2 {
					t.Fatalf("expected two rules, got %v", p.DropKeepRules)
				}
				if r := p.DropKeepRules[0]; r.Regex != "Sim.*" || !r.Keep {
					t.Errorf("unexpected first rule %v", r)
				}
				if r := p.DropKeepRules[1]; r.Regex != ".*" || r.Keep {
					t.Errorf("unexpected second rule %v", r)
				}
			},
		},
		{
			name:   "append to a processor list parameter",
			script: "proc.cuts.append(3)\nproc.cuts[0] = 10",
			check: func(t *testing.T, p *cfg.Process) {
				cuts, _ := p.Sequence[0].Params.Get("cuts")
				if got := fmt.Sprint(cuts); got != "[10 2 3]" {
					t.Errorf("expected cuts [10 2 3], got %s", got)
				}
			},
		},
		{
			name:   "pop from a provider list parameter",
			script: "cp = fire.ConditionsProvider('Geo', 'ns::Geo', 'Mod', files = ['a', 'b'])\nif cp.files.pop() != 'b':\n    fail('wrong element popped')",
			check: func(t *testing.T, p *cfg.Process) {
				cp := p.Conditions.Providers[len(p.Conditions.Providers)-1].Base()
				files, _ := cp.Params.Get("files")
				if got := fmt.Sprint(files); got != "[a]" {
					t.Errorf("expected files [a], got %s", got)
				}
			},
		},
		{
			name:   "append a struct to listening rules",
			script: "p.storage.listening_rules.append(struct(processor = 'x', purpose = 'y'))\np.storage.listening_rules.append({'processor': 'z'})",
			check: func(t *testing.T, p *cfg.Process) {
				rules := p.Storage.ListeningRules
				if len(rules) != 2 {
					t.Fatalf("expected two rules, got %v", rules)
				}
				if rules[0] != (cfg.ListeningRule{Processor: "x", Purpose: "y"}) || rules[1] != (cfg.ListeningRule{Processor: "z"}) {
					t.Errorf("unexpected rules %v", rules)
				}
			},
		},
		{
			name:   "labelled skim rule",
			script: "p.skimConsiderLabelled('a', 'veto')\nif p.storage.listening_rules[-1].purpose != 'veto':\n    fail('label not stored')",
			check: func(t *testing.T, p *cfg.Process) {
				if rules := p.Storage.ListeningRules; len(rules) != 1 || rules[0] != (cfg.ListeningRule{Processor: "a", Purpose: "veto"}) {
					t.Errorf("unexpected rules %v", rules)
				}
			},
		},
		{
			name:   "struct as a processor parameter",
			script: "proc.window = struct(low = 1, high = 2.5)",
			check: func(t *testing.T, p *cfg.Process) {
				seq := p.ParameterDump()["sequence"].([]any)
				window, ok := seq[0].(map[string]any)["window"].(map[string]any)
				if !ok || window["low"] != 1 || window["high"] != 2.5 {
					t.Errorf("expected window in the dump, got %v", seq[0])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, _ := newTestEvaluator(t)
			prelude := "p = fire.cfg.Process('edits')\nproc = fire.cfg.Producer('a', 'ns::A', 'Mod', cuts = [1, 2])\np.sequence = [proc]\n"
			result, err := evaluate(t, ev, prelude+tt.script)
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}
			tt.check(t, result.Process)
		})
	}
}

func TestEvaluator_SessionsAreIndependent(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	for i := 0; i < 2; i++ {
		if _, err := evaluate(t, ev, "p = fire.Process('again')"); err != nil {
			t.Fatalf("evaluation %d failed: %v", i, err)
		}
	}
}

func TestEvaluator_PrintAndPause(t *testing.T) {
	var out bytes.Buffer
	ev := NewEvaluator(Options{
		Stdin:  strings.NewReader("\n"),
		Stdout: &out,
		Logger: zerolog.Nop(),
	})

	script := "p = fire.Process('printed')\nprint(p.pass_name)\np.pause()"
	if _, err := evaluate(t, ev, script); err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	text := out.String()
	if !strings.HasPrefix(text, "printed\n") {
		t.Errorf("expected print output first, got %q", text)
	}
	if !strings.Contains(text, "Process with pass name 'printed'") || !strings.Contains(text, "Press Enter to continue...") {
		t.Errorf("expected pause prompt, got %q", text)
	}
}

func TestEvaluator_PauseTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ev := NewEvaluator(Options{
		Timeout: 100 * time.Millisecond,
		Stdin:   pr,
		Stdout:  io.Discard,
		Logger:  zerolog.Nop(),
	})

	for i := 0; i < 2; i++ {
		start := time.Now()
		if _, err := evaluate(t, ev, "p = fire.Process('t')\np.pause()"); err == nil {
			t.Fatalf("evaluation %d: expected the pause to time out", i)
		}
		if time.Since(start) > 2*time.Second {
			t.Fatalf("evaluation %d: pause outlived the timeout", i)
		}
	}

	// The input is still served after the abandoned pauses.
	go func() { _, _ = pw.Write([]byte("\n")) }()
	if _, err := evaluate(t, ev, "p = fire.Process('t')\np.pause()"); err != nil {
		t.Errorf("expected the written line to end the pause, got %v", err)
	}
}

func TestEvaluator_Timeout(t *testing.T) {
	ev := NewEvaluator(Options{Timeout: 100 * time.Millisecond, Logger: zerolog.Nop()})

	start := time.Now()
	_, err := evaluate(t, ev, "p = fire.Process('t')\nwhile True:\n    pass")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestEvaluator_MaxSteps(t *testing.T) {
	ev := NewEvaluator(Options{MaxSteps: 1000, Logger: zerolog.Nop()})
	_, err := evaluate(t, ev, "p = fire.Process('t')\nfor i in range(100000):\n    p.run = i")
	if err == nil {
		t.Fatal("expected step limit error")
	}
}

func TestEvaluator_Load(t *testing.T) {
	dir := t.TempDir()
	common := `
load("fire", "Producer")

def generator(name):
    return Producer(name, 'fire::test::Generator', 'TestModule', count = 3)
`
	main := `
load("fire", "Process")
load("common.star", "generator")

p = Process('loaded')
p.sequence = [generator('gen')]
p.inputFiles = ['a.h5']
p.input_files.append('b.h5')
`
	if err := os.WriteFile(filepath.Join(dir, "common.star"), []byte(common), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "main.star")
	if err := os.WriteFile(path, []byte(main), 0o644); err != nil {
		t.Fatal(err)
	}

	ev, _ := newTestEvaluator(t)
	result, err := ev.EvaluateFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("EvaluateFile() failed: %v", err)
	}
	if len(result.Loaded) != 1 || filepath.Base(result.Loaded[0]) != "common.star" {
		t.Errorf("unexpected loaded files %v", result.Loaded)
	}
	p := result.Process
	if len(p.Sequence) != 1 || p.Sequence[0].ClassName != "fire::test::Generator" {
		t.Errorf("unexpected sequence %v", p.Sequence)
	}
	if strings.Join(p.InputFiles, ",") != "a.h5,b.h5" {
		t.Errorf("unexpected input files %v", p.InputFiles)
	}
}

func TestEvaluator_LoadCycle(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.star": `load("b.star", "b")` + "\na = 1\n",
		"b.star": `load("a.star", "a")` + "\nb = 1\n",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ev, _ := newTestEvaluator(t)
	_, err := ev.EvaluateFile(context.Background(), filepath.Join(dir, "a.star"), nil)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected load cycle error, got %v", err)
	}
}

func TestEvaluator_Argv(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	result, err := evaluate(t, ev, "p = fire.Process(argv[1])\np.run = int(argv[2])", "pass", "7")
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.Process.PassName != "pass" || result.Process.Run != 7 {
		t.Errorf("unexpected process %s/%d", result.Process.PassName, result.Process.Run)
	}
}

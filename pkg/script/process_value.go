package script

import (
	"fmt"
	"io"

	"go.starlark.net/starlark"

	"github.com/fire-framework/firecfg/pkg/cfg"
)

// processValue is the script handle of the session Process.
//
// input_files and sequence are handed out as live lists so scripts can
// append to them in place. The lists are written back to the Process by
// sync before anything reads the Process. libraries and drop_keep_rules are
// bound lists that write through on every edit.
type processValue struct {
	env *scriptEnv
	p   *cfg.Process

	inputFiles *starlark.List
	sequence   *starlark.List
}

var processMethods = methodTable{
	"keep":                   starlark.NewBuiltin("keep", processKeep),
	"drop":                   starlark.NewBuiltin("drop", processDrop),
	"setConditionsGlobalTag": starlark.NewBuiltin("setConditionsGlobalTag", processSetGlobalTag),
	"inputDir":               starlark.NewBuiltin("inputDir", processInputDir),
	"parameterDump":          starlark.NewBuiltin("parameterDump", processParameterDump),
	"pause":                  starlark.NewBuiltin("pause", processPause),
	"skimDefaultIsDrop":      starlark.NewBuiltin("skimDefaultIsDrop", processSkimDefaultIsDrop),
	"skimDefaultIsKeep":      starlark.NewBuiltin("skimDefaultIsKeep", processSkimDefaultIsKeep),
	"skimConsider":           starlark.NewBuiltin("skimConsider", processSkimConsider),
	"skimConsiderLabelled":   starlark.NewBuiltin("skimConsiderLabelled", processSkimConsiderLabelled),
}

var processFields = []string{
	"pass_name", "event_limit", "max_tries", "run", "input_files", "output_file",
	"sequence", "drop_keep_rules", "libraries", "storage", "log_frequency",
	"term_level", "file_level", "log_file", "conditions", "rnss", "testing",
}

var _ starlark.HasSetField = (*processValue)(nil)

func (v *processValue) String() string {
	if err := v.sync(); err != nil {
		return fmt.Sprintf("Process(%s)", v.p.PassName)
	}
	return v.p.String()
}

func (v *processValue) Type() string         { return "Process" }
func (v *processValue) Freeze()              {}
func (v *processValue) Truth() starlark.Bool { return starlark.True }
func (v *processValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func (v *processValue) Attr(name string) (starlark.Value, error) {
	if m, ok := processMethods.bind(name, v); ok {
		return m, nil
	}
	if m, ok := v.env.classMethods.bind(name, v); ok {
		return m, nil
	}

	p := v.p
	switch name {
	case "pass_name":
		return starlark.String(p.PassName), nil
	case "event_limit", "maxEvents":
		return starlark.MakeInt(p.EventLimit), nil
	case "max_tries", "maxTriesPerEvent":
		return starlark.MakeInt(p.MaxTries), nil
	case "run":
		return starlark.MakeInt(p.Run), nil
	case "input_files", "inputFiles":
		if v.inputFiles == nil {
			list, err := toStarlarkValue(p.InputFiles)
			if err != nil {
				return nil, err
			}
			v.inputFiles = list.(*starlark.List)
		}
		return v.inputFiles, nil
	case "output_file":
		if p.OutputFile == nil {
			return starlark.None, nil
		}
		return &outputFileValue{file: p.OutputFile}, nil
	case "sequence":
		if v.sequence == nil {
			items := make([]starlark.Value, len(p.Sequence))
			for i, proc := range p.Sequence {
				items[i] = &processorValue{proc: proc}
			}
			v.sequence = starlark.NewList(items)
		}
		return v.sequence, nil
	case "drop_keep_rules":
		return v.boundList("drop_keep_rules", func() ([]starlark.Value, error) {
			rules := make([]starlark.Value, len(p.DropKeepRules))
			for i, r := range p.DropKeepRules {
				rules[i] = &dropKeepValue{rule: r}
			}
			return rules, nil
		}), nil
	case "libraries":
		return v.boundList("libraries", func() ([]starlark.Value, error) {
			libs := make([]starlark.Value, len(p.Libraries))
			for i, lib := range p.Libraries {
				libs[i] = starlark.String(lib)
			}
			return libs, nil
		}), nil
	case "storage":
		return &storageValue{sc: p.Storage}, nil
	case "log_frequency", "logFrequency":
		return starlark.MakeInt(p.LogFrequency), nil
	case "term_level", "termLogLevel":
		return starlark.MakeInt(p.TermLevel), nil
	case "file_level", "fileLogLevel":
		return starlark.MakeInt(p.FileLevel), nil
	case "log_file", "logFileName":
		return starlark.String(p.LogFile), nil
	case "conditions":
		return &conditionsValue{c: p.Conditions}, nil
	case "rnss":
		if p.RNSS == nil {
			return starlark.None, nil
		}
		return &rnssValue{rnss: p.RNSS}, nil
	case "testing":
		return starlark.Bool(p.Testing), nil
	}
	return nil, nil
}

func (v *processValue) AttrNames() []string {
	return sortedNames(processFields, processMethods.names(), v.env.classMethods.names())
}

func (v *processValue) SetField(name string, val starlark.Value) error {
	switch name {
	case "storage", "conditions", "rnss":
		return fmt.Errorf("Process.%s cannot be replaced", name)
	}

	goVal, err := fromStarlarkValue(val)
	if err != nil {
		return fmt.Errorf("Process.%s: %w", name, err)
	}
	if err := v.p.SetAttr(name, goVal); err != nil {
		return err
	}

	// An assigned list becomes the live list for later in-place edits.
	list, _ := val.(*starlark.List)
	switch name {
	case "input_files", "inputFiles":
		v.inputFiles = list
	case "sequence":
		v.sequence = list
	}
	return nil
}

// boundList hands out a Process list attribute. Edits are stored through
// SetAttr so they get the same checks as an assignment.
func (v *processValue) boundList(name string, load func() ([]starlark.Value, error)) *boundList {
	return newBoundList("Process."+name, load, func(value any) error {
		return v.p.SetAttr(name, value)
	})
}

// sync writes the live lists back to the Process.
func (v *processValue) sync() error {
	if v.inputFiles != nil {
		files, err := fromStarlarkValue(v.inputFiles)
		if err != nil {
			return fmt.Errorf("input_files: %w", err)
		}
		if err := v.p.SetAttr("input_files", files); err != nil {
			return err
		}
	}
	if v.sequence != nil {
		seq, err := fromStarlarkValue(v.sequence)
		if err != nil {
			return fmt.Errorf("sequence: %w", err)
		}
		if err := v.p.SetAttr("sequence", seq); err != nil {
			return err
		}
	}
	return nil
}

// refreshInputFiles reloads the live input list from the Process, keeping
// its identity.
func (v *processValue) refreshInputFiles() error {
	if v.inputFiles == nil {
		return nil
	}
	if err := v.inputFiles.Clear(); err != nil {
		return err
	}
	for _, f := range v.p.InputFiles {
		if err := v.inputFiles.Append(starlark.String(f)); err != nil {
			return err
		}
	}
	return nil
}

func receiverProcess(b *starlark.Builtin) *processValue {
	return b.Receiver().(*processValue)
}

func processKeep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var regex string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "keep_rule", &regex); err != nil {
		return nil, err
	}
	receiverProcess(b).p.Keep(regex)
	return starlark.None, nil
}

func processDrop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var regex string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "drop_rule", &regex); err != nil {
		return nil, err
	}
	receiverProcess(b).p.Drop(regex)
	return starlark.None, nil
}

func processSetGlobalTag(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tag string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "tag", &tag); err != nil {
		return nil, err
	}
	receiverProcess(b).p.SetConditionsGlobalTag(tag)
	return starlark.None, nil
}

func processInputDir(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var indir string
	ext := cfg.DefaultInputExtension
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "indir", &indir, "ext?", &ext); err != nil {
		return nil, err
	}
	v := receiverProcess(b)
	if err := v.sync(); err != nil {
		return nil, err
	}
	if err := v.p.InputDir(indir, ext); err != nil {
		return nil, err
	}
	if err := v.refreshInputFiles(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func processParameterDump(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	v := receiverProcess(b)
	if err := v.sync(); err != nil {
		return nil, err
	}
	return toStarlarkValue(v.p.ParameterDump())
}

func processPause(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	v := receiverProcess(b)
	if err := v.sync(); err != nil {
		return nil, err
	}
	var out io.Writer = v.env.logger
	if v.env.stdout != nil {
		out = v.env.stdout
	}
	if err := v.p.Pause(threadContext(thread), v.env.stdin, out); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func processSkimDefaultIsDrop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	receiverProcess(b).p.SkimDefaultIsDrop()
	return starlark.None, nil
}

func processSkimDefaultIsKeep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	receiverProcess(b).p.SkimDefaultIsKeep()
	return starlark.None, nil
}

func processSkimConsider(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "namePat", &pattern); err != nil {
		return nil, err
	}
	receiverProcess(b).p.SkimConsider(pattern)
	return starlark.None, nil
}

func processSkimConsiderLabelled(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var namePattern, labelPattern string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "namePat", &namePattern, "labelPat", &labelPattern); err != nil {
		return nil, err
	}
	receiverProcess(b).p.SkimConsiderLabelled(namePattern, labelPattern)
	return starlark.None, nil
}

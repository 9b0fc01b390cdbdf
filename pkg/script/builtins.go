package script

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/fire-framework/firecfg/pkg/cfg"
)

// scriptEnv is the per-evaluation state shared by every builtin.
type scriptEnv struct {
	session *cfg.Session
	process *processValue
	stdin   *cfg.LineReader
	stdout  io.Writer
	logger  zerolog.Logger

	classMethods methodTable
	modules      map[string]*starlarkstruct.Module
}

func newScriptEnv(session *cfg.Session, stdin *cfg.LineReader, stdout io.Writer, logger zerolog.Logger) *scriptEnv {
	e := &scriptEnv{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		logger:  logger,
	}
	e.classMethods = methodTable{
		"addLibrary":                starlark.NewBuiltin("addLibrary", e.addLibrary),
		"addModule":                 starlark.NewBuiltin("addModule", e.addModule),
		"declareConditionsProvider": starlark.NewBuiltin("declareConditionsProvider", e.declareConditionsProvider),
	}
	e.modules = e.buildModules()
	return e
}

// buildModules assembles the "fire" module, its "fire.cfg" alias, and the
// older "ldmxcfg" vocabulary.
func (e *scriptEnv) buildModules() map[string]*starlarkstruct.Module {
	class := &processClass{env: e}

	cfgMembers := starlark.StringDict{
		"Process":            class,
		"Processor":          e.processorBuiltin(cfg.KindProcessor),
		"Producer":           e.processorBuiltin(cfg.KindProducer),
		"Analyzer":           e.processorBuiltin(cfg.KindAnalyzer),
		"ConditionsProvider": e.providerBuiltin("ConditionsProvider", "obj_name", "class_name", "module"),
		"OutputFile":         starlark.NewBuiltin("OutputFile", newOutputFile),
		"DropKeepRule":       starlark.NewBuiltin("DropKeepRule", newDropKeepRule),
		"array_library":      starlark.NewBuiltin("array_library", arrayLibrary),
	}
	cfgModule := &starlarkstruct.Module{Name: "fire.cfg", Members: cfgMembers}

	fireMembers := starlark.StringDict{"cfg": cfgModule}
	for k, v := range cfgMembers {
		fireMembers[k] = v
	}

	legacy := &starlarkstruct.Module{
		Name: "ldmxcfg",
		Members: starlark.StringDict{
			"Process":                  class,
			"Processor":                e.processorBuiltin(cfg.KindProcessor),
			"Producer":                 e.processorBuiltin(cfg.KindProducer),
			"Analyzer":                 e.processorBuiltin(cfg.KindAnalyzer),
			"ConditionsObjectProvider": e.providerBuiltin("ConditionsObjectProvider", "objectName", "className", "moduleName"),
		},
	}

	return map[string]*starlarkstruct.Module{
		"fire":     {Name: "fire", Members: fireMembers},
		"fire.cfg": cfgModule,
		"ldmxcfg":  legacy,
	}
}

// processClass is the callable Process constructor. It also carries the
// library and provider registration functions.
type processClass struct {
	env *scriptEnv
}

var (
	_ starlark.Callable    = (*processClass)(nil)
	_ starlark.HasSetField = (*processClass)(nil)
)

func (c *processClass) Name() string         { return "Process" }
func (c *processClass) String() string       { return "<class Process>" }
func (c *processClass) Type() string         { return "class" }
func (c *processClass) Freeze()              {}
func (c *processClass) Truth() starlark.Bool { return starlark.True }
func (c *processClass) Hash() (uint32, error) {
	return starlark.String(c.Name()).Hash()
}

func (c *processClass) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var passName string
	if err := starlark.UnpackArgs(c.Name(), args, kwargs, "pass_name", &passName); err != nil {
		return nil, err
	}
	p, err := c.env.session.NewProcess(passName)
	if err != nil {
		return nil, err
	}
	c.env.process = &processValue{env: c.env, p: p}
	return c.env.process, nil
}

func (c *processClass) Attr(name string) (starlark.Value, error) {
	if m, ok := c.env.classMethods.bind(name, c); ok {
		return m, nil
	}
	if name == "lastProcess" {
		if c.env.process == nil {
			return starlark.None, nil
		}
		return c.env.process, nil
	}
	return nil, nil
}

func (c *processClass) AttrNames() []string {
	return sortedNames([]string{"lastProcess"}, c.env.classMethods.names())
}

// SetField accepts Process.lastProcess = None, which forgets the live
// process so a new one may be built.
func (c *processClass) SetField(name string, val starlark.Value) error {
	if name != "lastProcess" {
		return starlark.NoSuchAttrError(fmt.Sprintf("Process has no settable attribute %s", name))
	}
	if val != starlark.None {
		return fmt.Errorf("Process.lastProcess can only be reset to None")
	}
	c.env.session.Reset()
	c.env.process = nil
	return nil
}

func (e *scriptEnv) addLibrary(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lib string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "lib", &lib); err != nil {
		return nil, err
	}
	if err := e.session.AddLibrary(lib); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *scriptEnv) addModule(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var module string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "module", &module); err != nil {
		return nil, err
	}
	if err := e.session.AddModule(module); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (e *scriptEnv) declareConditionsProvider(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cp starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "cp", &cp); err != nil {
		return nil, err
	}
	var provider cfg.Provider
	switch v := cp.(type) {
	case *providerValue:
		provider = v.cp
	case *rnssValue:
		provider = v.rnss
	default:
		return nil, cfg.NewContractError(b.Name(), fmt.Sprintf("%s is not a ConditionsProvider", cp.Type()))
	}
	if err := e.session.DeclareConditionsProvider(provider); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// processorBuiltin builds Processor, Producer, or Analyzer. Keyword
// arguments other than module and library become parameters.
func (e *scriptEnv) processorBuiltin(kind cfg.Kind) *starlark.Builtin {
	return starlark.NewBuiltin(string(kind), func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		named, extra, err := splitArgs(b.Name(), args, kwargs, []string{"name", "class_name", "module"}, "library")
		if err != nil {
			return nil, err
		}
		name, className, src, err := constructorArgs(b.Name(), named, "name", "class_name", "module")
		if err != nil {
			return nil, err
		}
		params, err := paramsFromKwargs(extra)
		if err != nil {
			return nil, err
		}
		proc, err := e.session.NewProcessor(kind, name, className, src, params)
		if err != nil {
			return nil, err
		}
		return &processorValue{proc: proc}, nil
	})
}

// providerBuiltin builds a conditions provider and declares it.
func (e *scriptEnv) providerBuiltin(fnName, objParam, classParam, moduleParam string) *starlark.Builtin {
	return starlark.NewBuiltin(fnName, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		named, extra, err := splitArgs(b.Name(), args, kwargs, []string{objParam, classParam, moduleParam}, "library")
		if err != nil {
			return nil, err
		}
		objName, className, src, err := constructorArgs(b.Name(), named, objParam, classParam, moduleParam)
		if err != nil {
			return nil, err
		}
		params, err := paramsFromKwargs(extra)
		if err != nil {
			return nil, err
		}
		cp, err := e.session.NewConditionsProvider(objName, className, src, params)
		if err != nil {
			return nil, err
		}
		return &providerValue{cp: cp}, nil
	})
}

// splitArgs binds positional arguments and the named keywords, returning the
// remaining keywords untouched.
func splitArgs(fnName string, args starlark.Tuple, kwargs []starlark.Tuple, positional []string, keywordOnly ...string) (map[string]starlark.Value, []starlark.Tuple, error) {
	if len(args) > len(positional) {
		return nil, nil, fmt.Errorf("%s: got %d positional arguments, want at most %d", fnName, len(args), len(positional))
	}
	named := make(map[string]starlark.Value, len(positional)+len(keywordOnly))
	for i, arg := range args {
		named[positional[i]] = arg
	}

	known := make(map[string]bool, len(positional)+len(keywordOnly))
	for _, n := range positional {
		known[n] = true
	}
	for _, n := range keywordOnly {
		known[n] = true
	}

	var extra []starlark.Tuple
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		if !known[name] {
			extra = append(extra, kv)
			continue
		}
		if _, dup := named[name]; dup {
			return nil, nil, fmt.Errorf("%s: got multiple values for argument %s", fnName, name)
		}
		named[name] = kv[1]
	}
	return named, extra, nil
}

// constructorArgs extracts the two required names and the optional source.
func constructorArgs(fnName string, named map[string]starlark.Value, first, second, module string) (string, string, cfg.Source, error) {
	var src cfg.Source
	a, err := requiredString(fnName, named, first)
	if err != nil {
		return "", "", src, err
	}
	b, err := requiredString(fnName, named, second)
	if err != nil {
		return "", "", src, err
	}
	if src.Module, err = optionalString(fnName, named, module); err != nil {
		return "", "", src, err
	}
	if src.Library, err = optionalString(fnName, named, "library"); err != nil {
		return "", "", src, err
	}
	return a, b, src, nil
}

func requiredString(fnName string, named map[string]starlark.Value, key string) (string, error) {
	v, ok := named[key]
	if !ok {
		return "", fmt.Errorf("%s: missing argument for %s", fnName, key)
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s: for parameter %s: got %s, want string", fnName, key, v.Type())
	}
	return s, nil
}

func optionalString(fnName string, named map[string]starlark.Value, key string) (string, error) {
	v, ok := named[key]
	if !ok || v == starlark.None {
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s: for parameter %s: got %s, want string or None", fnName, key, v.Type())
	}
	return s, nil
}

func newOutputFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	f := cfg.NewOutputFile("")
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"rows_per_chunk?", &f.RowsPerChunk,
		"compression_level?", &f.CompressionLevel,
		"shuffle?", &f.Shuffle,
	); err != nil {
		return nil, err
	}
	f.Name = name
	return &outputFileValue{file: f}, nil
}

func newDropKeepRule(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		regex string
		keep  = true
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "regex", &regex, "keep?", &keep); err != nil {
		return nil, err
	}
	return &dropKeepValue{rule: cfg.DropKeepRule{Keep: keep, Regex: regex}}, nil
}

func arrayLibrary(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	lib, err := cfg.ParseArrayLibrary(name)
	if err != nil {
		return nil, err
	}
	return starlark.String(lib), nil
}

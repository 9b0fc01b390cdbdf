package script

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/fire-framework/firecfg/pkg/cfg"
)

// methodTable maps attribute names to unbound builtins.
type methodTable map[string]*starlark.Builtin

func (m methodTable) bind(name string, recv starlark.Value) (starlark.Value, bool) {
	b, ok := m[name]
	if !ok {
		return nil, false
	}
	return b.BindReceiver(recv), true
}

func (m methodTable) names() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedNames(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	sort.Strings(out)
	return out
}

func compareIdentity(op syntax.Token, same bool, x, y starlark.Value) (bool, error) {
	switch op {
	case syntax.EQL:
		return same, nil
	case syntax.NEQ:
		return !same, nil
	}
	return false, fmt.Errorf("%s %s %s not implemented", x.Type(), op, y.Type())
}

// paramAttr returns an extra parameter as a Starlark value. List parameters
// are bound lists, so in-place edits are stored back. Other containers are
// converted copies and come back frozen, so editing them fails.
func paramAttr(params *cfg.Params, name string) (starlark.Value, error) {
	v, ok := params.Get(name)
	if !ok {
		return nil, nil
	}
	switch v.(type) {
	case []any, []string, []int, []float64:
		list := paramList(params, name)
		if _, err := list.load(); err != nil {
			return nil, err
		}
		return list, nil
	}
	val, err := toStarlarkValue(v)
	if err != nil {
		return nil, err
	}
	val.Freeze()
	return val, nil
}

func paramList(params *cfg.Params, name string) *boundList {
	load := func() ([]starlark.Value, error) {
		v, _ := params.Get(name)
		val, err := toStarlarkValue(v)
		if err != nil {
			return nil, err
		}
		list, ok := val.(*starlark.List)
		if !ok {
			return nil, fmt.Errorf("parameter %s is not a list", name)
		}
		list.Freeze()
		return indexableItems(list), nil
	}
	return newBoundList("parameter "+name, load, func(value any) error {
		params.Set(name, value)
		return nil
	})
}

// setParam stores a Starlark value as an extra parameter.
func setParam(params *cfg.Params, name string, val starlark.Value) error {
	goVal, err := fromStarlarkValue(val)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", name, err)
	}
	params.Set(name, goVal)
	return nil
}

func setString(name string, val starlark.Value, dst *string) error {
	s, ok := starlark.AsString(val)
	if !ok {
		return fmt.Errorf("%s must be a string, got %s", name, val.Type())
	}
	*dst = s
	return nil
}

func setInt(name string, val starlark.Value, dst *int) error {
	var i int
	if err := starlark.AsInt(val, &i); err != nil {
		return fmt.Errorf("%s must be an int: %w", name, err)
	}
	*dst = i
	return nil
}

// processorValue is the script handle of a *cfg.Processor. Extra parameters
// are read and written as plain attributes.
type processorValue struct {
	proc *cfg.Processor
}

var (
	_ starlark.HasSetField = (*processorValue)(nil)
	_ starlark.Comparable  = (*processorValue)(nil)
	_ cfg.ProcessorRef     = (*processorValue)(nil)
)

func (v *processorValue) ProcessorConfig() *cfg.Processor { return v.proc }
func (v *processorValue) String() string                  { return v.proc.Repr() }
func (v *processorValue) Type() string                    { return string(v.kind()) }
func (v *processorValue) Freeze()                         {}
func (v *processorValue) Truth() starlark.Bool            { return starlark.True }
func (v *processorValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func (v *processorValue) kind() cfg.Kind {
	if v.proc.Kind == "" {
		return cfg.KindProcessor
	}
	return v.proc.Kind
}

func (v *processorValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(v.proc.Name), nil
	case "class_name":
		return starlark.String(v.proc.ClassName), nil
	}
	return paramAttr(&v.proc.Params, name)
}

func (v *processorValue) AttrNames() []string {
	return sortedNames([]string{"name", "class_name"}, v.proc.Params.Keys())
}

func (v *processorValue) SetField(name string, val starlark.Value) error {
	switch name {
	case "name":
		return setString(name, val, &v.proc.Name)
	case "class_name":
		return setString(name, val, &v.proc.ClassName)
	}
	return setParam(&v.proc.Params, name, val)
}

func (v *processorValue) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	return compareIdentity(op, v.proc == y.(*processorValue).proc, v, y)
}

// providerValue is the script handle of a *cfg.ConditionsProvider.
type providerValue struct {
	cp *cfg.ConditionsProvider
}

var providerMethods = methodTable{
	"setTag": starlark.NewBuiltin("setTag", providerSetTag),
}

var (
	_ starlark.HasSetField = (*providerValue)(nil)
	_ starlark.Comparable  = (*providerValue)(nil)
)

func (v *providerValue) String() string       { return v.cp.Repr() }
func (v *providerValue) Type() string         { return "ConditionsProvider" }
func (v *providerValue) Freeze()              {}
func (v *providerValue) Truth() starlark.Bool { return starlark.True }
func (v *providerValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func (v *providerValue) Attr(name string) (starlark.Value, error) {
	if m, ok := providerMethods.bind(name, v); ok {
		return m, nil
	}
	switch name {
	case "obj_name":
		return starlark.String(v.cp.ObjName), nil
	case "class_name":
		return starlark.String(v.cp.ClassName), nil
	case "tag_name":
		return starlark.String(v.cp.TagName), nil
	}
	return paramAttr(&v.cp.Params, name)
}

func (v *providerValue) AttrNames() []string {
	return sortedNames([]string{"obj_name", "class_name", "tag_name"}, providerMethods.names(), v.cp.Params.Keys())
}

func (v *providerValue) SetField(name string, val starlark.Value) error {
	switch name {
	case "obj_name":
		return setString(name, val, &v.cp.ObjName)
	case "class_name":
		return setString(name, val, &v.cp.ClassName)
	case "tag_name":
		return setString(name, val, &v.cp.TagName)
	}
	return setParam(&v.cp.Params, name, val)
}

// CompareSameType uses provider identity: object name and class name.
func (v *providerValue) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	return compareIdentity(op, v.cp.Equal(y.(*providerValue).cp), v, y)
}

func providerSetTag(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tag string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "newtag", &tag); err != nil {
		return nil, err
	}
	switch recv := b.Receiver().(type) {
	case *providerValue:
		recv.cp.SetTag(tag)
	case *rnssValue:
		recv.rnss.SetTag(tag)
	}
	return starlark.None, nil
}

// rnssValue is the script handle of the random number seed service. Calling
// it returns itself, so both p.rnss.time() and the older p.rnss().time()
// work.
type rnssValue struct {
	rnss *cfg.RandomNumberSeedService
}

var rnssMethods = methodTable{
	"run":      starlark.NewBuiltin("run", rnssRun),
	"external": starlark.NewBuiltin("external", rnssExternal),
	"time":     starlark.NewBuiltin("time", rnssTime),
	"override": starlark.NewBuiltin("override", rnssOverride),
	"setTag":   starlark.NewBuiltin("setTag", providerSetTag),
}

var (
	_ starlark.HasSetField = (*rnssValue)(nil)
	_ starlark.Comparable  = (*rnssValue)(nil)
	_ starlark.Callable    = (*rnssValue)(nil)
)

func (v *rnssValue) String() string       { return v.rnss.Repr() }
func (v *rnssValue) Type() string         { return "RandomNumberSeedService" }
func (v *rnssValue) Name() string         { return "rnss" }
func (v *rnssValue) Freeze()              {}
func (v *rnssValue) Truth() starlark.Bool { return starlark.True }
func (v *rnssValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func (v *rnssValue) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 || len(kwargs) > 0 {
		return nil, fmt.Errorf("rnss: got %d arguments, want 0", len(args)+len(kwargs))
	}
	return v, nil
}

func (v *rnssValue) Attr(name string) (starlark.Value, error) {
	if m, ok := rnssMethods.bind(name, v); ok {
		return m, nil
	}
	switch name {
	case "seedMode":
		return starlark.String(v.rnss.SeedMode), nil
	case "seed":
		return starlark.MakeInt(v.rnss.Seed), nil
	case "overrides":
		overrides, err := toStarlarkValue(v.rnss.Overrides)
		if err != nil {
			return nil, err
		}
		overrides.Freeze()
		return overrides, nil
	case "obj_name":
		return starlark.String(v.rnss.ObjName), nil
	case "class_name":
		return starlark.String(v.rnss.ClassName), nil
	case "tag_name":
		return starlark.String(v.rnss.TagName), nil
	}
	return paramAttr(&v.rnss.Params, name)
}

func (v *rnssValue) AttrNames() []string {
	return sortedNames(
		[]string{"seedMode", "seed", "overrides", "obj_name", "class_name", "tag_name"},
		rnssMethods.names(),
		v.rnss.Params.Keys(),
	)
}

func (v *rnssValue) SetField(name string, val starlark.Value) error {
	switch name {
	case "seedMode":
		return setString(name, val, &v.rnss.SeedMode)
	case "seed":
		return setInt(name, val, &v.rnss.Seed)
	case "tag_name":
		return setString(name, val, &v.rnss.TagName)
	case "obj_name", "class_name", "overrides":
		return fmt.Errorf("%s.%s is read-only", v.Type(), name)
	}
	return setParam(&v.rnss.Params, name, val)
}

func (v *rnssValue) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	return compareIdentity(op, v.rnss.Equal(y.(*rnssValue).rnss.Base()), v, y)
}

func rnssRun(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	b.Receiver().(*rnssValue).rnss.Run()
	return starlark.None, nil
}

func rnssExternal(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seed int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seed", &seed); err != nil {
		return nil, err
	}
	b.Receiver().(*rnssValue).rnss.External(seed)
	return starlark.None, nil
}

func rnssTime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	b.Receiver().(*rnssValue).rnss.Time()
	return starlark.None, nil
}

func rnssOverride(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name string
		seed int
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "seed", &seed); err != nil {
		return nil, err
	}
	b.Receiver().(*rnssValue).rnss.Override(name, seed)
	return starlark.None, nil
}

// outputFileValue is the script handle of a *cfg.OutputFile.
type outputFileValue struct {
	file *cfg.OutputFile
}

var _ starlark.HasSetField = (*outputFileValue)(nil)

func (v *outputFileValue) String() string       { return v.file.String() }
func (v *outputFileValue) Type() string         { return "OutputFile" }
func (v *outputFileValue) Freeze()              {}
func (v *outputFileValue) Truth() starlark.Bool { return starlark.True }
func (v *outputFileValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func (v *outputFileValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(v.file.Name), nil
	case "rows_per_chunk":
		return starlark.MakeInt(v.file.RowsPerChunk), nil
	case "compression_level":
		return starlark.MakeInt(v.file.CompressionLevel), nil
	case "shuffle":
		return starlark.Bool(v.file.Shuffle), nil
	}
	return nil, nil
}

func (v *outputFileValue) AttrNames() []string {
	return []string{"compression_level", "name", "rows_per_chunk", "shuffle"}
}

func (v *outputFileValue) SetField(name string, val starlark.Value) error {
	switch name {
	case "name":
		return setString(name, val, &v.file.Name)
	case "rows_per_chunk":
		return setInt(name, val, &v.file.RowsPerChunk)
	case "compression_level":
		return setInt(name, val, &v.file.CompressionLevel)
	case "shuffle":
		b, ok := val.(starlark.Bool)
		if !ok {
			return fmt.Errorf("shuffle must be a bool, got %s", val.Type())
		}
		v.file.Shuffle = bool(b)
		return nil
	}
	return starlark.NoSuchAttrError(fmt.Sprintf("OutputFile has no attribute %s", name))
}

// dropKeepValue is an immutable drop/keep rule.
type dropKeepValue struct {
	rule cfg.DropKeepRule
}

func (v *dropKeepValue) String() string       { return v.rule.String() }
func (v *dropKeepValue) Type() string         { return "DropKeepRule" }
func (v *dropKeepValue) Freeze()              {}
func (v *dropKeepValue) Truth() starlark.Bool { return starlark.True }
func (v *dropKeepValue) Hash() (uint32, error) {
	return starlark.String(v.rule.String()).Hash()
}

func (v *dropKeepValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "keep":
		return starlark.Bool(v.rule.Keep), nil
	case "regex":
		return starlark.String(v.rule.Regex), nil
	}
	return nil, nil
}

func (v *dropKeepValue) AttrNames() []string { return []string{"keep", "regex"} }

// storageValue is the script handle of the process StorageControl.
type storageValue struct {
	sc *cfg.StorageControl
}

var storageMethods = methodTable{
	"default":    starlark.NewBuiltin("default", storageDefault),
	"listen":     starlark.NewBuiltin("listen", storageListen),
	"listen_all": starlark.NewBuiltin("listen_all", storageListenAll),
}

var _ starlark.HasSetField = (*storageValue)(nil)

func (v *storageValue) String() string       { return v.sc.String() }
func (v *storageValue) Type() string         { return "StorageControl" }
func (v *storageValue) Freeze()              {}
func (v *storageValue) Truth() starlark.Bool { return starlark.True }
func (v *storageValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func (v *storageValue) Attr(name string) (starlark.Value, error) {
	if m, ok := storageMethods.bind(name, v); ok {
		return m, nil
	}
	switch name {
	case "default_keep":
		return starlark.Bool(v.sc.DefaultKeep), nil
	case "listening_rules":
		return newBoundList("StorageControl.listening_rules", v.listeningRules, v.sc.SetRules), nil
	}
	return nil, nil
}

func (v *storageValue) listeningRules() ([]starlark.Value, error) {
	rules := make([]starlark.Value, len(v.sc.ListeningRules))
	for i, r := range v.sc.ListeningRules {
		rule := starlarkstruct.FromStringDict(starlark.String("ListeningRule"), starlark.StringDict{
			"processor": starlark.String(r.Processor),
			"purpose":   starlark.String(r.Purpose),
		})
		rule.Freeze()
		rules[i] = rule
	}
	return rules, nil
}

func (v *storageValue) AttrNames() []string {
	return sortedNames([]string{"default_keep", "listening_rules"}, storageMethods.names())
}

func (v *storageValue) SetField(name string, val starlark.Value) error {
	switch name {
	case "default_keep":
		b, ok := val.(starlark.Bool)
		if !ok {
			return fmt.Errorf("default_keep must be a bool, got %s", val.Type())
		}
		v.sc.Default(bool(b))
		return nil
	case "listening_rules":
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return fmt.Errorf("listening_rules: %w", err)
		}
		return v.sc.SetRules(goVal)
	}
	return starlark.NoSuchAttrError(fmt.Sprintf("StorageControl has no settable attribute %s", name))
}

func storageDefault(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	keep := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "keep?", &keep); err != nil {
		return nil, err
	}
	b.Receiver().(*storageValue).sc.Default(keep)
	return starlark.None, nil
}

func storageListen(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "processor", &target); err != nil {
		return nil, err
	}
	if err := b.Receiver().(*storageValue).sc.Listen(target); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func storageListenAll(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	b.Receiver().(*storageValue).sc.ListenAll()
	return starlark.None, nil
}

// conditionsValue is the script handle of the process Conditions.
type conditionsValue struct {
	c *cfg.Conditions
}

var _ starlark.HasSetField = (*conditionsValue)(nil)

func (v *conditionsValue) String() string       { return v.c.String() }
func (v *conditionsValue) Type() string         { return "Conditions" }
func (v *conditionsValue) Freeze()              {}
func (v *conditionsValue) Truth() starlark.Bool { return starlark.True }
func (v *conditionsValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func (v *conditionsValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "global_tag":
		return starlark.String(v.c.GlobalTag), nil
	case "providers":
		providers := make([]starlark.Value, len(v.c.Providers))
		for i, cp := range v.c.Providers {
			providers[i] = providerHandle(cp)
		}
		// Providers are registered by declaring them, not by list edits.
		list := starlark.NewList(providers)
		list.Freeze()
		return list, nil
	}
	return nil, nil
}

func (v *conditionsValue) AttrNames() []string { return []string{"global_tag", "providers"} }

func (v *conditionsValue) SetField(name string, val starlark.Value) error {
	if name == "global_tag" {
		return setString(name, val, &v.c.GlobalTag)
	}
	return starlark.NoSuchAttrError(fmt.Sprintf("Conditions has no settable attribute %s", name))
}

// providerHandle wraps a registered provider in its script handle.
func providerHandle(cp cfg.Provider) starlark.Value {
	switch p := cp.(type) {
	case *cfg.RandomNumberSeedService:
		return &rnssValue{rnss: p}
	case *cfg.ConditionsProvider:
		return &providerValue{cp: p}
	}
	return &providerValue{cp: cp.Base()}
}

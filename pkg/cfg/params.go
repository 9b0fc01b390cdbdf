package cfg

import (
	"fmt"
	"sort"
	"strings"
)

// Describer is implemented by every configuration entity. Describe returns
// the entity's own fields plus the recursively described children; it is the
// only thing ParameterDump walks.
type Describer interface {
	Describe() map[string]any
}

// Params is an insertion-ordered set of extra named parameters attached to a
// processor or conditions provider. Values are scalars (bool, integers,
// floats, strings), lists of values, nested *Params, or Describers.
// The zero value is ready to use.
type Params struct {
	keys   []string
	values map[string]any
}

// NewParams builds Params from alternating key/value arguments.
// It panics on an odd argument count or a non-string key, like a malformed
// composite literal would fail to compile.
func NewParams(kv ...any) *Params {
	if len(kv)%2 != 0 {
		panic("cfg.NewParams: odd number of arguments")
	}
	p := &Params{}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("cfg.NewParams: key %v is not a string", kv[i]))
		}
		p.Set(key, kv[i+1])
	}
	return p
}

// Set stores value under key. Re-setting a key keeps its original position.
func (p *Params) Set(key string, value any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value stored under key.
func (p *Params) Get(key string) (any, bool) {
	if p == nil || p.values == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Delete removes key, if present.
func (p *Params) Delete(key string) {
	if p == nil || p.values == nil {
		return
	}
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the parameter names in insertion order.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Describe implements Describer.
func (p *Params) Describe() map[string]any {
	out := make(map[string]any, p.Len())
	if p == nil {
		return out
	}
	for _, k := range p.keys {
		out[k] = describeValue(p.values[k])
	}
	return out
}

// String renders the parameters as "{k: v, ...}" in insertion order.
func (p *Params) String() string {
	parts := make([]string, 0, p.Len())
	for _, k := range p.Keys() {
		parts = append(parts, fmt.Sprintf("%s: %s", k, formatValue(p.values[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// describeValue converts a parameter value into plain maps, slices, and
// scalars. Unknown types pass through unchanged.
func describeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Describer:
		if isNilDescriber(val) {
			return nil
		}
		return val.Describe()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = describeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []int:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []int64:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = describeValue(item)
		}
		return out
	case map[string]int:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	default:
		return v
	}
}

// isNilDescriber catches typed nil pointers stored in an interface.
func isNilDescriber(d Describer) bool {
	switch t := d.(type) {
	case *Params:
		return t == nil
	case *OutputFile:
		return t == nil
	case *Processor:
		return t == nil
	case *ConditionsProvider:
		return t == nil
	case *RandomNumberSeedService:
		return t == nil
	}
	return false
}

// formatValue renders a value for the human-readable summary.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return "'" + val + "'"
	case bool:
		if val {
			return "True"
		}
		return "False"
	case fmt.Stringer:
		return val.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("'%s': %s", k, formatValue(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

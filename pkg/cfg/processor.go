package cfg

import (
	"fmt"
	"strings"
)

// Kind labels a processor for display. All kinds behave identically.
type Kind string

const (
	KindProcessor Kind = "Processor"
	KindProducer  Kind = "Producer"
	KindAnalyzer  Kind = "Analyzer"
)

// Source names where a native class lives. Module is translated into a
// library file name (see NormalizeModule); Library is used verbatim.
// Either, both, or neither may be set.
type Source struct {
	Module  string
	Library string
}

// Processor configures one unit of per-event computation.
type Processor struct {
	// Kind is the display label.
	Kind Kind

	// Name identifies this instance within the sequence.
	Name string `validate:"required"`

	// ClassName is the fully qualified native class.
	ClassName string `validate:"required"`

	// Params are the extra parameters handed to the native class.
	Params Params
}

// ProcessorConfig implements ProcessorRef.
func (p *Processor) ProcessorConfig() *Processor {
	return p
}

// Describe implements Describer. Extra parameters are flattened next to
// name and class_name, which always win over a same-named extra.
func (p *Processor) Describe() map[string]any {
	out := p.Params.Describe()
	out["name"] = p.Name
	out["class_name"] = p.ClassName
	return out
}

// Repr is the one-line representation.
func (p *Processor) Repr() string {
	kind := p.Kind
	if kind == "" {
		kind = KindProcessor
	}
	return fmt.Sprintf("%s(%s of class %s)", kind, p.Name, p.ClassName)
}

// String includes the extra parameters below the one-line representation.
func (p *Processor) String() string {
	return p.Repr() + formatParamsBlock(&p.Params)
}

func formatParamsBlock(params *Params) string {
	if params.Len() == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n  Parameters:")
	for _, k := range params.Keys() {
		v, _ := params.Get(k)
		fmt.Fprintf(&b, "\n   %s : %s", k, formatValue(v))
	}
	return b.String()
}

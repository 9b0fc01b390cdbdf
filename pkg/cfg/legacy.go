package cfg

import (
	"fmt"
	"strings"
)

// Action is what an Assignment does to the process.
type Action int

const (
	// ActionSet assigns Value to the canonical attribute Key.
	ActionSet Action = iota
	// ActionKeep appends a keep rule with Value as regex.
	ActionKeep
	// ActionDrop appends a drop rule with Value as regex.
	ActionDrop
)

// Assignment is one canonical change produced from an attribute write.
type Assignment struct {
	Action Action
	Key    string
	Value  any
}

// legacyNames maps pre-migration attribute names onto the current ones.
var legacyNames = map[string]string{
	"maxEvents":        "event_limit",
	"maxTriesPerEvent": "max_tries",
	"inputFiles":       "input_files",
	"logFrequency":     "log_frequency",
	"termLogLevel":     "term_level",
	"fileLogLevel":     "file_level",
	"logFileName":      "log_file",
}

// LegacyNames returns the legacy attribute names TranslateLegacy rewrites.
func LegacyNames() []string {
	names := make([]string, 0, len(legacyNames)+2)
	for k := range legacyNames {
		names = append(names, k)
	}
	return append(names, "outputFiles", "keep")
}

// TranslateLegacy rewrites one attribute write into canonical assignments.
// Names that are not legacy pass through unchanged.
func TranslateLegacy(key string, value any) ([]Assignment, error) {
	if canonical, ok := legacyNames[key]; ok {
		return []Assignment{{Action: ActionSet, Key: canonical, Value: value}}, nil
	}

	switch key {
	case "outputFiles":
		items, ok := toList(value)
		if !ok {
			return nil, NewContractError("outputFiles", fmt.Sprintf("outputFiles must be a list, got %T", value))
		}
		if len(items) != 1 {
			return nil, NewContractError("outputFiles", fmt.Sprintf("exactly one output file is supported, got %d", len(items)))
		}
		return []Assignment{{Action: ActionSet, Key: "output_file", Value: items[0]}}, nil

	case "keep":
		items, ok := toList(value)
		if !ok {
			return nil, NewContractError("keep", fmt.Sprintf("keep must be a list of rules, got %T", value))
		}
		out := make([]Assignment, 0, len(items))
		for _, item := range items {
			rule, ok := item.(string)
			if !ok {
				return nil, NewContractError("keep", fmt.Sprintf("rule %v is not a string", item))
			}
			a, err := parseDropKeep(rule)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	}

	return []Assignment{{Action: ActionSet, Key: key, Value: value}}, nil
}

// parseDropKeep splits "keep <regex>" or "drop <regex>".
func parseDropKeep(rule string) (Assignment, error) {
	decision, regex, _ := strings.Cut(strings.TrimSpace(rule), " ")
	regex = strings.TrimSpace(regex)
	switch decision {
	case "keep":
		return Assignment{Action: ActionKeep, Value: regex}, nil
	case "drop":
		return Assignment{Action: ActionDrop, Value: regex}, nil
	}
	return Assignment{}, NewContractError("keep", fmt.Sprintf("unrecognized drop/keep decision %q in rule %q", decision, rule))
}

// SetAttr assigns an attribute by name, accepting legacy names.
func (p *Process) SetAttr(key string, value any) error {
	assignments, err := TranslateLegacy(key, value)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		switch a.Action {
		case ActionKeep:
			p.Keep(a.Value.(string))
		case ActionDrop:
			p.Drop(a.Value.(string))
		default:
			if err := p.set(a.Key, a.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// set assigns a canonical attribute with type coercion.
func (p *Process) set(key string, value any) error {
	switch key {
	case "pass_name":
		return assignString(key, value, &p.PassName)
	case "event_limit":
		return assignInt(key, value, &p.EventLimit)
	case "max_tries":
		return assignInt(key, value, &p.MaxTries)
	case "run":
		return assignInt(key, value, &p.Run)
	case "log_frequency":
		return assignInt(key, value, &p.LogFrequency)
	case "term_level":
		return assignInt(key, value, &p.TermLevel)
	case "file_level":
		return assignInt(key, value, &p.FileLevel)
	case "log_file":
		return assignString(key, value, &p.LogFile)
	case "testing":
		b, ok := value.(bool)
		if !ok {
			return NewContractError(key, fmt.Sprintf("%s must be a bool, got %T", key, value))
		}
		p.Testing = b
		return nil
	case "input_files":
		files, err := toStrings(key, value)
		if err != nil {
			return err
		}
		p.InputFiles = files
		return nil
	case "libraries":
		libs, err := toStrings(key, value)
		if err != nil {
			return err
		}
		p.Libraries = libs
		return nil
	case "output_file":
		switch v := value.(type) {
		case nil:
			p.OutputFile = nil
		case string:
			p.OutputFile = NewOutputFile(v)
		case *OutputFile:
			p.OutputFile = v
		default:
			return NewContractError(key, fmt.Sprintf("output file must be a name or an OutputFile, got %T", value))
		}
		return nil
	case "sequence":
		items, ok := toList(value)
		if !ok {
			return NewContractError(key, fmt.Sprintf("sequence must be a list, got %T", value))
		}
		seq := make([]*Processor, 0, len(items))
		for _, item := range items {
			var proc *Processor
			switch v := item.(type) {
			case *Processor:
				proc = v
			case ProcessorRef:
				proc = v.ProcessorConfig()
			}
			if proc == nil {
				return NewContractError(key, fmt.Sprintf("%v is not an instance of a Processor", item))
			}
			seq = append(seq, proc)
		}
		p.Sequence = seq
		return nil
	case "drop_keep_rules":
		items, ok := toList(value)
		if !ok {
			return NewContractError(key, fmt.Sprintf("drop_keep_rules must be a list, got %T", value))
		}
		rules := make([]DropKeepRule, 0, len(items))
		for _, item := range items {
			rule, ok := item.(DropKeepRule)
			if !ok {
				return NewContractError(key, fmt.Sprintf("%v is not a DropKeepRule", item))
			}
			rules = append(rules, rule)
		}
		p.DropKeepRules = rules
		return nil
	}
	return NewContractError("setattr", fmt.Sprintf("Process has no settable attribute %q", key))
}

func assignString(key string, value any, dst *string) error {
	s, ok := value.(string)
	if !ok {
		return NewContractError(key, fmt.Sprintf("%s must be a string, got %T", key, value))
	}
	*dst = s
	return nil
}

func assignInt(key string, value any, dst *int) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case int64:
		*dst = int(v)
	case int32:
		*dst = int(v)
	default:
		return NewContractError(key, fmt.Sprintf("%s must be an integer, got %T", key, value))
	}
	return nil
}

func toList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []*Processor:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toStrings(key string, value any) ([]string, error) {
	items, ok := toList(value)
	if !ok {
		return nil, NewContractError(key, fmt.Sprintf("%s must be a list of strings, got %T", key, value))
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, NewContractError(key, fmt.Sprintf("%s entry %v is not a string", key, item))
		}
		out[i] = s
	}
	return out, nil
}

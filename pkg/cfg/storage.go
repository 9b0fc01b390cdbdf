package cfg

import (
	"fmt"
	"regexp"
	"strings"
)

// OutputFile configures the file event data is written to.
type OutputFile struct {
	// Name is the path of the file to write.
	Name string `validate:"required"`

	// RowsPerChunk is the number of rows grouped into one storage chunk.
	RowsPerChunk int `validate:"gt=0"`

	// CompressionLevel is the deflate level applied to each chunk.
	CompressionLevel int `validate:"gte=0,lte=9"`

	// Shuffle enables the shuffle filter ahead of compression.
	Shuffle bool
}

// NewOutputFile returns an OutputFile with the default storage tuning.
func NewOutputFile(name string) *OutputFile {
	return &OutputFile{
		Name:             name,
		RowsPerChunk:     10000,
		CompressionLevel: 6,
		Shuffle:          false,
	}
}

// Describe implements Describer.
func (o *OutputFile) Describe() map[string]any {
	return map[string]any{
		"name":              o.Name,
		"rows_per_chunk":    o.RowsPerChunk,
		"compression_level": o.CompressionLevel,
		"shuffle":           o.Shuffle,
	}
}

func (o *OutputFile) String() string {
	return fmt.Sprintf("OutputFile(%s)", o.Name)
}

// ListeningRule selects which processors' storage hints are honoured.
// Empty patterns match everything.
type ListeningRule struct {
	Processor string `validate:"regex"`
	Purpose   string `validate:"regex"`
}

// Describe implements Describer.
func (r ListeningRule) Describe() map[string]any {
	return map[string]any{
		"processor": r.Processor,
		"purpose":   r.Purpose,
	}
}

// Matches reports whether a storage hint from processor with the given
// purpose is covered by this rule. Patterns are anchored only when they say
// so themselves.
func (r ListeningRule) Matches(processor, purpose string) (bool, error) {
	ok, err := matchOrAll(r.Processor, processor)
	if err != nil || !ok {
		return false, err
	}
	return matchOrAll(r.Purpose, purpose)
}

func (r ListeningRule) String() string {
	return fmt.Sprintf("Name %s AND Purpose %s", r.Processor, r.Purpose)
}

func matchOrAll(pattern, s string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString(s), nil
}

// ProcessorRef is implemented by values that stand for a configured
// processor (for example the scripting layer's processor handles).
type ProcessorRef interface {
	ProcessorConfig() *Processor
}

// StorageControl holds the default keep/drop decision and the rules about
// which processors' storage hints to listen to.
type StorageControl struct {
	DefaultKeep    bool
	ListeningRules []ListeningRule `validate:"dive"`
}

// NewStorageControl keeps events by default and listens to nobody.
func NewStorageControl() *StorageControl {
	return &StorageControl{DefaultKeep: true}
}

// Default sets the decision used when no listened-to processor votes.
func (s *StorageControl) Default(keep bool) {
	s.DefaultKeep = keep
}

// Listen adds a rule matching exactly the name of the given processor,
// for any purpose. target must be a *Processor or a ProcessorRef.
func (s *StorageControl) Listen(target any) error {
	var proc *Processor
	switch t := target.(type) {
	case *Processor:
		proc = t
	case ProcessorRef:
		proc = t.ProcessorConfig()
	}
	if proc == nil {
		return NewContractError("listen", fmt.Sprintf("%v is not an instance of a Processor", target))
	}
	s.ListeningRules = append(s.ListeningRules, ListeningRule{
		Processor: "^" + proc.Name + "$",
		Purpose:   ".*",
	})
	return nil
}

// SetRules replaces the listening rules. Each item is a ListeningRule or a
// map with optional "processor" and "purpose" string entries.
func (s *StorageControl) SetRules(value any) error {
	items, ok := toList(value)
	if !ok {
		return NewContractError("listening_rules", fmt.Sprintf("listening_rules must be a list, got %T", value))
	}
	rules := make([]ListeningRule, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case ListeningRule:
			rules = append(rules, v)
		case map[string]any:
			var r ListeningRule
			for k, field := range v {
				var dst *string
				switch k {
				case "processor":
					dst = &r.Processor
				case "purpose":
					dst = &r.Purpose
				default:
					return NewContractError("listening_rules", fmt.Sprintf("unknown listening rule field %q", k))
				}
				if err := assignString(k, field, dst); err != nil {
					return err
				}
			}
			rules = append(rules, r)
		default:
			return NewContractError("listening_rules", fmt.Sprintf("%v is not a listening rule", item))
		}
	}
	s.ListeningRules = rules
	return nil
}

// ListenAll replaces the rules with one that listens to every processor.
func (s *StorageControl) ListenAll() {
	s.ListeningRules = []ListeningRule{{Processor: ".*", Purpose: ".*"}}
}

// Listening returns the names among candidates that at least one rule
// listens to for the given purpose.
func (s *StorageControl) Listening(candidates []string, purpose string) ([]string, error) {
	var out []string
	for _, name := range candidates {
		for _, r := range s.ListeningRules {
			ok, err := r.Matches(name, purpose)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, name)
				break
			}
		}
	}
	return out, nil
}

// Describe implements Describer.
func (s *StorageControl) Describe() map[string]any {
	rules := make([]any, len(s.ListeningRules))
	for i, r := range s.ListeningRules {
		rules[i] = r.Describe()
	}
	return map[string]any{
		"default_keep":    s.DefaultKeep,
		"listening_rules": rules,
	}
}

func (s *StorageControl) String() string {
	dk := "drop"
	if s.DefaultKeep {
		dk = "keep"
	}
	rules := make([]string, len(s.ListeningRules))
	for i, r := range s.ListeningRules {
		rules[i] = r.String()
	}
	return fmt.Sprintf("Storage(default: %s, listening: [%s])", dk, strings.Join(rules, ", "))
}

// DropKeepRule decides whether event objects whose name matches Regex are
// written to the output file.
type DropKeepRule struct {
	Keep  bool
	Regex string `validate:"regex"`
}

// Describe implements Describer.
func (r DropKeepRule) Describe() map[string]any {
	return map[string]any{
		"keep":  r.Keep,
		"regex": r.Regex,
	}
}

func (r DropKeepRule) String() string {
	if r.Keep {
		return "keep(" + r.Regex + ")"
	}
	return "drop(" + r.Regex + ")"
}

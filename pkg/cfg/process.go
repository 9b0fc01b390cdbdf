package cfg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultInputExtension is the suffix InputDir filters on when none is given.
const DefaultInputExtension = "h5"

// Process is the root of a run configuration.
type Process struct {
	// PassName is a short reference name for this run of the process.
	PassName string `validate:"required"`

	// EventLimit is the maximum number of events to process, -1 for no limit.
	EventLimit int `validate:"gte=-1"`

	// MaxTries is how many attempts are made in a row before giving up on an
	// event. Only used in production mode (no input files).
	MaxTries int `validate:"gte=1"`

	// Run is the run number, -1 when unset.
	Run int

	// InputFiles are read in order.
	InputFiles []string

	// OutputFile is where event data is written, nil when unset.
	OutputFile *OutputFile

	// Sequence is the ordered list of processors run on each event.
	Sequence []*Processor `validate:"dive"`

	// DropKeepRules decide which event objects reach the output file.
	DropKeepRules []DropKeepRule `validate:"dive"`

	// Libraries are loaded before any processor is built. Duplicates are
	// allowed and preserved.
	Libraries []string

	// Storage decides which events are kept.
	Storage *StorageControl `validate:"required"`

	// LogFrequency prints the event number whenever its modulus with this
	// frequency is zero; -1 disables.
	LogFrequency int

	// TermLevel is the minimum severity printed to the terminal,
	// 0 (debug) to 4 (fatal).
	TermLevel int `validate:"gte=0,lte=4"`

	// FileLevel is the minimum severity printed to LogFile.
	FileLevel int `validate:"gte=0,lte=4"`

	// LogFile is the log file path; empty means no file logging.
	LogFile string

	// Conditions holds the global tag and the providers.
	Conditions *Conditions `validate:"required"`

	// RNSS is the random number seed service registered at construction.
	RNSS *RandomNumberSeedService

	// Testing lets the native side accept an empty sequence.
	Testing bool
}

func newProcess(passName string) *Process {
	return &Process{
		PassName:     passName,
		EventLimit:   -1,
		MaxTries:     1,
		Run:          -1,
		Storage:      NewStorageControl(),
		LogFrequency: -1,
		TermLevel:    2,
		FileLevel:    0,
		Conditions:   NewConditions(),
	}
}

// Keep adds a rule keeping event objects whose name matches regex.
func (p *Process) Keep(regex string) {
	p.DropKeepRules = append(p.DropKeepRules, DropKeepRule{Keep: true, Regex: regex})
}

// Drop adds a rule dropping event objects whose name matches regex.
func (p *Process) Drop(regex string) {
	p.DropKeepRules = append(p.DropKeepRules, DropKeepRule{Keep: false, Regex: regex})
}

// SetConditionsGlobalTag sets the global tag and retags every registered
// provider. Providers declared later pick the tag up on registration.
func (p *Process) SetConditionsGlobalTag(tag string) {
	p.Conditions.setGlobalTag(tag)
}

// SkimDefaultIsDrop drops events nobody listened to asked to keep.
func (p *Process) SkimDefaultIsDrop() {
	p.Storage.Default(false)
}

// SkimDefaultIsKeep keeps events unless a listened-to processor drops them.
func (p *Process) SkimDefaultIsKeep() {
	p.Storage.Default(true)
}

// SkimConsider listens to the processors whose name matches the pattern,
// for any purpose.
func (p *Process) SkimConsider(processorPattern string) {
	p.Storage.ListeningRules = append(p.Storage.ListeningRules, ListeningRule{Processor: processorPattern})
}

// SkimConsiderLabelled is SkimConsider restricted to storage hints whose
// purpose matches labelPattern.
func (p *Process) SkimConsiderLabelled(processorPattern, labelPattern string) {
	p.Storage.ListeningRules = append(p.Storage.ListeningRules, ListeningRule{
		Processor: processorPattern,
		Purpose:   labelPattern,
	})
}

// InputDir appends to InputFiles every regular file directly inside dir
// whose name ends with ext ("h5" when empty). Paths are absolute with dir
// resolved through symlinks.
func (p *Process) InputDir(dir, ext string) error {
	if ext == "" {
		ext = DefaultInputExtension
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve input directory %s: %w", dir, err)
	}
	full, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("failed to resolve input directory %s: %w", dir, err)
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Errorf("failed to list input directory %s: %w", full, err)
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		path := filepath.Join(full, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		p.InputFiles = append(p.InputFiles, path)
	}
	return nil
}

// Describe implements Describer. It includes the library list.
func (p *Process) Describe() map[string]any {
	var output any
	if p.OutputFile != nil {
		output = p.OutputFile.Describe()
	}
	sequence := make([]any, len(p.Sequence))
	for i, proc := range p.Sequence {
		sequence[i] = proc.Describe()
	}
	rules := make([]any, len(p.DropKeepRules))
	for i, r := range p.DropKeepRules {
		rules[i] = r.Describe()
	}
	out := map[string]any{
		"pass_name":       p.PassName,
		"event_limit":     p.EventLimit,
		"max_tries":       p.MaxTries,
		"run":             p.Run,
		"input_files":     describeValue(p.InputFiles),
		"output_file":     output,
		"sequence":        sequence,
		"drop_keep_rules": rules,
		"libraries":       describeValue(p.Libraries),
		"storage":         p.Storage.Describe(),
		"log_frequency":   p.LogFrequency,
		"term_level":      p.TermLevel,
		"file_level":      p.FileLevel,
		"log_file":        p.LogFile,
		"conditions":      p.Conditions.Describe(),
		"testing":         p.Testing,
	}
	if p.RNSS != nil {
		out["rnss"] = p.RNSS.Describe()
	}
	return out
}

// ParameterDump snapshots every parameter reachable from the process except
// the library list, which is handed over separately. A "libraries" key is
// left out at every depth, matching what the native side reads.
func (p *Process) ParameterDump() map[string]any {
	return stripLibraries(p.Describe()).(map[string]any)
}

func stripLibraries(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if k == "libraries" {
				continue
			}
			out[k] = stripLibraries(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = stripLibraries(item)
		}
		return out
	}
	return v
}

// Handoff is what the native executable consumes: the libraries to load in
// order, then the parameter dump.
type Handoff struct {
	Libraries []string       `json:"libraries" yaml:"libraries"`
	Process   map[string]any `json:"process" yaml:"process"`
}

// Handoff packages the process for the native executable.
func (p *Process) Handoff() *Handoff {
	libs := make([]string, len(p.Libraries))
	copy(libs, p.Libraries)
	return &Handoff{
		Libraries: libs,
		Process:   p.ParameterDump(),
	}
}

// String renders a multi-line human-readable summary.
func (p *Process) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Process with pass name '%s'", p.PassName)
	if p.Run > 0 {
		fmt.Fprintf(&b, "\n using run number %d", p.Run)
	}
	if p.EventLimit > 0 {
		fmt.Fprintf(&b, "\n Maximum events to process: %d", p.EventLimit)
	} else {
		b.WriteString("\n No limit on maximum events to process")
	}
	fmt.Fprintf(&b, "\n%s", p.Conditions)
	b.WriteString("\nProcessor sequence:")
	for _, proc := range p.Sequence {
		b.WriteString("\n " + proc.String())
	}
	if len(p.InputFiles) > 0 {
		b.WriteString("\n Input files:")
		for _, f := range p.InputFiles {
			b.WriteString("\n  " + f)
		}
	}
	if p.OutputFile != nil {
		fmt.Fprintf(&b, "\n %s", p.OutputFile)
	} else {
		b.WriteString("\n None")
	}
	fmt.Fprintf(&b, "\n %s", p.Storage)
	if len(p.DropKeepRules) > 0 {
		rules := make([]string, len(p.DropKeepRules))
		for i, r := range p.DropKeepRules {
			rules[i] = r.String()
		}
		fmt.Fprintf(&b, "\n DK Rules: [%s]", strings.Join(rules, ", "))
	}
	return b.String()
}

// Pause prints the process to out and waits for a line from in. It returns
// ctx.Err() if ctx is done first.
func (p *Process) Pause(ctx context.Context, in *LineReader, out io.Writer) error {
	if _, err := fmt.Fprintf(out, "%s\nPress Enter to continue...", p); err != nil {
		return err
	}
	if err := in.ReadLine(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	return nil
}

// LineReader hands out lines of an input stream to callers that may give up
// waiting. One goroutine reads the stream for all of them, so a cancelled
// wait leaves no reader behind.
type LineReader struct {
	in    io.Reader
	once  sync.Once
	lines chan struct{}
	err   error
}

// NewLineReader creates a LineReader. Nothing is read from in until the
// first ReadLine.
func NewLineReader(in io.Reader) *LineReader {
	return &LineReader{in: in, lines: make(chan struct{})}
}

// ReadLine waits for the next line. End of input counts as a line.
func (r *LineReader) ReadLine(ctx context.Context) error {
	r.once.Do(func() { go r.read() })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-r.lines:
		if !ok && r.err != nil && !errors.Is(r.err, io.EOF) {
			return r.err
		}
		return nil
	}
}

func (r *LineReader) read() {
	br := bufio.NewReader(r.in)
	for {
		if _, err := br.ReadString('\n'); err != nil {
			r.err = err
			close(r.lines)
			return
		}
		r.lines <- struct{}{}
	}
}

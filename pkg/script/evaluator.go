package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/fire-framework/firecfg/pkg/cfg"
)

// DefaultTimeout bounds a single script evaluation.
const DefaultTimeout = 30 * time.Second

// fileOptions enables the Python-like constructs configuration scripts use.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Options configures an Evaluator.
type Options struct {
	// Timeout bounds each evaluation. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxSteps caps Starlark execution steps. Zero means unlimited.
	MaxSteps uint64

	// Stdin is read by p.pause(), one line per call, shared by every
	// evaluation. Defaults to an empty reader.
	Stdin io.Reader

	// Stdout receives script print output and p.pause() prompts. When nil,
	// print output is logged at info level and prompts go to the logger.
	Stdout io.Writer

	Logger zerolog.Logger
}

// Result is the outcome of evaluating a configuration script.
type Result struct {
	// Process is the process the script built.
	Process *cfg.Process

	// Loaded lists the files pulled in through load(), in load order.
	Loaded []string

	ExecutionTime time.Duration
}

// Evaluator runs configuration scripts. Each evaluation gets a fresh
// session so scripts never see each other's process.
type Evaluator struct {
	opts   Options
	stdin  *cfg.LineReader
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(opts Options) *Evaluator {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Stdin == nil {
		opts.Stdin = strings.NewReader("")
	}
	return &Evaluator{
		opts:   opts,
		stdin:  cfg.NewLineReader(opts.Stdin),
		logger: opts.Logger.With().Str("component", "script-evaluator").Logger(),
	}
}

// EvaluateFile reads and evaluates the script at path. argv is exposed to
// the script as the argv list, with the script path first.
func (e *Evaluator) EvaluateFile(ctx context.Context, path string, argv []string) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config script: %w", err)
	}
	return e.Evaluate(ctx, path, src, argv)
}

// Evaluate executes src as a configuration script and returns the process it
// built. filename anchors relative load() paths and error positions.
func (e *Evaluator) Evaluate(ctx context.Context, filename string, src []byte, argv []string) (*Result, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	run := newEvaluation(evalCtx, e, filename, argv)

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := run.execute(src)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		run.cancel(evalCtx.Err().Error())
		e.logger.Warn().Str("script", filename).Dur("timeout", e.opts.Timeout).Msg("Script evaluation cancelled")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("script evaluation cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("script execution timeout after %v", e.opts.Timeout)
	case err := <-errCh:
		e.logger.Debug().Err(err).Str("script", filename).Msg("Script evaluation failed")
		return nil, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(startTime)
		e.logger.Debug().
			Str("script", filename).
			Str("pass_name", result.Process.PassName).
			Dur("duration", result.ExecutionTime).
			Msg("Script evaluated")
		return result, nil
	}
}

// contextLocal is the thread-local key of the evaluation context.
const contextLocal = "fire.context"

// threadContext returns the evaluation context of thread, or
// context.Background() for threads not started by an evaluation.
func threadContext(thread *starlark.Thread) context.Context {
	if thread != nil {
		if ctx, ok := thread.Local(contextLocal).(context.Context); ok {
			return ctx
		}
	}
	return context.Background()
}

// evaluation is the state of one script run, shared with the files it loads.
type evaluation struct {
	ctx      context.Context
	ev       *Evaluator
	filename string
	argv     []string
	env      *scriptEnv

	mu      sync.Mutex
	threads []*starlark.Thread
	cache   map[string]*loadEntry
	loaded  []string
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

func newEvaluation(ctx context.Context, ev *Evaluator, filename string, argv []string) *evaluation {
	logger := ev.opts.Logger
	return &evaluation{
		ctx:      ctx,
		ev:       ev,
		filename: filename,
		argv:     argv,
		env:      newScriptEnv(cfg.NewSession(logger), ev.stdin, ev.opts.Stdout, logger),
		cache:    make(map[string]*loadEntry),
	}
}

func (r *evaluation) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  name,
		Print: r.print,
		Load:  r.load,
	}
	thread.SetLocal(contextLocal, r.ctx)
	if r.ev.opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(r.ev.opts.MaxSteps)
	}
	r.mu.Lock()
	r.threads = append(r.threads, thread)
	r.mu.Unlock()
	return thread
}

func (r *evaluation) cancel(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threads {
		t.Cancel(reason)
	}
}

func (r *evaluation) print(_ *starlark.Thread, msg string) {
	if r.env.stdout != nil {
		fmt.Fprintln(r.env.stdout, msg)
		return
	}
	r.env.logger.Info().Str("source", "script").Msg(msg)
}

func (r *evaluation) predeclared() starlark.StringDict {
	argv := make([]starlark.Value, 0, len(r.argv)+1)
	argv = append(argv, starlark.String(r.filename))
	for _, a := range r.argv {
		argv = append(argv, starlark.String(a))
	}
	return starlark.StringDict{
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"fire":    r.env.modules["fire"],
		"ldmxcfg": r.env.modules["ldmxcfg"],
		"argv":    starlark.NewList(argv),
	}
}

// execute runs the top-level script and collects the process it built.
func (r *evaluation) execute(src []byte) (*Result, error) {
	thread := r.newThread(r.filename)
	r.mu.Lock()
	r.cache[filepath.Clean(r.filename)] = nil
	r.mu.Unlock()
	if _, err := starlark.ExecFileOptions(fileOptions, thread, r.filename, src, r.predeclared()); err != nil {
		return nil, fmt.Errorf("config script %s failed: %w", r.filename, err)
	}

	if r.env.process == nil {
		return nil, fmt.Errorf("config script %s: %w", r.filename, cfg.ErrNoProcess)
	}
	if err := r.env.process.sync(); err != nil {
		return nil, fmt.Errorf("config script %s: %w", r.filename, err)
	}

	r.mu.Lock()
	loaded := append([]string(nil), r.loaded...)
	r.mu.Unlock()

	return &Result{
		Process: r.env.process.p,
		Loaded:  loaded,
	}, nil
}

// load resolves load() statements. Built-in module names return their
// members; anything else is a file relative to the loading script.
func (r *evaluation) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	if m, ok := r.env.modules[module]; ok {
		return m.Members, nil
	}

	path := module
	if !filepath.IsAbs(path) {
		base := filepath.Dir(thread.CallFrame(0).Pos.Filename())
		path = filepath.Join(base, module)
	}

	r.mu.Lock()
	entry, seen := r.cache[path]
	if seen && entry == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("cycle in load graph at %s", module)
	}
	if seen {
		r.mu.Unlock()
		return entry.globals, entry.err
	}
	r.cache[path] = nil
	r.mu.Unlock()

	src, err := os.ReadFile(path)
	if err == nil {
		child := r.newThread(path)
		var globals starlark.StringDict
		globals, err = starlark.ExecFileOptions(fileOptions, child, path, src, r.predeclared())
		entry = &loadEntry{globals: globals, err: err}
	} else {
		entry = &loadEntry{err: err}
	}

	r.mu.Lock()
	r.cache[path] = entry
	if entry.err == nil {
		r.loaded = append(r.loaded, path)
	}
	r.mu.Unlock()

	r.env.logger.Debug().Str("module", path).Err(entry.err).Msg("Loaded config module")
	return entry.globals, entry.err
}

package cfg

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Session owns the one Process a configuration script may build. Processors
// and conditions providers register through the session, which fails with
// ErrNoProcess until NewProcess has been called.
type Session struct {
	mu      sync.Mutex
	process *Process
	logger  zerolog.Logger
}

// NewSession creates an empty session.
func NewSession(logger zerolog.Logger) *Session {
	return &Session{
		logger: logger.With().Str("component", "cfg-session").Logger(),
	}
}

// NewProcess constructs the session's Process and registers its default
// RandomNumberSeedService as conditions provider zero.
func (s *Session) NewProcess(passName string) (*Process, error) {
	s.mu.Lock()
	if s.process != nil {
		s.mu.Unlock()
		return nil, ErrProcessExists.withOp("newProcess")
	}
	p := newProcess(passName)
	s.process = p
	s.mu.Unlock()

	rnss := newRandomNumberSeedService()
	if err := s.AddModule(rnssModule); err != nil {
		return nil, err
	}
	if err := s.DeclareConditionsProvider(rnss); err != nil {
		return nil, err
	}
	p.RNSS = rnss

	s.logger.Debug().Str("pass_name", passName).Msg("Process created")
	return p, nil
}

// Process returns the live process.
func (s *Session) Process() (*Process, error) {
	return s.current("process")
}

// Reset forgets the live process so a new one may be constructed.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = nil
}

func (s *Session) current(op string) (*Process, error) {
	s.mu.Lock()
	p := s.process
	s.mu.Unlock()
	if p == nil {
		return nil, ErrNoProcess.withOp(op)
	}
	return p, nil
}

// AddLibrary appends a library to the list loaded before any processor or
// provider is built.
func (s *Session) AddLibrary(lib string) error {
	p, err := s.current("addLibrary")
	if err != nil {
		return err
	}
	p.Libraries = append(p.Libraries, lib)
	s.logger.Debug().Str("library", lib).Msg("Library registered")
	return nil
}

// AddModule translates a module name into its library file name and adds it.
// "Ecal/Event", "Ecal::Event", and "Ecal_Event" all load libEcal_Event.so.
func (s *Session) AddModule(module string) error {
	if _, err := s.current("addModule"); err != nil {
		return err
	}
	return s.AddLibrary(NormalizeModule(module))
}

// NormalizeModule returns the library file name for a module.
func NormalizeModule(module string) string {
	name := strings.ReplaceAll(module, "/", "_")
	name = strings.ReplaceAll(name, "::", "_")
	return "lib" + name + ".so"
}

func (s *Session) addSource(op string, src Source) error {
	if _, err := s.current(op); err != nil {
		return err
	}
	if src.Module != "" {
		if err := s.AddModule(src.Module); err != nil {
			return err
		}
	}
	if src.Library != "" {
		if err := s.AddLibrary(src.Library); err != nil {
			return err
		}
	}
	return nil
}

// DeclareConditionsProvider registers cp under the current global tag. A
// provider equal to an already declared one replaces it in place.
func (s *Session) DeclareConditionsProvider(cp Provider) error {
	p, err := s.current("declareConditionsProvider")
	if err != nil {
		return err
	}
	p.Conditions.declare(cp)
	s.logger.Debug().
		Str("obj_name", cp.Base().ObjName).
		Str("class_name", cp.Base().ClassName).
		Str("tag", cp.Base().TagName).
		Msg("Conditions provider declared")
	return nil
}

// NewProcessor configures a processor of the given kind and makes sure its
// library is loaded. params may be nil.
func (s *Session) NewProcessor(kind Kind, name, className string, src Source, params *Params) (*Processor, error) {
	if err := s.addSource("newProcessor", src); err != nil {
		return nil, err
	}
	proc := &Processor{
		Kind:      kind,
		Name:      name,
		ClassName: className,
	}
	copyParams(&proc.Params, params)
	return proc, nil
}

// NewProducer is NewProcessor with the producer label.
func (s *Session) NewProducer(name, className string, src Source, params *Params) (*Processor, error) {
	return s.NewProcessor(KindProducer, name, className, src, params)
}

// NewAnalyzer is NewProcessor with the analyzer label.
func (s *Session) NewAnalyzer(name, className string, src Source, params *Params) (*Processor, error) {
	return s.NewProcessor(KindAnalyzer, name, className, src, params)
}

// NewConditionsProvider configures a provider, loads its library, and
// declares it with the process.
func (s *Session) NewConditionsProvider(objName, className string, src Source, params *Params) (*ConditionsProvider, error) {
	if err := s.addSource("newConditionsProvider", src); err != nil {
		return nil, err
	}
	cp := &ConditionsProvider{
		ObjName:   objName,
		ClassName: className,
	}
	copyParams(&cp.Params, params)
	if err := s.DeclareConditionsProvider(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func copyParams(dst, src *Params) {
	if src == nil {
		return
	}
	for _, k := range src.Keys() {
		v, _ := src.Get(k)
		dst.Set(k, v)
	}
}

package cfg

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestSession(t *testing.T) (*Session, *Process) {
	t.Helper()
	s := NewSession(zerolog.Nop())
	p, err := s.NewProcess("test")
	if err != nil {
		t.Fatalf("failed to create process: %v", err)
	}
	return s, p
}

func TestSession_RegistrationBeforeProcess(t *testing.T) {
	s := NewSession(zerolog.Nop())

	tests := []struct {
		name string
		call func() error
	}{
		{"addLibrary", func() error { return s.AddLibrary("libX.so") }},
		{"addModule", func() error { return s.AddModule("ShouldntWork") }},
		{"declare", func() error {
			return s.DeclareConditionsProvider(&ConditionsProvider{ObjName: "a", ClassName: "b"})
		}},
		{"processor", func() error {
			_, err := s.NewProcessor(KindProducer, "p", "C", Source{}, nil)
			return err
		}},
		{"provider", func() error {
			_, err := s.NewConditionsProvider("o", "C", Source{Module: "M"}, nil)
			return err
		}},
		{"process", func() error {
			_, err := s.Process()
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, ErrNoProcess) {
				t.Fatalf("expected ErrNoProcess, got %v", err)
			}
			if !IsOrdering(err) {
				t.Errorf("expected ordering class, got %s", GetErrorClass(err))
			}
		})
	}
}

func TestSession_SingleProcess(t *testing.T) {
	s, first := newTestSession(t)

	_, err := s.NewProcess("CantCreateTwo")
	if !errors.Is(err, ErrProcessExists) {
		t.Fatalf("expected ErrProcessExists, got %v", err)
	}

	got, err := s.Process()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != first {
		t.Error("session should still hold the first process")
	}

	s.Reset()
	if _, err := s.Process(); !errors.Is(err, ErrNoProcess) {
		t.Fatalf("expected ErrNoProcess after reset, got %v", err)
	}
	if _, err := s.NewProcess("again"); err != nil {
		t.Fatalf("expected new process after reset, got %v", err)
	}
}

func TestSession_ProcessDefaults(t *testing.T) {
	_, p := newTestSession(t)

	if p.EventLimit != -1 || p.MaxTries != 1 || p.Run != -1 {
		t.Errorf("unexpected limits: event_limit=%d max_tries=%d run=%d", p.EventLimit, p.MaxTries, p.Run)
	}
	if p.TermLevel != 2 || p.FileLevel != 0 || p.LogFrequency != -1 || p.LogFile != "" {
		t.Errorf("unexpected logging defaults: %+v", p)
	}
	if !p.Storage.DefaultKeep {
		t.Error("storage should keep by default")
	}
	if p.Conditions.GlobalTag != DefaultGlobalTag {
		t.Errorf("expected global tag %s, got %s", DefaultGlobalTag, p.Conditions.GlobalTag)
	}
	if len(p.Conditions.Providers) != 1 || p.Conditions.Providers[0] != Provider(p.RNSS) {
		t.Fatalf("rnss should be provider zero, got %v", p.Conditions.Providers)
	}
	if len(p.Libraries) != 1 || p.Libraries[0] != "libfire_framework.so" {
		t.Errorf("expected rnss library, got %v", p.Libraries)
	}
}

func TestNormalizeModule(t *testing.T) {
	tests := []struct {
		module string
		want   string
	}{
		{"MyModule", "libMyModule.so"},
		{"MyModule/Event", "libMyModule_Event.so"},
		{"MyModule::Event", "libMyModule_Event.so"},
		{"MyModule_Event", "libMyModule_Event.so"},
		{"fire::framework", "libfire_framework.so"},
		{"A/B::C", "libA_B_C.so"},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			if got := NormalizeModule(tt.module); got != tt.want {
				t.Errorf("NormalizeModule(%q) = %q, want %q", tt.module, got, tt.want)
			}
		})
	}
}

func TestSession_AddModule(t *testing.T) {
	s, p := newTestSession(t)

	for _, m := range []string{"Ecal/Event", "Ecal::Event", "Ecal_Event"} {
		if err := s.AddModule(m); err != nil {
			t.Fatalf("AddModule(%s) failed: %v", m, err)
		}
	}

	libs := p.Libraries[1:]
	if len(libs) != 3 {
		t.Fatalf("duplicates must be preserved, got %v", libs)
	}
	for _, lib := range libs {
		if lib != "libEcal_Event.so" {
			t.Errorf("unexpected library %s", lib)
		}
	}
}

func TestSession_NewProcessor(t *testing.T) {
	s, p := newTestSession(t)

	proc, err := s.NewProducer("test", "TestPythonConf", Source{Module: "TestModule"}, NewParams("threshold", 1.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Libraries[len(p.Libraries)-1] != "libTestModule.so" {
		t.Errorf("expected module library registered, got %v", p.Libraries)
	}
	if proc.Kind != KindProducer {
		t.Errorf("expected producer kind, got %s", proc.Kind)
	}
	if v, _ := proc.Params.Get("threshold"); v != 1.5 {
		t.Errorf("expected threshold param, got %v", v)
	}

	if _, err := s.NewAnalyzer("test2", "Testing", Source{Library: "/full/path/to/lib.so"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Libraries[len(p.Libraries)-1] != "/full/path/to/lib.so" {
		t.Errorf("expected verbatim library, got %v", p.Libraries)
	}
}

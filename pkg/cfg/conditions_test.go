package cfg

import (
	"testing"
)

func TestConditions_Deduplication(t *testing.T) {
	s, p := newTestSession(t)

	first, err := s.NewConditionsProvider("Provides", "test::Provider", Source{Module: "CPModule"}, NewParams("version", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Conditions.Providers[len(p.Conditions.Providers)-1] != Provider(first) {
		t.Fatal("provider should auto-register at the end")
	}
	if p.Libraries[len(p.Libraries)-1] != "libCPModule.so" {
		t.Errorf("expected provider library, got %v", p.Libraries)
	}

	other, err := s.NewConditionsProvider("Other", "test::Other", Source{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := s.NewConditionsProvider("Provides", "test::Provider", Source{}, NewParams("version", 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.Conditions.Providers) != 3 {
		t.Fatalf("expected rnss + 2 providers, got %d", len(p.Conditions.Providers))
	}
	if p.Conditions.Providers[1] != Provider(second) {
		t.Error("re-declared provider should replace the original in place")
	}
	if p.Conditions.Providers[2] != Provider(other) {
		t.Error("unrelated provider should keep its position")
	}
	if v, _ := second.Params.Get("version"); v != 2 {
		t.Errorf("expected latest data, got %v", v)
	}
}

func TestConditions_GlobalTag(t *testing.T) {
	s, p := newTestSession(t)

	cp, err := s.NewConditionsProvider("Provides", "test::Provider", Source{Module: "CPModule"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.TagName != DefaultGlobalTag {
		t.Errorf("expected tag %s on registration, got %s", DefaultGlobalTag, cp.TagName)
	}

	p.SetConditionsGlobalTag("NewDefault")
	for _, existing := range p.Conditions.Providers {
		if existing.Base().TagName != "NewDefault" {
			t.Errorf("provider %s has tag %s", existing.Base().ObjName, existing.Base().TagName)
		}
	}

	late, err := s.NewConditionsProvider("Late", "test::Late", Source{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if late.TagName != "NewDefault" {
		t.Errorf("late provider should pick up the global tag, got %s", late.TagName)
	}
}

func TestConditions_Find(t *testing.T) {
	_, p := newTestSession(t)

	got, ok := p.Conditions.Find(rnssObjName, rnssClassName)
	if !ok || got != Provider(p.RNSS) {
		t.Fatalf("expected to find rnss, got %v", got)
	}
	if _, ok := p.Conditions.Find(rnssObjName, "other::Class"); ok {
		t.Error("identity requires both names to match")
	}
}

func TestRandomNumberSeedService_Modes(t *testing.T) {
	_, p := newTestSession(t)
	rnss := p.RNSS

	if rnss.SeedMode != SeedModeRun {
		t.Errorf("expected default mode run, got %s", rnss.SeedMode)
	}

	rnss.Time()
	if rnss.SeedMode != SeedModeTime {
		t.Errorf("expected mode time, got %s", rnss.SeedMode)
	}

	rnss.External(420)
	if rnss.SeedMode != SeedModeExternal || rnss.Seed != 420 {
		t.Errorf("expected external 420, got %s %d", rnss.SeedMode, rnss.Seed)
	}

	rnss.Override("ecal", 7)
	d := rnss.Describe()
	if d["seedMode"] != SeedModeExternal || d["seed"] != 420 {
		t.Errorf("unexpected dump: %v", d)
	}
	overrides, ok := d["overrides"].(map[string]any)
	if !ok || overrides["ecal"] != 7 {
		t.Errorf("unexpected overrides: %v", d["overrides"])
	}
	if d["obj_name"] != rnssObjName || d["tag_name"] != DefaultGlobalTag {
		t.Errorf("provider identity missing from dump: %v", d)
	}
}

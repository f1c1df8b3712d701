package modkit

import (
	"testing"

	"pagerflow/internal/platform/config"
)

type stub struct{ ports any }

func (s *stub) Name() string { return "stub" }
func (s *stub) Ports() any   { return s.ports }

var _ Module = (*stub)(nil)

func TestDeps_ZeroValue_IsOK(t *testing.T) {
	t.Parallel()
	var d Deps
	if !d.ZeroOK() {
		t.Fatal("zero-value Deps should be safe in tests")
	}
	d = Deps{Cfg: config.New()}
	if !d.ZeroOK() || d.PG != nil {
		t.Fatal("Deps without a store should be usable")
	}
}

func TestModule_Surface(t *testing.T) {
	t.Parallel()
	var m Module = &stub{ports: 42}
	if m.Name() != "stub" || m.Ports() != 42 {
		t.Fatalf("unexpected module surface: %s %v", m.Name(), m.Ports())
	}
}

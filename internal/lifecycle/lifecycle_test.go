package lifecycle_test

import (
	"errors"
	"testing"

	"atriumforms/internal/config"
	"atriumforms/internal/domain"
	"atriumforms/internal/lifecycle"
)

func TestStrictGuard(t *testing.T) {
	ctl := lifecycle.New(config.StrictTable())

	if err := ctl.Guard(domain.StatusConcept, lifecycle.ActionSubmit); err != nil {
		t.Fatalf("submit from CONCEPT should pass: %v", err)
	}
	if err := ctl.Guard(domain.StatusConcept, lifecycle.ActionSave); err != nil {
		t.Fatalf("save from CONCEPT should pass: %v", err)
	}
	if err := ctl.Guard(domain.StatusIngediend, lifecycle.ActionSave); err == nil {
		t.Fatal("save from INGEDIEND should be rejected")
	}
	if err := ctl.Guard(domain.StatusAfgehandeld, lifecycle.ActionReopen); err == nil {
		t.Fatal("reopen from AFGEHANDELD should be rejected")
	}
	if err := ctl.Guard(domain.StatusIngetrokken, lifecycle.ActionReopen); err != nil {
		t.Fatalf("reopen from INGETROKKEN should pass: %v", err)
	}
}

func TestLooseGuard(t *testing.T) {
	ctl := lifecycle.New(config.LooseTable())

	if err := ctl.Guard(domain.StatusIngetrokken, lifecycle.ActionSubmit); err != nil {
		t.Fatalf("loose table allows submit from INGETROKKEN: %v", err)
	}
	if err := ctl.Guard(domain.StatusIngediend, lifecycle.ActionReopen); err != nil {
		t.Fatalf("loose table allows reopen from INGEDIEND: %v", err)
	}
	if err := ctl.Guard(domain.StatusAfgehandeld, lifecycle.ActionSubmit); err == nil {
		t.Fatal("submit from AFGEHANDELD stays rejected under loose")
	}
}

func TestGuardErrorDetails(t *testing.T) {
	ctl := lifecycle.New(config.StrictTable())
	err := ctl.Guard(domain.StatusAfgehandeld, lifecycle.ActionSubmit)

	var ite lifecycle.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.Action != lifecycle.ActionSubmit || ite.Status != domain.StatusAfgehandeld {
		t.Fatalf("unexpected error fields: %+v", ite)
	}
}

func TestGuardUnknownStatus(t *testing.T) {
	ctl := lifecycle.New(config.StrictTable())
	if err := ctl.Guard("VERDWENEN", lifecycle.ActionSave); err == nil {
		t.Fatal("unknown status must reject every action")
	}
}

func TestTarget(t *testing.T) {
	cases := []struct {
		action lifecycle.Action
		status string
		ok     bool
	}{
		{lifecycle.ActionSubmit, domain.StatusIngediend, true},
		{lifecycle.ActionWithdraw, domain.StatusIngetrokken, true},
		{lifecycle.ActionReopen, domain.StatusConcept, true},
		{lifecycle.ActionBehandel, domain.StatusInBehandeling, true},
		{lifecycle.ActionAfhandel, domain.StatusAfgehandeld, true},
		{lifecycle.ActionSave, "", false},
	}
	for _, tc := range cases {
		status, ok := lifecycle.Target(tc.action)
		if ok != tc.ok || status != tc.status {
			t.Fatalf("Target(%s) = (%q, %v), want (%q, %v)", tc.action, status, ok, tc.status, tc.ok)
		}
	}
}

func TestAllowed(t *testing.T) {
	ctl := lifecycle.New(config.StrictTable())
	got := ctl.Allowed(domain.StatusIngediend)
	want := []lifecycle.Action{lifecycle.ActionWithdraw, lifecycle.ActionBehandel, lifecycle.ActionAfhandel}
	if len(got) != len(want) {
		t.Fatalf("allowed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allowed = %v, want %v", got, want)
		}
	}
}

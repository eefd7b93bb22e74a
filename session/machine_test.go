package session

import (
	"reflect"
	"testing"
)

type hookLog struct {
	events []string
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnConnect:    func() { h.events = append(h.events, "connect") },
		OnDisconnect: func() { h.events = append(h.events, "disconnect") },
		OnActivate:   func() { h.events = append(h.events, "activate") },
		OnDeactivate: func() { h.events = append(h.events, "deactivate") },
	}
}

func TestMachineFullCycle(t *testing.T) {
	log := &hookLog{}
	m := NewMachine(log.hooks())

	steps := []struct {
		ready, onTrack bool
		want           State
	}{
		{false, false, Disconnected},
		{true, true, Connected}, // one edge per observation
		{true, true, Active},
		{true, true, Active},
		{true, false, Connected},
		{true, false, Connected},
		{false, false, Disconnected},
	}
	for i, step := range steps {
		m.Observe(step.ready, step.onTrack)
		if got := m.State(); got != step.want {
			t.Fatalf("step %d: expected %s, got %s", i, step.want, got)
		}
	}
	want := []string{"connect", "activate", "deactivate", "disconnect"}
	if !reflect.DeepEqual(log.events, want) {
		t.Fatalf("expected hooks %v, got %v", want, log.events)
	}
}

func TestMachineActivityIgnoredWhileDisconnected(t *testing.T) {
	log := &hookLog{}
	m := NewMachine(log.hooks())
	tr := m.Observe(false, true)
	if tr.Changed() || m.State() != Disconnected {
		t.Fatalf("expected no-op, got %+v", tr)
	}
	if len(log.events) != 0 {
		t.Fatalf("expected no hooks, got %v", log.events)
	}
}

func TestMachineActiveNeverSkipsConnected(t *testing.T) {
	log := &hookLog{}
	m := NewMachine(log.hooks())
	m.Observe(true, false)
	m.Observe(true, true)

	tr := m.Observe(false, false)
	if tr.From != Active || tr.To != Connected {
		t.Fatalf("expected Active->Connected when source drops, got %s->%s", tr.From, tr.To)
	}
	tr = m.Observe(false, false)
	if tr.From != Connected || tr.To != Disconnected {
		t.Fatalf("expected Connected->Disconnected next, got %s->%s", tr.From, tr.To)
	}
	want := []string{"connect", "activate", "deactivate", "disconnect"}
	if !reflect.DeepEqual(log.events, want) {
		t.Fatalf("expected hooks %v, got %v", want, log.events)
	}
}

func TestMachineShutdownFromActive(t *testing.T) {
	log := &hookLog{}
	m := NewMachine(log.hooks())
	m.Observe(true, false)
	m.Observe(true, true)

	taken := m.Shutdown()
	if len(taken) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(taken))
	}
	if m.State() != Disconnected {
		t.Fatalf("expected disconnected after shutdown, got %s", m.State())
	}
	if got := m.Shutdown(); len(got) != 0 {
		t.Fatalf("expected repeated shutdown to be a no-op, got %v", got)
	}
	want := []string{"connect", "activate", "deactivate", "disconnect"}
	if !reflect.DeepEqual(log.events, want) {
		t.Fatalf("expected hooks %v, got %v", want, log.events)
	}
}

func TestMachineNilHooks(t *testing.T) {
	m := NewMachine(Hooks{})
	m.Observe(true, false)
	m.Observe(true, true)
	if m.State() != Active {
		t.Fatalf("expected active, got %s", m.State())
	}
}

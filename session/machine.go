// Package session tracks whether a telemetry source is connected and whether
// the driver is actively on track, firing one hook per state change.
package session

import "sync/atomic"

// State is the connection/activity state.
type State int32

const (
	Disconnected State = iota
	Connected
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Transition describes the edge taken by one Observe call.
type Transition struct {
	From State
	To   State
}

// Changed reports whether an edge was taken.
func (t Transition) Changed() bool { return t.From != t.To }

// Hooks are invoked by the machine on the matching edge only.
// Nil hooks are skipped.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func()
	OnActivate   func()
	OnDeactivate func()
}

// Machine is the Disconnected -> Connected -> Active state machine.
// Legal edges: D->C, C->D, C->A, A->C. Active never drops straight to
// Disconnected; it passes through Connected first.
type Machine struct {
	state atomic.Int32
	hooks Hooks
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine(hooks Hooks) *Machine {
	return &Machine{hooks: hooks}
}

// State returns the current state. Safe to call from other goroutines
// (stats display); transitions are driven by a single control loop.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Purpose: Apply at most one edge for the current readiness/activity inputs.
// Key aspects: onTrack is ignored while Disconnected; an Active machine whose
// source goes away deactivates first and disconnects on a later call.
// Upstream: sampler.Runner control loop.
// Downstream: Hooks callbacks.
func (m *Machine) Observe(ready, onTrack bool) Transition {
	from := m.State()
	to := from
	switch from {
	case Disconnected:
		if ready {
			to = Connected
		}
	case Connected:
		switch {
		case !ready:
			to = Disconnected
		case onTrack:
			to = Active
		}
	case Active:
		if !ready || !onTrack {
			to = Connected
		}
	}
	if to == from {
		return Transition{From: from, To: to}
	}
	m.state.Store(int32(to))
	m.fire(from, to)
	return Transition{From: from, To: to}
}

// Shutdown walks the machine down to Disconnected, firing deactivate and
// disconnect hooks as needed. It returns the edges taken.
func (m *Machine) Shutdown() []Transition {
	var taken []Transition
	for m.State() != Disconnected {
		tr := m.Observe(false, false)
		if !tr.Changed() {
			break
		}
		taken = append(taken, tr)
	}
	return taken
}

func (m *Machine) fire(from, to State) {
	var hook func()
	switch {
	case from == Disconnected && to == Connected:
		hook = m.hooks.OnConnect
	case from == Connected && to == Disconnected:
		hook = m.hooks.OnDisconnect
	case from == Connected && to == Active:
		hook = m.hooks.OnActivate
	case from == Active && to == Connected:
		hook = m.hooks.OnDeactivate
	}
	if hook != nil {
		hook()
	}
}

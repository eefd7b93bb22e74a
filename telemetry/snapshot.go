package telemetry

import "sort"

// Field names read by the lap logger. They match the simulator's variable names
// so live feeds and recordings can be keyed identically.
const (
	KeyIsOnTrack      = "IsOnTrack"
	KeyLap            = "Lap"
	KeyLapCompleted   = "LapCompleted"
	KeyLapLastLapTime = "LapLastLapTime"
	KeyFuelLevel      = "FuelLevel"
)

// Snapshot is the set of values captured at one sampling instant.
// It is never mutated after construction.
type Snapshot struct {
	values map[string]Value
}

// NewSnapshot copies values so later changes to the input map do not leak in.
func NewSnapshot(values map[string]Value) Snapshot {
	cp := make(map[string]Value, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Snapshot{values: cp}
}

// Get returns the captured value; keys that were not captured read as absent.
func (s Snapshot) Get(key string) Value {
	if s.values == nil {
		return Absent()
	}
	return s.values[key]
}

// Has reports whether key was part of the capture (its value may still be absent).
func (s Snapshot) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Len returns the number of captured keys.
func (s Snapshot) Len() int { return len(s.values) }

// Keys returns the captured key names in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the captured values as plain Go scalars.
func (s Snapshot) Map() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v.Any()
	}
	return out
}

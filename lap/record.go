// Package lap turns sampled lap counters and laggy lap-time readings into one
// record per lap, and summarizes a session's records.
package lap

import "fmt"

// Trigger says what resolved a pending lap.
type Trigger uint8

const (
	TriggerNone    Trigger = iota // still pending, or abandoned
	TriggerChanged                // lap-time field changed
	TriggerTimeout                // waited the configured maximum
)

func (t Trigger) String() string {
	switch t {
	case TriggerChanged:
		return "changed"
	case TriggerTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// ParseTrigger is the inverse of String; unknown names map to TriggerNone.
func ParseTrigger(s string) Trigger {
	switch s {
	case "changed":
		return TriggerChanged
	case "timeout":
		return TriggerTimeout
	default:
		return TriggerNone
	}
}

// Record is one lap of a session. SessionLap 0 is the out lap.
type Record struct {
	SessionLap int
	LapTime    float64
	HasLapTime bool
	FuelUsed   float64
	// Finalized is true only once the lap time resolved to a displayable value.
	Finalized bool
	Trigger   Trigger
}

// OutLap reports whether the record is the session's first, untimed lap.
func (r Record) OutLap() bool { return r.SessionLap == 0 }

// TimeString renders the lap time, NoData when it never resolved.
func (r Record) TimeString() string {
	if !r.HasLapTime {
		return NoData
	}
	return SecondsString(r.LapTime)
}

// Line renders the per-lap sheet line, indented under the session header.
func (r Record) Line() string {
	line := fmt.Sprintf("\tlap: %d - Time: %s, Fuel: %s", r.SessionLap, r.TimeString(), Litres(r.FuelUsed))
	if r.OutLap() {
		line += " (out lap)"
	}
	return line
}

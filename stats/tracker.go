// Package stats tracks sampling and lap-detection counters for periodic
// console output and the end-of-connection report.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker tracks sampler statistics. Counters are atomic so a display
// goroutine can read them while the control loop updates them.
type Tracker struct {
	// per-trigger counts live in a sync.Map so new trigger names need no schema
	triggerCounts sync.Map // string -> *atomic.Uint64
	start         atomic.Int64
	samples       atomic.Uint64
	activeTicks   atomic.Uint64
	laps          atomic.Uint64
	invalidLaps   atomic.Uint64
	sessions      atomic.Uint64
	connects      atomic.Uint64
	retries       atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementSamples counts one polled snapshot.
func (t *Tracker) IncrementSamples() { t.samples.Add(1) }

// IncrementActiveTicks counts one tick that ran lap detection.
func (t *Tracker) IncrementActiveTicks() { t.activeTicks.Add(1) }

// RecordLap counts a resolved lap by validity and by what resolved it.
func (t *Tracker) RecordLap(finalized bool, trigger string) {
	t.laps.Add(1)
	if !finalized {
		t.invalidLaps.Add(1)
	}
	incrementCounter(&t.triggerCounts, trigger)
}

// IncrementSessions counts an activation.
func (t *Tracker) IncrementSessions() { t.sessions.Add(1) }

// IncrementConnects counts a Disconnected -> Connected edge.
func (t *Tracker) IncrementConnects() { t.connects.Add(1) }

// IncrementRetries counts a failed startup attempt.
func (t *Tracker) IncrementRetries() { t.retries.Add(1) }

func (t *Tracker) Samples() uint64     { return t.samples.Load() }
func (t *Tracker) ActiveTicks() uint64 { return t.activeTicks.Load() }
func (t *Tracker) Laps() uint64        { return t.laps.Load() }
func (t *Tracker) InvalidLaps() uint64 { return t.invalidLaps.Load() }
func (t *Tracker) Sessions() uint64    { return t.sessions.Load() }
func (t *Tracker) Connects() uint64    { return t.connects.Load() }
func (t *Tracker) Retries() uint64     { return t.retries.Load() }

// GetTriggerCounts returns a copy of the per-trigger lap counts.
func (t *Tracker) GetTriggerCounts() map[string]uint64 {
	counts := make(map[string]uint64)
	t.triggerCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset resets all counters
func (t *Tracker) Reset() {
	t.triggerCounts.Range(func(key, _ any) bool {
		t.triggerCounts.Delete(key)
		return true
	})
	t.samples.Store(0)
	t.activeTicks.Store(0)
	t.laps.Store(0)
	t.invalidLaps.Store(0)
	t.sessions.Store(0)
	t.connects.Store(0)
	t.retries.Store(0)
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 3)
	lines = append(lines, fmt.Sprintf("Samples: %s polled, %s active ticks (uptime %s)",
		humanize.Comma(int64(t.Samples())),
		humanize.Comma(int64(t.ActiveTicks())),
		t.GetUptime().Truncate(time.Second)))
	lines = append(lines, fmt.Sprintf("Laps: %s recorded, %s without time, %s sessions, %s connects, %s retries",
		humanize.Comma(int64(t.Laps())),
		humanize.Comma(int64(t.InvalidLaps())),
		humanize.Comma(int64(t.Sessions())),
		humanize.Comma(int64(t.Connects())),
		humanize.Comma(int64(t.Retries()))))
	lines = append(lines, formatMapCounts("Laps by trigger", &t.triggerCounts))
	return lines
}

func formatMapCounts(label string, counts *sync.Map) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	first := true
	counts.Range(func(key, value any) bool {
		if !first {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", key.(string), value.(*atomic.Uint64).Load())
		first = false
		return true
	})
	if first {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}

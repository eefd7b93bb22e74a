package lap

import (
	"math"
	"time"

	"laplogger/telemetry"
)

// DefaultMaxCollectWait bounds how long a completed lap waits for the
// last-lap-time field to update before it is finalized anyway.
const DefaultMaxCollectWait = 8 * time.Second

// detectorState is the detector's per-session context, reset by Begin.
type detectorState struct {
	primed       bool
	lapCounter   int
	hasCounter   bool
	reference    telemetry.Value // last-lap-time as of the previous finalize
	fuelBaseline float64
	hasFuel      bool
	sessionLap   int
	armed        bool
	pending      int
	waitTicks    int
}

// Detector finds lap boundaries in a stream of snapshots.
//
// The lap counter changes on the boundary tick but the last-lap-time field
// updates some samples later. After a boundary the detector arms and waits
// until the lap-time value differs from the reference or maxWaitTicks pass,
// whichever comes first; a same-tick change finalizes immediately.
type Detector struct {
	maxWaitTicks int
	st           detectorState
	records      []Record
}

// Purpose: Build a detector for a given sample rate.
// Key aspects: maxWait is converted to a tick count at the sample rate;
// non-positive inputs fall back to one sample/s and DefaultMaxCollectWait.
// Upstream: main wiring and sampler tests.
// Downstream: None.
func NewDetector(sampleRate int, maxWait time.Duration) *Detector {
	if sampleRate <= 0 {
		sampleRate = 1
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxCollectWait
	}
	return &Detector{
		maxWaitTicks: int(math.Round(maxWait.Seconds() * float64(sampleRate))),
	}
}

// Keys lists the telemetry fields the detector reads.
func (d *Detector) Keys() []string {
	return []string{
		telemetry.KeyIsOnTrack,
		telemetry.KeyLap,
		telemetry.KeyLapCompleted,
		telemetry.KeyLapLastLapTime,
		telemetry.KeyFuelLevel,
	}
}

// MaxWaitTicks returns the timeout in ticks.
func (d *Detector) MaxWaitTicks() int { return d.maxWaitTicks }

// Purpose: Prime the detector at the start of an active session.
// Key aspects: Captures lap counter, lap-time reference and fuel baseline;
// session lap numbering restarts at 0 (out lap).
// Upstream: sampler.Runner on activation.
// Downstream: None.
func (d *Detector) Begin(s telemetry.Snapshot) {
	d.st = detectorState{primed: true}
	if n, ok := s.Get(telemetry.KeyLap).Int(); ok {
		d.st.lapCounter = n
		d.st.hasCounter = true
	}
	d.st.reference = s.Get(telemetry.KeyLapLastLapTime)
	if f, ok := s.Get(telemetry.KeyFuelLevel).Float(); ok {
		d.st.fuelBaseline = f
		d.st.hasFuel = true
	}
}

// Purpose: Consume one snapshot; return the lap record finalized on this tick.
// Key aspects: Boundary detection runs before the debounce check so a
// lap-time change on the boundary tick finalizes at once. Missing fields
// never fail; they just do not trigger boundaries.
// Upstream: sampler.Sampler.Tick.
// Downstream: TimeString.
func (d *Detector) OnSnapshot(s telemetry.Snapshot) (Record, bool) {
	if !d.st.primed {
		d.Begin(s)
		return Record{}, false
	}

	if n, ok := s.Get(telemetry.KeyLap).Int(); ok {
		switch {
		case !d.st.hasCounter:
			d.st.lapCounter = n
			d.st.hasCounter = true
		case n > d.st.lapCounter:
			d.st.lapCounter = n
			d.boundary(s)
		}
	}

	if !d.st.armed {
		return Record{}, false
	}
	current := s.Get(telemetry.KeyLapLastLapTime)
	changed := !current.Equal(d.st.reference)
	if !changed && d.st.waitTicks < d.maxWaitTicks {
		d.st.waitTicks++
		return Record{}, false
	}

	rec := &d.records[d.st.pending]
	if current.Kind() == telemetry.KindNumber {
		rec.LapTime, rec.HasLapTime = current.Float()
	}
	rec.Finalized = TimeString(current) != NoData
	if changed {
		rec.Trigger = TriggerChanged
	} else {
		rec.Trigger = TriggerTimeout
	}
	d.st.reference = current
	d.st.armed = false
	d.st.waitTicks = 0
	return *rec, true
}

func (d *Detector) boundary(s telemetry.Snapshot) {
	var used float64
	if f, ok := s.Get(telemetry.KeyFuelLevel).Float(); ok {
		if d.st.hasFuel {
			used = round2(d.st.fuelBaseline - f)
			if used < 0 {
				used = 0
			}
		}
		d.st.fuelBaseline = f
		d.st.hasFuel = true
	}
	// A boundary while still armed leaves the earlier lap unfinalized.
	d.records = append(d.records, Record{SessionLap: d.st.sessionLap, FuelUsed: used})
	d.st.pending = len(d.records) - 1
	d.st.sessionLap++
	d.st.armed = true
	d.st.waitTicks = 0
}

// Armed reports whether a lap is waiting for its lap time.
func (d *Detector) Armed() bool { return d.st.armed }

// Records returns a copy of the session's records so far.
func (d *Detector) Records() []Record {
	out := make([]Record, len(d.records))
	copy(out, d.records)
	return out
}

// Drain returns the session's records and resets the detector for the next
// session. A pending lap is returned as-is (unfinalized).
func (d *Detector) Drain() []Record {
	out := d.records
	d.records = nil
	d.st = detectorState{}
	return out
}

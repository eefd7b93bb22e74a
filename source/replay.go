package source

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"laplogger/telemetry"

	lev "github.com/agnivade/levenshtein"
)

// Recording is a finite, indexed buffer of per-key value sequences sampled
// at NativeRate.
type Recording interface {
	Keys() []string
	Values(key string) ([]telemetry.Value, bool)
	Close() error
}

// Opener opens a recording by path.
type Opener func(path string) (Recording, error)

// ReplaySource plays a Recording back at the configured sample rate.
type ReplaySource struct {
	path     string
	keys     []string
	step     int
	realTime bool
	open     Opener
	sleep    func(context.Context, time.Duration) error

	rec    Recording
	series map[string][]telemetry.Value
	length int
	cursor int
	played bool
}

// Purpose: Construct a replay source for one recording path.
// Key aspects: The cursor step is round(NativeRate/sampleRate), at least 1;
// the recording is not opened until Startup.
// Upstream: main wiring, tests.
// Downstream: None.
func NewReplaySource(path string, keys []string, sampleRate int, realTime bool, open Opener) *ReplaySource {
	if sampleRate <= 0 {
		sampleRate = 1
	}
	step := int(math.Round(float64(NativeRate) / float64(sampleRate)))
	if step < 1 {
		step = 1
	}
	return &ReplaySource{
		path:     path,
		keys:     append([]string(nil), keys...),
		step:     step,
		realTime: realTime,
		open:     open,
		sleep:    Wait,
	}
}

func (r *ReplaySource) Name() string { return r.path }

// Step returns how many recorded samples one Advance skips.
func (r *ReplaySource) Step() int { return r.step }

// Cursor returns the current recorded-sample index.
func (r *ReplaySource) Cursor() int { return r.cursor }

// Length returns the number of samples available for playback.
func (r *ReplaySource) Length() int { return r.length }

// Purpose: Open the recording and load the sequences for the requested keys.
// Key aspects: Returns ErrExhausted after a completed playback, ErrUnavailable
// when the recording cannot be opened or has no samples. Keys missing from
// the recording read as absent and are logged with the closest known key.
// Upstream: sampler.Runner while Disconnected.
// Downstream: Opener, Recording.Values, closestKey.
func (r *ReplaySource) Startup(ctx context.Context) error {
	if r.played {
		return ErrExhausted
	}
	if r.rec != nil {
		return nil
	}
	if r.open == nil {
		return fmt.Errorf("%w: replay %s: no opener", ErrUnavailable, r.path)
	}
	rec, err := r.open(r.path)
	if err != nil {
		return fmt.Errorf("%w: replay %s: %v", ErrUnavailable, r.path, err)
	}

	series := make(map[string][]telemetry.Value, len(r.keys))
	length := -1
	for _, key := range r.keys {
		vals, ok := rec.Values(key)
		if !ok {
			if near := closestKey(key, rec.Keys()); near != "" {
				log.Printf("Replay: %s has no %q field (closest: %q); reading as absent", r.path, key, near)
			} else {
				log.Printf("Replay: %s has no %q field; reading as absent", r.path, key)
			}
			continue
		}
		series[key] = vals
		if length < 0 || len(vals) < length {
			length = len(vals)
		}
	}
	if length <= 0 {
		_ = rec.Close()
		return fmt.Errorf("%w: replay %s: no samples", ErrUnavailable, r.path)
	}
	r.rec = rec
	r.series = series
	r.length = length
	r.cursor = 0
	return nil
}

// HasMore is false once the cursor passes the shortest sequence.
func (r *ReplaySource) HasMore() bool {
	return r.rec != nil && r.cursor < r.length
}

// Poll reads every key at the cursor; past the end all keys are absent.
func (r *ReplaySource) Poll() telemetry.Snapshot {
	values := make(map[string]telemetry.Value, len(r.keys))
	for _, key := range r.keys {
		seq := r.series[key]
		if r.cursor < len(seq) {
			values[key] = seq[r.cursor]
		} else {
			values[key] = telemetry.Absent()
		}
	}
	return telemetry.NewSnapshot(values)
}

// Advance moves the cursor one step and, with real-time pacing, sleeps.
func (r *ReplaySource) Advance(ctx context.Context, interval time.Duration) error {
	r.cursor += r.step
	if !r.realTime {
		return nil
	}
	return r.sleep(ctx, interval)
}

// Close releases the recording. A closed replay does not start again.
func (r *ReplaySource) Close() error {
	if r.rec == nil {
		return nil
	}
	err := r.rec.Close()
	r.rec = nil
	r.series = nil
	r.played = true
	return err
}

// closestKey suggests the available key nearest to want, or "" when none is
// within a third of its length.
func closestKey(want string, available []string) string {
	best := ""
	bestDist := len(want)/3 + 1
	for _, k := range available {
		if d := lev.ComputeDistance(want, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

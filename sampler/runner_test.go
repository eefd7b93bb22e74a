package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"laplogger/lap"
	"laplogger/session"
	"laplogger/source"
	"laplogger/stats"
	"laplogger/telemetry"
)

type recordingSink struct {
	events    []string
	laps      []lap.Record
	summaries []lap.Summary
	start     telemetry.Snapshot
}

func (s *recordingSink) Connected(string)    { s.events = append(s.events, "connected") }
func (s *recordingSink) Disconnected(string) { s.events = append(s.events, "disconnected") }
func (s *recordingSink) Deactivated()        { s.events = append(s.events, "deactivated") }

func (s *recordingSink) Activated(start telemetry.Snapshot) {
	s.start = start
	s.events = append(s.events, "activated")
}

func (s *recordingSink) LapFinalized(rec lap.Record) {
	s.laps = append(s.laps, rec)
	s.events = append(s.events, fmt.Sprintf("lap%d", rec.SessionLap))
}

func (s *recordingSink) Summary(sum lap.Summary, ok bool) {
	if ok {
		s.summaries = append(s.summaries, sum)
	}
	s.events = append(s.events, "summary")
}

type memRecording struct {
	series map[string][]telemetry.Value
	closed bool
}

func (m *memRecording) Keys() []string {
	keys := make([]string, 0, len(m.series))
	for k := range m.series {
		keys = append(keys, k)
	}
	return keys
}

func (m *memRecording) Values(key string) ([]telemetry.Value, bool) {
	v, ok := m.series[key]
	return v, ok
}

func (m *memRecording) Close() error {
	m.closed = true
	return nil
}

// perSecond expands a per-second value function into native-rate samples.
func perSecond(seconds int, f func(sec int) telemetry.Value) []telemetry.Value {
	out := make([]telemetry.Value, 0, seconds*source.NativeRate)
	for sec := 0; sec < seconds; sec++ {
		v := f(sec)
		for i := 0; i < source.NativeRate; i++ {
			out = append(out, v)
		}
	}
	return out
}

func stintRecording() *memRecording {
	const seconds = 215
	return &memRecording{series: map[string][]telemetry.Value{
		telemetry.KeyIsOnTrack: perSecond(seconds, func(sec int) telemetry.Value {
			return telemetry.Bool(sec >= 3 && sec < 210)
		}),
		telemetry.KeyLap: perSecond(seconds, func(sec int) telemetry.Value {
			switch {
			case sec < 20:
				return telemetry.Number(0)
			case sec < 100:
				return telemetry.Number(1)
			case sec < 190:
				return telemetry.Number(2)
			default:
				return telemetry.Number(3)
			}
		}),
		telemetry.KeyFuelLevel: perSecond(seconds, func(sec int) telemetry.Value {
			switch {
			case sec < 20:
				return telemetry.Number(55)
			case sec < 100:
				return telemetry.Number(50)
			case sec < 190:
				return telemetry.Number(45)
			case sec < 205:
				return telemetry.Number(40.5)
			default:
				return telemetry.Number(36)
			}
		}),
		telemetry.KeyLapLastLapTime: perSecond(seconds, func(sec int) telemetry.Value {
			switch {
			case sec < 103:
				return telemetry.Number(-1)
			case sec < 192:
				return telemetry.Number(80)
			default:
				return telemetry.Number(90)
			}
		}),
	}}
}

func TestRunReplayStint(t *testing.T) {
	rec := stintRecording()
	det := lap.NewDetector(1, lap.DefaultMaxCollectWait)
	src := source.NewReplaySource("stint.csv", det.Keys(), 1, false, func(string) (source.Recording, error) {
		return rec, nil
	})
	sink := &recordingSink{}
	tracker := stats.NewTracker()
	runner := NewRunner(src, det, sink, tracker, Options{SampleRate: 1, Settle: 2 * time.Second})
	tapped := 0
	runner.Sampler().SetTap(func(telemetry.Snapshot) { tapped++ })

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"connected", "activated", "lap0", "lap1", "lap2", "deactivated", "summary", "disconnected"}
	if fmt.Sprint(sink.events) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, sink.events)
	}
	if f, _ := sink.start.Get(telemetry.KeyFuelLevel).Float(); f != 55 {
		t.Fatalf("expected activation fuel 55, got %v", f)
	}

	out := sink.laps[0]
	if !out.OutLap() || out.Finalized || out.Trigger != lap.TriggerTimeout || out.FuelUsed != 5 {
		t.Fatalf("unexpected out lap %+v", out)
	}
	if sink.laps[1].LapTime != 80 || sink.laps[1].Trigger != lap.TriggerChanged || sink.laps[1].FuelUsed != 5 {
		t.Fatalf("unexpected lap 1 %+v", sink.laps[1])
	}
	if sink.laps[2].LapTime != 90 || sink.laps[2].FuelUsed != 4.5 {
		t.Fatalf("unexpected lap 2 %+v", sink.laps[2])
	}

	if len(sink.summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(sink.summaries))
	}
	sum := sink.summaries[0]
	if sum.Laps != 2 || sum.Mean != 85 || math.Abs(sum.FuelMean-4.75) > 1e-9 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if !rec.closed {
		t.Fatalf("expected recording to be closed")
	}
	if runner.State() != session.Disconnected {
		t.Fatalf("expected Disconnected, got %s", runner.State())
	}
	if tapped != 214 {
		t.Fatalf("expected 214 tapped samples, got %d", tapped)
	}
	if tracker.Laps() != 3 || tracker.InvalidLaps() != 1 || tracker.Sessions() != 1 {
		t.Fatalf("unexpected stats laps=%d invalid=%d sessions=%d", tracker.Laps(), tracker.InvalidLaps(), tracker.Sessions())
	}
}

// scriptSource replays fixed snapshots and cancels the run once cancelAt
// advances have happened.
type scriptSource struct {
	snaps       []telemetry.Snapshot
	cursor      int
	startupErrs int
	startups    int
	connected   bool
	closed      bool
	cancelAt    int
	cancel      context.CancelFunc
}

func (s *scriptSource) Name() string { return "script" }

func (s *scriptSource) Startup(context.Context) error {
	s.startups++
	if s.closed {
		return source.ErrExhausted
	}
	if s.startups <= s.startupErrs {
		return fmt.Errorf("%w: script: not running", source.ErrUnavailable)
	}
	s.connected = true
	return nil
}

func (s *scriptSource) HasMore() bool { return s.connected && s.cursor < len(s.snaps) }

func (s *scriptSource) Poll() telemetry.Snapshot {
	if s.cursor < len(s.snaps) {
		return s.snaps[s.cursor]
	}
	return telemetry.NewSnapshot(nil)
}

func (s *scriptSource) Advance(ctx context.Context, _ time.Duration) error {
	s.cursor++
	if s.cancel != nil && s.cursor >= s.cancelAt {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

func (s *scriptSource) Close() error {
	s.connected = false
	s.closed = true
	return nil
}

func snap(onTrack bool, lapCount int, last, fuel float64) telemetry.Snapshot {
	return telemetry.NewSnapshot(map[string]telemetry.Value{
		telemetry.KeyIsOnTrack:      telemetry.Bool(onTrack),
		telemetry.KeyLap:            telemetry.Number(float64(lapCount)),
		telemetry.KeyLapLastLapTime: telemetry.Number(last),
		telemetry.KeyFuelLevel:      telemetry.Number(fuel),
	})
}

func TestRunCancelSummarizesAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptSource{
		snaps: []telemetry.Snapshot{
			snap(false, 0, -1, 30),
			snap(true, 0, -1, 30),
			snap(true, 1, 60, 28),
			snap(true, 2, 61, 26),
			snap(true, 2, 61, 25),
			snap(true, 2, 61, 24),
		},
		cancelAt: 4,
		cancel:   cancel,
	}
	sink := &recordingSink{}
	runner := NewRunner(src, lap.NewDetector(60, time.Second), sink, nil, Options{SampleRate: 60})

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"connected", "activated", "lap0", "lap1", "deactivated", "summary", "disconnected"}
	if fmt.Sprint(sink.events) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, sink.events)
	}
	if !sink.laps[0].Finalized || sink.laps[0].Trigger != lap.TriggerChanged {
		t.Fatalf("expected same-tick change to finalize the out lap, got %+v", sink.laps[0])
	}
	if len(sink.summaries) != 1 || sink.summaries[0].Laps != 1 || sink.summaries[0].Mean != 61 {
		t.Fatalf("unexpected summaries %+v", sink.summaries)
	}
	if !src.closed || runner.State() != session.Disconnected {
		t.Fatalf("expected shutdown to close the source")
	}
}

func TestRunRetriesUnavailableSource(t *testing.T) {
	src := &scriptSource{
		snaps:       []telemetry.Snapshot{snap(false, 0, -1, 30), snap(false, 0, -1, 30)},
		startupErrs: 2,
	}
	sink := &recordingSink{}
	tracker := stats.NewTracker()
	runner := NewRunner(src, lap.NewDetector(60, 0), sink, tracker, Options{
		SampleRate:    60,
		RetryInterval: time.Millisecond,
	})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if tracker.Retries() != 2 || tracker.Connects() != 1 {
		t.Fatalf("expected 2 retries and 1 connect, got %d / %d", tracker.Retries(), tracker.Connects())
	}
	want := []string{"connected", "disconnected"}
	if fmt.Sprint(sink.events) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, sink.events)
	}
}

func TestRunPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	src := &failingAdvance{scriptSource: scriptSource{snaps: []telemetry.Snapshot{snap(false, 0, -1, 1)}}, err: boom}
	runner := NewRunner(src, lap.NewDetector(60, 0), &recordingSink{}, nil, Options{SampleRate: 60})
	if err := runner.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected advance error, got %v", err)
	}
	if !src.closed {
		t.Fatalf("expected source closed on teardown")
	}
}

type failingAdvance struct {
	scriptSource
	err error
}

func (f *failingAdvance) Advance(context.Context, time.Duration) error { return f.err }

// silentFeed completes the broker handshake but never delivers telemetry.
type silentFeed struct {
	startups  int
	shutdowns int
}

func (f *silentFeed) Startup(context.Context) error {
	f.startups++
	return nil
}
func (f *silentFeed) IsConnected() bool { return false }
func (f *silentFeed) Freeze()           {}
func (f *silentFeed) Unfreeze()         {}
func (f *silentFeed) Get(string) (telemetry.Value, bool) {
	return telemetry.Absent(), false
}
func (f *silentFeed) Shutdown() error {
	f.shutdowns++
	return nil
}

func TestRunIdleFeedNeverConnects(t *testing.T) {
	feed := &silentFeed{}
	src := source.NewLiveSource("broker:1883", feed, lap.NewDetector(1, time.Second).Keys())
	sink := &recordingSink{}
	tracker := stats.NewTracker()
	runner := NewRunner(src, lap.NewDetector(1, time.Second), sink, tracker, Options{
		SampleRate:    1,
		RetryInterval: time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		done, err := runner.Step(context.Background())
		if err != nil || done {
			t.Fatalf("step %d: expected retry, got done=%v err=%v", i, done, err)
		}
		if runner.State() != session.Disconnected {
			t.Fatalf("step %d: expected to stay disconnected, got %v", i, runner.State())
		}
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no notifications for an idle feed, got %v", sink.events)
	}
	if tracker.Retries() != 3 || tracker.Connects() != 0 {
		t.Fatalf("expected 3 retries and no connects, got %d / %d", tracker.Retries(), tracker.Connects())
	}
	if feed.startups != 3 || feed.shutdowns != 3 {
		t.Fatalf("expected each handshake to be torn down, got %d startups / %d shutdowns", feed.startups, feed.shutdowns)
	}
}

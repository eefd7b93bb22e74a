package sampler

import (
	"context"
	"errors"
	"log"
	"time"

	"laplogger/lap"
	"laplogger/session"
	"laplogger/source"
	"laplogger/stats"
	"laplogger/telemetry"
)

const defaultRetryInterval = 5 * time.Second

// Options tunes the control loop.
type Options struct {
	SampleRate int
	// Settle is waited once the driver is seen on track, before the detector
	// primes; zero skips it.
	Settle time.Duration
	// RetryInterval is waited after a failed Startup.
	RetryInterval time.Duration
}

// Runner is the single control loop: it owns the state machine, the sampler
// and the detector, and reports events to a Sink.
type Runner struct {
	src     source.Source
	det     Detector
	sink    Sink
	stats   *stats.Tracker
	sampler *Sampler
	machine *session.Machine
	opts    Options

	lastUnavailable string
}

// Purpose: Wire a source, detector and sink into a control loop.
// Key aspects: Machine hooks carry every side effect (close on disconnect,
// prime on activate, summarize on deactivate), so each runs only on its edge.
// Upstream: main.
// Downstream: session.NewMachine, New.
func NewRunner(src source.Source, det Detector, sink Sink, tracker *stats.Tracker, opts Options) *Runner {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if tracker == nil {
		tracker = stats.NewTracker()
	}
	r := &Runner{
		src:     src,
		det:     det,
		sink:    sink,
		stats:   tracker,
		sampler: New(src, det, opts.SampleRate),
		opts:    opts,
	}
	r.machine = session.NewMachine(session.Hooks{
		OnConnect:    r.onConnect,
		OnDisconnect: r.onDisconnect,
		OnActivate:   r.onActivate,
		OnDeactivate: r.onDeactivate,
	})
	return r
}

// Sampler exposes the underlying sampler (capture taps are installed on it).
func (r *Runner) Sampler() *Sampler { return r.sampler }

// State returns the machine state.
func (r *Runner) State() session.State { return r.machine.State() }

// Run loops until ctx is cancelled or a replay is exhausted. Teardown always
// walks the machine down so the final session is summarized and the source
// is closed.
func (r *Runner) Run(ctx context.Context) error {
	defer r.machine.Shutdown()
	for {
		if ctx.Err() != nil {
			return nil
		}
		done, err := r.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// Purpose: Execute one control-loop iteration.
// Key aspects: Disconnected tries Startup; Connected polls for activity
// (with a settle wait before activating); Active runs one detection tick.
// At most one state edge is taken per call.
// Upstream: Run, tests.
// Downstream: Source, Sampler, session.Machine.Observe.
func (r *Runner) Step(ctx context.Context) (bool, error) {
	switch r.machine.State() {
	case session.Disconnected:
		err := r.src.Startup(ctx)
		switch {
		case errors.Is(err, source.ErrExhausted):
			return true, nil
		case err != nil:
			r.stats.IncrementRetries()
			if msg := err.Error(); msg != r.lastUnavailable {
				log.Printf("%v (retrying every %s)", err, r.opts.RetryInterval)
				r.lastUnavailable = msg
			}
			return false, source.Wait(ctx, r.opts.RetryInterval)
		}
		r.lastUnavailable = ""
		r.machine.Observe(true, false)

	case session.Connected:
		if !r.src.HasMore() {
			r.machine.Observe(false, false)
			return false, nil
		}
		snap, err := r.sampler.Sample(ctx)
		if err != nil {
			return false, err
		}
		r.stats.IncrementSamples()
		if onTrack(snap) && r.src.HasMore() && r.opts.Settle > 0 {
			if snap, err = r.sampler.Settle(ctx, r.opts.Settle); err != nil {
				return false, err
			}
			r.stats.IncrementSamples()
		}
		r.machine.Observe(r.src.HasMore(), onTrack(snap))

	case session.Active:
		rec, ok, err := r.sampler.Tick(ctx)
		if err != nil {
			return false, err
		}
		r.stats.IncrementSamples()
		if r.src.HasMore() {
			r.stats.IncrementActiveTicks()
		}
		if ok {
			r.stats.RecordLap(rec.Finalized, rec.Trigger.String())
			r.sink.LapFinalized(rec)
		}
		r.machine.Observe(r.src.HasMore(), onTrack(r.sampler.Latest()))
	}
	return false, nil
}

func (r *Runner) onConnect() {
	r.stats.IncrementConnects()
	r.sink.Connected(r.src.Name())
}

func (r *Runner) onDisconnect() {
	if err := r.src.Close(); err != nil {
		log.Printf("%s: close failed: %v", r.src.Name(), err)
	}
	r.sink.Disconnected(r.src.Name())
}

func (r *Runner) onActivate() {
	r.stats.IncrementSessions()
	start := r.sampler.Latest()
	r.det.Begin(start)
	r.sink.Activated(start)
}

// onDeactivate summarizes the session; a pending lap stays unfinalized and
// so drops out of the summary.
func (r *Runner) onDeactivate() {
	records := r.det.Drain()
	r.sink.Deactivated()
	if len(records) == 0 {
		return
	}
	sum, ok := lap.Summarize(records)
	r.sink.Summary(sum, ok)
}

func onTrack(s telemetry.Snapshot) bool {
	return s.Get(telemetry.KeyIsOnTrack).Truthy()
}

// Package source abstracts where telemetry snapshots come from: a live
// push-style feed or a pre-recorded buffer replayed at a fixed rate.
package source

import (
	"context"
	"errors"
	"time"

	"laplogger/telemetry"
)

// NativeRate is the sample rate of recordings, in samples per second.
const NativeRate = 60

var (
	// ErrUnavailable is returned by Startup when the feed handshake fails or
	// the recording cannot be opened. Callers retry later.
	ErrUnavailable = errors.New("source unavailable")
	// ErrExhausted is returned by Startup once a replay has been played to the
	// end and closed; there is nothing left to connect to.
	ErrExhausted = errors.New("source exhausted")
)

// Source produces one snapshot per tick.
type Source interface {
	// Name identifies the source in notifications.
	Name() string
	// Startup performs the handshake (live) or opens the recording (replay).
	Startup(ctx context.Context) error
	// HasMore reports whether the source is still connected / has samples left.
	HasMore() bool
	// Poll captures the configured keys; missing keys read as absent.
	Poll() telemetry.Snapshot
	// Advance waits one sampling interval (live) or moves the cursor (replay).
	Advance(ctx context.Context, interval time.Duration) error
	// Close releases the connection or recording.
	Close() error
}

// Purpose: Sleep for d unless ctx is cancelled first.
// Key aspects: Non-positive durations only report ctx state.
// Upstream: LiveSource.Advance, ReplaySource.Advance (real-time pacing),
// sampler.Runner startup retries.
// Downstream: time.NewTimer.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

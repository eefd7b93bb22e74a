package source

import (
	"context"
	"fmt"
	"time"

	"laplogger/telemetry"
)

// Feed is a push-style telemetry provider. Values arrive asynchronously;
// Freeze/Unfreeze bracket a consistent read of the latest values.
type Feed interface {
	Startup(ctx context.Context) error
	IsConnected() bool
	Freeze()
	Unfreeze()
	Get(key string) (telemetry.Value, bool)
	Shutdown() error
}

// LiveSource samples a Feed in real time.
type LiveSource struct {
	name  string
	feed  Feed
	keys  []string
	sleep func(context.Context, time.Duration) error
}

// NewLiveSource wraps feed, reading keys on every Poll.
func NewLiveSource(name string, feed Feed, keys []string) *LiveSource {
	return &LiveSource{
		name:  name,
		feed:  feed,
		keys:  append([]string(nil), keys...),
		sleep: Wait,
	}
}

func (l *LiveSource) Name() string { return l.name }

// Startup runs the feed handshake; failures wrap ErrUnavailable. A feed that
// completes the handshake but is not delivering data is shut down again and
// reported unavailable, so the caller backs off instead of connecting.
func (l *LiveSource) Startup(ctx context.Context) error {
	if l.feed.IsConnected() {
		return nil
	}
	if err := l.feed.Startup(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, l.name, err)
	}
	if !l.feed.IsConnected() {
		_ = l.feed.Shutdown()
		return fmt.Errorf("%w: %s: no telemetry", ErrUnavailable, l.name)
	}
	return nil
}

// HasMore mirrors the feed's connection state.
func (l *LiveSource) HasMore() bool { return l.feed.IsConnected() }

// Purpose: Read every configured key from one frozen view of the feed.
// Key aspects: Freeze prevents the feed from updating mid-read; keys the
// feed has not published read as absent.
// Upstream: sampler.Sampler.Tick and the Connected-state poll.
// Downstream: Feed.Freeze, Feed.Get, Feed.Unfreeze.
func (l *LiveSource) Poll() telemetry.Snapshot {
	values := make(map[string]telemetry.Value, len(l.keys))
	l.feed.Freeze()
	for _, key := range l.keys {
		v, ok := l.feed.Get(key)
		if !ok {
			v = telemetry.Absent()
		}
		values[key] = v
	}
	l.feed.Unfreeze()
	return telemetry.NewSnapshot(values)
}

// Advance blocks for one sampling interval.
func (l *LiveSource) Advance(ctx context.Context, interval time.Duration) error {
	return l.sleep(ctx, interval)
}

// Close shuts the feed down.
func (l *LiveSource) Close() error {
	return l.feed.Shutdown()
}

// Package sampler drives a Source at a fixed rate and feeds each snapshot to
// a pluggable Detector, gated by the connection/activity state machine.
package sampler

import (
	"context"
	"time"

	"laplogger/lap"
	"laplogger/source"
	"laplogger/telemetry"
)

// Detector turns snapshots into finalized lap records.
type Detector interface {
	// Keys lists the fields the detector reads; sources capture exactly these.
	Keys() []string
	// Begin primes the detector at the start of an active session.
	Begin(telemetry.Snapshot)
	// OnSnapshot consumes one tick and returns a record finalized on it.
	OnSnapshot(telemetry.Snapshot) (lap.Record, bool)
	// Drain hands back the session's records and resets the detector.
	Drain() []lap.Record
}

// Sampler pulls one snapshot per interval from a Source.
type Sampler struct {
	src      source.Source
	det      Detector
	interval time.Duration
	tap      func(telemetry.Snapshot)
	latest   telemetry.Snapshot
}

// New builds a sampler for sampleRate samples per second.
func New(src source.Source, det Detector, sampleRate int) *Sampler {
	if sampleRate <= 0 {
		sampleRate = 1
	}
	return &Sampler{
		src:      src,
		det:      det,
		interval: time.Second / time.Duration(sampleRate),
	}
}

// SetTap installs a callback that sees every snapshot polled while the source
// still has data (used for capture).
func (s *Sampler) SetTap(fn func(telemetry.Snapshot)) {
	s.tap = fn
}

// Interval returns the wait between samples.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Latest returns the most recent snapshot.
func (s *Sampler) Latest() telemetry.Snapshot { return s.latest }

// Sample waits one interval and polls the source without running detection.
func (s *Sampler) Sample(ctx context.Context) (telemetry.Snapshot, error) {
	return s.sampleAfter(ctx, s.interval)
}

// Settle waits d (replay: one cursor step) and polls, used before activating.
func (s *Sampler) Settle(ctx context.Context, d time.Duration) (telemetry.Snapshot, error) {
	return s.sampleAfter(ctx, d)
}

func (s *Sampler) sampleAfter(ctx context.Context, d time.Duration) (telemetry.Snapshot, error) {
	if err := s.src.Advance(ctx, d); err != nil {
		return s.latest, err
	}
	snap := s.src.Poll()
	s.latest = snap
	if s.tap != nil && s.src.HasMore() {
		s.tap(snap)
	}
	return snap, nil
}

// Purpose: Run one active sampling tick.
// Key aspects: Snapshots taken after the source ran dry are not fed to the
// detector, so a pending lap is not resolved by end-of-data absent values.
// Upstream: Runner.Step while Active.
// Downstream: Source.Advance, Source.Poll, Detector.OnSnapshot.
func (s *Sampler) Tick(ctx context.Context) (lap.Record, bool, error) {
	snap, err := s.Sample(ctx)
	if err != nil {
		return lap.Record{}, false, err
	}
	if !s.src.HasMore() {
		return lap.Record{}, false, nil
	}
	rec, ok := s.det.OnSnapshot(snap)
	return rec, ok, nil
}

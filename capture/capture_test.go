package capture

import (
	"path/filepath"
	"testing"

	"laplogger/telemetry"
)

func sample(lapCount int, fuel float64, onTrack bool) telemetry.Snapshot {
	return telemetry.NewSnapshot(map[string]telemetry.Value{
		telemetry.KeyIsOnTrack:      telemetry.Bool(onTrack),
		telemetry.KeyLap:            telemetry.Number(float64(lapCount)),
		telemetry.KeyFuelLevel:      telemetry.Number(fuel),
		telemetry.KeyLapLastLapTime: telemetry.Absent(),
	})
}

func TestCaptureRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	w, err := Create(dir, 15)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Append(sample(i, 50-float64(i), i > 0)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if w.Count() != 3 {
		t.Fatalf("expected 3 samples, got %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	a, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Rate() != 15 || a.Samples() != 3 {
		t.Fatalf("unexpected archive meta: rate=%d samples=%d", a.Rate(), a.Samples())
	}
	laps, ok := a.Values(telemetry.KeyLap)
	if !ok {
		t.Fatalf("expected Lap series")
	}
	// 15 Hz captures expand 4x to the 60 Hz native rate.
	if len(laps) != 12 {
		t.Fatalf("expected 12 native samples, got %d", len(laps))
	}
	if n, _ := laps[4].Int(); n != 1 {
		t.Fatalf("expected second capture at index 4, got lap %d", n)
	}
	last, _ := a.Values(telemetry.KeyLapLastLapTime)
	if !last[0].IsAbsent() {
		t.Fatalf("expected absent values to survive the round trip")
	}
	onTrack, _ := a.Values(telemetry.KeyIsOnTrack)
	if onTrack[0].Truthy() || !onTrack[11].Truthy() {
		t.Fatalf("expected booleans to survive the round trip")
	}
}

func TestCaptureReopenContinuesSequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	w, err := Create(dir, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = w.Append(sample(1, 40, true))
	_ = w.Append(sample(1, 39, true))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w, err = Create(dir, 60)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if w.Count() != 2 {
		t.Fatalf("expected to continue at 2, got %d", w.Count())
	}
	_ = w.Append(sample(2, 38, true))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	a, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fuel, _ := a.Values(telemetry.KeyFuelLevel)
	if len(fuel) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(fuel))
	}
	if f, _ := fuel[2].Float(); f != 38 {
		t.Fatalf("expected appended sample last, got %v", f)
	}
}

func TestCaptureRejectsRateMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	w, err := Create(dir, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = w.Close()
	if _, err := Create(dir, 20); err == nil {
		t.Fatalf("expected rate mismatch to be rejected")
	}
}

func TestOpenRejectsNonArchive(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing archive")
	}
}

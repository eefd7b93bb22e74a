package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"laplogger/lap"
	"laplogger/telemetry"
)

func openTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "laps.db")
	r, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, path
}

func playSession(r *Recorder, records []lap.Record) {
	r.Connected("stint.csv")
	r.Activated(telemetry.NewSnapshot(map[string]telemetry.Value{
		telemetry.KeyFuelLevel: telemetry.Number(55),
	}))
	for _, rec := range records {
		r.LapFinalized(rec)
	}
	r.Deactivated()
	if sum, ok := lap.Summarize(records); ok {
		r.Summary(sum, ok)
	}
}

func TestRecorderStoresSessionLapsAndSummary(t *testing.T) {
	r, _ := openTestRecorder(t)
	r.SetFingerprint("00000000deadbeef")
	records := []lap.Record{
		{SessionLap: 0, LapTime: -1, HasLapTime: true, FuelUsed: 5, Trigger: lap.TriggerTimeout},
		{SessionLap: 1, LapTime: 80, HasLapTime: true, FuelUsed: 5, Finalized: true, Trigger: lap.TriggerChanged},
		{SessionLap: 2, LapTime: 90, HasLapTime: true, FuelUsed: 4.5, Finalized: true, Trigger: lap.TriggerChanged},
	}
	playSession(r, records)

	sessions, err := r.Sessions(0)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.ID != r.SessionID() || s.Source != "stint.csv" || s.Fingerprint != "00000000deadbeef" {
		t.Fatalf("unexpected session row %+v", s)
	}
	if s.EndedAt.IsZero() {
		t.Fatalf("expected ended_at to be set")
	}
	if !s.HasSummary || s.Summary.Laps != 2 || s.Summary.Mean != 85 || s.Summary.FuelMean != 4.75 {
		t.Fatalf("unexpected summary %+v", s.Summary)
	}

	laps, err := r.Laps(s.ID)
	if err != nil {
		t.Fatalf("laps: %v", err)
	}
	if len(laps) != 3 {
		t.Fatalf("expected 3 laps, got %d", len(laps))
	}
	if laps[0].Finalized || laps[0].Trigger != lap.TriggerTimeout {
		t.Fatalf("unexpected out lap %+v", laps[0])
	}
	if laps[2].LapTime != 90 || laps[2].FuelUsed != 4.5 || !laps[2].Finalized {
		t.Fatalf("unexpected lap 2 %+v", laps[2])
	}
}

func TestRecorderNullLapTime(t *testing.T) {
	r, _ := openTestRecorder(t)
	playSession(r, []lap.Record{{SessionLap: 0, FuelUsed: 1}})

	sessions, _ := r.Sessions(1)
	if len(sessions) != 1 || sessions[0].HasSummary {
		t.Fatalf("expected one session without summary, got %+v", sessions)
	}
	laps, err := r.Laps(sessions[0].ID)
	if err != nil {
		t.Fatalf("laps: %v", err)
	}
	if len(laps) != 1 || laps[0].HasLapTime {
		t.Fatalf("expected missing lap time to stay NULL, got %+v", laps)
	}
}

func TestRecorderIgnoresLapsOutsideSession(t *testing.T) {
	r, _ := openTestRecorder(t)
	r.LapFinalized(lap.Record{SessionLap: 1, Finalized: true})
	r.Summary(lap.Summary{Laps: 1}, true)
	sessions, err := r.Sessions(0)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestRecorderReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laps.db")
	r, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	playSession(r, []lap.Record{{SessionLap: 1, LapTime: 70, HasLapTime: true, Finalized: true, FuelUsed: 2, Trigger: lap.TriggerChanged}})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err = Open(path, time.Second)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()
	sessions, _ := r.Sessions(0)
	if len(sessions) != 1 || sessions[0].Summary.Fastest != 70 {
		t.Fatalf("expected history to survive reopen, got %+v", sessions)
	}
}

func TestPreflightMissingFileIsHealthy(t *testing.T) {
	res, err := Preflight(filepath.Join(t.TempDir(), "none.db"), time.Second, nil)
	if err != nil || !res.Healthy {
		t.Fatalf("expected healthy result for a new database, got %+v, %v", res, err)
	}
}

func TestPreflightQuarantinesCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.db")
	if err := os.WriteFile(path, []byte("not a sqlite database"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if err := os.WriteFile(path+"-journal", []byte("sidecar"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	res, err := Preflight(path, time.Second, func(string, ...any) {})
	if err != nil {
		t.Fatalf("preflight expected quarantine, got error: %v", err)
	}
	if res.Healthy || !res.Quarantined || !strings.Contains(res.QuarantinePath, ".bad-") {
		t.Fatalf("expected quarantine, got %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt db to be renamed, stat err=%v", err)
	}
	if _, err := os.Stat(path + "-journal"); err == nil {
		t.Fatalf("expected sidecar to move with the database")
	}

	// The recorder starts fresh after a quarantine.
	r, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("open after quarantine: %v", err)
	}
	_ = r.Close()
}

func TestRecorderDetachesAfterDeactivation(t *testing.T) {
	r, _ := openTestRecorder(t)
	records := []lap.Record{{SessionLap: 1, LapTime: 80, HasLapTime: true, FuelUsed: 5, Finalized: true, Trigger: lap.TriggerChanged}}
	playSession(r, records)
	id := r.SessionID()

	r.LapFinalized(lap.Record{SessionLap: 2, LapTime: 81, HasLapTime: true, FuelUsed: 5, Finalized: true})
	r.Summary(lap.Summary{Laps: 9, Mean: 1}, true)

	laps, err := r.Laps(id)
	if err != nil {
		t.Fatalf("laps: %v", err)
	}
	if len(laps) != 1 {
		t.Fatalf("expected late lap to be ignored, got %d laps", len(laps))
	}
	sessions, err := r.Sessions(0)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Summary.Laps != 1 {
		t.Fatalf("expected stored summary to stay untouched, got %+v", sessions)
	}
}

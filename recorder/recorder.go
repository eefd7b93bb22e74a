// Package recorder persists sessions, laps and summaries to SQLite so
// stints can be compared after the run.
package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"laplogger/lap"
	"laplogger/telemetry"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Recorder writes runner events to SQLite. It implements sampler.Sink; all
// writes are synchronous and serialized because events arrive once per lap.
type Recorder struct {
	db  *sql.DB
	now func() time.Time

	mu          sync.Mutex
	source      string
	fingerprint string
	sessionID   string
	closingID   string // deactivated, summary may still arrive
	lastID      string
	laps        int64
	sessions    int64
}

// Purpose: Open (or create) the lap database.
// Key aspects: Runs Preflight first; a single connection keeps writes
// ordered.
// Upstream: main when the recorder is enabled.
// Downstream: Preflight, initSchema.
func Open(path string, preflightTimeout time.Duration) (*Recorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("recorder: db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	if _, err := Preflight(path, preflightTimeout, nil); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: schema: %w", err)
	}
	return &Recorder{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    source TEXT,
    fingerprint TEXT,
    started_at INTEGER,
    ended_at INTEGER,
    start_fuel REAL
);
CREATE TABLE IF NOT EXISTS laps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    session_lap INTEGER NOT NULL,
    lap_time REAL,
    fuel_used REAL NOT NULL,
    finalized INTEGER NOT NULL,
    resolved_by TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS laps_session ON laps(session_id, session_lap);
CREATE TABLE IF NOT EXISTS summaries (
    session_id TEXT PRIMARY KEY,
    laps INTEGER,
    fastest REAL,
    slowest REAL,
    mean REAL,
    fuel_total REAL,
    fuel_mean REAL,
    fuel_min REAL,
    fuel_max REAL
);`
	_, err := db.Exec(schema)
	return err
}

// SetFingerprint tags subsequent sessions with a recording fingerprint.
func (r *Recorder) SetFingerprint(fp string) {
	r.mu.Lock()
	r.fingerprint = fp
	r.mu.Unlock()
}

// SessionID returns the current or most recently finished session id.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID
}

func (r *Recorder) Connected(src string) {
	r.mu.Lock()
	r.source = src
	r.mu.Unlock()
}

func (r *Recorder) Disconnected(string) {}

// Activated opens a session row.
func (r *Recorder) Activated(start telemetry.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = uuid.NewString()
	r.lastID = r.sessionID
	r.closingID = ""
	var startFuel any
	if f, ok := start.Get(telemetry.KeyFuelLevel).Float(); ok {
		startFuel = f
	}
	_, err := r.db.Exec(`INSERT INTO sessions (id, source, fingerprint, started_at, start_fuel) VALUES (?, ?, ?, ?, ?)`,
		r.sessionID, r.source, r.fingerprint, r.now().UTC().Unix(), startFuel)
	if err != nil {
		log.Printf("Recorder: failed to insert session: %v", err)
		return
	}
	r.sessions++
}

// Deactivated stamps the session end. Later laps are ignored; only the
// session summary may still follow.
func (r *Recorder) Deactivated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		return
	}
	id := r.sessionID
	r.sessionID = ""
	r.closingID = id
	if _, err := r.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, r.now().UTC().Unix(), id); err != nil {
		log.Printf("Recorder: failed to close session %s: %v", id, err)
	}
}

// LapFinalized appends one lap row; laps are never updated.
func (r *Recorder) LapFinalized(rec lap.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		return
	}
	var lapTime any
	if rec.HasLapTime {
		lapTime = rec.LapTime
	}
	_, err := r.db.Exec(`
INSERT INTO laps (session_id, session_lap, lap_time, fuel_used, finalized, resolved_by, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID,
		rec.SessionLap,
		lapTime,
		rec.FuelUsed,
		boolToInt(rec.Finalized),
		rec.Trigger.String(),
		r.now().UTC().Unix(),
	)
	if err != nil {
		log.Printf("Recorder: failed to insert lap %d: %v", rec.SessionLap, err)
		return
	}
	r.laps++
}

// Summary stores the session aggregate, rounded as displayed.
func (r *Recorder) Summary(sum lap.Summary, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.sessionID
	if id == "" {
		id = r.closingID
	}
	r.closingID = ""
	if !ok || id == "" {
		return
	}
	s := sum.Rounded()
	_, err := r.db.Exec(`
INSERT OR REPLACE INTO summaries (session_id, laps, fastest, slowest, mean, fuel_total, fuel_mean, fuel_min, fuel_max)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.Laps, s.Fastest, s.Slowest, s.Mean, s.FuelTotal, s.FuelMean, s.FuelMin, s.FuelMax)
	if err != nil {
		log.Printf("Recorder: failed to insert summary: %v", err)
	}
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions > 0 {
		log.Printf("Recorder: wrote %s laps across %s sessions", humanize.Comma(r.laps), humanize.Comma(r.sessions))
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package recorder

import (
	"database/sql"
	"fmt"
	"time"

	"laplogger/lap"
)

// SessionRow is one stored session with its summary, if any.
type SessionRow struct {
	ID          string
	Source      string
	Fingerprint string
	StartedAt   time.Time
	EndedAt     time.Time
	Summary     lap.Summary
	HasSummary  bool
}

// Sessions lists stored sessions, newest first, up to limit (0 = all).
func (r *Recorder) Sessions(limit int) ([]SessionRow, error) {
	query := `
SELECT s.id, s.source, s.fingerprint, s.started_at, COALESCE(s.ended_at, 0),
       m.laps, m.fastest, m.slowest, m.mean, m.fuel_total, m.fuel_mean, m.fuel_min, m.fuel_max
FROM sessions s LEFT JOIN summaries m ON m.session_id = s.id
ORDER BY s.started_at DESC, s.rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recorder: query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			row            SessionRow
			started, ended int64
			laps           sql.NullInt64
			vals           [7]sql.NullFloat64
		)
		if err := rows.Scan(&row.ID, &row.Source, &row.Fingerprint, &started, &ended,
			&laps, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5], &vals[6]); err != nil {
			return nil, fmt.Errorf("recorder: scan session: %w", err)
		}
		row.StartedAt = time.Unix(started, 0).UTC()
		if ended > 0 {
			row.EndedAt = time.Unix(ended, 0).UTC()
		}
		if laps.Valid {
			row.HasSummary = true
			row.Summary = lap.Summary{
				Laps:      int(laps.Int64),
				Fastest:   vals[0].Float64,
				Slowest:   vals[1].Float64,
				Mean:      vals[2].Float64,
				FuelTotal: vals[3].Float64,
				FuelMean:  vals[4].Float64,
				FuelMin:   vals[5].Float64,
				FuelMax:   vals[6].Float64,
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Laps returns a session's lap records in session order.
func (r *Recorder) Laps(sessionID string) ([]lap.Record, error) {
	rows, err := r.db.Query(`
SELECT session_lap, lap_time, fuel_used, finalized, resolved_by
FROM laps WHERE session_id = ? ORDER BY session_lap, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("recorder: query laps: %w", err)
	}
	defer rows.Close()

	var out []lap.Record
	for rows.Next() {
		var (
			rec       lap.Record
			lapTime   sql.NullFloat64
			finalized int
			trigger   string
		)
		if err := rows.Scan(&rec.SessionLap, &lapTime, &rec.FuelUsed, &finalized, &trigger); err != nil {
			return nil, fmt.Errorf("recorder: scan lap: %w", err)
		}
		rec.LapTime, rec.HasLapTime = lapTime.Float64, lapTime.Valid
		rec.Finalized = finalized != 0
		rec.Trigger = lap.ParseTrigger(trigger)
		out = append(out, rec)
	}
	return out, rows.Err()
}

package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PreflightResult reports the outcome of the startup health check.
type PreflightResult struct {
	Healthy        bool
	Quarantined    bool
	QuarantinePath string
	Elapsed        time.Duration
	CheckErr       error
}

// Purpose: Make sure an existing lap database is usable before opening it.
// Key aspects: Bounded WAL checkpoint + quick_check; a corrupt file (and its
// sidecars) is renamed aside with a .bad-<timestamp> suffix so the recorder
// starts on a fresh database instead of failing the run.
// Upstream: Open.
// Downstream: checkpointAndCheck, quarantine.
func Preflight(path string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var res PreflightResult
	if strings.TrimSpace(path) == "" {
		return res, errors.New("recorder: preflight: empty path")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		res.Healthy = true
		return res, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := checkpointAndCheck(ctx, path, timeout)
	res.Elapsed = time.Since(start)
	res.CheckErr = err
	if err == nil {
		res.Healthy = true
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("recorder: preflight timed out after %s", timeout)
	}

	dest, qerr := quarantine(path)
	if qerr != nil {
		return res, fmt.Errorf("recorder: quarantine %s failed: %w (check: %v)", path, qerr, err)
	}
	res.Quarantined = true
	res.QuarantinePath = dest
	logf("Recorder: %s failed its health check (%v); moved to %s", path, err, dest)
	return res, nil
}

func checkpointAndCheck(ctx context.Context, path string, timeout time.Duration) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// quarantine renames the database and any sidecars that exist, returning the
// new main-file path.
func quarantine(path string) (string, error) {
	suffix := ".bad-" + time.Now().UTC().Format("20060102T150405Z")
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := os.Rename(p, p+suffix); err != nil {
			return "", err
		}
	}
	return filepath.Clean(path + suffix), nil
}

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"laplogger/config"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileDateLayout  = "02-Jan-2006"
	maxLogBufferBytes  = 16 * 1024
)

type lineSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

// consoleLines writes log lines to the terminal (or any writer).
type consoleLines struct {
	w             io.Writer
	withTimestamp bool
}

func (s *consoleLines) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.withTimestamp {
		line = formatLogTimestamp(now) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *consoleLines) Close() error { return nil }

// dailyLog appends timestamped lines to one file per UTC day and prunes files
// older than the retention window.
type dailyLog struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	day           string
	file          *os.File
	lastErrorAt   time.Time
}

// Purpose: Prepare the log directory and prune expired files.
// Key aspects: The first file is opened lazily on the first line.
// Upstream: setupLogging.
// Downstream: os.MkdirAll, cleanupOldLogs.
func newDailyLog(dir string, retentionDays int) (*dailyLog, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	if err := cleanupOldLogs(dir, time.Now().UTC(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: cleanup failed for %s: %v\n", dir, err)
	}
	return &dailyLog{dir: dir, retentionDays: retentionDays}, nil
}

// WriteLine appends one line, switching files when the UTC date changes.
func (d *dailyLog) WriteLine(line string, now time.Time) {
	if d == nil {
		return
	}
	now = now.UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	if day := now.Format(logFileDateLayout); d.file == nil || d.day != day {
		d.openLocked(day, now)
	}
	if d.file == nil {
		return
	}
	if _, err := d.file.WriteString(formatLogTimestamp(now) + " " + line + "\n"); err != nil {
		d.reportLocked(now, fmt.Errorf("write failed: %w", err))
	}
}

func (d *dailyLog) openLocked(day string, now time.Time) {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	path := filepath.Join(d.dir, logFileNameForDate(now))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		d.reportLocked(now, fmt.Errorf("open failed for %s: %w", path, err))
		return
	}
	d.file = file
	d.day = day
	if err := cleanupOldLogs(d.dir, now, d.retentionDays); err != nil {
		d.reportLocked(now, fmt.Errorf("cleanup failed: %w", err))
	}
}

// reportLocked prints file errors to stderr at most once a minute.
func (d *dailyLog) reportLocked(now time.Time, err error) {
	if !d.lastErrorAt.IsZero() && now.Sub(d.lastErrorAt) < time.Minute {
		return
	}
	d.lastErrorAt = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

// Path returns the file currently being written, "" before the first line.
func (d *dailyLog) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ""
	}
	return d.file.Name()
}

func (d *dailyLog) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.day = ""
	return err
}

// logFanout is the log.Logger output: it splits writes into lines and hands
// each line to the console and file sinks.
type logFanout struct {
	mu      sync.Mutex
	buf     []byte
	console lineSink
	file    lineSink
}

// Purpose: Wire logging from config without blocking startup.
// Key aspects: Returns a usable fanout even when the file sink fails; console
// timestamps are dropped on an interactive terminal.
// Upstream: main.
// Downstream: newDailyLog.
func setupLogging(cfg config.LoggingConfig, console io.Writer, interactive bool) (*logFanout, error) {
	fanout := &logFanout{console: &consoleLines{w: console, withTimestamp: !interactive}}
	if !cfg.Enabled {
		return fanout, nil
	}
	file, err := newDailyLog(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return fanout, err
	}
	fanout.file = file
	return fanout, nil
}

func (f *logFanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(f.buf[:idx], "\r")))
		f.buf = f.buf[idx+1:]
	}
	if len(f.buf) > maxLogBufferBytes {
		lines = append(lines, string(f.buf))
		f.buf = nil
	}
	console, file := f.console, f.file
	f.mu.Unlock()

	now := time.Now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

// WriteFileOnlyLine records a line in the log file without echoing it to the
// console. No-op when file logging is off.
func (f *logFanout) WriteFileOnlyLine(line string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file != nil {
		file.WriteLine(line, time.Now().UTC())
	}
}

func (f *logFanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	file := f.file
	f.file = nil
	f.mu.Unlock()
	if file != nil {
		return file.Close()
	}
	return nil
}

func formatLogTimestamp(now time.Time) string {
	return now.UTC().Format(logTimestampLayout)
}

func logFileNameForDate(now time.Time) string {
	return now.UTC().Format(logFileDateLayout) + ".log"
}

func parseLogFileDate(name string) (time.Time, bool) {
	if filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(logFileDateLayout, strings.TrimSuffix(name, ".log"), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// cleanupOldLogs keeps retentionDays days of files, today included.
func cleanupOldLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retentionDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if date, ok := parseLogFileDate(entry.Name()); ok && date.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

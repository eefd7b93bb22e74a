// Package capture records live snapshots into a Pebble archive that can be
// replayed later like any other recording.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"laplogger/telemetry"

	"github.com/cockroachdb/pebble"
	jsoniter "github.com/json-iterator/go"
)

const (
	archiveVersion = 1

	metaVersion   = "meta|version"
	metaRate      = "meta|rate"
	metaKeys      = "meta|keys"
	metaStartedAt = "meta|started_at"

	samplePrefix = "s|"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	errNotArchive = errors.New("capture: not a capture archive")
)

// Writer appends snapshots to an archive directory. Safe for one writer at a
// time; Append is serialized by a mutex so a display goroutine may call Count.
type Writer struct {
	mu    sync.Mutex
	db    *pebble.DB
	dir   string
	rate  int
	next  uint64
	keys  map[string]struct{}
	dirty bool
}

// Purpose: Open (or create) a capture archive for appending.
// Key aspects: Reopening an archive continues the sample sequence; the
// sample rate must match the one it was created with.
// Upstream: main when capture is enabled.
// Downstream: pebble.Open, readMeta, lastSequence.
func Create(dir string, sampleRate int) (*Writer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("capture: directory is empty")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("capture: invalid sample rate %d", sampleRate)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: ensure dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", dir, err)
	}
	w := &Writer{db: db, dir: dir, rate: sampleRate, keys: make(map[string]struct{})}

	meta, err := readMeta(db)
	switch {
	case errors.Is(err, errNotArchive):
		if err := w.writeHeader(); err != nil {
			_ = db.Close()
			return nil, err
		}
	case err != nil:
		_ = db.Close()
		return nil, err
	default:
		if meta.rate != sampleRate {
			_ = db.Close()
			return nil, fmt.Errorf("capture: %s was recorded at %d Hz, not %d Hz", dir, meta.rate, sampleRate)
		}
		for _, k := range meta.keys {
			w.keys[k] = struct{}{}
		}
		next, err := lastSequence(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		w.next = next
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	batch := w.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte(metaVersion), []byte(strconv.Itoa(archiveVersion)), nil); err != nil {
		return fmt.Errorf("capture: header: %w", err)
	}
	if err := batch.Set([]byte(metaRate), []byte(strconv.Itoa(w.rate)), nil); err != nil {
		return fmt.Errorf("capture: header: %w", err)
	}
	started := time.Now().UTC().Format(time.RFC3339)
	if err := batch.Set([]byte(metaStartedAt), []byte(started), nil); err != nil {
		return fmt.Errorf("capture: header: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("capture: header commit: %w", err)
	}
	return nil
}

// Append stores one snapshot as the next sample.
func (w *Writer) Append(s telemetry.Snapshot) error {
	if w == nil {
		return nil
	}
	payload, err := json.Marshal(s.Map())
	if err != nil {
		return fmt.Errorf("capture: encode sample: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return errors.New("capture: writer is closed")
	}
	if err := w.db.Set(sampleKey(w.next), payload, pebble.NoSync); err != nil {
		return fmt.Errorf("capture: append %d: %w", w.next, err)
	}
	w.next++
	for _, k := range s.Keys() {
		if _, ok := w.keys[k]; !ok {
			w.keys[k] = struct{}{}
			w.dirty = true
		}
	}
	return nil
}

// Count returns the number of samples in the archive.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Dir returns the archive directory.
func (w *Writer) Dir() string { return w.dir }

// Close persists the key list and closes the archive.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	var firstErr error
	if w.dirty {
		keys := make([]string, 0, len(w.keys))
		for k := range w.keys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := w.db.Set([]byte(metaKeys), []byte(strings.Join(keys, ",")), pebble.Sync); err != nil {
			firstErr = fmt.Errorf("capture: write keys: %w", err)
		}
	}
	if err := w.db.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("capture: flush: %w", err)
	}
	if err := w.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	w.db = nil
	return firstErr
}

func sampleKey(seq uint64) []byte {
	key := make([]byte, len(samplePrefix)+8)
	copy(key, samplePrefix)
	binary.BigEndian.PutUint64(key[len(samplePrefix):], seq)
	return key
}

func sampleIterOptions() *pebble.IterOptions {
	lower := []byte(samplePrefix)
	upper := []byte(samplePrefix)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}

func lastSequence(db *pebble.DB) (uint64, error) {
	iter, err := db.NewIter(sampleIterOptions())
	if err != nil {
		return 0, fmt.Errorf("capture: iterator: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	key := iter.Key()
	if len(key) != len(samplePrefix)+8 {
		return 0, fmt.Errorf("capture: malformed sample key %q", key)
	}
	return binary.BigEndian.Uint64(key[len(samplePrefix):]) + 1, nil
}

type archiveMeta struct {
	version   int
	rate      int
	keys      []string
	startedAt time.Time
}

func readMeta(db *pebble.DB) (archiveMeta, error) {
	var meta archiveMeta
	raw, err := getString(db, metaVersion)
	if errors.Is(err, pebble.ErrNotFound) {
		return meta, errNotArchive
	}
	if err != nil {
		return meta, fmt.Errorf("capture: read version: %w", err)
	}
	if meta.version, err = strconv.Atoi(raw); err != nil || meta.version != archiveVersion {
		return meta, fmt.Errorf("capture: unsupported archive version %q", raw)
	}
	raw, err = getString(db, metaRate)
	if err != nil {
		return meta, fmt.Errorf("capture: read rate: %w", err)
	}
	if meta.rate, err = strconv.Atoi(raw); err != nil || meta.rate <= 0 {
		return meta, fmt.Errorf("capture: invalid rate %q", raw)
	}
	if raw, err = getString(db, metaKeys); err == nil && raw != "" {
		meta.keys = strings.Split(raw, ",")
	}
	if raw, err = getString(db, metaStartedAt); err == nil {
		meta.startedAt, _ = time.Parse(time.RFC3339, raw)
	}
	return meta, nil
}

func getString(db *pebble.DB, key string) (string, error) {
	value, closer, err := db.Get([]byte(key))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(value), nil
}

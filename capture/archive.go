package capture

import (
	"fmt"
	"math"
	"sort"
	"time"

	"laplogger/source"
	"laplogger/telemetry"

	"github.com/cockroachdb/pebble"
)

// Archive is a capture loaded for replay. Samples are expanded to the
// recording native rate so playback steps match CSV recordings.
type Archive struct {
	dir       string
	rate      int
	startedAt time.Time
	samples   int
	keys      []string
	series    map[string][]telemetry.Value
}

// Purpose: Load a capture archive for replay.
// Key aspects: Opens Pebble read-only and closes it once the samples are in
// memory; each captured sample repeats round(NativeRate/rate) times. Rows
// from an archive whose writer never closed are still readable.
// Upstream: replay.Open for directories.
// Downstream: pebble.Open, readMeta, json decode.
func Open(dir string) (*Archive, error) {
	db, err := pebble.Open(dir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", dir, err)
	}
	defer db.Close()

	meta, err := readMeta(db)
	if err != nil {
		return nil, fmt.Errorf("capture: %s: %w", dir, err)
	}
	repeat := int(math.Round(float64(source.NativeRate) / float64(meta.rate)))
	if repeat < 1 {
		repeat = 1
	}

	iter, err := db.NewIter(sampleIterOptions())
	if err != nil {
		return nil, fmt.Errorf("capture: iterator: %w", err)
	}
	defer iter.Close()

	var rows []map[string]any
	keySet := make(map[string]struct{}, len(meta.keys))
	for _, k := range meta.keys {
		keySet[k] = struct{}{}
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var row map[string]any
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return nil, fmt.Errorf("capture: decode sample %x: %w", iter.Key(), err)
		}
		for k := range row {
			keySet[k] = struct{}{}
		}
		rows = append(rows, row)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("capture: iterate: %w", err)
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	series := make(map[string][]telemetry.Value, len(keys))
	for _, k := range keys {
		seq := make([]telemetry.Value, 0, len(rows)*repeat)
		for _, row := range rows {
			v := telemetry.FromAny(row[k])
			for i := 0; i < repeat; i++ {
				seq = append(seq, v)
			}
		}
		series[k] = seq
	}
	return &Archive{
		dir:       dir,
		rate:      meta.rate,
		startedAt: meta.startedAt,
		samples:   len(rows),
		keys:      keys,
		series:    series,
	}, nil
}

// Keys lists every field seen in the archive.
func (a *Archive) Keys() []string { return append([]string(nil), a.keys...) }

// Values returns the native-rate sequence for key.
func (a *Archive) Values(key string) ([]telemetry.Value, bool) {
	seq, ok := a.series[key]
	return seq, ok
}

// Rate is the sample rate the archive was captured at.
func (a *Archive) Rate() int { return a.rate }

// Samples is the number of captured (not expanded) samples.
func (a *Archive) Samples() int { return a.samples }

// StartedAt is when the archive was created.
func (a *Archive) StartedAt() time.Time { return a.startedAt }

// Close drops the loaded samples; the database is already closed.
func (a *Archive) Close() error {
	a.series = nil
	return nil
}

// Package replay loads recordings (CSV files or capture archives) for the
// replay source and exports them back to CSV.
package replay

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"laplogger/telemetry"
)

// CSVRecording is a recording held in memory after parsing a CSV file. The
// header row names the fields; each following row is one sample at the
// native recording rate.
type CSVRecording struct {
	keys   []string
	series map[string][]telemetry.Value
}

// Purpose: Load a CSV recording from disk.
// Key aspects: Blank lines and lines starting with '#' are skipped; short
// rows read as absent for their missing cells.
// Upstream: Open for *.csv paths.
// Downstream: parseCSV.
func OpenCSV(path string) (*CSVRecording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open csv: %w", err)
	}
	defer f.Close()
	rec, err := parseCSV(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("replay: %s: %w", path, err)
	}
	return rec, nil
}

func parseCSV(r io.Reader) (*CSVRecording, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var header []string
	rec := &CSVRecording{series: make(map[string][]telemetry.Value)}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if header == nil {
			header = make([]string, 0, len(row))
			seen := make(map[string]struct{}, len(row))
			for _, cell := range row {
				key := strings.TrimSpace(cell)
				if key == "" {
					return nil, errors.New("parse csv: empty column name in header")
				}
				if _, dup := seen[key]; dup {
					return nil, fmt.Errorf("parse csv: duplicate column %q", key)
				}
				seen[key] = struct{}{}
				header = append(header, key)
			}
			continue
		}
		for i, key := range header {
			v := telemetry.Absent()
			if i < len(row) {
				v = telemetry.ParseCell(row[i])
			}
			rec.series[key] = append(rec.series[key], v)
		}
	}
	if header == nil {
		return nil, errors.New("parse csv: missing header row")
	}
	rec.keys = header
	return rec, nil
}

// Keys returns the header columns in file order.
func (c *CSVRecording) Keys() []string { return append([]string(nil), c.keys...) }

// Values returns the column for key.
func (c *CSVRecording) Values(key string) ([]telemetry.Value, bool) {
	seq, ok := c.series[key]
	return seq, ok
}

// Close drops the parsed columns.
func (c *CSVRecording) Close() error {
	c.series = nil
	return nil
}

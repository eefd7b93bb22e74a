package replay

import (
	"encoding/csv"
	"fmt"
	"io"

	"laplogger/source"
)

// Purpose: Write a recording as CSV.
// Key aspects: Columns follow Keys order; rows run to the longest column,
// with absent cells left empty. The output parses back with OpenCSV.
// Upstream: cmd/capturedump.
// Downstream: csv.Writer.
func WriteCSV(w io.Writer, rec source.Recording) (int, error) {
	keys := rec.Keys()
	cols := make([][]string, len(keys))
	rows := 0
	for i, key := range keys {
		vals, _ := rec.Values(key)
		col := make([]string, len(vals))
		for j, v := range vals {
			col[j] = v.String()
		}
		cols[i] = col
		if len(col) > rows {
			rows = len(col)
		}
	}

	out := csv.NewWriter(w)
	if err := out.Write(keys); err != nil {
		return 0, fmt.Errorf("replay: write header: %w", err)
	}
	row := make([]string, len(keys))
	for r := 0; r < rows; r++ {
		for i, col := range cols {
			row[i] = ""
			if r < len(col) {
				row[i] = col[r]
			}
		}
		if err := out.Write(row); err != nil {
			return r, fmt.Errorf("replay: write row %d: %w", r, err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return rows, fmt.Errorf("replay: flush: %w", err)
	}
	return rows, nil
}

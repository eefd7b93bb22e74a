package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"laplogger/capture"
	"laplogger/source"
)

// Purpose: Open any supported recording by path.
// Key aspects: Directories are capture archives; files must carry a .csv
// extension. Matches source.Opener so the replay source can call it lazily.
// Upstream: source.ReplaySource.Startup, cmd/capturedump.
// Downstream: capture.Open, OpenCSV.
func Open(path string) (source.Recording, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if info.IsDir() {
		a, err := capture.Open(path)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		c, err := OpenCSV(path)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("replay: unsupported recording %s (expected .csv or a capture directory)", path)
	}
}

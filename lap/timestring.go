package lap

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"laplogger/telemetry"
)

// NoData is rendered for lap times that are absent, negative or not numeric.
const NoData = "No data"

// TimeString renders a lap-time sample as MM:SS.CC.
func TimeString(v telemetry.Value) string {
	if v.Kind() != telemetry.KindNumber {
		return NoData
	}
	f, ok := v.Float()
	if !ok {
		return NoData
	}
	return SecondsString(f)
}

// Purpose: Format a duration in seconds as MM:SS.CC.
// Key aspects: Negative, NaN and Inf inputs return NoData; hundredths are
// rounded and clamped to 99 so the field never overflows into seconds.
// Upstream: TimeString, Record.Line, Summary.Lines.
// Downstream: fmt.Sprintf.
func SecondsString(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return NoData
	}
	mins := int(seconds / 60)
	secs := int(seconds - float64(mins*60))
	if secs > 59 {
		secs = 59
	}
	frac := seconds - float64(mins*60) - float64(secs)
	hundredths := int(math.Round(frac * 100))
	if hundredths > 99 {
		hundredths = 99
	}
	if hundredths < 0 {
		hundredths = 0
	}
	return fmt.Sprintf("%02d:%02d.%02d", mins, secs, hundredths)
}

// ParseTimeString reverses SecondsString.
func ParseTimeString(s string) (float64, error) {
	if s == NoData {
		return 0, fmt.Errorf("lap: %q carries no time", s)
	}
	minPart, rest, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("lap: malformed time %q", s)
	}
	secPart, centPart, ok := strings.Cut(rest, ".")
	if !ok || len(secPart) != 2 || len(centPart) != 2 {
		return 0, fmt.Errorf("lap: malformed time %q", s)
	}
	mins, err := strconv.Atoi(minPart)
	if err != nil {
		return 0, fmt.Errorf("lap: minutes in %q: %w", s, err)
	}
	secs, err := strconv.Atoi(secPart)
	if err != nil || secs > 59 {
		return 0, fmt.Errorf("lap: seconds in %q out of range", s)
	}
	cents, err := strconv.Atoi(centPart)
	if err != nil {
		return 0, fmt.Errorf("lap: hundredths in %q: %w", s, err)
	}
	return float64(mins*60+secs) + float64(cents)/100, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Litres renders a two-decimal fuel amount, always with at least one decimal.
func Litres(f float64) string {
	s := strconv.FormatFloat(round2(f), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "L"
}

func seconds2(f float64) string {
	s := strconv.FormatFloat(round2(f), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

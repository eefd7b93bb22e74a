package lap

import (
	"fmt"
	"math"
)

// NoSummaryLine is shown when a session produced no usable laps.
const NoSummaryLine = "No summary data"

// Summary aggregates the timed laps of one session (out lap excluded).
type Summary struct {
	Laps         int
	Fastest      float64
	Slowest      float64
	Mean         float64
	FastestDelta float64
	SlowestDelta float64
	FuelTotal    float64
	FuelMean     float64
	FuelMin      float64
	FuelMax      float64
}

// Purpose: Aggregate finalized records into a session summary.
// Key aspects: Only Finalized records with SessionLap > 0 count; returns
// ok=false when nothing qualifies instead of failing.
// Upstream: sampler.Runner on deactivation.
// Downstream: None.
func Summarize(records []Record) (Summary, bool) {
	var s Summary
	var timeSum float64
	for _, r := range records {
		if !r.Finalized || r.OutLap() || !r.HasLapTime {
			continue
		}
		if s.Laps == 0 {
			s.Fastest, s.Slowest = r.LapTime, r.LapTime
			s.FuelMin, s.FuelMax = r.FuelUsed, r.FuelUsed
		}
		s.Laps++
		timeSum += r.LapTime
		s.Fastest = math.Min(s.Fastest, r.LapTime)
		s.Slowest = math.Max(s.Slowest, r.LapTime)
		s.FuelTotal += r.FuelUsed
		s.FuelMin = math.Min(s.FuelMin, r.FuelUsed)
		s.FuelMax = math.Max(s.FuelMax, r.FuelUsed)
	}
	if s.Laps == 0 {
		return Summary{}, false
	}
	n := float64(s.Laps)
	s.Mean = timeSum / n
	s.FastestDelta = math.Abs(s.Fastest - s.Mean)
	s.SlowestDelta = math.Abs(s.Slowest - s.Mean)
	s.FuelMean = s.FuelTotal / n
	return s, true
}

// Lines renders the summary for console output, two decimals throughout.
func (s Summary) Lines() []string {
	return []string{
		fmt.Sprintf("%d Laps completed:", s.Laps),
		fmt.Sprintf("\tAverage time: %s", SecondsString(s.Mean)),
		fmt.Sprintf("\tFastest time: %s (-%ss to average)", SecondsString(s.Fastest), seconds2(s.FastestDelta)),
		fmt.Sprintf("\tSlowest time: %s (+%ss to average)", SecondsString(s.Slowest), seconds2(s.SlowestDelta)),
		"\t\t(exc. out lap)",
		"",
		fmt.Sprintf("%s of fuel used:", Litres(s.FuelTotal)),
		fmt.Sprintf("\tAverage: %s / lap", Litres(s.FuelMean)),
		fmt.Sprintf("\tMinimum: %s / lap", Litres(s.FuelMin)),
		fmt.Sprintf("\tMaximum: %s / lap", Litres(s.FuelMax)),
		"\t\t(exc. out lap)",
	}
}

// Rounded returns a copy with every field rounded to two decimals, as
// persisted by the recorder.
func (s Summary) Rounded() Summary {
	return Summary{
		Laps:         s.Laps,
		Fastest:      round2(s.Fastest),
		Slowest:      round2(s.Slowest),
		Mean:         round2(s.Mean),
		FastestDelta: round2(s.FastestDelta),
		SlowestDelta: round2(s.SlowestDelta),
		FuelTotal:    round2(s.FuelTotal),
		FuelMean:     round2(s.FuelMean),
		FuelMin:      round2(s.FuelMin),
		FuelMax:      round2(s.FuelMax),
	}
}

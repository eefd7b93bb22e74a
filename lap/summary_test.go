package lap

import "testing"

func TestSummarizeExcludesOutLap(t *testing.T) {
	records := []Record{
		{SessionLap: 0, LapTime: 70, HasLapTime: true, FuelUsed: 6, Finalized: true},
		{SessionLap: 1, LapTime: 80, HasLapTime: true, FuelUsed: 5, Finalized: true},
		{SessionLap: 2, LapTime: 90, HasLapTime: true, FuelUsed: 4.5, Finalized: true},
	}
	sum, ok := Summarize(records)
	if !ok {
		t.Fatalf("expected summary")
	}
	if sum.Laps != 2 {
		t.Fatalf("expected 2 laps, got %d", sum.Laps)
	}
	if sum.Fastest != 80 || sum.Slowest != 90 || sum.Mean != 85 {
		t.Fatalf("unexpected times: fastest=%v slowest=%v mean=%v", sum.Fastest, sum.Slowest, sum.Mean)
	}
	if sum.FastestDelta != 5 || sum.SlowestDelta != 5 {
		t.Fatalf("unexpected deltas: %v / %v", sum.FastestDelta, sum.SlowestDelta)
	}
	if sum.FuelTotal != 9.5 || sum.FuelMean != 4.75 || sum.FuelMin != 4.5 || sum.FuelMax != 5 {
		t.Fatalf("unexpected fuel: %+v", sum)
	}
}

func TestSummarizeNoData(t *testing.T) {
	if _, ok := Summarize(nil); ok {
		t.Fatalf("expected no summary for empty input")
	}
	unfinalized := []Record{
		{SessionLap: 0, LapTime: 70, HasLapTime: true, Finalized: true},
		{SessionLap: 1},
		{SessionLap: 2, Trigger: TriggerTimeout},
	}
	if _, ok := Summarize(unfinalized); ok {
		t.Fatalf("expected no summary when only the out lap is finalized")
	}
}

func TestSummaryLines(t *testing.T) {
	sum, ok := Summarize([]Record{
		{SessionLap: 1, LapTime: 80, HasLapTime: true, FuelUsed: 5, Finalized: true},
		{SessionLap: 2, LapTime: 90, HasLapTime: true, FuelUsed: 4.5, Finalized: true},
	})
	if !ok {
		t.Fatalf("expected summary")
	}
	lines := sum.Lines()
	want := map[int]string{
		0: "2 Laps completed:",
		1: "\tAverage time: 01:25.00",
		2: "\tFastest time: 01:20.00 (-5.0s to average)",
		3: "\tSlowest time: 01:30.00 (+5.0s to average)",
		6: "9.5L of fuel used:",
		7: "\tAverage: 4.75L / lap",
		8: "\tMinimum: 4.5L / lap",
		9: "\tMaximum: 5.0L / lap",
	}
	for idx, line := range want {
		if lines[idx] != line {
			t.Fatalf("line %d: expected %q, got %q", idx, line, lines[idx])
		}
	}
}

func TestSummaryRounded(t *testing.T) {
	sum := Summary{Laps: 3, Mean: 83.3333333, FuelMean: 4.6666666}
	r := sum.Rounded()
	if r.Mean != 83.33 || r.FuelMean != 4.67 || r.Laps != 3 {
		t.Fatalf("unexpected rounding: %+v", r)
	}
}

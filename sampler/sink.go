package sampler

import (
	"laplogger/lap"
	"laplogger/telemetry"
)

// Sink receives the runner's user-visible events. Implementations format or
// persist them; the runner itself never writes to a terminal or file.
type Sink interface {
	Connected(source string)
	Disconnected(source string)
	Activated(start telemetry.Snapshot)
	Deactivated()
	LapFinalized(rec lap.Record)
	// Summary is called at the end of a session that recorded laps; ok=false
	// means no lap qualified for the summary.
	Summary(sum lap.Summary, ok bool)
}

// Sinks fans every event out to each sink in order.
type Sinks []Sink

func (s Sinks) Connected(src string) {
	for _, sink := range s {
		sink.Connected(src)
	}
}

func (s Sinks) Disconnected(src string) {
	for _, sink := range s {
		sink.Disconnected(src)
	}
}

func (s Sinks) Activated(start telemetry.Snapshot) {
	for _, sink := range s {
		sink.Activated(start)
	}
}

func (s Sinks) Deactivated() {
	for _, sink := range s {
		sink.Deactivated()
	}
}

func (s Sinks) LapFinalized(rec lap.Record) {
	for _, sink := range s {
		sink.LapFinalized(rec)
	}
}

func (s Sinks) Summary(sum lap.Summary, ok bool) {
	for _, sink := range s {
		sink.Summary(sum, ok)
	}
}

package main

import (
	"fmt"
	"io"
	"strings"

	"laplogger/lap"
	"laplogger/telemetry"
)

// consoleSink prints session events for the driver. Every printed line is
// also mirrored to the log file so a stint can be reviewed later.
type consoleSink struct {
	w      io.Writer
	name   string
	replay bool
	mirror func(string)
}

func newConsoleSink(w io.Writer, name string, replay bool, mirror func(string)) *consoleSink {
	return &consoleSink{w: w, name: name, replay: replay, mirror: mirror}
}

func (c *consoleSink) println(lines ...string) {
	for _, line := range lines {
		_, _ = io.WriteString(c.w, line+"\n")
		if c.mirror != nil && strings.TrimSpace(line) != "" {
			c.mirror(strings.TrimRight(line, " "))
		}
	}
}

func (c *consoleSink) Connected(src string) {
	if c.replay {
		c.println("", fmt.Sprintf("%s processing %s, connected....", c.name, src))
		return
	}
	c.println("", fmt.Sprintf("%s connected to sim....", c.name))
}

func (c *consoleSink) Disconnected(src string) {
	if c.replay {
		c.println("", fmt.Sprintf("%s completed processing of %s, disconnected....", c.name, src))
		return
	}
	c.println("", fmt.Sprintf("%s disconnected from sim....", c.name))
}

func (c *consoleSink) Activated(start telemetry.Snapshot) {
	fuel := lap.NoData
	if f, ok := start.Get(telemetry.KeyFuelLevel).Float(); ok {
		fuel = lap.Litres(f)
	}
	c.println("", fmt.Sprintf("Starting fuel %s, Logging lap data....", fuel), "")
}

func (c *consoleSink) Deactivated() {}

func (c *consoleSink) LapFinalized(rec lap.Record) {
	c.println(rec.Line())
}

func (c *consoleSink) Summary(sum lap.Summary, ok bool) {
	if !ok {
		c.println("", lap.NoSummaryLine, "")
		return
	}
	c.println("")
	c.println(sum.Lines()...)
	c.println("")
}

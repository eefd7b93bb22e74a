// Command capturedump exports a recording (capture archive or CSV) to CSV and
// prints its fingerprint.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"laplogger/replay"

	"github.com/dustin/go-humanize"
)

func main() {
	var (
		inPath  = flag.String("in", "", "Capture directory or CSV recording to read")
		outPath = flag.String("out", "", "Destination CSV file (default stdout)")
	)
	flag.Parse()
	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	rec, err := replay.Open(*inPath)
	if err != nil {
		log.Fatalf("failed to open recording: %v", err)
	}
	defer rec.Close()

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *outPath, err)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	rows, err := replay.WriteCSV(w, rec)
	if err != nil {
		log.Fatalf("failed to export: %v", err)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("failed to flush: %v", err)
	}

	fp := replay.FormatFingerprint(replay.Fingerprint(rec))
	if *outPath != "" {
		fmt.Fprintf(os.Stdout, "Wrote %s samples to %s (fingerprint %s)\n", humanize.Comma(int64(rows)), *outPath, fp)
	} else {
		fmt.Fprintf(os.Stderr, "%s samples, fingerprint %s\n", humanize.Comma(int64(rows)), fp)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"laplogger/capture"
	"laplogger/config"
	"laplogger/lap"
	"laplogger/livefeed"
	"laplogger/recorder"
	"laplogger/replay"
	"laplogger/sampler"
	"laplogger/source"
	"laplogger/stats"
	"laplogger/telemetry"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// Version will be set at build time
var Version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Error: %v", err)
	}
}

type options struct {
	replayPath string
	realTime   bool
	history    int
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("laplogger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.replayPath, "replay", "", "replay a recording (CSV file or capture directory) instead of the live feed")
	fs.BoolVar(&opts.realTime, "realtime", false, "pace replay at the recording's real speed")
	fs.IntVar(&opts.history, "history", 0, "print the N most recent stored sessions and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// applyOverrides layers command line flags over the loaded configuration.
func applyOverrides(cfg *config.Config, opts options) {
	if opts.replayPath != "" {
		cfg.Source.Mode = config.ModeReplay
		cfg.Replay.Path = opts.replayPath
	}
	if opts.realTime {
		cfg.Replay.RealTime = true
	}
}

// Purpose: Wire configuration, source, detector and sinks, then run the
// control loop until ctx ends or a replay is exhausted.
// Key aspects: Logs go to stderr (and the daily file); the lap sheet goes to
// stdout. Teardown closes capture, recorder and log file in that order.
// Upstream: main, tests.
// Downstream: loadConfig, buildSource, sampler.Runner.Run.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, configSource, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyOverrides(cfg, opts)

	fanout, logErr := setupLogging(cfg.Logging, stderr, isTerminal(stderr))
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Logging: file logging disabled: %v", logErr)
	}
	log.Printf("Loaded configuration from %s", configSource)

	if opts.history > 0 {
		return printHistory(cfg, opts.history, stdout)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Fprintf(stdout, "%s version %s starting....\n", cfg.Logger.Name, Version)
	fanout.WriteFileOnlyLine(fmt.Sprintf("%s version %s starting", cfg.Logger.Name, Version))

	det := lap.NewDetector(cfg.Logger.SampleRate, cfg.MaxCollectWait())
	src, err := buildSource(cfg, det.Keys())
	if err != nil {
		return err
	}

	replayMode := cfg.Source.Mode == config.ModeReplay
	sinks := sampler.Sinks{newConsoleSink(stdout, cfg.Logger.Name, replayMode, fanout.WriteFileOnlyLine)}

	if cfg.Recorder.Enabled {
		rec, err := recorder.Open(cfg.Recorder.DBPath, cfg.PreflightTimeout())
		if err != nil {
			log.Printf("Recorder: disabled: %v", err)
		} else {
			defer rec.Close()
			if replayMode {
				if fp, err := replay.FingerprintPath(cfg.Replay.Path); err == nil {
					rec.SetFingerprint(fp)
				} else {
					log.Printf("Recorder: no fingerprint for %s: %v", cfg.Replay.Path, err)
				}
			}
			sinks = append(sinks, rec)
			log.Printf("Recorder: storing laps in %s", cfg.Recorder.DBPath)
		}
	}

	tracker := stats.NewTracker()
	runner := sampler.NewRunner(src, det, sinks, tracker, sampler.Options{
		SampleRate:    cfg.Logger.SampleRate,
		Settle:        cfg.Settle(),
		RetryInterval: cfg.RetryInterval(),
	})

	if cfg.Capture.Enabled {
		if replayMode {
			log.Printf("Capture: skipped while replaying")
		} else if w, err := startCapture(cfg, runner.Sampler()); err != nil {
			log.Printf("Capture: disabled: %v", err)
		} else {
			defer func() {
				count := w.Count()
				if err := w.Close(); err != nil {
					log.Printf("Capture: close failed: %v", err)
				}
				log.Printf("Capture: %s samples saved to %s", humanize.Comma(int64(count)), w.Dir())
			}()
		}
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	if interval := time.Duration(cfg.Stats.DisplayIntervalSeconds) * time.Second; interval > 0 {
		go displayStats(statsCtx, interval, tracker, fanout)
	}

	err = runner.Run(ctx)
	for _, line := range tracker.SnapshotLines() {
		fanout.WriteFileOnlyLine(line)
	}
	fmt.Fprintln(stdout, "Shutting down")
	return err
}

// Purpose: Load configuration from env/default locations.
// Key aspects: Tries the env override first, then the default config dir.
// Upstream: run.
// Downstream: config.Load and os.IsNotExist.
func loadConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, config.DefaultConfigDir)

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	return nil, "", fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

// buildSource returns the replay or live source selected by cfg.
func buildSource(cfg *config.Config, keys []string) (source.Source, error) {
	switch cfg.Source.Mode {
	case config.ModeReplay:
		return source.NewReplaySource(cfg.Replay.Path, keys, cfg.Logger.SampleRate, cfg.Replay.RealTime, replay.Open), nil
	case config.ModeLive:
		feed := livefeed.NewClient(livefeed.Config{
			Broker:         cfg.Live.Broker,
			Port:           cfg.Live.Port,
			Topic:          cfg.Live.Topic,
			ClientID:       cfg.Live.ClientID,
			ConnectTimeout: cfg.ConnectTimeout(),
			StaleAfter:     cfg.StaleAfter(),
		})
		name := fmt.Sprintf("%s:%d", cfg.Live.Broker, cfg.Live.Port)
		return source.NewLiveSource(name, feed, keys), nil
	default:
		return nil, fmt.Errorf("unknown source mode %q", cfg.Source.Mode)
	}
}

// startCapture archives every live sample under a timestamped directory.
func startCapture(cfg *config.Config, s *sampler.Sampler) (*capture.Writer, error) {
	dir := filepath.Join(cfg.Capture.Dir, time.Now().UTC().Format("20060102T150405Z"))
	w, err := capture.Create(dir, cfg.Logger.SampleRate)
	if err != nil {
		return nil, err
	}
	var warned bool
	s.SetTap(func(snap telemetry.Snapshot) {
		if err := w.Append(snap); err != nil && !warned {
			warned = true
			log.Printf("Capture: append failed: %v", err)
		}
	})
	log.Printf("Capture: recording live samples to %s", dir)
	return w, nil
}

// Purpose: Periodically write runner counters to the log file.
// Key aspects: File only, so the lap sheet on the console stays clean.
// Upstream: run.
// Downstream: stats.Tracker.SnapshotLines, logFanout.WriteFileOnlyLine.
func displayStats(ctx context.Context, interval time.Duration, tracker *stats.Tracker, fanout *logFanout) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, line := range tracker.SnapshotLines() {
				fanout.WriteFileOnlyLine(line)
			}
		}
	}
}

// printHistory lists stored sessions, newest first.
func printHistory(cfg *config.Config, limit int, stdout io.Writer) error {
	rec, err := recorder.Open(cfg.Recorder.DBPath, cfg.PreflightTimeout())
	if err != nil {
		return err
	}
	defer rec.Close()
	sessions, err := rec.Sessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No stored sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(stdout, "%s  %s  %s\n", s.StartedAt.Local().Format("2006-01-02 15:04"), s.Source, s.ID)
		if !s.HasSummary {
			fmt.Fprintf(stdout, "\t%s\n", lap.NoSummaryLine)
			continue
		}
		fmt.Fprintf(stdout, "\t%d laps, average %s, fastest %s, %s / lap\n",
			s.Summary.Laps,
			lap.SecondsString(s.Summary.Mean),
			lap.SecondsString(s.Summary.Fastest),
			lap.Litres(s.Summary.FuelMean))
	}
	return nil
}

// Purpose: Report whether w is an interactive terminal.
// Key aspects: Only *os.File writers can be terminals.
// Upstream: run (console timestamp gating).
// Downstream: term.IsTerminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atmosphericc/stockwatch/config"
	"github.com/atmosphericc/stockwatch/events"
	"github.com/atmosphericc/stockwatch/models"
	"github.com/atmosphericc/stockwatch/purchase"
	"github.com/atmosphericc/stockwatch/stock"
	"github.com/atmosphericc/stockwatch/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	tcinsDefault := ""
	if value, ok := config.EnvString("STOCKWATCH_TCINS"); ok {
		tcinsDefault = value
	}
	metricsDefault := ""
	if value, ok := config.EnvString("STOCKWATCH_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	stateDefault := config.DefaultConfig().StateFile
	if value, ok := config.EnvString("STOCKWATCH_STATE_FILE"); ok {
		stateDefault = value
	}
	maxConcurrentDefault := 0
	if value, ok, err := config.EnvInt("STOCKWATCH_MAX_CONCURRENT"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	} else if ok {
		maxConcurrentDefault = value
	}
	verboseDefault := false
	if value, ok, err := config.EnvBool("STOCKWATCH_VERBOSE"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	} else if ok {
		verboseDefault = value
	}

	configPath := flag.String("config", "", "Path to YAML configuration file")
	tcins := flag.String("tcins", tcinsDefault, "Comma-separated TCINs to monitor")
	source := flag.String("source", "", "Availability source: api or site")
	pollSeconds := flag.Float64("poll-interval", 0, "Poll interval in seconds (0 = configured default)")
	stateFile := flag.String("state-file", stateDefault, "Purchase state file path")
	maxConcurrent := flag.Int("max-concurrent", maxConcurrentDefault, "Max concurrent purchase attempts (0 = configured default)")
	cooldownSeconds := flag.Float64("cooldown", -1, "Fixed cooldown in seconds (-1 = configured default)")
	windowSeconds := flag.Float64("window", -1, "Window-aligned reset cadence in seconds (-1 = configured default)")
	eventsFile := flag.String("events", "", "Transition log path")
	eventsFormat := flag.String("format", "", "Transition log format: jsonl, csv, or dual")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Metrics/status listen address (e.g. :9090)")
	verbose := flag.Bool("v", verboseDefault, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFile(*configPath, cfg); err != nil {
			slog.Error("loading configuration file", slog.Any("error", err))
			os.Exit(1)
		}
	}
	applyFlags(cfg, *tcins, *source, *pollSeconds, *stateFile, *maxConcurrent, *cooldownSeconds, *windowSeconds, *eventsFile, *eventsFormat, *metricsAddr, *verbose)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting stock monitor",
		slog.Int("tcins", len(cfg.TCINs)),
		slog.String("source", cfg.Source),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("max_concurrent_attempts", cfg.MaxConcurrentAttempts),
	)

	src, srcMetrics, err := newSource(cfg)
	if err != nil {
		slog.Error("initialising stock source", slog.Any("error", err))
		os.Exit(1)
	}

	st := store.NewFileStore(cfg.StateFile, cfg.LockFile, cfg.LockTimeout, cfg.LockRetries)
	coordMetrics := purchase.NewMetrics()
	coordinator := purchase.New(cfg, st, coordMetrics)

	writer, err := events.NewWriter(cfg.EventsFormat, cfg.EventsFile)
	if err != nil {
		slog.Error("creating transition log", slog.Any("error", err))
		os.Exit(1)
	}
	recorder := events.NewRecorder(writer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current cycle")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = newMetricsServer(cfg, coordinator, coordMetrics.Registry, srcMetrics.Registry)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	runLoop(ctx, cfg, src, coordinator, recorder)

	if err := recorder.Close(); err != nil {
		slog.Error("transition log shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	snap := coordinator.Snapshot(time.Now())
	printSummary(snap)
}

// runLoop is the external polling driver: one pass per tick, each pass a
// stock check followed by one coordinator tick.
func runLoop(ctx context.Context, cfg *config.Config, src stock.Source, coordinator *purchase.Coordinator, recorder *events.Recorder) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		runCycle(ctx, cfg, src, coordinator, recorder)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runCycle(ctx context.Context, cfg *config.Config, src stock.Source, coordinator *purchase.Coordinator, recorder *events.Recorder) {
	checkCtx, cancel := context.WithTimeout(ctx, cfg.PollInterval)
	defer cancel()

	results, err := src.Check(checkCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("stock check incomplete", slog.Any("error", err))
	}

	availability := make(map[string]purchase.Availability, len(results))
	inStock := 0
	for tcin, result := range results {
		availability[tcin] = purchase.Availability{
			Available: result.Available,
			Title:     result.Title,
		}
		if result.Available {
			inStock++
		}
	}

	transitions, err := coordinator.Tick(availability, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			slog.Warn("tick skipped, state lock busy", slog.Any("error", err))
		} else {
			slog.Error("tick failed", slog.Any("error", err))
		}
		return
	}

	if err := recorder.Record(transitions); err != nil && !errors.Is(err, events.ErrRecorderClosed) {
		slog.Error("recording transitions", slog.Any("error", err))
	}

	slog.Debug("cycle complete",
		slog.Int("observed", len(results)),
		slog.Int("in_stock", inStock),
		slog.Int("transitions", len(transitions)),
	)
}

func newSource(cfg *config.Config) (stock.Source, *stock.Metrics, error) {
	switch cfg.Source {
	case config.SourceSite:
		src, err := stock.NewSiteSource(cfg)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Metrics, nil
	default:
		src, err := stock.NewAPISource(cfg)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Metrics, nil
	}
}

func newMetricsServer(cfg *config.Config, coordinator *purchase.Coordinator, registries ...*prometheus.Registry) *http.Server {
	gatherers := make(prometheus.Gatherers, 0, len(registries))
	for _, reg := range registries {
		gatherers = append(gatherers, reg)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		snap := coordinator.Snapshot(time.Now())
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			slog.Error("encoding status snapshot", slog.Any("error", err))
		}
	})

	return &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}
}

func applyFlags(cfg *config.Config, tcins, source string, pollSeconds float64, stateFile string, maxConcurrent int, cooldownSeconds, windowSeconds float64, eventsFile, eventsFormat, metricsAddr string, verbose bool) {
	if tcins != "" {
		var parsed []string
		for _, raw := range strings.Split(tcins, ",") {
			if trimmed := strings.TrimSpace(raw); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
		cfg.TCINs = parsed
	}
	if source != "" {
		cfg.Source = source
	}
	if pollSeconds > 0 {
		cfg.PollInterval = time.Duration(pollSeconds * float64(time.Second))
	}
	if stateFile != "" {
		cfg.StateFile = stateFile
		if cfg.LockFile == config.DefaultConfig().LockFile {
			cfg.LockFile = stateFile + ".lock"
		}
	}
	if maxConcurrent > 0 {
		cfg.MaxConcurrentAttempts = maxConcurrent
	}
	// Selecting one policy on the command line deselects the other's
	// default. Giving both flags leaves both values set, so Validate's
	// mutual-exclusion rule rejects the conflict instead of letting flag
	// order decide.
	if cooldownSeconds >= 0 {
		cfg.Cooldown = time.Duration(cooldownSeconds * float64(time.Second))
		if windowSeconds < 0 {
			cfg.Window = 0
		}
	}
	if windowSeconds >= 0 {
		cfg.Window = time.Duration(windowSeconds * float64(time.Second))
		if cooldownSeconds < 0 {
			cfg.Cooldown = 0
		}
	}
	if eventsFile != "" {
		cfg.EventsFile = eventsFile
	}
	if eventsFormat != "" {
		cfg.EventsFormat = eventsFormat
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if verbose {
		cfg.Verbose = true
	}
}

func printSummary(snap models.Snapshot) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Monitor stopped")
	fmt.Printf("  Tracked items: %d\n", len(snap.Records))
	fmt.Printf("  Ready:         %d\n", snap.Ready)
	fmt.Printf("  Attempting:    %d\n", snap.Attempting)
	fmt.Printf("  Purchased:     %d\n", snap.Purchased)
	fmt.Printf("  Failed:        %d\n", snap.Failed)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/bikeharvest/internal/adapters/http/api"
	app "github.com/okian/bikeharvest/internal/app"
	"github.com/okian/bikeharvest/internal/config"
	"github.com/okian/bikeharvest/pkg/logger"
	"github.com/okian/bikeharvest/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

// Exit codes.
const (
	exitOK    = 0
	exitSetup = 1
	exitUsage = 2
)

// cliOptions are the command-line flags.
type cliOptions struct {
	limit    int
	force    bool
	noOutput bool
	catalog  string
	live     bool
	workers  int
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var o cliOptions
	fs := flag.NewFlagSet("bikeharvest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.limit, "limit", 0, "Maximum number of work items (0 means no limit)")
	fs.BoolVar(&o.force, "force", false, "Re-resolve acceptable records even when fresh")
	fs.BoolVar(&o.noOutput, "no-output", false, "Skip the export")
	fs.StringVar(&o.catalog, "catalog", "", "Catalog file (JSON array or JSON lines); overrides catalog_path")
	fs.BoolVar(&o.live, "live", false, "Enable live page fetching")
	fs.IntVar(&o.workers, "workers", 0, "Number of workers (0 uses pipeline.workers)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.limit < 0 || o.workers < 0 {
		return o, errors.New("-limit and -workers must not be negative")
	}
	return o, nil
}

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one harvest. The exit code is non-zero only when setup fails;
// a completed run exits 0 whatever its item outcomes.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stderr, "failed to read .env: "+err.Error())
	}

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		fmt.Fprintln(stderr, "failed to load config: "+err.Error())
		return exitSetup
	}

	if err := logger.InitWithOptions(logger.WithFile(cfg.LogFile), logger.WithJSON(cfg.LogJSON)); err != nil {
		fmt.Fprintln(stderr, "failed to initialize logging: "+err.Error())
		return exitSetup
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	res, err := app.Bootstrap(ctx, cfg, app.BootstrapOptions{CatalogPath: opts.catalog, Live: opts.live})
	if err != nil {
		log.Error(ctx, "setup failed", logger.Error(err))
		return exitSetup
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Error(ctx, "failed to release resources", logger.Error(err))
		}
	}()

	svc := app.New(res.Store, append(res.ServiceOptions(cfg, opts.workers), app.WithLogger(log.Named("service")))...)

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go startSystemMetricsUpdater(metricsCtx)

	if cfg.MetricsAddr != "" {
		srv := startOpsServer(ctx, cfg.MetricsAddr, svc, log)
		defer func() {
			// Graceful shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(ctx, "ops server shutdown failed", logger.Error(err))
			}
		}()
	}

	rep, err := svc.Run(ctx, app.RunOptions{Limit: opts.limit, Force: opts.force, NoOutput: opts.noOutput})
	if err != nil {
		log.Error(ctx, "run could not start", logger.Error(err))
		return exitSetup
	}

	fmt.Fprintln(stdout, rep.Summary())
	for _, f := range rep.ExportFiles {
		fmt.Fprintln(stdout, "  wrote "+f)
	}
	for _, d := range rep.CombinationDuplicates {
		fmt.Fprintf(stdout, "  combination duplicate: %s (%s) shares make/model/year/variant with %s\n", d.Key, d.SyntheticKey, d.Other)
	}
	return exitOK
}

// startOpsServer serves /healthz, /report and /stats on addr.
func startOpsServer(ctx context.Context, addr string, svc *app.Service, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		log.Info(ctx, "starting ops HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "ops HTTP server failed", logger.Error(err))
		}
	}()
	return srv
}

// startSystemMetricsUpdater updates system metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	updateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

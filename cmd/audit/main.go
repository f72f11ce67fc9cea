package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/okian/bikeharvest/internal/adapters/catalog"
	app "github.com/okian/bikeharvest/internal/app"
	"github.com/okian/bikeharvest/internal/audit"
	"github.com/okian/bikeharvest/internal/config"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Exit codes.
const (
	exitOK    = 0
	exitSetup = 1
	exitUsage = 2
)

type cliOptions struct {
	catalog string
	json    bool
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var o cliOptions
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.catalog, "catalog", "", "Catalog file (JSON array or JSON lines); overrides catalog_path")
	fs.BoolVar(&o.json, "json", false, "Print the report as JSON")
	err := fs.Parse(args)
	return o, err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run scores the catalog against the stores and prints the audit. Nothing
// is fetched and nothing is written.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stderr, "failed to read .env: "+err.Error())
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "failed to load config: "+err.Error())
		return exitSetup
	}
	if err := logger.InitWithOptions(logger.WithFile(cfg.LogFile), logger.WithJSON(cfg.LogJSON)); err != nil {
		fmt.Fprintln(stderr, "failed to initialize logging: "+err.Error())
		return exitSetup
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	res, err := app.Bootstrap(ctx, cfg, app.BootstrapOptions{CatalogPath: opts.catalog, SkipLock: true})
	if err != nil {
		log.Error(ctx, "setup failed", logger.Error(err))
		return exitSetup
	}
	defer func() { _ = res.Close() }()

	cat, err := catalog.NewLoader().Load(ctx, res.Catalog)
	if err != nil {
		log.Error(ctx, "failed to load catalog", logger.Error(err))
		return exitSetup
	}

	rep, err := audit.New(audit.WithLogger(log.Named("audit"))).Run(ctx, cat.Entries, res.Store)
	if err != nil {
		log.Error(ctx, "audit failed", logger.Error(err))
		return exitSetup
	}

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			log.Error(ctx, "failed to write report", logger.Error(err))
			return exitSetup
		}
		return exitOK
	}
	if len(cat.Rejected) > 0 {
		fmt.Fprintf(stdout, "rejected catalog entries: %d\n", len(cat.Rejected))
	}
	if err := audit.WriteText(stdout, rep); err != nil {
		log.Error(ctx, "failed to write report", logger.Error(err))
		return exitSetup
	}
	return exitOK
}

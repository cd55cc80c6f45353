package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"launchpad/config"
	"launchpad/observability/logging"
	"launchpad/observability/otel"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "./config.toml", "Path to node configuration file")
	scenarioPath := flag.String("scenario", "", "Path to the YAML launch scenario")
	mirrorDSN := flag.String("mirror", "", "Project events into this read model DSN using the configured mirror driver")
	ledgerPath := flag.String("ledger", "", "Replay into a LevelDB ledger at this path instead of memory")
	flag.Parse()

	if strings.TrimSpace(*scenarioPath) == "" {
		fmt.Fprintln(os.Stderr, "-scenario is required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load scenario: %v\n", err)
		return 1
	}

	// The report owns stdout.
	fileOpts := cfg.Logging.FileOptions()
	fileOpts.Console = os.Stderr
	logger, closer := logging.SetupWithFile(cfg.Logging.Service, cfg.Logging.Env, fileOpts)
	defer closer.Close()

	ctx := context.Background()
	shutdown, err := otel.Init(ctx, cfg.OTel())
	if err != nil {
		logger.Error("failed to start telemetry", "error", err)
		return 1
	}
	defer func() { _ = shutdown(ctx) }()

	report, err := audit(ctx, cfg, sc, options{ledgerPath: *ledgerPath, mirrorDSN: *mirrorDSN}, logger)
	if err != nil {
		logger.Error("audit failed", "error", err)
		return 1
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("failed to encode report", "error", err)
		return 1
	}
	fmt.Println(string(output))
	return 0
}

type options struct {
	ledgerPath string
	mirrorDSN  string
}

// audit replays sc on a scratch ledger and, when a mirror DSN is set,
// projects every step into the read model.
func audit(ctx context.Context, cfg *config.Config, sc *scenario, opts options, logger *slog.Logger) (*auditReport, error) {
	db, err := openLedger(opts.ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	a, err := newAuditor(cfg, db, logger)
	if err != nil {
		return nil, err
	}
	if opts.mirrorDSN != "" {
		if err := a.attachMirror(cfg.Mirror.Driver, opts.mirrorDSN); err != nil {
			return nil, fmt.Errorf("open mirror: %w", err)
		}
	}
	return a.run(ctx, sc)
}

// Entry point for the bubbleads pipeline: stage dispatch, optional web UI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/bubbleads"
	_ "modernc.org/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "bubbleads.yaml", "path to YAML config")
		stage      = flag.String("stage", "run", "stage to execute: trends | uploads | ads | run")
		selectN    = flag.Int("select", 0, "override how many top tags to select")
		dryRun     = flag.Bool("dry-run", false, "log publish payloads without touching the server")
		serve      = flag.Bool("serve", false, "start the web UI instead of running a stage")
		logLevel   = flag.String("log-level", "info", "debug | info | warn | error")
	)
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := bubbleads.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", *configPath, err)
	}
	if *selectN > 0 {
		cfg.Select = *selectN
	}
	if *dryRun {
		cfg.Sharkey.DryRun = true
	}

	svc, err := bubbleads.New(cfg, bubbleads.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	if *serve {
		return svc.Serve(ctx)
	}

	switch *stage {
	case bubbleads.StageTrends:
		report, err := svc.RunTrends(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	case bubbleads.StageUploads:
		report, err := svc.RunUploads(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	case bubbleads.StageAds:
		report, err := svc.RunAds(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	case bubbleads.StageRun:
		report, err := svc.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	default:
		return errors.New("unknown stage: " + *stage)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

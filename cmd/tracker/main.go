package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pinokio-tracker/internal/config"
	"pinokio-tracker/internal/export"
	"pinokio-tracker/internal/github"
	"pinokio-tracker/internal/resolver"
	"pinokio-tracker/internal/store"
	"pinokio-tracker/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully", "org", cfg.Org, "force_refresh", cfg.ForceRefresh)

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Open the store; schema migrations run on open
	st, err := store.Open(cfg.DBFile, cfg.ForceRefresh)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	logger.Info("Store opened", "path", cfg.DBFile)

	// 5. Initialize application components
	ghClient := github.NewClient(cfg.Token(), logger)
	appSyncer := syncer.New(st, ghClient, resolver.New(ghClient, logger), logger, cfg.Org)

	// 6. One synchronization pass
	records, err := appSyncer.Run(ctx)
	if err != nil {
		return err
	}

	// 7. Exports. The store is already committed at this point, so a
	// failed export still leaves the cache usable for the next run.
	export.Sort(records)
	if err := export.WriteCSV(cfg.CSVFile, records); err != nil {
		return err
	}
	if err := export.WriteJSON(cfg.JSONFile, records); err != nil {
		return err
	}
	if cfg.XLSXFile != "" {
		if err := export.WriteXLSX(cfg.XLSXFile, records); err != nil {
			return err
		}
	}

	logger.Info("Run complete", "repos", len(records), "api_calls", ghClient.Calls())
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cylestio/cylestio-monitor/pkg/cli"
	"github.com/cylestio/cylestio-monitor/pkg/config"
	"github.com/cylestio/cylestio-monitor/pkg/detection"
	"github.com/cylestio/cylestio-monitor/pkg/store"
	"github.com/cylestio/cylestio-monitor/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile  string
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "cylestio",
	Short: "Cylestio Monitor - security monitoring for AI agents",
	Long: `Cylestio Monitor records every LLM and tool call an AI agent makes,
screens the text for sensitive data, dangerous commands and prompt
manipulation, masks what it finds and stores the result in SQLite.

Configuration is read from --config (YAML) and CYLESTIO_* environment
variables, which may also come from a .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file instead of ./.env")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	engine *detection.Engine
	logger *slog.Logger
}

// loadApp reads the environment and configuration, builds the detection
// engine and a logger that masks with it.
func loadApp() (*app, error) {
	if err := loadEnv(envFile); err != nil {
		return nil, cli.NewConfigError("env-file", err.Error())
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, cli.NewConfigError("log-level", err.Error())
		}
		cfg.Telemetry.Logging.Level = logLevel
	}

	// Rule errors are logged before the masking logger exists.
	bootstrap, err := logging.New(cfg.Telemetry.Logging, logging.Options{})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	engine, errs := detection.New(cfg.Security, bootstrap)
	for _, err := range errs {
		bootstrap.Warn("security rule disabled", "error", err)
	}

	logger, err := logging.New(cfg.Telemetry.Logging, logging.Options{Redactor: engine})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	return &app{cfg: cfg, engine: engine, logger: logger}, nil
}

// loadEnv loads path, or ./.env when path is empty. A missing ./.env is
// not an error.
func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// openStore opens the configured database and brings it to ready.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(a.cfg.Storage, a.logger)
	if err != nil {
		return nil, err
	}
	report, err := st.Prepare(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	if !report.Matches() {
		a.logger.Warn("schema differs from expected", "summary", report.Summary())
	}
	return st, nil
}

// Package main provides a speech detector that samples the volume of an audio
// input and reports when someone starts and stops speaking.
//
// Usage:
//
//	speechdetect [run] [--config path/to/config.json]
//	speechdetect devices
//	speechdetect version
//
// If --config is not specified, the detector looks for config.json in the same
// directory as the binary.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
)

// Build information, set with -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Shared CLI flags.
var (
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd returns the root command with all subcommands and flags.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "speechdetect",
		Short:         "Detects speech on an audio input",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogging(logLevel, logFormat)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDetector(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to config file (default: config.json next to binary)")
	flags.StringVar(&envFile, "env-file", ".env", "Optional file with environment overrides")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the detector and its web server (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDetector(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List audio input devices",
			Run: func(cmd *cobra.Command, _ []string) {
				for _, dev := range audio.Devices() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", dev.ID, dev.Name)
				}
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "speechdetect %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			},
		},
	)
	return rootCmd
}

// setupLogging installs the default slog logger.
func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// resolveConfigPath returns path, or config.json next to the binary when empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(execPath), "config.json"), nil
}

// loadConfig loads the env file and the configuration.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	slog.Info("using config file", "path", path)

	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

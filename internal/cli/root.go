// Package cli implements the tailhole command tree.
package cli

import (
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/WillMorrison/tailhole/internal/config"
	"github.com/WillMorrison/tailhole/internal/metrics"
)

// app carries state shared across subcommands.
type app struct {
	cfgPath   string
	logLevel  string
	logFormat string

	cfg     *config.Config
	logger  *slog.Logger
	version string
}

// Execute runs the command tree.
func Execute(version string) {
	cmd := newRootCmd(version)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(version string) *cobra.Command {
	a := &app{version: version}

	cmd := &cobra.Command{
		Use:          "tailhole",
		Short:        "Declarative manager for a tailnet-fronted Pi-hole stack",
		Long: `tailhole converges a declarative service stack (Pi-hole behind a mesh VPN
node) against the Docker engine, validates the tailnet access policy and
serve descriptors, and verifies DNS filtering end to end.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to config file (default: TAILHOLE_CONFIG)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: json, text")

	cmd.AddCommand(
		newUpCmd(a),
		newDownCmd(a),
		newStatusCmd(a),
		newCheckCmd(a),
		newRenderCmd(a),
		newVerifyCmd(a),
		newDeployCmd(a),
	)

	return cmd
}

// setup loads configuration and installs the logger. Flags override both
// file and environment values.
func (a *app) setup() error {
	if a.logLevel != "" {
		os.Setenv("TAILHOLE_LOG_LEVEL", a.logLevel)
	}
	if a.logFormat != "" {
		os.Setenv("TAILHOLE_LOG_FORMAT", a.logFormat)
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(a.logger)

	metrics.SetBuildInfo(a.version, runtime.Version())
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLogLevel(level)

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

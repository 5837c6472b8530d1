// Package main provides the stenolive CLI entry point.
// stenolive records meetings into a transcription backend, follows the
// live transcript and corrects speaker attribution afterwards.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jwulff/steno-live/internal/api"
	"github.com/jwulff/steno-live/internal/config"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags and state.
var (
	serverURL   string
	token       string
	logLevel    string
	logJSON     bool
	metricsAddr string
	dbPath      string

	// cfg holds the loaded configuration.
	cfg *config.Config

	// log is the process logger. Commands that own the terminal redirect it
	// to a file.
	log logging.Logger = logging.NewNopLogger()

	// registry backs every metric the client records.
	registry = prometheus.NewRegistry()
	stats    *metrics.Metrics

	logFile io.Closer
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stenolive",
	Short: "Live meeting capture and transcript correction",
	Long: `stenolive captures audio into a transcription backend and shows the
transcript, topics and waveform as they arrive.

COMMON WORKFLOWS:
  Record live:       stenolive record --device pa:MacBook
  Upload a file:     stenolive upload meeting.wav
  Follow a session:  stenolive watch <session-id>
  Fix speakers:      stenolive correct <session-id>
  Agent access:      stenolive mcp

Configuration is read from ~/.stenolive/config.yaml, .env files and
STENOLIVE_* environment variables. Flags override all of them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		applyFlagOverrides(cmd)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating configuration: %w", err)
		}

		if err := setupLogging(ownsTerminal(cmd)); err != nil {
			return err
		}
		stats = metrics.New(registry)
		if cfg.MetricsAddr != "" {
			go func() {
				if err := metrics.Serve(cmd.Context(), cfg.MetricsAddr, registry); err != nil {
					log.Warn("metrics server stopped", logging.Err(err))
				}
			}()
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", "", "Backend URL (default from config)")
	flags.StringVar(&token, "token", "", "Bearer token")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&logJSON, "log-json", false, "Write JSON logs")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&dbPath, "db", "", "Local cache database path")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newDevicesCommand())
	rootCmd.AddCommand(newRecordCommand())
	rootCmd.AddCommand(newUploadCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newCorrectCommand())
	rootCmd.AddCommand(newParticipantsCommand())
	rootCmd.AddCommand(newAssignCommand())
	rootCmd.AddCommand(newMCPCommand())
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if token != "" {
		cfg.Token = token
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = logJSON
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
}

// ownsTerminal reports whether cmd runs a full-screen view or speaks MCP
// on stdio. Logs must not go to the terminal for those.
func ownsTerminal(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "record", "upload", "watch", "correct", "mcp":
		return true
	}
	return false
}

func setupLogging(toFile bool) error {
	lc := logging.DefaultConfig()
	lc.Level = logging.Level(cfg.LogLevel)
	lc.JSONFormat = cfg.LogJSON
	if toFile {
		dir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		f, err := os.OpenFile(filepath.Join(dir, config.DefaultLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logFile = f
		lc.Output = f
		lc.JSONFormat = true
	}
	log = logging.NewLogger(lc)
	return nil
}

// newClient builds the API client from the loaded configuration.
func newClient() (*api.Client, error) {
	return api.New(cfg.ServerURL,
		api.WithToken(cfg.Token),
		api.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		api.WithLogger(log),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Package cli implements fluentctl, the operator command line: serving the
// API, watching a live query in the terminal and inspecting the demo data.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fluent/internal/config"
	_ "github.com/JonMunkholm/fluent/internal/core/tables" // Register all entities
	"github.com/JonMunkholm/fluent/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile  string
	Backend  string // overrides BACKEND_MODE when set
	LogLevel string // overrides LOG_LEVEL when set
}

// NewRootCommand creates the root command for fluentctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fluentctl",
		Short: "Operate the fluent data layer",
		Long: `fluentctl serves the fluent HTTP API, watches live queries in the
terminal and inspects the demo dataset of the in-memory backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Backend != "" && opts.Backend != config.BackendMemory && opts.Backend != config.BackendPostgres {
				return fmt.Errorf("invalid backend %q: must be %s or %s", opts.Backend, config.BackendMemory, config.BackendPostgres)
			}
			return loadEnvFile(opts.EnvFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "environment file to load if present")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "backend mode (memory|postgres), overrides BACKEND_MODE")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// Execute runs fluentctl and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadEnvFile loads path without overwriting variables already set. A
// missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the environment with the global flag overrides applied
// and sets up logging on stderr, keeping stdout for command output.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	overrides := map[string]string{}
	if opts.Backend != "" {
		overrides["BACKEND_MODE"] = opts.Backend
	}
	if opts.LogLevel != "" {
		overrides["LOG_LEVEL"] = opts.LogLevel
	}

	cfg, err := config.LoadFrom(func(key string) string {
		if v, ok := overrides[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coreman2200/funtimes-railpanel/internal/config"
)

var (
	configPath string
	logLevel   string
	simOnly    bool
	addr       string
)

var rootCmd = &cobra.Command{
	Use:           "railpanel",
	Short:         "Model railway control panel",
	Long:          `Drives the layout's control panel: keypad, indicator LEDs, display and throttle, and talks to the command station over LocoNet.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().BoolVar(&simOnly, "sim-only", false, "force simulation (no hardware access)")
	rootCmd.AddCommand(runCmd, dumpCmd, resetCmd)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("railpanel failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when there is
// none, and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", configPath).Msg("no config file; using defaults")
		cfg = config.Default()
	case err != nil:
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if simOnly {
		cfg.SimOnly = true
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level; using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return cfg, nil
}

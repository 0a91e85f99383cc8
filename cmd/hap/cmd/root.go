// Package cmd implements HAP's CLI commands, grounded on tvarr's
// cmd/tvarr/cmd root-command wiring (cobra + viper + a persistent
// pre-run that builds the logger from flags).
package cmd

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/mantonx/hap/internal/config"
	"github.com/mantonx/hap/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logJSON   bool
	logger    hclog.Logger
	hapConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hap",
	Short: "Assemble baseball highlight videos from a rundown",
	Long: `hap renders a broadcast-style highlight video from a declarative
rundown: per-play clips with word-level selections, inning-transition
graphics, and an optional title card.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initRuntime()
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, ./configs, /etc/hap, $HOME/.hap)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(cacheCmd)
}

func initRuntime() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logJSON {
		cfg.Logging.JSON = true
	}
	hapConfig = cfg

	logger = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.JSON,
		Output: os.Stderr,
	})
	return nil
}

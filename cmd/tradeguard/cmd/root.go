package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/config"
)

var rootCmd = &cobra.Command{
	Use:   "tradeguard",
	Short: "Signal engine with a pre-trade risk gate and portfolio risk monitoring",
	Long: `Tradeguard evaluates trading strategies against market data, gates every
signal through account risk limits before it becomes an order, and keeps
portfolio risk metrics, stress tests and alerts current.

It provides tools for:
  - Running the engine against replayed market data with paper execution
  - Backtesting strategies from the catalog on historical bars
  - Stress testing positions against historical and hypothetical scenarios
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var cfgPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
}

// loadConfig reads --config, or returns the defaults when it is unset.
func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(cfgPath)
}

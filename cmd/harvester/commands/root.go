package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"hemnet-harvester/internal/harvest/runner"
	"hemnet-harvester/lib/configutil"
	"hemnet-harvester/lib/serviceutil"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "harvester collects capped sold-listing search results over a partitioned living-area domain.",
}

var configPath *string

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The config file to read.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig() runner.Config {
	cfg, err := configutil.ReadConfig[runner.Config](*configPath)
	if os.IsNotExist(err) {
		slog.Info("no config file found, using defaults", "path", *configPath)
		return runner.Config{}
	}
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

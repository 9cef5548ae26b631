package commands

import (
	"log/slog"

	"hemnet-harvester/internal/harvest/runner"
	"hemnet-harvester/lib/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(consolidateCmd)
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Skips collection and fetches details for links already in the store.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()

		r, err := runner.New(cfg)
		if err != nil {
			serviceutil.Fatal("failed to initialize runner", err)
		}
		defer r.Close()

		summary, err := r.Consolidate(cmd.Context())
		summary.Render()
		if err != nil {
			slog.Error("consolidation ended with error", "err", err)
		}
	},
}

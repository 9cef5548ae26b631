package commands

import (
	"log/slog"

	"hemnet-harvester/internal/harvest/runner"
	"hemnet-harvester/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	runAreaMin *int
	runAreaMax *int
)

func init() {
	runAreaMin = runCmd.Flags().Int("area-min", -1, "Lower living-area bound in m², overrides the config.")
	runAreaMax = runCmd.Flags().Int("area-max", -1, "Upper living-area bound in m² (exclusive), overrides the config.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--area-min <m²>] [--area-max <m²>]",
	Short: "Runs the full pipeline from scratch: partition, collect, then fetch details.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		cfg.Resume = false
		if *runAreaMin >= 0 {
			cfg.AreaMin = *runAreaMin
		}
		if *runAreaMax >= 0 {
			cfg.AreaMax = *runAreaMax
		}
		execute(cmd, cfg)
	},
}

func execute(cmd *cobra.Command, cfg runner.Config) {
	r, err := runner.New(cfg)
	if err != nil {
		serviceutil.Fatal("failed to initialize runner", err)
	}
	defer r.Close()

	summary, err := r.Run(cmd.Context())
	summary.Render()
	if err != nil {
		slog.Error("run ended with error", "err", err)
	}
}

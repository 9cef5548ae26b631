package commands

import (
	"fmt"
	"strconv"

	"hemnet-harvester/internal/harvest/runner"
	"hemnet-harvester/lib/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe <area_min> <area_max>",
	Short: "Reports the result count for one living-area range without collecting anything.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		lo, err := strconv.Atoi(args[0])
		if err != nil {
			serviceutil.Fatal("invalid area_min", err)
		}
		hi, err := strconv.Atoi(args[1])
		if err != nil {
			serviceutil.Fatal("invalid area_max", err)
		}

		cfg := readConfig()
		r, err := runner.New(cfg)
		if err != nil {
			serviceutil.Fatal("failed to initialize runner", err)
		}
		defer r.Close()

		count, err := r.ProbeCount(cmd.Context(), lo, hi)
		if err != nil {
			serviceutil.Fatal("probe failed", err)
		}

		fmt.Printf("[%d,%d) m²: %d results\n", lo, hi, count)
		if count >= r.Cap() {
			fmt.Printf("warning: count meets or exceeds the %d result cap, pagination over this range would truncate\n", r.Cap())
		}
	},
}

package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resumes an interrupted run from the progress ledger and persisted batches.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		cfg.Resume = true
		execute(cmd, cfg)
	},
}

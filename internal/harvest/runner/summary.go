package runner

import (
	"fmt"
	"os"
	"time"

	"hemnet-harvester/internal/harvest/batch"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary is the end-of-run report: range outcomes, the size of the unique
// link set, and the persisted batch totals.
type Summary struct {
	RangesComplete int
	RangesFailed   int
	RangesPending  int
	RangesFlagged  int
	UniqueItems    int
	Batches        batch.Metadata
	Elapsed        time.Duration
}

// Render prints the summary as a table to stdout.
func (s Summary) Render() {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Ranges complete", s.RangesComplete},
		{"Ranges failed", s.RangesFailed},
		{"Ranges pending", s.RangesPending},
		{"Ranges flagged over cap", s.RangesFlagged},
		{"Unique items discovered", s.UniqueItems},
		{"Items persisted", s.Batches.TotalSuccessful},
		{"Items failed", s.Batches.TotalFailed},
		{"Batch files", len(s.Batches.Batches)},
		{"Elapsed", s.Elapsed.Round(time.Second).String()},
	})
	t.Render()

	if s.RangesFlagged > 0 {
		fmt.Printf(
			"warning: %d range(s) exceed the result cap at minimum granularity, some items may be unreachable\n",
			s.RangesFlagged,
		)
	}
}

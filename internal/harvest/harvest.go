// Package harvest holds the data model shared by the acquisition pipeline:
// partition ranges over the living-area axis, the links discovered inside
// them, and the session credential blob.
package harvest

import (
	"fmt"
	"time"
)

type RangeStatus string

const (
	RangePending    RangeStatus = "pending"
	RangeProbed     RangeStatus = "probed"
	RangeInProgress RangeStatus = "in_progress"
	RangeComplete   RangeStatus = "complete"
	RangeFailed     RangeStatus = "failed"
)

// PartitionRange is a half-open [Min, Max) slice of the partition-key domain.
// Ranges are superseded by finer ones during splitting, never mutated in
// place by the partitioner.
type PartitionRange struct {
	Min           int         `json:"min"`
	Max           int         `json:"max"`
	Status        RangeStatus `json:"status"`
	ObservedCount int         `json:"observed_count"`

	// Flagged marks a minimum-granularity range whose count still meets the
	// result cap. It cannot be split further and needs manual follow-up.
	Flagged bool `json:"flagged,omitempty"`
}

// Key identifies a range inside the ledger and as ItemLink provenance.
func (r PartitionRange) Key() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

func (r PartitionRange) Width() int {
	return r.Max - r.Min
}

// ItemLink is one discovered listing. ItemID is the numeric tail of the
// listing slug and is the stable identifier used for deduplication.
type ItemLink struct {
	ItemID       string    `json:"item_id"`
	URL          string    `json:"url"`
	SourceRange  string    `json:"source_range"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

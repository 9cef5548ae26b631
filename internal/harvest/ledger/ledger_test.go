package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/faults"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func seedRanges() []harvest.PartitionRange {
	return []harvest.PartitionRange{
		{Min: 0, Max: 31, Status: harvest.RangeProbed, ObservedCount: 1860},
		{Min: 31, Max: 500, Status: harvest.RangeProbed, ObservedCount: 1140},
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")

	led, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	err = led.Seed(seedRanges())
	if err != nil {
		t.Fatal(err)
	}

	if err := led.MarkInProgress("0-31"); err != nil {
		t.Fatal(err)
	}
	if err := led.Checkpoint("0-31", 14); err != nil {
		t.Fatal(err)
	}
	if err := led.MarkComplete("31-500", 1140); err != nil {
		t.Fatal(err)
	}

	// a reopened ledger must resume mid-range, not from page 1
	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 14, reopened.NextPage("0-31"))

	pending := reopened.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "0-31", pending[0].Key())
	require.Equal(t, harvest.RangeInProgress, pending[0].Status)

	diff := cmp.Diff(
		led.Ranges(), reopened.Ranges(),
		cmpopts.EquateApproxTime(0),
	)
	if diff != "" {
		t.Fatalf("ledger changed across reopen:\n%s", diff)
	}
}

func TestLedgerNextPageDefaultsToOne(t *testing.T) {
	led, err := Open(filepath.Join(t.TempDir(), "progress.json"))
	if err != nil {
		t.Fatal(err)
	}
	err = led.Seed(seedRanges())
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, 1, led.NextPage("0-31"))
	require.Equal(t, 1, led.NextPage("does-not-exist"))
}

func TestLedgerCorruptFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	err := os.WriteFile(path, []byte("{ truncated"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Open(path)
	require.ErrorIs(t, err, faults.ErrCorruptState)
}

func TestLedgerSeedKeepsKnownStatuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")

	led, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := led.Seed(seedRanges()); err != nil {
		t.Fatal(err)
	}
	if err := led.MarkComplete("0-31", 1860); err != nil {
		t.Fatal(err)
	}

	// re-partitioning after a restart produced a finer split, the stale
	// pending range is superseded but the completed one keeps its status
	err = led.Seed([]harvest.PartitionRange{
		{Min: 0, Max: 31, Status: harvest.RangeProbed, ObservedCount: 1860},
		{Min: 31, Max: 100, Status: harvest.RangeProbed, ObservedCount: 700},
		{Min: 100, Max: 500, Status: harvest.RangeProbed, ObservedCount: 440},
	})
	if err != nil {
		t.Fatal(err)
	}

	complete := map[string]bool{}
	superseded := map[string]bool{}
	for _, record := range led.Ranges() {
		if record.Status == harvest.RangeComplete {
			complete[record.Key()] = true
		}
		if record.Superseded {
			superseded[record.Key()] = true
		}
	}
	require.True(t, complete["0-31"])
	require.True(t, superseded["31-500"])

	keys := []string{}
	for _, record := range led.Pending() {
		keys = append(keys, record.Key())
	}
	require.Equal(t, []string{"31-100", "100-500"}, keys)
}

func TestLedgerFailedRangesAreReported(t *testing.T) {
	led, err := Open(filepath.Join(t.TempDir(), "progress.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := led.Seed(seedRanges()); err != nil {
		t.Fatal(err)
	}
	if err := led.MarkFailed("0-31", "probe failed"); err != nil {
		t.Fatal(err)
	}

	failed := led.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "0-31", failed[0].Key())
	require.Equal(t, "probe failed", failed[0].Error)

	require.Error(t, led.MarkFailed("7-8", "unknown"))
}

func TestLedgerReschedulesFailedRanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")

	led, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := led.Seed(seedRanges()); err != nil {
		t.Fatal(err)
	}
	if err := led.Checkpoint("0-31", 14); err != nil {
		t.Fatal(err)
	}
	if err := led.MarkFailed("0-31", "page 14: gateway timeout"); err != nil {
		t.Fatal(err)
	}
	if err := led.MarkComplete("31-500", 1140); err != nil {
		t.Fatal(err)
	}

	rescheduled, err := led.RescheduleFailed()
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, rescheduled)
	require.Empty(t, led.Failed())

	// the retried range is scheduled again and keeps its page checkpoint
	pending := led.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "0-31", pending[0].Key())
	require.Equal(t, harvest.RangePending, pending[0].Status)
	require.Empty(t, pending[0].Error)
	require.Equal(t, 14, led.NextPage("0-31"))

	// the reschedule is durable
	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, reopened.Pending(), 1)
	require.Empty(t, reopened.Failed())

	again, err := led.RescheduleFailed()
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 0, again)
}

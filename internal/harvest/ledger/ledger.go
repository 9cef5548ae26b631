// Package ledger durably tracks per-sub-range progress. Every mutation is
// flushed with an atomic replace before it returns, so a hard kill loses at
// most the unit of work that was in flight.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/faults"
	"hemnet-harvester/lib/fsutil"
)

type Record struct {
	harvest.PartitionRange

	// NextPage is the page collection should resume from, 1-indexed.
	// Zero means collection has not started.
	NextPage int `json:"next_page,omitempty"`
	// Error holds the last failure reason for a failed range.
	Error string `json:"error,omitempty"`
	// Superseded ranges are kept for history but no longer scheduled.
	Superseded bool      `json:"superseded,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type state struct {
	Version   int       `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Ranges    []*Record `json:"ranges"`
}

type Ledger struct {
	path string

	mu    sync.Mutex
	state state
	index map[string]*Record
}

// Open loads the ledger at `path`. A missing file starts a fresh ledger; an
// unreadable one is fatal, reinitializing it silently would mask data loss.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path:  path,
		index: map[string]*Record{},
		state: state{Version: 1, StartedAt: time.Now()},
	}

	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(contents, &l.state)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", faults.ErrCorruptState, path, err)
	}
	for _, r := range l.state.Ranges {
		l.index[r.Key()] = r
	}
	return l, nil
}

// Seed registers freshly partitioned ranges. Ranges already known keep their
// recorded status so a resumed run never redoes completed work; stale pending
// records whose boundaries no longer exist are superseded, not deleted.
func (l *Ledger) Seed(ranges []harvest.PartitionRange) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := map[string]bool{}
	for _, rng := range ranges {
		current[rng.Key()] = true
		if _, known := l.index[rng.Key()]; known {
			continue
		}
		record := &Record{PartitionRange: rng, UpdatedAt: time.Now()}
		l.state.Ranges = append(l.state.Ranges, record)
		l.index[rng.Key()] = record
	}

	for _, record := range l.state.Ranges {
		if current[record.Key()] || record.Superseded {
			continue
		}
		if record.Status == harvest.RangeComplete || record.Status == harvest.RangeFailed {
			continue
		}
		record.Superseded = true
		record.UpdatedAt = time.Now()
	}

	return l.flushLocked()
}

func (l *Ledger) update(key string, mutate func(*Record)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, known := l.index[key]
	if !known {
		return fmt.Errorf("unknown range %q", key)
	}
	mutate(record)
	record.UpdatedAt = time.Now()
	return l.flushLocked()
}

func (l *Ledger) MarkInProgress(key string) error {
	return l.update(key, func(r *Record) {
		r.Status = harvest.RangeInProgress
	})
}

// Checkpoint records that collection for a range finished the page before
// `nextPage`, so a restart resumes there instead of page 1.
func (l *Ledger) Checkpoint(key string, nextPage int) error {
	return l.update(key, func(r *Record) {
		r.NextPage = nextPage
	})
}

func (l *Ledger) MarkComplete(key string, observed int) error {
	return l.update(key, func(r *Record) {
		r.Status = harvest.RangeComplete
		r.ObservedCount = observed
		r.Error = ""
	})
}

func (l *Ledger) MarkFailed(key string, reason string) error {
	return l.update(key, func(r *Record) {
		r.Status = harvest.RangeFailed
		r.Error = reason
	})
}

// RescheduleFailed moves failed ranges back into the scheduled set so a
// resumed run retries them. Page checkpoints are kept, so a range that
// failed mid-collection picks up where it stopped.
func (l *Ledger) RescheduleFailed() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rescheduled := 0
	for _, r := range l.state.Ranges {
		if r.Superseded || r.Status != harvest.RangeFailed {
			continue
		}
		r.Status = harvest.RangePending
		r.Error = ""
		r.UpdatedAt = time.Now()
		rescheduled++
	}
	if rescheduled == 0 {
		return 0, nil
	}
	return rescheduled, l.flushLocked()
}

func (l *Ledger) NextPage(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, known := l.index[key]
	if !known || record.NextPage == 0 {
		return 1
	}
	return record.NextPage
}

// Pending returns the ranges still owed work, in domain order.
func (l *Ledger) Pending() []Record {
	return l.filter(func(r *Record) bool {
		if r.Superseded {
			return false
		}
		switch r.Status {
		case harvest.RangePending, harvest.RangeProbed, harvest.RangeInProgress:
			return true
		}
		return false
	})
}

func (l *Ledger) Failed() []Record {
	return l.filter(func(r *Record) bool {
		return !r.Superseded && r.Status == harvest.RangeFailed
	})
}

func (l *Ledger) Ranges() []Record {
	return l.filter(func(r *Record) bool { return true })
}

func (l *Ledger) filter(keep func(*Record) bool) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for _, r := range l.state.Ranges {
		if keep(r) {
			out = append(out, *r)
		}
	}
	return out
}

func (l *Ledger) flushLocked() error {
	contents, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(l.path, contents, 0o644)
}

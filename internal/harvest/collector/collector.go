// Package collector pages a bounded sub-range end to end, feeding every
// discovered link into the dedup store and checkpointing page progress in
// the ledger so an interrupted range resumes mid-way, never from page 1.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/faults"
	"hemnet-harvester/internal/harvest/hemnet"
	"hemnet-harvester/internal/harvest/ledger"
	"hemnet-harvester/internal/harvest/links"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("harvest/collector")

// Source is the listing endpoint the collector pages. The rate limiter and
// session handling live behind it.
type Source interface {
	FetchPage(ctx context.Context, lo, hi, page int) (hemnet.PageResult, error)
	RefreshSession(ctx context.Context) error
	PageSize() int
}

type Collector struct {
	source     Source
	store      links.Store
	ledger     *ledger.Ledger
	resultCap  int
	maxRetries uint64
}

func New(source Source, store links.Store, led *ledger.Ledger, resultCap int, maxRetries uint64) *Collector {
	return &Collector{
		source:     source,
		store:      store,
		ledger:     led,
		resultCap:  resultCap,
		maxRetries: maxRetries,
	}
}

// Collect exhausts one sub-range. It returns the number of links newly
// added to the store. Retry exhaustion on any page marks the whole range
// failed rather than silently truncating it.
func (c *Collector) Collect(ctx context.Context, rng harvest.PartitionRange) (int, error) {
	ctx, span := tracer.Start(ctx, "collector:Collect")
	defer span.End()

	// paginating past the cap silently drops everything beyond it; an
	// over-cap range must go back to the partitioner. Flagged ranges are
	// the accepted exception and collect whatever the cap exposes.
	if c.resultCap > 0 && rng.ObservedCount >= c.resultCap && !rng.Flagged {
		return 0, &faults.OverCapError{Count: rng.ObservedCount, Cap: c.resultCap}
	}

	key := rng.Key()
	err := c.ledger.MarkInProgress(key)
	if err != nil {
		return 0, err
	}

	pageSize := c.source.PageSize()
	start := c.ledger.NextPage(key)
	if start > 1 {
		slog.Info("resuming range mid-collection", "range", key, "page", start)
	}

	// an upper bound even if the source keeps returning full pages
	maxPage := rng.ObservedCount/pageSize + 2

	added := 0
	for page := start; ; page++ {
		if ctx.Err() != nil {
			return added, ctx.Err()
		}

		result, err := c.fetchPage(ctx, rng, page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page retries exhausted")
			reason := fmt.Sprintf("page %d: %s", page, err)
			lerr := c.ledger.MarkFailed(key, reason)
			if lerr != nil {
				return added, lerr
			}
			return added, fmt.Errorf("range %s failed: %s", key, reason)
		}

		inserted, err := c.store.Insert(ctx, result.Links)
		if err != nil {
			return added, err
		}
		added += inserted

		err = c.ledger.Checkpoint(key, page+1)
		if err != nil {
			return added, err
		}

		slog.Debug("collected page",
			"range", key, "page", page,
			"links", len(result.Links), "new", inserted)

		if !result.FullPage(pageSize) {
			break
		}
		// a full page of nothing but already-seen items means the source is
		// repeating itself past its real result set
		if inserted == 0 && page > start {
			break
		}
		if page >= maxPage {
			slog.Warn("stopping at page bound", "range", key, "page", page)
			break
		}
	}

	err = c.ledger.MarkComplete(key, rng.ObservedCount)
	if err != nil {
		return added, err
	}
	return added, nil
}

// fetchPage wraps one page fetch in bounded backoff. A challenge response
// triggers exactly one session refresh then a retry of the same page; a
// second challenge is permanent.
func (c *Collector) fetchPage(ctx context.Context, rng harvest.PartitionRange, page int) (hemnet.PageResult, error) {
	var result hemnet.PageResult
	refreshed := false

	operation := func() error {
		res, err := c.source.FetchPage(ctx, rng.Min, rng.Max, page)
		if err == nil {
			result = res
			return nil
		}

		if errors.Is(err, faults.ErrChallenge) {
			if refreshed {
				return backoff.Permanent(err)
			}
			refreshed = true
			slog.Warn("challenge mid-collection, refreshing session",
				"range", rng.Key(), "page", page)
			rerr := c.source.RefreshSession(ctx)
			if rerr != nil {
				return backoff.Permanent(rerr)
			}
			return err
		}
		if faults.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries),
		ctx,
	)
	err := backoff.RetryNotify(operation, bo, func(err error, wait time.Duration) {
		slog.Warn("page fetch failed, retrying",
			"range", rng.Key(), "page", page, "wait", wait, "err", err)
	})
	if err != nil {
		return hemnet.PageResult{}, err
	}
	return result, nil
}

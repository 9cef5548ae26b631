// Package partition adaptively subdivides the partition-key domain into
// sub-ranges that each stay under the listing cap, so paging a sub-range can
// never miss results.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/faults"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("harvest/partition")

// Probe answers a count-only query for [lo, hi) without paging.
type Probe interface {
	ProbeCount(ctx context.Context, lo, hi int) (int, error)
}

type Options struct {
	// Cap is the maximum results a single listing query may expose. A count
	// equal to the cap is treated as unsafe, since the source's behavior at
	// the boundary is not exact.
	Cap int
	// MinGranularity is the smallest range width worth splitting to.
	MinGranularity int
	// MaxRetries bounds probe retries before a range is marked failed.
	MaxRetries uint64
}

type Partitioner struct {
	probe Probe
	opts  Options
	// probes repeat the same prefix while the upper bound shrinks; the cache
	// spares re-probing identical sub-ranges on restarts within the TTL.
	cache *expirable.LRU[string, int]
}

func New(probe Probe, opts Options) (*Partitioner, error) {
	if opts.Cap <= 0 {
		return nil, fmt.Errorf("cap must be positive, got %d", opts.Cap)
	}
	if opts.MinGranularity <= 0 {
		return nil, fmt.Errorf("minimum granularity must be positive, got %d", opts.MinGranularity)
	}
	return &Partitioner{
		probe: probe,
		opts:  opts,
		cache: expirable.NewLRU[string, int](512, nil, time.Minute*30),
	}, nil
}

// halvings are bounded by the width of the domain already; this only guards
// against a probe that keeps reporting over-cap for a shrinking range.
const maxDepth = 48

// Partition sweeps [domainMin, domainMax) left to right. Each candidate
// extends to the end of the domain and is halved while its count meets the
// cap, which keeps sparse tails in a single wide range instead of
// over-splitting them. Ranges that cannot be probed are emitted as failed,
// never dropped: dropping one silently would break coverage.
func (p *Partitioner) Partition(ctx context.Context, domainMin, domainMax int) ([]harvest.PartitionRange, error) {
	ctx, span := tracer.Start(ctx, "partitioner:Partition")
	defer span.End()

	if domainMin >= domainMax {
		return nil, fmt.Errorf("empty domain [%d, %d)", domainMin, domainMax)
	}

	var out []harvest.PartitionRange
	lo := domainMin

	for lo < domainMax {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		hi := domainMax
		depth := 0
		for {
			count, err := p.probeCount(ctx, lo, hi)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				slog.Error("probe failed permanently, marking range failed",
					"range", fmt.Sprintf("[%d,%d)", lo, hi), "err", err)
				out = append(out, harvest.PartitionRange{
					Min: lo, Max: hi, Status: harvest.RangeFailed,
				})
				lo = hi
				break
			}

			if count < p.opts.Cap {
				status := harvest.RangeProbed
				if count == 0 {
					// nothing to page
					status = harvest.RangeComplete
				}
				out = append(out, harvest.PartitionRange{
					Min: lo, Max: hi, Status: status, ObservedCount: count,
				})
				lo = hi
				break
			}

			width := hi - lo
			if width <= p.opts.MinGranularity || depth >= maxDepth {
				slog.Warn("range at minimum granularity still meets cap, flagged for manual follow-up",
					"range", fmt.Sprintf("[%d,%d)", lo, hi), "count", count, "cap", p.opts.Cap)
				out = append(out, harvest.PartitionRange{
					Min: lo, Max: hi, Status: harvest.RangeProbed,
					ObservedCount: count, Flagged: true,
				})
				lo = hi
				break
			}

			half := width / 2
			if half < p.opts.MinGranularity {
				half = p.opts.MinGranularity
			}
			hi = lo + half
			depth++
		}
	}

	return out, nil
}

func (p *Partitioner) probeCount(ctx context.Context, lo, hi int) (int, error) {
	key := fmt.Sprintf("%d-%d", lo, hi)
	if cached, hit := p.cache.Get(key); hit {
		return cached, nil
	}

	var count int
	operation := func() error {
		c, err := p.probe.ProbeCount(ctx, lo, hi)
		if err != nil {
			if faults.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		count = c
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.opts.MaxRetries),
		ctx,
	)
	err := backoff.RetryNotify(operation, bo, func(err error, wait time.Duration) {
		slog.Warn("probe failed, retrying",
			"range", key, "wait", wait, "err", err)
	})
	if err != nil {
		return 0, err
	}

	p.cache.Add(key, count)
	return count, nil
}

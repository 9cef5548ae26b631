// Package runner wires the pipeline together: partition the living-area
// domain, collect links per sub-range with ledger checkpoints, consolidate
// the unique link set, then drive batched detail retrieval.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/batch"
	"hemnet-harvester/internal/harvest/collector"
	"hemnet-harvester/internal/harvest/hemnet"
	"hemnet-harvester/internal/harvest/ledger"
	"hemnet-harvester/internal/harvest/links"
	"hemnet-harvester/internal/harvest/partition"
	"hemnet-harvester/internal/harvest/ratelimit"
	"hemnet-harvester/internal/harvest/session"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("harvest/runner")

type Runner struct {
	cfg    Config
	client *hemnet.Client
	led    *ledger.Ledger
	store  links.Store
}

func New(cfg Config) (*Runner, error) {
	cfg = cfg.withDefaults()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = hemnet.DefaultBaseURL
	}

	solver := session.CloudflareSolver{
		BaseURL: baseURL,
		Timeout: time.Second * 30,
	}
	sessions := session.NewStore(
		filepath.Join(cfg.DataDir, "session.json"),
		solver,
		time.Minute*25,
	)

	limiter, err := ratelimit.New(cfg.minDelay(), cfg.maxDelay())
	if err != nil {
		return nil, err
	}

	client, err := hemnet.NewClient(hemnet.ClientOptions{
		BaseURL:    baseURL,
		LocationID: cfg.LocationID,
		PageSize:   cfg.PageSize,
		Session:    sessions,
		Limiter:    limiter,
	})
	if err != nil {
		return nil, err
	}

	led, err := ledger.Open(filepath.Join(cfg.DataDir, "progress.json"))
	if err != nil {
		return nil, err
	}

	store, err := links.Open(filepath.Join(cfg.DataDir, "links.db"))
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:    cfg,
		client: client,
		led:    led,
		store:  store,
	}, nil
}

func (r *Runner) Close() error {
	return r.store.Close()
}

// Run executes the full pipeline. The returned summary is always populated,
// even when the run ends early on a cancelled context.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "runner:Run")
	defer span.End()

	start := time.Now()

	err := r.planRanges(ctx)
	if err != nil {
		return r.summary(ctx, start), err
	}

	coll := collector.New(r.client, r.store, r.led, r.cfg.Cap, uint64(r.cfg.MaxRetries))
	for _, record := range r.led.Pending() {
		if ctx.Err() != nil {
			return r.summary(ctx, start), ctx.Err()
		}

		added, err := coll.Collect(ctx, record.PartitionRange)
		if err != nil {
			if ctx.Err() != nil {
				return r.summary(ctx, start), ctx.Err()
			}
			// a failed range is recorded and surfaced in the summary, the
			// rest of the run continues
			slog.Error("range collection failed", "range", record.Key(), "err", err)
			continue
		}
		slog.Info("range collected", "range", record.Key(), "new_links", added)
	}

	meta, err := r.fetchDetails(ctx)
	if err != nil {
		return r.summary(ctx, start), err
	}

	slog.Info("run finished",
		"processed", meta.TotalProcessed,
		"successful", meta.TotalSuccessful,
		"failed", meta.TotalFailed)
	return r.summary(ctx, start), nil
}

// Consolidate skips partitioning and collection; it deduplicates whatever
// the link store already holds and drives detail retrieval over it.
func (r *Runner) Consolidate(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "runner:Consolidate")
	defer span.End()

	start := time.Now()
	_, err := r.fetchDetails(ctx)
	return r.summary(ctx, start), err
}

// ProbeCount exposes a count-only probe for one range.
func (r *Runner) ProbeCount(ctx context.Context, lo, hi int) (int, error) {
	return r.client.ProbeCount(ctx, lo, hi)
}

func (r *Runner) Cap() int {
	return r.cfg.Cap
}

// planRanges reuses the ledger's recorded ranges on resume; otherwise it
// partitions the configured domain and seeds the ledger with the result.
func (r *Runner) planRanges(ctx context.Context) error {
	if r.cfg.Resume {
		known := r.led.Ranges()
		if len(known) > 0 {
			retried, err := r.led.RescheduleFailed()
			if err != nil {
				return err
			}
			slog.Info("resuming from ledger",
				"ranges", len(known),
				"pending", len(r.led.Pending()),
				"retrying_failed", retried)
			return nil
		}
		slog.Info("resume requested but ledger is empty, partitioning from scratch")
	}

	partitioner, err := partition.New(r.client, partition.Options{
		Cap:            r.cfg.Cap,
		MinGranularity: r.cfg.MinRangeGranularity,
		MaxRetries:     uint64(r.cfg.MaxRetries),
	})
	if err != nil {
		return err
	}

	ranges, err := partitioner.Partition(ctx, r.cfg.AreaMin, r.cfg.AreaMax)
	if err != nil {
		return err
	}
	slog.Info("domain partitioned",
		"domain", fmt.Sprintf("[%d,%d)", r.cfg.AreaMin, r.cfg.AreaMax),
		"ranges", len(ranges))

	return r.led.Seed(ranges)
}

func (r *Runner) fetchDetails(ctx context.Context) (batch.Metadata, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return batch.Metadata{}, err
	}
	slog.Info("consolidated unique link set", "items", len(all))

	manager, err := batch.NewManager[hemnet.PropertyRecord](r.client, r.store, batch.Options{
		Dir:        filepath.Join(r.cfg.DataDir, "batches"),
		Size:       r.cfg.BatchSize,
		Workers:    r.cfg.Workers,
		MaxRetries: uint64(r.cfg.MaxRetries),
	})
	if err != nil {
		return batch.Metadata{}, err
	}

	return manager.ProcessAll(ctx, all)
}

func (r *Runner) summary(ctx context.Context, start time.Time) Summary {
	s := Summary{Elapsed: time.Since(start)}

	for _, record := range r.led.Ranges() {
		if record.Superseded {
			continue
		}
		switch record.Status {
		case harvest.RangeComplete:
			s.RangesComplete++
		case harvest.RangeFailed:
			s.RangesFailed++
		default:
			s.RangesPending++
		}
		if record.Flagged {
			s.RangesFlagged++
		}
	}

	count, err := r.store.Count(ctx)
	if err == nil {
		s.UniqueItems = count
	}

	meta, err := batch.Load(filepath.Join(r.cfg.DataDir, "batches"))
	if err == nil {
		s.Batches = meta
	}
	return s
}

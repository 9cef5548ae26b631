// Package batch turns the consolidated link set into fixed-size batches of
// detail records, persisted as immutable parquet files with a failure log
// per batch. Already-persisted items are filtered out up front, so a resumed
// run reprocesses nothing and never duplicates a batch entry.
package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/faults"
	"hemnet-harvester/internal/harvest/links"

	"github.com/cenkalti/backoff/v4"
	"github.com/parquet-go/parquet-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("harvest/batch")

// Fetcher retrieves and parses one item's full record. Implementations are
// domain-specific and pluggable.
type Fetcher[T any] interface {
	FetchDetail(ctx context.Context, link harvest.ItemLink) (T, error)
}

type Options struct {
	// Dir is where batch files, failure logs and metadata live.
	Dir string
	// Size is the number of items per batch.
	Size int
	// Workers bounds concurrent detail fetches inside a batch.
	Workers int
	// MaxRetries bounds per-item fetch retries.
	MaxRetries uint64
}

type Manager[T any] struct {
	fetcher Fetcher[T]
	store   links.Store
	opts    Options
	meta    Metadata
}

func NewManager[T any](fetcher Fetcher[T], store links.Store, opts Options) (*Manager[T], error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.Size)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	err := os.MkdirAll(opts.Dir, 0o755)
	if err != nil {
		return nil, err
	}

	meta, err := loadMetadata(metadataPath(opts.Dir))
	if err != nil {
		return nil, err
	}

	return &Manager[T]{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		meta:    meta,
	}, nil
}

func (m *Manager[T]) Metadata() Metadata {
	return m.meta
}

// ProcessAll drives the detail fetcher over every not-yet-persisted item.
// Shutdown is cooperative: a cancelled context lets the current batch flush
// what it fetched before returning.
func (m *Manager[T]) ProcessAll(ctx context.Context, items []harvest.ItemLink) (Metadata, error) {
	ctx, span := tracer.Start(ctx, "batch:ProcessAll")
	defer span.End()

	todo, err := m.filterPersisted(ctx, items)
	if err != nil {
		return m.meta, err
	}
	slog.Info("batch processing plan",
		"input", len(items),
		"already_persisted", len(items)-len(todo),
		"todo", len(todo),
		"batch_size", m.opts.Size)

	for start := 0; start < len(todo); start += m.opts.Size {
		end := start + m.opts.Size
		if end > len(todo) {
			end = len(todo)
		}

		err := m.processBatch(ctx, todo[start:end])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch processing stopped")
			return m.meta, err
		}
		if ctx.Err() != nil {
			return m.meta, ctx.Err()
		}
	}

	return m.meta, nil
}

func (m *Manager[T]) filterPersisted(ctx context.Context, items []harvest.ItemLink) ([]harvest.ItemLink, error) {
	fetched, err := m.store.FetchedSet(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]harvest.ItemLink, 0, len(items))
	for _, item := range items {
		if fetched[item.ItemID] {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

type itemFailure struct {
	link harvest.ItemLink
	err  error
}

// processBatch fetches one batch's items, flushes successes into an
// immutable parquet file, appends failures to the batch's failure log, and
// advances metadata transactionally.
func (m *Manager[T]) processBatch(ctx context.Context, batchItems []harvest.ItemLink) error {
	records := make([]*T, len(batchItems))
	failures := make([]*itemFailure, len(batchItems))

	var wg sync.WaitGroup
	sem := make(chan struct{}, m.opts.Workers)

	for i, item := range batchItems {
		if ctx.Err() != nil {
			// stop launching, flush whatever finished
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, item harvest.ItemLink) {
			defer wg.Done()
			defer func() { <-sem }()

			record, err := m.fetchItem(ctx, item)
			if err != nil {
				failures[i] = &itemFailure{link: item, err: err}
				return
			}
			records[i] = &record
		}(i, item)
	}
	wg.Wait()

	var successes []T
	var successIDs []string
	var failed []*itemFailure
	for i := range batchItems {
		if records[i] != nil {
			successes = append(successes, *records[i])
			successIDs = append(successIDs, batchItems[i].ItemID)
			continue
		}
		if failures[i] != nil {
			failed = append(failed, failures[i])
		}
		// neither: cancelled before the item was scheduled
	}

	if len(successes) == 0 && len(failed) == 0 {
		// cancelled before any item ran, nothing to record
		return nil
	}

	batchID := m.meta.LastBatchID + 1

	if len(successes) > 0 {
		stats, err := m.flushBatch(batchID, successes)
		if err != nil {
			return err
		}
		// the skip index only advances once the batch file is durable
		err = m.store.MarkFetched(ctx, successIDs, batchID)
		if err != nil {
			return err
		}

		m.meta.Batches = append(m.meta.Batches, stats)
	}

	if len(failed) > 0 {
		err := m.writeFailureLog(batchID, failed)
		if err != nil {
			return err
		}
	}

	// the id is consumed even by an all-failed batch, otherwise the next
	// batch's failure log would truncate this one
	m.meta.LastBatchID = batchID

	m.meta.TotalProcessed += len(successes) + len(failed)
	m.meta.TotalSuccessful += len(successes)
	m.meta.TotalFailed += len(failed)

	err := m.meta.save(metadataPath(m.opts.Dir))
	if err != nil {
		return err
	}

	slog.Info("batch complete",
		"batch_id", batchID,
		"successful", len(successes),
		"failed", len(failed))
	return nil
}

// fetchItem runs one detail fetch under bounded backoff. Failures here are
// contained: the item lands in the failure log and the batch moves on.
func (m *Manager[T]) fetchItem(ctx context.Context, item harvest.ItemLink) (T, error) {
	var record T

	operation := func() error {
		fetched, err := m.fetcher.FetchDetail(ctx, item)
		if err != nil {
			if faults.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		record = fetched
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.opts.MaxRetries),
		ctx,
	)
	err := backoff.Retry(operation, bo)
	return record, err
}

// flushBatch writes records to a temp file and renames it into place. Batch
// files are immutable once named batch_NNNN.parquet.
func (m *Manager[T]) flushBatch(batchID int, records []T) (BatchStats, error) {
	name := fmt.Sprintf("batch_%04d.parquet", batchID)
	path := filepath.Join(m.opts.Dir, name)

	tmp, err := os.CreateTemp(m.opts.Dir, name+".tmp-*")
	if err != nil {
		return BatchStats{}, err
	}
	tmpName := tmp.Name()

	writer := parquet.NewGenericWriter[T](tmp, parquet.Compression(&parquet.Snappy))
	_, err = writer.Write(records)
	if err == nil {
		err = writer.Close()
	}
	if err == nil {
		err = tmp.Sync()
	}
	cerr := tmp.Close()
	if err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return BatchStats{}, fmt.Errorf("flush batch %d: %w", batchID, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return BatchStats{}, err
	}

	return BatchStats{
		BatchID:   batchID,
		Count:     len(records),
		SizeBytes: info.Size(),
		File:      name,
		FlushedAt: time.Now(),
	}, nil
}

func (m *Manager[T]) writeFailureLog(batchID int, failed []*itemFailure) error {
	path := filepath.Join(m.opts.Dir, fmt.Sprintf("batch_%04d_failures.csv", batchID))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write([]string{"item_id", "url", "error"})
	if err != nil {
		return err
	}
	for _, failure := range failed {
		err = w.Write([]string{
			failure.link.ItemID,
			failure.link.URL,
			failure.err.Error(),
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	return errors.Join(w.Error(), f.Sync())
}

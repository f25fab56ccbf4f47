/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
)

// Executor splits bulk writes into store-sized chunks and runs them
// concurrently within the store's limits.
type Executor struct {
	store   datastore.DataStore
	caps    datastore.Capabilities
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for chunk failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger.With("component", "batch")
		}
	}
}

// WithMaxBatchSize lowers the chunk size below the store's limit.
func WithMaxBatchSize(n int) Option {
	return func(e *Executor) {
		if n > 0 && (e.caps.MaxBatchSize <= 0 || n < e.caps.MaxBatchSize) {
			e.caps.MaxBatchSize = n
		}
	}
}

// WithMaxParallelism overrides the number of concurrent chunks.
func WithMaxParallelism(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.caps.MaxParallelism = n
		}
	}
}

// WithRequestsPerSecond overrides request pacing. Zero disables it.
func WithRequestsPerSecond(rps float64) Option {
	return func(e *Executor) {
		e.caps.RequestsPerSecond = rps
	}
}

// New returns an executor for store.
func New(store datastore.DataStore, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		caps:   store.Capabilities(),
		logger: slog.Default().With("component", "batch"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.caps.MaxBatchSize <= 0 {
		e.caps.MaxBatchSize = 1
	}
	if e.caps.MaxParallelism <= 0 {
		e.caps.MaxParallelism = 1
	}
	if e.caps.RequestsPerSecond > 0 {
		burst := max(1, int(e.caps.RequestsPerSecond))
		e.limiter = rate.NewLimiter(rate.Limit(e.caps.RequestsPerSecond), burst)
	}
	return e
}

// Capabilities returns the effective limits.
func (e *Executor) Capabilities() datastore.Capabilities {
	return e.caps
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Execute applies op to records and returns the number of applied records.
//
// A chunk that fails with a non-fatal error is logged and the remaining
// chunks still run; the count of applied records is returned together with
// an *errors.BatchError. A fatal error stops scheduling, waits for running
// chunks and is returned with the count committed so far. Cancelling ctx
// also stops scheduling; committed chunks stay committed.
func (e *Executor) Execute(ctx context.Context, op datastore.Op, records []datastore.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	chunks := Chunk(records, e.caps.MaxBatchSize)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		applied  int
		fatal    error
		failures []errors.ChunkFailure
	)

	run := func(index int, chunk []datastore.Record) {
		n, err := e.runChunk(runCtx, op, index, chunk)
		mu.Lock()
		defer mu.Unlock()
		applied += n
		if err == nil {
			return
		}
		if errors.IsFatal(err) {
			if fatal == nil {
				fatal = err
				e.logger.Error("fatal store error, aborting batch",
					"store", e.store.Name(), "op", op.String(), "chunk", index, "err", err)
			}
			cancel()
			return
		}
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("batch chunk failed",
			"store", e.store.Name(), "op", op.String(), "chunk", index, "size", len(chunk), "err", err)
		failures = append(failures, errors.ChunkFailure{Index: index, Size: len(chunk), Err: err})
	}

	workers := min(e.caps.MaxParallelism, len(chunks))
	if workers == 1 {
		for i, chunk := range chunks {
			if runCtx.Err() != nil || e.wait(runCtx) != nil {
				break
			}
			run(i, chunk)
		}
	} else {
		pool, err := ants.NewPool(workers)
		if err != nil {
			return 0, fmt.Errorf("create batch pool: %w", err)
		}
		defer pool.Release()

		for i, chunk := range chunks {
			if runCtx.Err() != nil || e.wait(runCtx) != nil {
				break
			}
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				run(i, chunk)
			}); err != nil {
				wg.Done()
				mu.Lock()
				failures = append(failures, errors.ChunkFailure{Index: i, Size: len(chunk), Err: err})
				mu.Unlock()
			}
		}
		wg.Wait()
	}

	if fatal != nil {
		return applied, fmt.Errorf("%s aborted after %d records: %w", op, applied, fatal)
	}
	if err := ctx.Err(); err != nil {
		return applied, err
	}
	if len(failures) > 0 {
		slices.SortFunc(failures, func(a, b errors.ChunkFailure) int { return a.Index - b.Index })
		return applied, &errors.BatchError{Op: op.String(), Processed: applied, Failures: failures}
	}
	return applied, nil
}

func (e *Executor) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *Executor) runChunk(ctx context.Context, op datastore.Op, index int, chunk []datastore.Record) (int, error) {
	ctx, span := otel.Tracer("entityrepo/batch").Start(ctx, "batch.chunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("store", e.store.Name()),
		attribute.String("op", op.String()),
		attribute.Int("chunk.index", index),
		attribute.Int("chunk.size", len(chunk)),
	)

	outcomes, err := e.store.Bulk(ctx, op, chunk)
	n := 0
	for _, o := range outcomes {
		if o.Applied {
			n++
		}
	}
	span.SetAttributes(attribute.Int("chunk.applied", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

// Package scheduler runs ordered work in bounded chunks against an
// unreliable function, with independent per-chunk retry, caller-supplied
// fallback policy, and a deterministic chunk-index merge.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoItems is returned when RunChunked is called with no input.
	ErrNoItems = errors.New("scheduler: no items to process")

	// ErrAllChunksFailed is returned when every chunk exhausted its retries
	// and no fallback produced any output.
	ErrAllChunksFailed = errors.New("scheduler: all chunks failed")
)

// Chunk is a contiguous slice of the input. Index is the chunk sequence
// number and Start the offset of the first item in the original input; both
// exist for attribution and retry scoping only and never alter the merge
// order.
type Chunk[T any] struct {
	Index int
	Start int
	Items []T
}

// Func processes one chunk. It is assumed non-idempotent, non-deterministic
// and rate-limited; the scheduler owns all retry policy.
type Func[T, R any] func(ctx context.Context, chunk Chunk[T]) ([]R, error)

// Fallback produces a deterministic substitute for a chunk whose retries
// are exhausted. A nil Fallback means the chunk is dropped.
type Fallback[T, R any] func(chunk Chunk[T]) []R

// Failure records one chunk that exhausted its retries.
type Failure struct {
	Chunk            int    `json:"chunk"`
	Attempts         int    `json:"attempts"`
	Reason           string `json:"reason"`
	FallbackApplied  bool   `json:"fallback_applied"`
	FallbackItemsLen int    `json:"fallback_items"`
}

// Result is the merged best-effort output of a chunked run.
type Result[R any] struct {
	// Items holds per-chunk outputs concatenated in chunk-index order.
	Items []R

	// Failures lists every chunk that exhausted its retries, in chunk order.
	Failures []Failure

	// Chunks is the number of chunks the input was partitioned into.
	Chunks int
}

// Options control a chunked run.
type Options struct {
	// ChunkSize is the maximum number of items per chunk. Values < 1 are
	// treated as 1.
	ChunkSize int

	// MaxRetries is the number of retries after the first attempt, so a
	// chunk is attempted MaxRetries+1 times before its fallback applies.
	MaxRetries int

	// MaxParallel bounds how many chunks run concurrently. Values < 1 mean
	// no bound.
	MaxParallel int

	// StageTimeout, when > 0, bounds the whole fan-out. Chunks unresolved
	// when it fires count as retry-exhausted failures; completed chunks are
	// kept.
	StageTimeout time.Duration
}

// RunChunked partitions items into consecutive chunks, runs fn over every
// chunk concurrently with independent bounded retry, and merges per-chunk
// results in chunk-index order. Partial failure never raises: exhausted
// chunks degrade through the fallback policy and are listed in the failure
// report. It returns an error only for empty input or total failure.
func RunChunked[T, R any](ctx context.Context, items []T, opts Options, fn Func[T, R], fallback Fallback[T, R]) (*Result[R], error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 1
	}

	chunks := Partition(items, opts.ChunkSize)

	if opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.StageTimeout)
		defer cancel()
	}

	// Collect-then-merge: each chunk owns one slot, so completion order
	// cannot influence the merged output.
	type slot[RR any] struct {
		items   []RR
		failure *Failure
	}
	slots := make([]slot[R], len(chunks))

	g := &errgroup.Group{}
	if opts.MaxParallel > 0 {
		g.SetLimit(opts.MaxParallel)
	}

	for i, chunk := range chunks {
		g.Go(func() error {
			out, attempts, err := runWithRetry(ctx, chunk, opts.MaxRetries, fn)
			if err == nil {
				slots[i].items = out
				return nil
			}
			f := &Failure{
				Chunk:    chunk.Index,
				Attempts: attempts,
				Reason:   err.Error(),
			}
			if fallback != nil {
				sub := fallback(chunk)
				f.FallbackApplied = true
				f.FallbackItemsLen = len(sub)
				slots[i].items = sub
			}
			slots[i].failure = f
			return nil
		})
	}
	// Workers never return errors; failures are absorbed into the report.
	_ = g.Wait()

	res := &Result[R]{Chunks: len(chunks)}
	succeeded := 0
	fallbackItems := 0
	for _, s := range slots {
		res.Items = append(res.Items, s.items...)
		if s.failure != nil {
			res.Failures = append(res.Failures, *s.failure)
			fallbackItems += s.failure.FallbackItemsLen
		} else {
			succeeded++
		}
	}

	if succeeded == 0 && fallbackItems == 0 {
		return nil, fmt.Errorf("%w: %d chunks, last reason: %s", ErrAllChunksFailed, len(chunks), res.Failures[len(res.Failures)-1].Reason)
	}
	return res, nil
}

// Partition slices items into consecutive chunks of at most size items.
// The last chunk may be smaller.
func Partition[T any](items []T, size int) []Chunk[T] {
	if size < 1 {
		size = 1
	}
	var chunks []Chunk[T]
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, Chunk[T]{
			Index: len(chunks),
			Start: start,
			Items: items[start:end],
		})
	}
	return chunks
}

// runWithRetry attempts fn on the same chunk input until it succeeds, the
// attempts are spent, or the context ends. It returns the number of
// attempts actually made.
func runWithRetry[T, R any](ctx context.Context, chunk Chunk[T], maxRetries int, fn Func[T, R]) ([]R, int, error) {
	var lastErr error
	attempts := 0
	for attempts <= maxRetries {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return nil, attempts, fmt.Errorf("chunk %d aborted: %w", chunk.Index, lastErr)
		}
		attempts++
		out, err := fn(ctx, chunk)
		if err == nil {
			return out, attempts, nil
		}
		lastErr = err
	}
	return nil, attempts, fmt.Errorf("chunk %d failed after %d attempts: %w", chunk.Index, attempts, lastErr)
}

// DynamicChunkSize picks a chunk size for table extraction based on the
// number of tables and their average row count. Long tables force small
// chunks so one oracle call stays within its budget.
func DynamicChunkSize(totalItems, averageRows int) int {
	switch {
	case averageRows >= 50:
		return 2
	case averageRows >= 20:
		return 5
	case totalItems <= 20:
		return 5
	case totalItems <= 50:
		return 10
	default:
		return 15
	}
}

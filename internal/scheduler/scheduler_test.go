package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name      string
		items     int
		size      int
		wantLens  []int
		wantStart []int
	}{
		{
			name:      "even split",
			items:     6,
			size:      2,
			wantLens:  []int{2, 2, 2},
			wantStart: []int{0, 2, 4},
		},
		{
			name:      "short final chunk",
			items:     7,
			size:      3,
			wantLens:  []int{3, 3, 1},
			wantStart: []int{0, 3, 6},
		},
		{
			name:      "single chunk",
			items:     4,
			size:      10,
			wantLens:  []int{4},
			wantStart: []int{0},
		},
		{
			name:      "size below one is clamped",
			items:     3,
			size:      0,
			wantLens:  []int{1, 1, 1},
			wantStart: []int{0, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.items)
			for i := range items {
				items[i] = i
			}

			chunks := Partition(items, tt.size)
			require.Len(t, chunks, len(tt.wantLens))
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, tt.wantStart[i], c.Start)
				assert.Len(t, c.Items, tt.wantLens[i])
			}
		})
	}
}

func TestRunChunked_MergeOrderIsDeterministic(t *testing.T) {
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	// Later chunks finish first; the merge must still follow chunk index.
	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		time.Sleep(time.Duration(5-chunk.Index) * 10 * time.Millisecond)
		out := make([]int, len(chunk.Items))
		copy(out, chunk.Items)
		return out, nil
	}

	res, err := RunChunked(context.Background(), items, Options{ChunkSize: 2, MaxParallel: 5}, fn, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Chunks)
	assert.Empty(t, res.Failures)
	assert.Equal(t, items, res.Items)
}

func TestRunChunked_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return chunk.Items, nil
	}

	res, err := RunChunked(context.Background(), []int{1, 2}, Options{ChunkSize: 2, MaxRetries: 2}, fn, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Items)
	assert.Empty(t, res.Failures)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunChunked_FallbackAppliedExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	attemptsByChunk := map[int]int{}
	fallbacksByChunk := map[int]int{}

	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		mu.Lock()
		attemptsByChunk[chunk.Index]++
		mu.Unlock()
		if chunk.Index == 1 {
			return nil, fmt.Errorf("chunk %d keeps failing", chunk.Index)
		}
		return chunk.Items, nil
	}

	fallback := func(chunk Chunk[int]) []int {
		mu.Lock()
		fallbacksByChunk[chunk.Index]++
		mu.Unlock()
		out := make([]int, len(chunk.Items))
		for i, v := range chunk.Items {
			out[i] = -v
		}
		return out
	}

	res, err := RunChunked(context.Background(), []int{1, 2, 3, 4, 5, 6}, Options{ChunkSize: 2, MaxRetries: 2}, fn, fallback)
	require.NoError(t, err)

	// Failed chunk is substituted in place, others untouched.
	assert.Equal(t, []int{1, 2, -3, -4, 5, 6}, res.Items)

	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, 1, f.Chunk)
	assert.Equal(t, 3, f.Attempts)
	assert.True(t, f.FallbackApplied)
	assert.Equal(t, 2, f.FallbackItemsLen)
	assert.Contains(t, f.Reason, "chunk 1 keeps failing")

	assert.Equal(t, 3, attemptsByChunk[1])
	assert.Equal(t, map[int]int{1: 1}, fallbacksByChunk)
}

func TestRunChunked_DropFallbackOmitsChunk(t *testing.T) {
	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		if chunk.Index == 0 {
			return nil, errors.New("broken")
		}
		return chunk.Items, nil
	}

	drop := func(chunk Chunk[int]) []int { return nil }

	res, err := RunChunked(context.Background(), []int{1, 2, 3, 4}, Options{ChunkSize: 2, MaxRetries: 0}, fn, drop)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, res.Items)
	require.Len(t, res.Failures, 1)
	assert.True(t, res.Failures[0].FallbackApplied)
	assert.Equal(t, 0, res.Failures[0].FallbackItemsLen)
}

func TestRunChunked_EmptyInput(t *testing.T) {
	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		t.Fatal("fn must not be called for empty input")
		return nil, nil
	}

	_, err := RunChunked(context.Background(), nil, Options{ChunkSize: 2}, fn, nil)
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestRunChunked_TotalFailure(t *testing.T) {
	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		return nil, errors.New("oracle unavailable")
	}

	_, err := RunChunked(context.Background(), []int{1, 2, 3}, Options{ChunkSize: 1, MaxRetries: 1}, fn, nil)
	require.ErrorIs(t, err, ErrAllChunksFailed)
	assert.Contains(t, err.Error(), "oracle unavailable")
}

func TestRunChunked_TotalFailureWithEmptyFallbacks(t *testing.T) {
	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		return nil, errors.New("broken")
	}
	drop := func(chunk Chunk[int]) []int { return nil }

	_, err := RunChunked(context.Background(), []int{1, 2}, Options{ChunkSize: 1}, fn, drop)
	assert.ErrorIs(t, err, ErrAllChunksFailed)
}

func TestRunChunked_FallbackOutputCountsAsProgress(t *testing.T) {
	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		return nil, errors.New("broken")
	}
	substitute := func(chunk Chunk[int]) []int { return chunk.Items }

	res, err := RunChunked(context.Background(), []int{1, 2}, Options{ChunkSize: 1}, fn, substitute)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Items)
	assert.Len(t, res.Failures, 2)
}

func TestRunChunked_StageTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	fn := func(ctx context.Context, chunk Chunk[int]) ([]int, error) {
		if chunk.Index == 0 {
			return chunk.Items, nil
		}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}

	res, err := RunChunked(context.Background(), []int{1, 2}, Options{ChunkSize: 1, StageTimeout: 50 * time.Millisecond}, fn, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Items)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Chunk)
}

func TestDynamicChunkSize(t *testing.T) {
	tests := []struct {
		name        string
		totalItems  int
		averageRows int
		want        int
	}{
		{"long tables force small chunks", 10, 60, 2},
		{"medium tables", 10, 25, 5},
		{"few short tables", 15, 5, 5},
		{"moderate count", 40, 5, 10},
		{"many short tables", 80, 5, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DynamicChunkSize(tt.totalItems, tt.averageRows))
		})
	}
}

package clickhouse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) flush(ctx context.Context, batch []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		TableName:    "zone_snapshots",
		MaxBatchSize: 3,
		MaxAge:       10 * time.Second,
	})
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, "a", "b"))
	assert.Equal(t, 2, bw.BufferSize())
	require.NoError(t, bw.Add(ctx, "c"))

	rec.mu.Lock()
	require.Len(t, rec.batches, 1)
	assert.Equal(t, []string{"a", "b", "c"}, rec.batches[0])
	rec.mu.Unlock()
	assert.Zero(t, bw.BufferSize())
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 100,
		MaxAge:       50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, "a", "b"))
	assert.Eventually(t, func() bool { return rec.rows() == 2 }, time.Second, 10*time.Millisecond)
}

func TestBatchWriter_StopFlushesRemaining(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 100,
		MaxAge:       time.Hour,
	})
	bw.Start(context.Background())

	require.NoError(t, bw.Add(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bw.Stop(ctx))
	assert.Equal(t, 1, rec.rows())
	require.NoError(t, bw.Stop(ctx), "second stop is a no-op")
}

func TestBatchWriter_FlushErrorDropsBatch(t *testing.T) {
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    func(context.Context, []int) error { return errors.New("insert failed") },
		MaxBatchSize: 10,
	})
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, 1, 2))
	require.Error(t, bw.Flush(ctx))
	assert.Zero(t, bw.BufferSize())
}

func TestBatchWriter_ConcurrentAdds(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{FlushFunc: rec.flush, MaxBatchSize: 7})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = bw.Add(ctx, "row")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, bw.Flush(ctx))

	assert.Equal(t, 200, rec.rows())
}

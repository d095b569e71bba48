package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

func job(id string) *crawler.Job {
	return crawler.NewJob(crawler.JobSpec{ID: id, Platform: "twitter"}, nil)
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	result := make(chan *crawler.Job, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to block
	require.NoError(t, q.Enqueue(context.Background(), job("job-1")))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.ID())
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueIsFIFOAndUnbounded(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(ctx, job(id)))
	}
	require.Equal(t, 5, q.Len())

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first.ID())

	// Re-enqueue at the tail the way a worker defers a not-yet-due job.
	require.NoError(t, q.Enqueue(ctx, first))

	var got []string
	for q.Len() > 0 {
		j, err := q.Dequeue(ctx)
		require.NoError(t, err)
		got = append(got, j.ID())
	}
	require.Equal(t, []string{"b", "c", "d", "e", "a"}, got)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")
	require.EqualError(t, q.Enqueue(ctx, job("x")), "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	require.NoError(t, q.Enqueue(context.Background(), job("pending")))
	q.Close()

	j, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pending", j.ID())

	_, err = q.Dequeue(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(q.Enqueue(context.Background(), job("late")), ErrClosed))
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseWakesBlockedConsumer(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		require.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue was not released by Close")
	}
}

func TestQueueRequeueKeepsBackingBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, job(id)))
	}

	var order []string
	for i := range 100000 {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		if i < 6 {
			order = append(order, got.ID())
		}
		require.NoError(t, q.Enqueue(ctx, got))
	}

	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
	require.Equal(t, 3, q.Len())
	q.mu.Lock()
	backing, capacity := len(q.items), cap(q.items)
	q.mu.Unlock()
	require.LessOrEqual(t, backing, 2*compactThreshold)
	require.LessOrEqual(t, capacity, 4*compactThreshold)
}

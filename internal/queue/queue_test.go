package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainkit/hsync/internal/task"
)

func TestQueuePriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int64

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var count int

	q := New(Options{
		Concurrency: 1,
		Logger:      zerolog.Nop(),
		Worker: func(ctx context.Context, t task.Task) error {
			mu.Lock()
			order = append(order, t.From)
			count++
			if count == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		},
	})

	q.AddTask(task.Task{Kind: task.KindLogFilter, From: 100})
	q.AddTask(task.Task{Kind: task.KindLogFilter, From: 50})
	q.AddTask(task.Task{Kind: task.KindLogFilter, From: 200})

	q.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{50, 100, 200}, order)
}

func TestQueueRetryOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	var q *Queue
	q = New(Options{
		Concurrency: 1,
		Logger:      zerolog.Nop(),
		Worker: func(ctx context.Context, t task.Task) error {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return assertErr
			}
			close(done)
			return nil
		},
		OnError: RetryOnError(nil),
	})

	q.AddTask(task.Task{Kind: task.KindLogFilter, From: 1})
	q.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, attempts)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestQueueClearDropsQueued(t *testing.T) {
	q := New(Options{Concurrency: 1, Logger: zerolog.Nop(), Worker: func(ctx context.Context, t task.Task) error {
		return nil
	}})
	q.AddTask(task.Task{Kind: task.KindLogFilter, From: 1})
	q.AddTask(task.Task{Kind: task.KindLogFilter, From: 2})
	require.Equal(t, 2, q.Size())
	q.Clear()
	require.Equal(t, 0, q.Size())
}

func TestQueueOnIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New(Options{
		Concurrency: 2,
		Logger:      zerolog.Nop(),
		Worker: func(ctx context.Context, t task.Task) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	})

	for i := 0; i < 5; i++ {
		q.AddTask(task.Task{Kind: task.KindLogFilter, From: int64(i)})
	}
	q.Start(ctx)

	idleDone := make(chan struct{})
	go func() {
		q.OnIdle(ctx)
		close(idleDone)
	}()

	select {
	case <-idleDone:
	case <-time.After(2 * time.Second):
		t.Fatal("OnIdle never returned")
	}

	require.Equal(t, 0, q.Size())
	require.Equal(t, 0, q.Pending())
}

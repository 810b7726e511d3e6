// Package queue implements the historical sync engine's priority work
// queue: heterogeneous tasks, bounded concurrency, per-task retry on
// failure, and pause/clear/drain controls.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chainkit/hsync/internal/task"
)

// Worker processes a single task. A non-nil error triggers the queue's
// on-error handler, which by default (RetryOnError) re-enqueues the task
// with Retry set.
type Worker func(ctx context.Context, t task.Task) error

// OnError is invoked from a worker's own goroutine after a failed task.
// The handle lets the callback re-enqueue or otherwise react.
type OnError func(err error, t task.Task, q *Queue)

// Options configures a Queue.
type Options struct {
	Concurrency int
	Worker      Worker
	OnError     OnError
	Logger      zerolog.Logger
}

type item struct {
	task     task.Task
	priority int64
	seq      int64
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a priority queue of tasks processed by a fixed-size worker
// pool. Not fair: strictly highest priority first, ties broken by
// insertion order.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	heap        itemHeap
	nextSeq     int64
	concurrency int
	inFlight    int
	paused      bool
	started     bool
	worker      Worker
	onError     OnError
	logger      zerolog.Logger
	idleCh      chan struct{}
}

// New creates a Queue. Call Start to begin processing.
func New(opts Options) *Queue {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	onError := opts.OnError
	if onError == nil {
		onError = RetryOnError(nil)
	}
	q := &Queue{
		concurrency: concurrency,
		worker:      opts.Worker,
		onError:     onError,
		logger:      opts.Logger.With().Str("component", "queue").Logger(),
		paused:      true,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// AddTask enqueues t at priority t.Priority().
func (q *Queue) AddTask(t task.Task) {
	q.mu.Lock()
	heap.Push(&q.heap, &item{task: t, priority: t.Priority(), seq: q.nextSeq})
	q.nextSeq++
	q.mu.Unlock()
	q.cond.Signal()
}

// Start begins dispatching queued tasks to the worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.paused = false
	q.mu.Unlock()

	for i := 0; i < q.concurrency; i++ {
		go q.runLoop(ctx)
	}
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	q.cond.Broadcast()
}

// Pause stops new tasks from being dispatched; in-flight tasks finish.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume allows dispatching to continue after Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Clear drops all queued (not yet dispatched) tasks. In-flight tasks are
// left running.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.heap = nil
	q.mu.Unlock()
}

// Size returns the number of tasks waiting to be dispatched.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Pending returns the number of tasks currently being worked.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// OnIdle blocks until both Size and Pending are zero. If more tasks are
// enqueued afterward, a fresh call to OnIdle is required.
func (q *Queue) OnIdle(ctx context.Context) {
	q.mu.Lock()
	for (len(q.heap) > 0 || q.inFlight > 0) && ctx.Err() == nil {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *Queue) runLoop(ctx context.Context) {
	for {
		t, ok := q.dequeue(ctx)
		if !ok {
			return
		}

		err := q.worker(ctx, t)

		// Run the on-error handler before releasing the in-flight slot so
		// a re-enqueued retry is queued before OnIdle can see an idle queue.
		if err != nil && q.onError != nil {
			q.onError(err, t, q)
		}

		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// dequeue blocks until a task is available and the queue is not paused,
// or until ctx is done.
func (q *Queue) dequeue(ctx context.Context) (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return task.Task{}, false
		}
		if !q.paused && len(q.heap) > 0 {
			it := heap.Pop(&q.heap).(*item)
			q.inFlight++
			return it.task, true
		}
		q.cond.Wait()
	}
}

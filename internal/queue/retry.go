package queue

import "github.com/chainkit/hsync/internal/task"

// RetryOnError is the default on-error handler: it re-enqueues the failed
// task unchanged except for Retry, at the same priority. Retries are
// unbounded at this layer; bounding is left to upstream context
// cancellation.
func RetryOnError(logFn func(err error, t task.Task)) OnError {
	return func(err error, t task.Task, q *Queue) {
		if logFn != nil {
			logFn(err, t)
		}
		t.Retry = true
		q.AddTask(t)
	}
}

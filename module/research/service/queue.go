package service

import (
	"sync"

	"ResearchChat/tools/safe"
)

// workQueue is a fixed worker pool over a bounded channel. Submit never
// blocks; a full queue is reported to the caller.
type workQueue[T any] struct {
	jobs chan T
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newWorkQueue[T any](workers, size int, run func(T)) *workQueue[T] {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	q := &workQueue[T]{jobs: make(chan T, size)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		safe.Go("research-worker", func() {
			defer q.wg.Done()
			for job := range q.jobs {
				job := job
				safe.Run("research-job", func() { run(job) })
			}
		})
	}
	return q
}

func (q *workQueue[T]) Submit(job T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting work and waits for queued jobs to drain.
func (q *workQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

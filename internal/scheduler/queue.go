package scheduler

import (
	"container/heap"
	"sync"

	"storyreel/internal/domain"
)

// jobHeap orders waiting jobs by priority, then by enqueue sequence. Lower
// priority values dispatch first; the sequence breaks ties in arrival order.
type jobHeap []*domain.Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*domain.Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// lane is one dispatch queue. Each provider gets its own lane so a slow
// local backend cannot starve jobs destined for a different provider, even
// one serving the same capability.
type lane struct {
	mu   sync.Mutex
	jobs jobHeap
	wake chan struct{}
}

func newLane() *lane {
	return &lane{wake: make(chan struct{}, 1)}
}

func (l *lane) push(job *domain.Job) {
	l.mu.Lock()
	heap.Push(&l.jobs, job)
	l.mu.Unlock()
	l.notify()
}

// pop removes the highest-priority job, or returns nil when the lane is
// empty. When more work remains it re-arms the wake signal so sibling
// workers are not left sleeping.
func (l *lane) pop() *domain.Job {
	l.mu.Lock()
	if len(l.jobs) == 0 {
		l.mu.Unlock()
		return nil
	}
	job := heap.Pop(&l.jobs).(*domain.Job)
	remaining := len(l.jobs)
	l.mu.Unlock()
	if remaining > 0 {
		l.notify()
	}
	return job
}

// remove extracts a waiting job by id and reports whether it was present.
// A job absent from the lane has already been handed to a worker.
func (l *lane) remove(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, job := range l.jobs {
		if job.ID == jobID {
			heap.Remove(&l.jobs, i)
			return true
		}
	}
	return false
}

func (l *lane) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

func (l *lane) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Package scheduling implements the gateway's batch queue and the background
// dispatcher that drains it. Batching here groups requests temporally to
// amortize queueing overhead and respect runner concurrency windows; requests
// are still forwarded one at a time.
package scheduling

import (
	"sort"
	"sync"
	"time"
)

// Result is the outcome delivered on a queued request's reply channel:
// either the runner's response body or a routing error, never both.
type Result struct {
	Body []byte
	Err  error
	// RunnerID identifies the runner that served the request, when one was
	// selected.
	RunnerID string
}

// Request is a queued chat-completion request.
type Request struct {
	// Body is the client's request payload.
	Body []byte
	// Reply receives exactly one Result. It is buffered so the dispatcher
	// never blocks on a caller that gave up waiting.
	Reply chan Result
	// EnqueuedAt is the time the request entered the queue.
	EnqueuedAt time.Time
}

// perModelQueue is an ordered sequence of pending requests for one model.
// firstRequestAt mirrors the head element's enqueue time so that
// timeout-based dispatch checks are O(1).
type perModelQueue struct {
	requests       []*Request
	firstRequestAt time.Time
}

// Queue holds per-model FIFO queues of requests awaiting dispatch.
type Queue struct {
	mu     sync.Mutex
	queues map[string]*perModelQueue
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		queues: make(map[string]*perModelQueue),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a request to the model's queue and wakes the dispatcher.
// The returned channel receives exactly one Result.
func (q *Queue) Enqueue(model string, body []byte) <-chan Result {
	req := &Request{
		Body:       body,
		Reply:      make(chan Result, 1),
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	pq := q.queues[model]
	if pq == nil {
		pq = &perModelQueue{}
		q.queues[model] = pq
	}
	if len(pq.requests) == 0 {
		pq.firstRequestAt = req.EnqueuedAt
	}
	pq.requests = append(pq.requests, req)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return req.Reply
}

// Notify returns the channel the dispatcher waits on for enqueue wake-ups.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// ShouldDispatch reports whether the model's queue is ready for a batch:
// either it has runnerBatchSize requests waiting, or it has at least
// minBatchSize and the head request has aged past batchTimeout.
func (q *Queue) ShouldDispatch(model string, runnerBatchSize, minBatchSize int, batchTimeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	pq := q.queues[model]
	if pq == nil || len(pq.requests) == 0 {
		return false
	}
	if len(pq.requests) >= runnerBatchSize {
		return true
	}
	return len(pq.requests) >= minBatchSize && time.Since(pq.firstRequestAt) >= batchTimeout
}

// TakeBatch removes up to max requests from the model's queue in FIFO order
// and refreshes firstRequestAt for the new head.
func (q *Queue) TakeBatch(model string, max int) []*Request {
	if max < 1 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	pq := q.queues[model]
	if pq == nil || len(pq.requests) == 0 {
		return nil
	}
	n := max
	if n > len(pq.requests) {
		n = len(pq.requests)
	}
	batch := make([]*Request, n)
	copy(batch, pq.requests[:n])
	pq.requests = append(pq.requests[:0], pq.requests[n:]...)
	if len(pq.requests) == 0 {
		delete(q.queues, model)
	} else {
		pq.firstRequestAt = pq.requests[0].EnqueuedAt
	}
	return batch
}

// PendingModels returns the sorted list of models with waiting requests.
func (q *Queue) PendingModels() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	models := make([]string, 0, len(q.queues))
	for model, pq := range q.queues {
		if len(pq.requests) > 0 {
			models = append(models, model)
		}
	}
	sort.Strings(models)
	return models
}

// PendingCount returns the number of waiting requests for the model.
func (q *Queue) PendingCount(model string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	pq := q.queues[model]
	if pq == nil {
		return 0
	}
	return len(pq.requests)
}

// OldestRequestAge returns the age of the model queue's head request.
func (q *Queue) OldestRequestAge(model string) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pq := q.queues[model]
	if pq == nil || len(pq.requests) == 0 {
		return 0, false
	}
	return time.Since(pq.firstRequestAt), true
}

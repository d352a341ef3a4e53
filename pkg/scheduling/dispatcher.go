package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/fleetserve/gateway/pkg/classify"
	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/logging"
	"github.com/fleetserve/gateway/pkg/metrics"
	"github.com/fleetserve/gateway/pkg/routing"
)

// Config tunes dispatch behavior.
type Config struct {
	// MinBatchSize is the minimum queue depth for timeout-based dispatch.
	MinBatchSize int
	// BatchTimeout is the maximum age of the head request before a
	// below-capacity batch dispatches anyway.
	BatchTimeout time.Duration
	// Tick drives timeout-based dispatch when no enqueues arrive.
	Tick time.Duration
}

// Dispatcher is the single long-running task that drains the batch queue.
type Dispatcher struct {
	log      logging.Logger
	queue    *Queue
	registry *fleet.Registry
	router   *routing.Router
	cfg      Config

	// cacheMu guards batchSizes, the per-model runner batch-size cache.
	// The cache is invalidated whenever the fleet changes; a stale value
	// only makes batches smaller than necessary.
	cacheMu    sync.Mutex
	batchSizes map[string]int
}

// NewDispatcher creates a dispatcher and hooks fleet changes to its
// batch-size cache invalidation.
func NewDispatcher(log logging.Logger, queue *Queue, registry *fleet.Registry, router *routing.Router, cfg Config) *Dispatcher {
	if cfg.MinBatchSize < 1 {
		cfg.MinBatchSize = 1
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Millisecond
	}
	d := &Dispatcher{
		log:        log,
		queue:      queue,
		registry:   registry,
		router:     router,
		cfg:        cfg,
		batchSizes: make(map[string]int),
	}
	registry.OnFleetChange(d.InvalidateBatchSizes)
	return d
}

// InvalidateBatchSizes clears the per-model batch-size cache so that new or
// departed runner capacities take effect on the next dispatch decision.
func (d *Dispatcher) InvalidateBatchSizes() {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	clear(d.batchSizes)
}

// Run drains the queue until the context is cancelled. It wakes on enqueue
// notifications and on a short periodic tick that honors timeout-based
// dispatch when no new requests arrive.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.failPending(ctx.Err())
			return ctx.Err()
		case <-d.queue.Notify():
		case <-ticker.C:
		}
		d.dispatchPending(ctx)
	}
}

func (d *Dispatcher) dispatchPending(ctx context.Context) {
	for _, model := range d.queue.PendingModels() {
		size := d.batchSizeFor(model)
		if !d.queue.ShouldDispatch(model, size, d.cfg.MinBatchSize, d.cfg.BatchTimeout) {
			continue
		}
		batch := d.queue.TakeBatch(model, size)
		if len(batch) == 0 {
			continue
		}
		d.dispatchBatch(ctx, model, batch)
	}

	total := 0
	for _, model := range d.queue.PendingModels() {
		total += d.queue.PendingCount(model)
	}
	metrics.SetQueuedRequests(total)
}

// batchSizeFor returns the cached batch size for a model, populating the
// cache by scanning runners that have the model loaded and taking the
// maximum engine batch size. Models nobody has loaded default to 1.
func (d *Dispatcher) batchSizeFor(model string) int {
	d.cacheMu.Lock()
	if size, ok := d.batchSizes[model]; ok {
		d.cacheMu.Unlock()
		return size
	}
	d.cacheMu.Unlock()

	size := 1
	for _, runner := range d.registry.WithModel(model) {
		if s := runner.Status.MaxBatchSize(model); s > size {
			size = s
		}
	}

	d.cacheMu.Lock()
	d.batchSizes[model] = size
	d.cacheMu.Unlock()
	return size
}

// dispatchBatch forwards a batch to a single least-loaded runner, one
// request at a time, delivering exactly one result per reply channel. The
// runner's active-request counter is held across the whole batch.
func (d *Dispatcher) dispatchBatch(ctx context.Context, model string, batch []*Request) {
	mreq := classify.ParseModelRequest(model)
	candidates, err := d.router.Candidates(mreq)
	if err != nil {
		d.log.Warnf("no runner for %d queued request(s) on %s: %v", len(batch), model, err)
		for _, req := range batch {
			req.Reply <- Result{Err: err}
		}
		return
	}
	runner := d.router.LeastLoaded(candidates)
	target := d.router.TargetModel(runner, mreq)
	metrics.ObserveBatch(len(batch))

	d.registry.IncrementActive(runner.ID)
	defer d.registry.DecrementActive(runner.ID)

	for _, req := range batch {
		body, err := d.router.Proxy(ctx, runner, target, req.Body)
		if err != nil {
			d.log.Warnf("dispatch to %s failed for model %s: %v", runner.ID, model, err)
		}
		// The reply channel is buffered; a caller that timed out simply
		// never reads the result.
		req.Reply <- Result{Body: body, Err: err, RunnerID: runner.ID}
	}
}

// failPending delivers an error to every still-queued request on shutdown.
func (d *Dispatcher) failPending(err error) {
	for _, model := range d.queue.PendingModels() {
		for {
			batch := d.queue.TakeBatch(model, 64)
			if len(batch) == 0 {
				break
			}
			for _, req := range batch {
				req.Reply <- Result{Err: err}
			}
		}
	}
}

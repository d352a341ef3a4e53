package fleet

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetserve/gateway/pkg/events"
	"github.com/fleetserve/gateway/pkg/logging"
)

var (
	// ErrEmptyRunnerID indicates a registration with an empty runner id.
	ErrEmptyRunnerID = errors.New("fleet: empty runner id")
	// ErrRunnerNotFound indicates that no connected runner has the given id.
	ErrRunnerNotFound = errors.New("fleet: runner not found")
	// ErrSendQueueFull indicates that a runner's outbound queue is full.
	ErrSendQueueFull = errors.New("fleet: runner send queue full")
)

// Runner is a point-in-time snapshot of a connected runner. Snapshots are
// safe to retain; they share no mutable state with the registry.
type Runner struct {
	ID          string
	Name        string
	MachineType string
	Status      Status
	ConnectedAt time.Time
	// LastHeartbeat is refreshed by heartbeat and status-update messages.
	LastHeartbeat time.Time
	// BaseURL is the runner's HTTP endpoint, derived from the control
	// connection's peer address and the registered HTTP port.
	BaseURL string
	// MAC is the runner's hardware address, used for wake-on-LAN.
	MAC string
	// ActiveRequests is the number of requests currently being proxied to
	// the runner.
	ActiveRequests int64
}

// Registration carries the fields needed to admit a runner into the
// registry. Send is the outbound frame queue drained by the runner's control
// channel writer; it is owned by the registry once registration succeeds.
type Registration struct {
	ID          string
	Name        string
	MachineType string
	Status      Status
	BaseURL     string
	MAC         string
	Send        chan []byte
}

// entry is the registry's internal mutable record for one connected runner.
type entry struct {
	id            string
	name          string
	machineType   string
	status        Status
	connectedAt   time.Time
	lastHeartbeat time.Time
	baseURL       string
	mac           string
	send          chan []byte
	active        atomic.Int64
}

func (e *entry) snapshot() Runner {
	return Runner{
		ID:             e.id,
		Name:           e.name,
		MachineType:    e.machineType,
		Status:         e.status,
		ConnectedAt:    e.connectedAt,
		LastHeartbeat:  e.lastHeartbeat,
		BaseURL:        e.baseURL,
		MAC:            e.mac,
		ActiveRequests: e.active.Load(),
	}
}

// Registry is the source of truth for connected runners. Reads return cloned
// snapshots; the per-runner active-request counters are atomics so the load
// balancer never contends with heartbeat writers.
type Registry struct {
	log logging.Logger
	bus *events.Bus

	mu      sync.RWMutex
	runners map[string]*entry

	hooksMu sync.Mutex
	hooks   []func()
}

// NewRegistry creates an empty registry publishing events on bus.
func NewRegistry(log logging.Logger, bus *events.Bus) *Registry {
	return &Registry{
		log:     log,
		bus:     bus,
		runners: make(map[string]*entry),
	}
}

// OnFleetChange registers a hook invoked (outside the registry lock) every
// time a runner connects or disconnects. The batch dispatcher uses it to
// invalidate its batch-size cache.
func (r *Registry) OnFleetChange(hook func()) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

func (r *Registry) fleetChanged() {
	r.hooksMu.Lock()
	hooks := make([]func(), len(r.hooks))
	copy(hooks, r.hooks)
	r.hooksMu.Unlock()
	for _, hook := range hooks {
		hook()
	}
}

// Register admits a runner. If a runner with the same id is already
// connected its entry is replaced: the old send queue is closed and a
// Disconnected event precedes the new Connected event.
func (r *Registry) Register(reg Registration) error {
	if reg.ID == "" {
		return ErrEmptyRunnerID
	}
	now := time.Now()
	e := &entry{
		id:            reg.ID,
		name:          reg.Name,
		machineType:   reg.MachineType,
		status:        reg.Status,
		connectedAt:   now,
		lastHeartbeat: now,
		baseURL:       reg.BaseURL,
		mac:           reg.MAC,
		send:          reg.Send,
	}

	r.mu.Lock()
	old, replaced := r.runners[reg.ID]
	r.runners[reg.ID] = e
	r.mu.Unlock()

	if replaced {
		close(old.send)
		r.log.Warnf("runner %s re-registered, replacing stale entry", reg.ID)
		r.bus.Publish(DisconnectedEvent{ID: reg.ID})
	}
	r.bus.Publish(ConnectedEvent{
		ID:           reg.ID,
		Name:         reg.Name,
		MachineType:  reg.MachineType,
		Health:       reg.Status.Health,
		LoadedModels: reg.Status.LoadedModels(),
	})
	r.fleetChanged()
	return nil
}

// Unregister removes a runner, closes its send queue and publishes a
// Disconnected event. It returns the final snapshot of the removed runner.
func (r *Registry) Unregister(id string) (Runner, bool) {
	r.mu.Lock()
	e, ok := r.runners[id]
	if ok {
		delete(r.runners, id)
	}
	r.mu.Unlock()
	if !ok {
		return Runner{}, false
	}
	close(e.send)
	r.bus.Publish(DisconnectedEvent{ID: id})
	r.fleetChanged()
	return e.snapshot(), true
}

// UnregisterIfOwner removes the runner only when its current entry still owns
// the given send queue. Control connections use it so a connection that has
// been replaced by a re-registration does not tear down its successor.
func (r *Registry) UnregisterIfOwner(id string, send chan []byte) (Runner, bool) {
	r.mu.Lock()
	e, ok := r.runners[id]
	if !ok || e.send != send {
		r.mu.Unlock()
		return Runner{}, false
	}
	delete(r.runners, id)
	r.mu.Unlock()
	close(e.send)
	r.bus.Publish(DisconnectedEvent{ID: id})
	r.fleetChanged()
	return e.snapshot(), true
}

// UpdateStatus replaces a runner's status and refreshes its heartbeat
// timestamp. A StatusChanged event is published only when the health or the
// loaded-model set actually changed.
func (r *Registry) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	e, ok := r.runners[id]
	if !ok {
		r.mu.Unlock()
		return ErrRunnerNotFound
	}
	prevHealth := e.status.Health
	prevModels := e.status.LoadedModels()
	e.status = status
	e.lastHeartbeat = time.Now()
	r.mu.Unlock()

	newModels := status.LoadedModels()
	if prevHealth != status.Health || !sameModelSet(prevModels, newModels) {
		r.bus.Publish(StatusChangedEvent{
			ID:           id,
			Health:       status.Health,
			LoadedModels: newModels,
		})
	}
	return nil
}

// Get returns a snapshot of the runner with the given id.
func (r *Registry) Get(id string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runners[id]
	if !ok {
		return Runner{}, false
	}
	return e.snapshot(), true
}

// All returns snapshots of every connected runner.
func (r *Registry) All() []Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runners := make([]Runner, 0, len(r.runners))
	for _, e := range r.runners {
		runners = append(runners, e.snapshot())
	}
	return runners
}

// selectable reports whether the runner may be handed requests: its health
// permits serving and it registered a reachable HTTP endpoint. A runner
// without a base URL is control-plane only (visible, pingable, wakeable) but
// never selected.
func (e *entry) selectable() bool {
	return e.status.IsOperational() && e.baseURL != ""
}

// Operational returns snapshots of runners eligible to serve requests.
func (r *Registry) Operational() []Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runners := make([]Runner, 0, len(r.runners))
	for _, e := range r.runners {
		if e.selectable() {
			runners = append(runners, e.snapshot())
		}
	}
	return runners
}

// WithModel returns runners eligible to serve requests that have the model
// loaded.
func (r *Registry) WithModel(model string) []Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var runners []Runner
	for _, e := range r.runners {
		if e.selectable() && e.status.HasModelLoaded(model) {
			runners = append(runners, e.snapshot())
		}
	}
	return runners
}

// AllModels returns, for every loaded model, the ids of the runners that
// have it loaded.
func (r *Registry) AllModels() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make(map[string][]string)
	for _, e := range r.runners {
		for _, m := range e.status.LoadedModels() {
			models[m] = append(models[m], e.id)
		}
	}
	return models
}

// Count returns the number of connected runners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// Send enqueues a pre-marshaled frame on the runner's outbound queue without
// blocking.
func (r *Registry) Send(id string, frame []byte) error {
	r.mu.RLock()
	e, ok := r.runners[id]
	r.mu.RUnlock()
	if !ok {
		return ErrRunnerNotFound
	}
	select {
	case e.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// IncrementActive bumps the runner's active-request counter. No lock is
// taken; the counter is an atomic.
func (r *Registry) IncrementActive(id string) {
	r.mu.RLock()
	e, ok := r.runners[id]
	r.mu.RUnlock()
	if ok {
		e.active.Add(1)
	}
}

// DecrementActive decrements the runner's active-request counter.
func (r *Registry) DecrementActive(id string) {
	r.mu.RLock()
	e, ok := r.runners[id]
	r.mu.RUnlock()
	if ok {
		e.active.Add(-1)
	}
}

// ActiveRequests returns the runner's current active-request count.
func (r *Registry) ActiveRequests(id string) int64 {
	r.mu.RLock()
	e, ok := r.runners[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.active.Load()
}

// SweepStale evicts every runner whose last heartbeat is older than timeout,
// publishing a Disconnected event for each. It returns the evicted ids.
func (r *Registry) SweepStale(timeout time.Duration) []string {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var evicted []*entry
	for id, e := range r.runners {
		if e.lastHeartbeat.Before(cutoff) {
			delete(r.runners, id)
			evicted = append(evicted, e)
		}
	}
	r.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	ids := make([]string, 0, len(evicted))
	for _, e := range evicted {
		close(e.send)
		r.log.Warnf("evicting runner %s: no heartbeat since %s", e.id, e.lastHeartbeat.Format(time.RFC3339))
		r.bus.Publish(DisconnectedEvent{ID: e.id})
		ids = append(ids, e.id)
	}
	r.fleetChanged()
	return ids
}

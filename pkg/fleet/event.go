package fleet

// ConnectedEvent is published when a runner completes registration.
type ConnectedEvent struct {
	ID           string
	Name         string
	MachineType  string
	Health       Health
	LoadedModels []string
}

// Kind implements events.Event.
func (ConnectedEvent) Kind() string { return "runner_connected" }

// DisconnectedEvent is published when a runner's control channel closes or
// the runner is evicted by the stale sweeper.
type DisconnectedEvent struct {
	ID string
}

// Kind implements events.Event.
func (DisconnectedEvent) Kind() string { return "runner_disconnected" }

// StatusChangedEvent is published when a status refresh changes a runner's
// health or loaded-model set.
type StatusChangedEvent struct {
	ID           string
	Health       Health
	LoadedModels []string
}

// Kind implements events.Event.
func (StatusChangedEvent) Kind() string { return "runner_status_changed" }

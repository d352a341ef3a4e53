// Package fleet tracks the set of connected runners, their health and their
// loaded models, and emits lifecycle events as the fleet changes.
package fleet

import (
	"sort"
)

// Health describes a runner's overall health.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthDegraded     Health = "degraded"
	HealthStarting     Health = "starting"
	HealthShuttingDown Health = "shutting_down"
	HealthUnhealthy    Health = "unhealthy"
	// HealthOffline is never reported by a runner; it is synthesized for
	// persisted runners that are not currently connected.
	HealthOffline Health = "offline"
)

// IsOperational reports whether a runner in this health state may serve
// requests.
func (h Health) IsOperational() bool {
	return h == HealthHealthy || h == HealthDegraded
}

// EngineStatus describes one model backend within a runner.
type EngineStatus struct {
	EngineType      string   `json:"engine_type"`
	Healthy         bool     `json:"healthy"`
	LoadedModels    []string `json:"loaded_models"`
	AvailableModels []string `json:"available_models"`
	// BatchSize is the maximum number of concurrent requests the engine
	// accepts. Zero means unreported and is treated as 1.
	BatchSize int `json:"batch_size,omitempty"`
}

// Status is the self-reported state of a runner, carried by registration,
// heartbeat and status-update messages.
type Status struct {
	Health  Health         `json:"health"`
	Engines []EngineStatus `json:"engines,omitempty"`
	// Metrics optionally carries the runner's metrics in Prometheus text
	// exposition format.
	Metrics string `json:"metrics,omitempty"`
	// ModelAliases maps canonical model names to the identifiers the runner
	// uses internally.
	ModelAliases map[string]string `json:"model_aliases,omitempty"`
}

// IsOperational reports whether the runner may serve requests.
func (s Status) IsOperational() bool {
	return s.Health.IsOperational()
}

// LoadedModels returns the sorted union of loaded models across engines.
func (s Status) LoadedModels() []string {
	return collectModels(s.Engines, func(e EngineStatus) []string { return e.LoadedModels })
}

// AvailableModels returns the sorted union of available models across
// engines.
func (s Status) AvailableModels() []string {
	return collectModels(s.Engines, func(e EngineStatus) []string { return e.AvailableModels })
}

// HasModelLoaded reports whether any engine has the model loaded.
func (s Status) HasModelLoaded(model string) bool {
	for _, e := range s.Engines {
		for _, m := range e.LoadedModels {
			if m == model {
				return true
			}
		}
	}
	return false
}

// MaxBatchSize returns the largest batch size among engines that have the
// model loaded, defaulting to 1.
func (s Status) MaxBatchSize(model string) int {
	size := 0
	for _, e := range s.Engines {
		for _, m := range e.LoadedModels {
			if m == model && e.BatchSize > size {
				size = e.BatchSize
			}
		}
	}
	if size < 1 {
		return 1
	}
	return size
}

// LocalModelName resolves a canonical model name to the runner's internal
// identifier, falling back to the canonical name when no alias is reported.
func (s Status) LocalModelName(model string) string {
	if local, ok := s.ModelAliases[model]; ok && local != "" {
		return local
	}
	return model
}

func collectModels(engines []EngineStatus, pick func(EngineStatus) []string) []string {
	seen := make(map[string]struct{})
	for _, e := range engines {
		for _, m := range pick(e) {
			seen[m] = struct{}{}
		}
	}
	models := make([]string, 0, len(seen))
	for m := range seen {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func sameModelSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

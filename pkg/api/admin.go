package api

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/metrics"
	"github.com/fleetserve/gateway/pkg/wake"
)

// runnerView is the admin-facing representation of a runner, merging
// connected and persisted (offline) records.
type runnerView struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	MachineType    string       `json:"machine_type,omitempty"`
	Health         fleet.Health `json:"health"`
	IsOnline       bool         `json:"is_online"`
	LoadedModels   []string     `json:"loaded_models,omitempty"`
	Models         []string     `json:"available_models,omitempty"`
	MAC            string       `json:"mac_address,omitempty"`
	ActiveRequests int64        `json:"active_requests"`
	ConnectedAt    *time.Time   `json:"connected_at,omitempty"`
	LastSeenAt     *time.Time   `json:"last_seen_at,omitempty"`
	// Metrics carries the scalar gauges from the runner's last reported
	// metrics exposition.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// runnerViews merges connected runners with persisted runners that are not
// currently connected; the latter surface as offline.
func (s *Server) runnerViews(r *http.Request) []runnerView {
	connected := s.registry.All()
	views := make([]runnerView, 0, len(connected))
	online := make(map[string]struct{}, len(connected))
	for _, runner := range connected {
		online[runner.ID] = struct{}{}
		connectedAt := runner.ConnectedAt
		lastSeen := runner.LastHeartbeat
		views = append(views, runnerView{
			ID:             runner.ID,
			Name:           runner.Name,
			MachineType:    runner.MachineType,
			Health:         runner.Status.Health,
			IsOnline:       true,
			LoadedModels:   runner.Status.LoadedModels(),
			Models:         runner.Status.AvailableModels(),
			MAC:            runner.MAC,
			ActiveRequests: runner.ActiveRequests,
			ConnectedAt:    &connectedAt,
			LastSeenAt:     &lastSeen,
			Metrics:        metrics.RunnerGauges(runner.Status.Metrics),
		})
	}

	if s.store != nil {
		persisted, err := s.store.ListRunners(r.Context())
		if err != nil {
			s.log.Errorf("list persisted runners: %v", err)
		}
		for _, p := range persisted {
			if _, ok := online[p.ID]; ok {
				continue
			}
			lastSeen := p.LastSeenAt
			views = append(views, runnerView{
				ID:          p.ID,
				Name:        p.Name,
				MachineType: p.MachineType,
				Health:      fleet.HealthOffline,
				IsOnline:    false,
				Models:      p.AvailableModels,
				MAC:         p.MACAddress,
				LastSeenAt:  &lastSeen,
			})
		}
	}

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	views := s.runnerViews(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"runners": views,
		"count":   len(views),
	})
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.waker.Wake(r.Context(), id)
	if err != nil {
		if errors.Is(err, wake.ErrNoMAC) {
			metrics.RecordWake("no_mac")
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "no MAC address configured for runner",
			})
			return
		}
		metrics.RecordWake("error")
		s.log.Errorf("wake %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	metrics.RecordWake("sent")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": result.Success,
		"message": result.Message,
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.control.Ping(id); err != nil {
		if errors.Is(err, fleet.ErrRunnerNotFound) {
			writeError(w, http.StatusNotFound, "runner is not connected")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store is not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	records, err := s.store.ListRequests(r.Context(), r.URL.Query().Get("model"), limit)
	if err != nil {
		s.log.Errorf("list requests: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": records,
		"count":    len(records),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logTail == nil {
		writeError(w, http.StatusServiceUnavailable, "log buffer is not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.Copy(w, s.logTail); err != nil {
		s.log.Warnf("streaming logs: %v", err)
	}
}

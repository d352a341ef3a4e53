// Package api assembles the gateway's HTTP surface: the OpenAI-compatible
// completion endpoint, the runner control channel, the admin stream and the
// admin REST endpoints.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/fleetserve/gateway/pkg/auth"
	"github.com/fleetserve/gateway/pkg/classify"
	"github.com/fleetserve/gateway/pkg/config"
	"github.com/fleetserve/gateway/pkg/control"
	"github.com/fleetserve/gateway/pkg/events"
	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/logging"
	"github.com/fleetserve/gateway/pkg/metrics"
	"github.com/fleetserve/gateway/pkg/middleware"
	"github.com/fleetserve/gateway/pkg/routing"
	"github.com/fleetserve/gateway/pkg/scheduling"
	"github.com/fleetserve/gateway/pkg/store"
	"github.com/fleetserve/gateway/pkg/wake"
)

// Options carries the components the API server wires together. Store,
// Recorder and LogTail may be nil; the corresponding endpoints then serve
// reduced data.
type Options struct {
	Config    *config.Config
	Registry  *fleet.Registry
	Bus       *events.Bus
	Router    *routing.Router
	Queue     *scheduling.Queue
	Control   *control.Server
	Waker     *wake.Waker
	Validator auth.Validator
	Store     store.Store
	Recorder  *metrics.Recorder
	LogTail   io.Reader
}

// Server is the gateway's HTTP front end.
type Server struct {
	log       logging.Logger
	cfg       *config.Config
	registry  *fleet.Registry
	bus       *events.Bus
	router    *routing.Router
	queue     *scheduling.Queue
	control   *control.Server
	waker     *wake.Waker
	validator auth.Validator
	store     store.Store
	recorder  *metrics.Recorder
	logTail   io.Reader
	classify  *classify.Classifier
	handler   http.Handler
}

// NewServer builds the route table and returns the server.
func NewServer(log logging.Logger, opts Options) *Server {
	s := &Server{
		log:       log,
		cfg:       opts.Config,
		registry:  opts.Registry,
		bus:       opts.Bus,
		router:    opts.Router,
		queue:     opts.Queue,
		control:   opts.Control,
		waker:     opts.Waker,
		validator: opts.Validator,
		store:     opts.Store,
		recorder:  opts.Recorder,
		logTail:   opts.LogTail,
		classify:  classify.NewClassifier(opts.Config.Models.Big, opts.Config.Models.Fast),
	}

	mux := routing.NewNormalizedServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /ws/runner", s.control.HandleRunner)
	mux.HandleFunc("GET /ws/admin", s.handleAdminStream)
	mux.HandleFunc("GET /admin/runners", s.requireAdmin(s.handleListRunners))
	mux.HandleFunc("POST /admin/runners/{id}/wake", s.requireAdmin(s.handleWake))
	mux.HandleFunc("POST /admin/runners/{id}/ping", s.requireAdmin(s.handlePing))
	mux.HandleFunc("GET /admin/requests", s.requireAdmin(s.handleListRequests))
	if s.recorder != nil {
		mux.HandleFunc("GET /admin/requests/recent", s.requireAdmin(s.recorder.RecentRecordsHandler()))
	}
	mux.HandleFunc("GET /admin/logs", s.requireAdmin(s.handleLogs))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)

	s.handler = middleware.CorsMiddleware(opts.Config.Listen.AllowedOrigins, mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// authenticate resolves the request's bearer token to an identity.
func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if header == "" || token == header {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return s.validator.ValidateToken(token)
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if !identity.IsAdmin(s.cfg.Auth.AdminRole) {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"connected_runners": s.registry.Count(),
		"models":            s.registry.AllModels(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing sensible left to do.
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message},
	})
}

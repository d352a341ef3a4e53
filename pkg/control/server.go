package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/logging"
	"github.com/fleetserve/gateway/pkg/metrics"
	"github.com/fleetserve/gateway/pkg/store"
)

// Config carries the control-channel settings.
type Config struct {
	// SharedSecret is the bearer secret runners present at registration.
	SharedSecret string
	// SendQueueSize is the capacity of each runner's outbound frame queue.
	SendQueueSize int
	// HeartbeatTimeout is the stale-heartbeat eviction threshold.
	HeartbeatTimeout time.Duration
	// SweepInterval is how often the stale sweeper runs.
	SweepInterval time.Duration
}

// Server accepts runner control connections and exposes correlated commands
// against connected runners.
type Server struct {
	log      logging.Logger
	registry *fleet.Registry
	store    store.Store
	cfg      Config
	upgrader websocket.Upgrader

	pendingMu sync.Mutex
	pending   map[string]chan CommandResponseMessage
}

// NewServer creates a control server. st may be nil to skip persistence.
func NewServer(log logging.Logger, registry *fleet.Registry, st store.Store, cfg Config) *Server {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 32
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	return &Server{
		log:      log,
		registry: registry,
		store:    st,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Runners are authenticated by the shared secret, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pending: make(map[string]chan CommandResponseMessage),
	}
}

// HandleRunner upgrades the request to a WebSocket and serves the control
// connection until it closes.
func (s *Server) HandleRunner(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("control upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	s.serve(ws, peerIP(r.RemoteAddr))
}

// LoadModel asks a runner to load a model and waits for its reply.
func (s *Server) LoadModel(ctx context.Context, runnerID, modelID string) (CommandResponseMessage, error) {
	return s.sendCommand(ctx, runnerID, func(requestID string) any {
		return ModelCommandMessage{Type: TypeLoadModel, ModelID: modelID, RequestID: requestID}
	})
}

// UnloadModel asks a runner to unload a model and waits for its reply.
func (s *Server) UnloadModel(ctx context.Context, runnerID, modelID string) (CommandResponseMessage, error) {
	return s.sendCommand(ctx, runnerID, func(requestID string) any {
		return ModelCommandMessage{Type: TypeUnloadModel, ModelID: modelID, RequestID: requestID}
	})
}

// RequestStatus asks a runner for a fresh status report and waits for its
// reply.
func (s *Server) RequestStatus(ctx context.Context, runnerID string) (CommandResponseMessage, error) {
	return s.sendCommand(ctx, runnerID, func(requestID string) any {
		return RequestStatusMessage{Type: TypeRequestStatus, RequestID: requestID}
	})
}

// Ping enqueues an application-level ping frame for the runner.
func (s *Server) Ping(runnerID string) error {
	frame, err := json.Marshal(PingMessage{Type: TypePing, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return s.registry.Send(runnerID, frame)
}

func (s *Server) sendCommand(ctx context.Context, runnerID string, build func(requestID string) any) (CommandResponseMessage, error) {
	requestID := uuid.New().String()
	reply := make(chan CommandResponseMessage, 1)

	s.pendingMu.Lock()
	s.pending[requestID] = reply
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, requestID)
		s.pendingMu.Unlock()
	}()

	frame, err := json.Marshal(build(requestID))
	if err != nil {
		return CommandResponseMessage{}, err
	}
	if err := s.registry.Send(runnerID, frame); err != nil {
		return CommandResponseMessage{}, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return CommandResponseMessage{}, ctx.Err()
	}
}

func (s *Server) resolvePending(resp CommandResponseMessage) {
	s.pendingMu.Lock()
	reply, ok := s.pending[resp.RequestID]
	s.pendingMu.Unlock()
	if !ok {
		s.log.Warnf("command response for unknown request %s", resp.RequestID)
		return
	}
	select {
	case reply <- resp:
	default:
	}
}

// RunSweeper periodically evicts runners whose last heartbeat exceeds the
// configured timeout. It returns when ctx is cancelled.
func (s *Server) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if evicted := s.registry.SweepStale(s.cfg.HeartbeatTimeout); len(evicted) > 0 {
				s.log.Warnf("evicted %d stale runner(s): %s", len(evicted), strings.Join(evicted, ", "))
			}
			metrics.SetConnectedRunners(s.registry.Count())
		}
	}
}

// peerIP strips the port from a RemoteAddr-style host:port string.
func peerIP(remoteAddr string) string {
	if idx := strings.LastIndex(remoteAddr, ":"); idx >= 0 {
		host := remoteAddr[:idx]
		return strings.Trim(host, "[]")
	}
	return remoteAddr
}

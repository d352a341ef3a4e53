package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetserve/gateway/pkg/events"
	"github.com/fleetserve/gateway/pkg/fleet"
)

const (
	// adminAuthTimeout bounds the wait for the initial auth message.
	adminAuthTimeout = 10 * time.Second

	// adminPingPeriod is the transport-level ping interval.
	adminPingPeriod = 30 * time.Second

	// adminPongWait tolerates two missed pings before the session drops.
	adminPongWait = 90 * time.Second

	adminWriteWait = 10 * time.Second
)

var adminUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Admin sessions authenticate by token message, not by origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// adminAuthMessage is the client-to-server auth frame, accepted both at
// session start and mid-session for credential refresh.
type adminAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// handleAdminStream serves one admin session: message-based auth, a state
// snapshot, then live event relay with periodic pings.
func (s *Server) handleAdminStream(w http.ResponseWriter, r *http.Request) {
	ws, err := adminUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("admin upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer ws.Close()

	if !s.adminAuthHandshake(ws) {
		return
	}

	// Subscribe before the snapshot so no event between the two is lost.
	sub := s.bus.Subscribe()
	defer sub.Close()

	if err := s.writeAdminMessage(ws, s.snapshotMessage(r)); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reauth := make(chan adminAuthMessage, 4)
	readerDone := make(chan struct{})
	go s.adminReadLoop(ws, reauth, readerDone)

	eventCh := make(chan events.Event, 16)
	lagged := make(chan struct{}, 1)
	go pumpEvents(ctx, sub, eventCh, lagged)

	pingTicker := time.NewTicker(adminPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-readerDone:
			return
		case msg := <-reauth:
			s.handleReauth(ws, msg)
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if err := s.writeAdminMessage(ws, s.eventMessage(ev)); err != nil {
				return
			}
			// Model availability is a function of connected runners.
			if err := s.writeAdminMessage(ws, map[string]any{
				"type":   "models_updated",
				"models": s.registry.AllModels(),
			}); err != nil {
				return
			}
		case <-lagged:
			// The session fell behind and lost events; re-sync with a fresh
			// snapshot.
			if err := s.writeAdminMessage(ws, s.snapshotMessage(r)); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(adminWriteWait)); err != nil {
				return
			}
		}
	}
}

// adminAuthHandshake enforces the initial auth message. Failures send
// auth_error and report false; the caller closes the connection.
func (s *Server) adminAuthHandshake(ws *websocket.Conn) bool {
	ws.SetReadDeadline(time.Now().Add(adminAuthTimeout))
	var msg adminAuthMessage
	if err := ws.ReadJSON(&msg); err != nil {
		return false
	}
	if msg.Type != "auth" {
		s.writeAdminMessage(ws, map[string]any{"type": "auth_error", "message": "expected auth message"})
		return false
	}
	identity, err := s.validator.ValidateToken(msg.Token)
	if err != nil {
		s.writeAdminMessage(ws, map[string]any{"type": "auth_error", "message": "invalid token"})
		return false
	}
	if !identity.IsAdmin(s.cfg.Auth.AdminRole) {
		s.writeAdminMessage(ws, map[string]any{"type": "auth_error", "message": "admin role required"})
		return false
	}
	return s.writeAdminMessage(ws, map[string]any{"type": "auth_ok"}) == nil
}

// handleReauth processes a mid-session auth message. A failed refresh sends
// auth_error but keeps the session open so the client can retry.
func (s *Server) handleReauth(ws *websocket.Conn, msg adminAuthMessage) {
	identity, err := s.validator.ValidateToken(msg.Token)
	if err != nil || !identity.IsAdmin(s.cfg.Auth.AdminRole) {
		s.writeAdminMessage(ws, map[string]any{"type": "auth_error", "message": "invalid token"})
		return
	}
	s.writeAdminMessage(ws, map[string]any{"type": "auth_ok"})
}

func (s *Server) adminReadLoop(ws *websocket.Conn, reauth chan<- adminAuthMessage, done chan<- struct{}) {
	defer close(done)
	ws.SetReadDeadline(time.Now().Add(adminPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(adminPongWait))
		return nil
	})
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(adminPongWait))
		var msg adminAuthMessage
		if err := json.Unmarshal(frame, &msg); err != nil || msg.Type != "auth" {
			continue
		}
		select {
		case reauth <- msg:
		default:
		}
	}
}

// pumpEvents forwards bus events into eventCh, translating lag episodes into
// a re-snapshot signal. eventCh is closed when the subscription ends.
func pumpEvents(ctx context.Context, sub *events.Subscription, eventCh chan<- events.Event, lagged chan<- struct{}) {
	defer close(eventCh)
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrLagged) {
				select {
				case lagged <- struct{}{}:
				default:
				}
				continue
			}
			return
		}
		select {
		case eventCh <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) snapshotMessage(r *http.Request) map[string]any {
	active := int64(0)
	for _, runner := range s.registry.All() {
		active += runner.ActiveRequests
	}
	return map[string]any{
		"type":    "state_snapshot",
		"runners": s.runnerViews(r),
		"models":  s.registry.AllModels(),
		"stats": map[string]any{
			"connected_runners": s.registry.Count(),
			"active_requests":   active,
		},
	}
}

func (s *Server) eventMessage(ev events.Event) map[string]any {
	msg := map[string]any{"type": ev.Kind()}
	switch e := ev.(type) {
	case fleet.ConnectedEvent:
		msg["id"] = e.ID
		msg["name"] = e.Name
		msg["machine_type"] = e.MachineType
		msg["health"] = e.Health
		msg["loaded_models"] = e.LoadedModels
	case fleet.DisconnectedEvent:
		msg["id"] = e.ID
	case fleet.StatusChangedEvent:
		msg["id"] = e.ID
		msg["health"] = e.Health
		msg["loaded_models"] = e.LoadedModels
	}
	return msg
}

func (s *Server) writeAdminMessage(ws *websocket.Conn, msg map[string]any) error {
	ws.SetWriteDeadline(time.Now().Add(adminWriteWait))
	if err := ws.WriteJSON(msg); err != nil {
		return err
	}
	return nil
}

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/internal/utils"
	"github.com/fleetserve/gateway/pkg/metrics"
	"github.com/fleetserve/gateway/pkg/store"
	"github.com/fleetserve/gateway/pkg/wake"
)

const (
	// registrationTimeout bounds the wait for the first (register) frame.
	registrationTimeout = 10 * time.Second

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next frame from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// serve runs one control connection: handshake, then a reader here and a
// writer goroutine draining the runner's send queue.
func (s *Server) serve(ws *websocket.Conn, peerIP string) {
	defer ws.Close()

	reg, ok := s.handshake(ws, peerIP)
	if !ok {
		return
	}
	log := s.log.WithField("runner", utils.SanitizeForLog(reg.RunnerID))

	var baseURL string
	if reg.HTTPPort > 0 {
		baseURL = fmt.Sprintf("http://%s:%d", peerIP, reg.HTTPPort)
	}
	mac := s.resolveMAC(reg, peerIP)

	send := make(chan []byte, s.cfg.SendQueueSize)
	err := s.registry.Register(fleet.Registration{
		ID:          reg.RunnerID,
		Name:        reg.RunnerName,
		MachineType: reg.MachineType,
		Status:      reg.Status,
		BaseURL:     baseURL,
		MAC:         mac,
		Send:        send,
	})
	if err != nil {
		s.reject(ws, CodeProtocolError, err.Error())
		return
	}
	metrics.SetConnectedRunners(s.registry.Count())
	s.persistRegistration(reg, mac)

	// The ack must reach the runner before any queued command.
	ack, _ := json.Marshal(RegisterAckMessage{Type: TypeRegisterAck, RunnerID: reg.RunnerID})
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, ack); err != nil {
		log.Warnf("register ack: %v", err)
		s.registry.UnregisterIfOwner(reg.RunnerID, send)
		return
	}
	log.WithField("base_url", baseURL).Info("runner registered")

	go s.writeLoop(ws, send, log)
	s.readLoop(ws, reg.RunnerID, log)

	// Reader done. Removing the entry closes the send queue, which stops the
	// writer. A no-op if the entry was already replaced or swept.
	if _, removed := s.registry.UnregisterIfOwner(reg.RunnerID, send); removed {
		log.Info("runner disconnected")
	}
	metrics.SetConnectedRunners(s.registry.Count())
}

// handshake reads and validates the register frame under the registration
// deadline. On failure it sends an error frame and reports !ok.
func (s *Server) handshake(ws *websocket.Conn, peerIP string) (*RegisterMessage, bool) {
	ws.SetReadDeadline(time.Now().Add(registrationTimeout))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		s.log.Warnf("registration read from %s: %v", peerIP, err)
		return nil, false
	}

	msgType, err := MessageType(frame)
	if err != nil {
		s.reject(ws, CodeProtocolError, "malformed registration frame")
		return nil, false
	}
	if msgType != TypeRegister {
		s.reject(ws, CodeProtocolError, "expected register message")
		return nil, false
	}

	var reg RegisterMessage
	if err := json.Unmarshal(frame, &reg); err != nil {
		s.reject(ws, CodeProtocolError, "malformed register payload")
		return nil, false
	}
	switch {
	case reg.AuthToken != s.cfg.SharedSecret:
		s.log.Warnf("registration from %s rejected: bad auth token", peerIP)
		s.reject(ws, CodeAuthFailed, "invalid auth token")
		return nil, false
	case reg.ProtocolVersion != ProtocolVersion:
		s.reject(ws, CodeProtocolError, fmt.Sprintf("unsupported protocol version %d", reg.ProtocolVersion))
		return nil, false
	case reg.RunnerID == "":
		s.reject(ws, CodeProtocolError, "runner id is required")
		return nil, false
	}
	return &reg, true
}

func (s *Server) reject(ws *websocket.Conn, code, message string) {
	frame, _ := json.Marshal(ErrorMessage{Type: TypeError, Code: code, Message: message})
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	ws.WriteMessage(websocket.TextMessage, frame)
}

// resolveMAC prefers the runner-reported MAC and falls back to the host ARP
// cache for the peer IP.
func (s *Server) resolveMAC(reg *RegisterMessage, peerIP string) string {
	if reg.MACAddress != "" {
		if _, err := wake.ParseMAC(reg.MACAddress); err == nil {
			return reg.MACAddress
		}
		s.log.Warnf("runner %s reported invalid MAC %q", utils.SanitizeForLog(reg.RunnerID), utils.SanitizeForLog(reg.MACAddress))
	}
	if peerIP == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mac, err := wake.LookupMAC(ctx, peerIP)
	if err != nil {
		return ""
	}
	return mac
}

func (s *Server) persistRegistration(reg *RegisterMessage, mac string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.UpsertRunner(ctx, store.PersistedRunner{
		ID:              reg.RunnerID,
		Name:            reg.RunnerName,
		MACAddress:      mac,
		MachineType:     reg.MachineType,
		LastSeenAt:      time.Now(),
		AvailableModels: reg.Status.AvailableModels(),
	})
	if err != nil {
		s.log.Errorf("persist runner %s: %v", utils.SanitizeForLog(reg.RunnerID), err)
	}
}

func (s *Server) readLoop(ws *websocket.Conn, runnerID string, log logrus.FieldLogger) {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("control read: %v", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(runnerID, frame, log)
	}
}

func (s *Server) handleFrame(runnerID string, frame []byte, log logrus.FieldLogger) {
	msgType, err := MessageType(frame)
	if err != nil {
		log.Warnf("dropping frame: %v", err)
		return
	}
	switch msgType {
	case TypeHeartbeat, TypeStatusUpdate:
		var msg HeartbeatMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			log.Warnf("malformed %s frame: %v", msgType, err)
			return
		}
		if err := s.registry.UpdateStatus(runnerID, msg.Status); err != nil {
			log.Warnf("status update: %v", err)
		}
	case TypeCommandResponse:
		var msg CommandResponseMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			log.Warnf("malformed command response: %v", err)
			return
		}
		if msg.Status != nil {
			if err := s.registry.UpdateStatus(runnerID, *msg.Status); err != nil {
				log.Warnf("status update: %v", err)
			}
		}
		s.resolvePending(msg)
	default:
		log.Warnf("unknown message type %q", utils.SanitizeForLog(msgType))
	}
}

func (s *Server) writeLoop(ws *websocket.Conn, send <-chan []byte, log logrus.FieldLogger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer ws.Close()
	for {
		select {
		case frame, ok := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The registry closed the queue: evicted or replaced.
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warnf("control write: %v", err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

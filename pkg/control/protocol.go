// Package control implements the gateway side of the runner control channel:
// the registration handshake, the per-connection reader/writer pair, and
// correlated gateway-to-runner commands.
package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetserve/gateway/pkg/fleet"
)

// ProtocolVersion is the control-channel protocol version. Registrations
// carrying any other version are rejected.
const ProtocolVersion = 1

// Message type discriminators. Every frame is a JSON object with a snake_case
// "type" field.
const (
	// Runner to gateway.
	TypeRegister        = "register"
	TypeHeartbeat       = "heartbeat"
	TypeStatusUpdate    = "status_update"
	TypeCommandResponse = "command_response"

	// Gateway to runner.
	TypeRegisterAck   = "register_ack"
	TypeLoadModel     = "load_model"
	TypeUnloadModel   = "unload_model"
	TypeRequestStatus = "request_status"
	TypePing          = "ping"
	TypeError         = "error"
)

// Error codes carried by Error frames.
const (
	CodeAuthFailed    = "auth_failed"
	CodeProtocolError = "protocol_error"
)

// RegisterMessage opens a control connection. It must be the first frame and
// must arrive within the registration deadline.
type RegisterMessage struct {
	Type            string       `json:"type"`
	RunnerID        string       `json:"runner_id"`
	RunnerName      string       `json:"runner_name,omitempty"`
	MachineType     string       `json:"machine_type,omitempty"`
	HTTPPort        int          `json:"http_port"`
	ProtocolVersion int          `json:"protocol_version"`
	AuthToken       string       `json:"auth_token"`
	Status          fleet.Status `json:"status"`
	MACAddress      string       `json:"mac_address,omitempty"`
}

// HeartbeatMessage refreshes a runner's status and heartbeat timestamp. The
// same shape serves both heartbeat and status_update frames.
type HeartbeatMessage struct {
	Type   string       `json:"type"`
	Status fleet.Status `json:"status"`
}

// CommandResponseMessage is a runner's correlated reply to a gateway command.
// When Status is present it also refreshes the runner's status.
type CommandResponseMessage struct {
	Type      string        `json:"type"`
	RequestID string        `json:"request_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Status    *fleet.Status `json:"status,omitempty"`
}

// RegisterAckMessage confirms a successful registration.
type RegisterAckMessage struct {
	Type     string `json:"type"`
	RunnerID string `json:"runner_id"`
}

// ModelCommandMessage instructs a runner to load or unload a model.
type ModelCommandMessage struct {
	Type      string `json:"type"`
	ModelID   string `json:"model_id"`
	RequestID string `json:"request_id"`
}

// RequestStatusMessage asks a runner for a fresh status report.
type RequestStatusMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// PingMessage is an application-level liveness probe.
type PingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorMessage reports a fatal protocol or auth failure before the gateway
// closes the connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageType extracts the discriminator from a raw frame.
func MessageType(frame []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return "", fmt.Errorf("control: malformed frame: %w", err)
	}
	if envelope.Type == "" {
		return "", errors.New("control: frame missing type")
	}
	return envelope.Type, nil
}

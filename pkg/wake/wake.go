// Package wake wakes offline runner machines, either by broadcasting a
// wake-on-LAN magic packet on the local segment or by relaying the MAC to a
// bouncer on a segment the gateway cannot reach directly.
package wake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fleetserve/gateway/pkg/fleet"
	"github.com/fleetserve/gateway/pkg/logging"
)

// ErrNoMAC indicates that neither the connected record nor the persisted
// record carries a hardware address. This is a client-fault error: the
// runner must report (or be configured with) a MAC before it can be woken.
var ErrNoMAC = errors.New("wake: no MAC address configured for runner")

// bouncerDialTimeout bounds the TCP connect to a configured bouncer.
const bouncerDialTimeout = 5 * time.Second

// Result describes the outcome of a wake request.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OfflineDirectory supplies hardware addresses for runners that are not
// currently connected. Implemented by the audit store.
type OfflineDirectory interface {
	RunnerMAC(ctx context.Context, id string) (string, error)
}

// Config mirrors the wake section of the gateway configuration.
type Config struct {
	BroadcastAddr string
	Port          int
	BouncerAddr   string
}

// Waker sends wake requests for runners by id.
type Waker struct {
	log      logging.Logger
	registry *fleet.Registry
	offline  OfflineDirectory
	cfg      Config
}

// New creates a Waker.
func New(log logging.Logger, registry *fleet.Registry, offline OfflineDirectory, cfg Config) *Waker {
	if cfg.Port <= 0 {
		cfg.Port = 9
	}
	return &Waker{log: log, registry: registry, offline: offline, cfg: cfg}
}

// Wake attempts to wake the runner. Already-operational runners short
// circuit to success; otherwise the MAC is resolved from the connected
// record or the persisted record and a wake is emitted.
func (w *Waker) Wake(ctx context.Context, runnerID string) (Result, error) {
	var mac string
	if runner, ok := w.registry.Get(runnerID); ok {
		if runner.Status.IsOperational() {
			return Result{Success: true, Message: "already online"}, nil
		}
		mac = runner.MAC
	}
	if mac == "" {
		persisted, err := w.offline.RunnerMAC(ctx, runnerID)
		if err != nil {
			return Result{}, fmt.Errorf("look up persisted runner %s: %w", runnerID, err)
		}
		mac = persisted
	}
	if mac == "" {
		return Result{}, ErrNoMAC
	}
	hw, err := ParseMAC(mac)
	if err != nil {
		return Result{}, err
	}

	if w.cfg.BouncerAddr != "" {
		if err := w.sendViaBouncer(ctx, hw); err != nil {
			return Result{}, fmt.Errorf("relay wake via bouncer: %w", err)
		}
		w.log.Infof("relayed wake for runner %s (%s) via bouncer %s", runnerID, FormatMAC(hw), w.cfg.BouncerAddr)
		return Result{Success: true, Message: "wake relayed via bouncer"}, nil
	}

	if err := w.sendMagicPacket(hw); err != nil {
		return Result{}, fmt.Errorf("send magic packet: %w", err)
	}
	w.log.Infof("sent magic packet for runner %s (%s) to %s:%d", runnerID, FormatMAC(hw), w.cfg.BroadcastAddr, w.cfg.Port)
	return Result{Success: true, Message: "magic packet sent"}, nil
}

// sendViaBouncer writes the canonical MAC followed by a newline to the
// bouncer and closes the connection.
func (w *Waker) sendViaBouncer(ctx context.Context, mac [6]byte) error {
	dialer := &net.Dialer{Timeout: bouncerDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", w.cfg.BouncerAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(FormatMAC(mac) + "\n"))
	return err
}

// sendMagicPacket broadcasts the 102-byte payload from an ephemeral UDP
// socket with broadcast enabled.
func (w *Waker) sendMagicPacket(mac [6]byte) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := setBroadcast(conn); err != nil {
		return err
	}
	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(w.cfg.BroadcastAddr, strconv.Itoa(w.cfg.Port)))
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDP(BuildMagicPacket(mac), dest)
	return err
}

package wake

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetserve/gateway/pkg/events"
	"github.com/fleetserve/gateway/pkg/fleet"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeDirectory map[string]string

func (d fakeDirectory) RunnerMAC(ctx context.Context, id string) (string, error) {
	return d[id], nil
}

func newRegistry() *fleet.Registry {
	return fleet.NewRegistry(testLogger(), events.NewBus(16))
}

func TestWakeAlreadyOnline(t *testing.T) {
	t.Parallel()
	registry := newRegistry()
	err := registry.Register(fleet.Registration{
		ID:     "r1",
		Status: fleet.Status{Health: fleet.HealthHealthy},
		Send:   make(chan []byte, 32),
	})
	if err != nil {
		t.Fatal(err)
	}
	w := New(testLogger(), registry, fakeDirectory{}, Config{})
	res, err := w.Wake(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if !res.Success || res.Message != "already online" {
		t.Errorf("result = %+v", res)
	}
}

func TestWakeNoMAC(t *testing.T) {
	t.Parallel()
	w := New(testLogger(), newRegistry(), fakeDirectory{}, Config{})
	if _, err := w.Wake(context.Background(), "ghost"); !errors.Is(err, ErrNoMAC) {
		t.Fatalf("expected ErrNoMAC, got %v", err)
	}
}

func TestWakeSendsMagicPacket(t *testing.T) {
	t.Parallel()
	// A localhost UDP listener stands in for the broadcast domain.
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	port := listener.LocalAddr().(*net.UDPAddr).Port

	w := New(testLogger(), newRegistry(), fakeDirectory{"r2": "AA:BB:CC:DD:EE:FF"}, Config{
		BroadcastAddr: "127.0.0.1",
		Port:          port,
	})
	res, err := w.Wake(context.Background(), "r2")
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if n != MagicPacketSize {
		t.Fatalf("packet size = %d", n)
	}
	mac, _ := ParseMAC("AA:BB:CC:DD:EE:FF")
	want := BuildMagicPacket(mac)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("packet byte %d = %02x, want %02x", i, buf[i], want[i])
		}
	}
}

func TestWakeViaBouncer(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	lines := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		lines <- line
	}()

	w := New(testLogger(), newRegistry(), fakeDirectory{"r2": "aa:bb:cc:dd:ee:ff"}, Config{
		BouncerAddr: listener.Addr().String(),
	})
	res, err := w.Wake(context.Background(), "r2")
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}

	select {
	case line := <-lines:
		// The bouncer receives the canonical uppercase form.
		if line != "AA:BB:CC:DD:EE:FF\n" {
			t.Errorf("bouncer received %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bouncer received nothing")
	}
}

func TestWakePrefersConnectedMAC(t *testing.T) {
	t.Parallel()
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	registry := newRegistry()
	// Connected but not operational: wake proceeds using the connected MAC.
	err = registry.Register(fleet.Registration{
		ID:     "r3",
		MAC:    "11:22:33:44:55:66",
		Status: fleet.Status{Health: fleet.HealthUnhealthy},
		Send:   make(chan []byte, 32),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := New(testLogger(), registry, fakeDirectory{"r3": "99:99:99:99:99:99"}, Config{
		BroadcastAddr: "127.0.0.1",
		Port:          listener.LocalAddr().(*net.UDPAddr).Port,
	})
	if _, err := w.Wake(context.Background(), "r3"); err != nil {
		t.Fatalf("Wake: %v", err)
	}

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil || n != MagicPacketSize {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	mac, _ := ParseMAC("11:22:33:44:55:66")
	if string(buf[6:12]) != string(mac[:]) {
		t.Errorf("packet used wrong MAC: % X", buf[6:12])
	}
}

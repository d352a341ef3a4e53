package wake

import (
	"errors"
	"strings"
	"testing"
)

const procARPSample = `IP address       HW type     Flags       HW address            Mask     Device
10.0.0.5         0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
10.0.0.6         0x1         0x0         00:00:00:00:00:00     *        eth0
10.0.0.7         0x1         0x2         11:22:33:44:55:66     *        eth0
`

func TestParseProcARP(t *testing.T) {
	t.Parallel()
	mac, err := parseProcARP(strings.NewReader(procARPSample), "10.0.0.5")
	if err != nil {
		t.Fatalf("parseProcARP: %v", err)
	}
	if mac != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("mac = %q", mac)
	}
}

func TestParseProcARPSkipsIncomplete(t *testing.T) {
	t.Parallel()
	// 10.0.0.6 has the all-zero placeholder and must not resolve.
	if _, err := parseProcARP(strings.NewReader(procARPSample), "10.0.0.6"); !errors.Is(err, ErrMACNotFound) {
		t.Fatalf("expected ErrMACNotFound, got %v", err)
	}
}

func TestParseProcARPUnknownIP(t *testing.T) {
	t.Parallel()
	if _, err := parseProcARP(strings.NewReader(procARPSample), "192.168.9.9"); !errors.Is(err, ErrMACNotFound) {
		t.Fatalf("expected ErrMACNotFound, got %v", err)
	}
}

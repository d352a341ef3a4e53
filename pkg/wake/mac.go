package wake

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMAC indicates a hardware address that is not six colon-separated
// hex octets.
var ErrInvalidMAC = errors.New("wake: invalid MAC address")

// MagicPacketSize is the fixed length of a wake-on-LAN payload: a six-byte
// synchronization stream followed by sixteen repetitions of the MAC.
const MagicPacketSize = 6 + 16*6

// ParseMAC parses a MAC address of the form aa:bb:cc:dd:ee:ff,
// case-insensitively.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return mac, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	for i, part := range parts {
		b, err := hex.DecodeString(part)
		if err != nil || len(b) != 1 {
			return mac, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
		}
		mac[i] = b[0]
	}
	return mac, nil
}

// FormatMAC renders a MAC in canonical uppercase colon-separated form.
func FormatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// BuildMagicPacket assembles the 102-byte wake-on-LAN payload for a MAC.
func BuildMagicPacket(mac [6]byte) []byte {
	packet := make([]byte, 0, MagicPacketSize)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, mac[:]...)
	}
	return packet
}

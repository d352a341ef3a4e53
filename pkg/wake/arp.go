package wake

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
)

// ErrMACNotFound indicates that no hardware address could be discovered for
// an IP.
var ErrMACNotFound = errors.New("wake: MAC address not found")

// zeroMAC is the placeholder the kernel reports for incomplete ARP entries.
const zeroMAC = "00:00:00:00:00:00"

var macPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{2}(?::[0-9a-f]{2}){5}\b`)

// lookupMACViaArpCommand shells out to `arp -n <ip>` and extracts the first
// MAC-shaped token from its output. This is the portable fallback path.
func lookupMACViaArpCommand(ctx context.Context, ip string) (string, error) {
	out, err := exec.CommandContext(ctx, "arp", "-n", ip).Output()
	if err != nil {
		return "", err
	}
	mac := extractMAC(string(out))
	if mac == "" {
		return "", ErrMACNotFound
	}
	return mac, nil
}

// extractMAC returns the first non-placeholder MAC in the text, or "".
func extractMAC(text string) string {
	for _, m := range macPattern.FindAllString(text, -1) {
		if m != zeroMAC {
			return m
		}
	}
	return ""
}

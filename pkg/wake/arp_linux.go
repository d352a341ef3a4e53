package wake

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
)

const procNetARP = "/proc/net/arp"

// LookupMAC resolves the hardware address for an IP from the host's ARP
// cache, preferring /proc/net/arp and falling back to the arp command.
func LookupMAC(ctx context.Context, ip string) (string, error) {
	f, err := os.Open(procNetARP)
	if err == nil {
		defer f.Close()
		if mac, err := parseProcARP(f, ip); err == nil {
			return mac, nil
		}
	}
	return lookupMACViaArpCommand(ctx, ip)
}

// parseProcARP scans /proc/net/arp content for the row matching ip. Column 0
// is the IP address and column 3 the hardware address; rows with the
// all-zero placeholder are skipped.
func parseProcARP(r io.Reader, ip string) (string, error) {
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			// Header row.
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[0] != ip || fields[3] == zeroMAC {
			continue
		}
		return fields[3], nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", ErrMACNotFound
}

//go:build !linux

package wake

import "context"

// LookupMAC resolves the hardware address for an IP. Without /proc/net/arp
// only the arp command fallback is available.
func LookupMAC(ctx context.Context, ip string) (string, error) {
	return lookupMACViaArpCommand(ctx, ip)
}

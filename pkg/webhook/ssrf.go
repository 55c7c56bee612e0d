package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL = errors.New("invalid webhook URL")
	ErrPrivateIP  = errors.New("webhook URL resolves to a non-public address")
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// IPPolicy decides whether an address may receive webhooks
type IPPolicy func(ip net.IP) bool

var carrierGradeNAT = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// IsPublicIP rejects private, loopback, link-local, unspecified and multicast addresses
func IsPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil && carrierGradeNAT.Contains(ip4) {
		return false
	}
	return true
}

// parseTarget checks scheme and host of a subscriber URL
func parseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" || u.User != nil {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// resolvePinned resolves host and returns one address to connect to.
// Every resolved address must pass policy, so a mixed answer is rejected.
func resolvePinned(ctx context.Context, resolver Resolver, policy IPPolicy, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if !policy(ip) {
			return nil, fmt.Errorf("%w: %s", ErrPrivateIP, ip)
		}
		return ip, nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	for _, addr := range addrs {
		if !policy(addr.IP) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrPrivateIP, host, addr.IP)
		}
	}
	return addrs[0].IP, nil
}

package domain

import (
	"fmt"
	"net"
)

// CanonicalCIDR reports whether cidr is already in canonical network form
// (e.g. "192.168.1.0/24", not "192.168.1.5/24") and returns the canonical
// form either way, mirroring the validator's "suggest the canonical form"
// rejection behavior.
func CanonicalCIDR(cidr string) (canonical string, isCanonical bool, err error) {
	ip, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", false, fmt.Errorf("invalid CIDR format: %w", err)
	}
	canonical = network.String()
	// ParseCIDR already masks network.IP; a non-canonical host address like
	// 192.168.1.5/24 parses to IP=192.168.1.5 but Network.IP=192.168.1.0.
	isCanonical = ip.Equal(network.IP)
	return canonical, isCanonical, nil
}

// CIDROverlap reports whether two CIDR blocks overlap (I3: per-vrf overlap
// rule — callers must already have restricted the comparison to segments
// sharing a vrf).
func CIDROverlap(a, b string) (bool, error) {
	_, netA, err := net.ParseCIDR(a)
	if err != nil {
		return false, fmt.Errorf("invalid CIDR1: %w", err)
	}
	_, netB, err := net.ParseCIDR(b)
	if err != nil {
		return false, fmt.Errorf("invalid CIDR2: %w", err)
	}
	return netA.Contains(netB.IP) || netB.Contains(netA.IP), nil
}

// UsableHosts returns the number of assignable host addresses in cidr,
// excluding the network and broadcast addresses.
func UsableHosts(cidr string) (int, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return 0, fmt.Errorf("invalid CIDR format: %w", err)
	}
	ones, bits := network.Mask.Size()
	hostBits := bits - ones
	if hostBits <= 0 {
		return 0, nil
	}
	total := 1 << uint(hostBits)
	if total < 2 {
		return 0, nil
	}
	return total - 2, nil
}

// FirstOctet returns the first octet of cidr's network address as a string,
// used to match a prefix against the configured NETWORK_SITE_PREFIXES entry.
func FirstOctet(cidr string) (string, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", fmt.Errorf("invalid CIDR format: %w", err)
	}
	ip4 := network.IP.To4()
	if ip4 == nil {
		return "", fmt.Errorf("only IPv4 prefixes are supported")
	}
	return fmt.Sprintf("%d", ip4[0]), nil
}

package mesh

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrSeedNoMAC  = errors.New("mesh: seed is missing the MAC@ prefix")
	ErrSeedNoPort = errors.New("mesh: seed address is missing a port")
)

// Seed is the parsed bootstrap target: the expected remote identity and the
// address to dial.
type Seed struct {
	MAC  net.HardwareAddr
	Addr string
}

// ParseSeed parses "MAC@HOST:PORT". The host part may be a bare IPv4, a
// bracketed IPv6, or an unbracketed IPv6 whose last colon group is the port.
func ParseSeed(s string) (*Seed, error) {
	at := strings.Index(s, "@")
	if at < 0 {
		return nil, ErrSeedNoMAC
	}
	mac, err := net.ParseMAC(s[:at])
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("mesh: seed MAC %q: %w", s[:at], ErrSeedNoMAC)
	}

	addr := s[at+1:]
	colon := strings.LastIndex(addr, ":")
	if colon < 0 {
		return nil, ErrSeedNoPort
	}
	host, port := addr[:colon], addr[colon+1:]
	if port == "" {
		return nil, ErrSeedNoPort
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	if host == "" {
		return nil, fmt.Errorf("mesh: seed %q has an empty host", s)
	}

	return &Seed{MAC: mac, Addr: net.JoinHostPort(host, port)}, nil
}

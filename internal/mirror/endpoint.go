package mirror

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Endpoint is an IPv4 address and port of a mirror destination.
type Endpoint struct {
	Host netip.Addr
	Port uint16
}

// ParseEndpoint parses a host:port token. The token is split on its last
// colon; the host must be an IPv4 dotted quad and the port in [1, 65535].
func ParseEndpoint(token string) (Endpoint, error) {
	idx := strings.LastIndexByte(token, ':')
	if idx < 0 {
		return Endpoint{}, configErrorf("destination %q: missing ':' separator", token)
	}
	hostPart, portPart := token[:idx], token[idx+1:]

	host, err := netip.ParseAddr(hostPart)
	if err != nil || !host.Is4() {
		return Endpoint{}, configErrorf("destination %q: invalid IPv4 address %q", token, hostPart)
	}

	port, err := strconv.ParseUint(portPart, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, configErrorf("destination %q: port %q must be a number between 1 and 65535", token, portPart)
	}

	return Endpoint{Host: host, Port: uint16(port)}, nil
}

// AddrPort returns the endpoint as a netip.AddrPort.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Host, e.Port)
}

// UDPAddr returns the endpoint as a *net.UDPAddr.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(e.AddrPort())
}

func (e Endpoint) String() string {
	return e.AddrPort().String()
}

// Table is the ordered, fixed list of mirror destinations. It is read-only
// after ParseTable returns. Duplicate endpoints are kept and each receives
// its own copy of every datagram.
type Table struct {
	entries []Endpoint
}

// ParseTable builds a Table from host:port tokens, preserving their order.
func ParseTable(tokens []string) (*Table, error) {
	if len(tokens) == 0 {
		return nil, configErrorf("at least one destination is required")
	}

	entries := make([]Endpoint, 0, len(tokens))
	for _, tok := range tokens {
		ep, err := ParseEndpoint(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		entries = append(entries, ep)
	}

	return &Table{entries: entries}, nil
}

// Len returns the number of destinations.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// At returns the destination at index i.
func (t *Table) At(i int) Endpoint {
	return t.entries[i]
}

// Strings returns the destinations formatted as host:port.
func (t *Table) Strings() []string {
	out := make([]string, len(t.entries))
	for i, ep := range t.entries {
		out[i] = ep.String()
	}
	return out
}

package ekho

import (
	"fmt"
	"net"
)

// Endpoint identifies a peer by its IPv4 address. Sessions are keyed
// by (Endpoint, conv); this system only ever carries IPv4 ICMP
// traffic, so a 4-byte array is enough to make Endpoint a comparable,
// map-key-safe value without the indirection net.IP carries.
type Endpoint [4]byte

// EndpointFromIP converts a net.IP (v4 or v4-in-v6) to an Endpoint. It
// returns false if ip is not an IPv4 address.
func EndpointFromIP(ip net.IP) (Endpoint, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return Endpoint{}, false
	}
	var ep Endpoint
	copy(ep[:], v4)
	return ep, true
}

// IP returns the Endpoint as a net.IP.
func (e Endpoint) IP() net.IP {
	ip := make(net.IP, 4)
	copy(ip, e[:])
	return ip
}

func (e Endpoint) String() string {
	return e.IP().String()
}

// sessionKey is the registry's map key: a peer Endpoint paired with
// its 32-bit conversation id.
type sessionKey struct {
	peer Endpoint
	conv uint32
}

func (k sessionKey) String() string {
	return fmt.Sprintf("%s/%d", k.peer, k.conv)
}

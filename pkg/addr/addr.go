package addr

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/amoylab/wuhost/internal/common/cnst"
)

// Address is a host-order IPv4 address and port as reported by the transport engine.
type Address struct {
	Host uint32
	Port uint16
}

// Endpoint is the textual form of an Address handed to callers.
type Endpoint struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// Encode formats a host-order address as a dotted quad, most significant octet first.
func Encode(host uint32, port uint16) Endpoint {
	return Endpoint{
		Address: fmt.Sprintf("%d.%d.%d.%d",
			(host>>24)&0xFF, (host>>16)&0xFF, (host>>8)&0xFF, host&0xFF),
		Port: port,
	}
}

// Decode parses a dotted-quad IPv4 address into host byte order.
func Decode(text string) (uint32, error) {
	ip, err := netip.ParseAddr(text)
	if err != nil || !ip.Is4() {
		return 0, fmt.Errorf("%w: %q", cnst.ErrInvalidAddress, text)
	}
	b := ip.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// DecodeLoose is Decode without validation: malformed input yields address 0.
func DecodeLoose(text string) uint32 {
	host, _ := Decode(text)
	return host
}

// Endpoint returns the textual form of a.
func (a Address) Endpoint() Endpoint {
	return Encode(a.Host, a.Port)
}

// String returns a in host:port form.
func (a Address) String() string {
	ep := a.Endpoint()
	return net.JoinHostPort(ep.Address, strconv.Itoa(int(ep.Port)))
}

// UDPAddr converts a to a *net.UDPAddr suitable for socket writes.
func (a Address) UDPAddr() *net.UDPAddr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.Host)
	return &net.UDPAddr{IP: net.IPv4(b[0], b[1], b[2], b[3]), Port: int(a.Port)}
}

// FromUDPAddr converts a socket address. ok is false for non-IPv4 addresses.
func FromUDPAddr(u *net.UDPAddr) (Address, bool) {
	if u == nil {
		return Address{}, false
	}
	ip4 := u.IP.To4()
	if ip4 == nil {
		return Address{}, false
	}
	return Address{Host: binary.BigEndian.Uint32(ip4), Port: uint16(u.Port)}, true
}

// Package packet crafts and dissects raw IPv4 packets (ICMP, TCP, UDP).
//
// All header access goes through explicit byte offsets on slices with a bounds
// check before every read, so malformed input fails closed instead of panicking.
// Wire bytes are always network byte order; the exported fields of Packet are
// the host-side projection of those bytes.
package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/netweaver/internal/core"
)

const (
	// MaxSize is the largest IPv4 datagram and the capacity of an allocated Packet.
	MaxSize = 65535

	EthernetHeaderLen = 14
	IPv4HeaderLen     = 20
	ICMPHeaderLen     = 8
	TCPHeaderLen      = 20
	UDPHeaderLen      = 8

	// DefaultTTL is written into every crafted IP header.
	DefaultTTL = 64

	etherTypeIPv4 = 0x0800
)

// Protocol is an IP protocol number.
type Protocol uint8

const (
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
	ProtocolRaw  Protocol = 255
)

func (p Protocol) String() string {
	switch p {
	case ProtocolICMP:
		return "ICMP"
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolRaw:
		return "RAW"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// ParseProtocol maps a protocol name to its number.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "icmp", "ICMP":
		return ProtocolICMP, nil
	case "tcp", "TCP":
		return ProtocolTCP, nil
	case "udp", "UDP":
		return ProtocolUDP, nil
	case "raw", "RAW":
		return ProtocolRaw, nil
	default:
		return 0, fmt.Errorf("%w: unknown protocol %q", core.ErrInvalidParam, s)
	}
}

// Packet is a byte buffer holding one IPv4 datagram plus its decoded fields.
//
// The buffer is either allocated by Alloc or borrowed from the caller through
// Wrap (typically a pool slot). Invariant: Len() <= Cap(). For ICMP packets
// SrcPort carries the ICMP type and DstPort the ICMP code.
type Packet struct {
	data   []byte
	length int

	Timestamp time.Time
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Protocol  Protocol
	TTL       uint8
}

// Alloc returns a packet backed by a fresh MaxSize buffer.
func Alloc() *Packet {
	return &Packet{data: make([]byte, MaxSize)}
}

// Wrap returns a packet that uses buf as its backing storage. Buffers larger
// than MaxSize are truncated to MaxSize. The packet starts empty.
func Wrap(buf []byte) (*Packet, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty packet buffer", core.ErrInvalidParam)
	}
	if len(buf) > MaxSize {
		buf = buf[:MaxSize:MaxSize]
	}
	return &Packet{data: buf}, nil
}

// FromBytes wraps b as an undecoded packet whose length is len(b).
func FromBytes(b []byte) (*Packet, error) {
	p, err := Wrap(b)
	if err != nil {
		return nil, err
	}
	p.length = len(p.data)
	return p, nil
}

// Bytes returns the logical contents of the packet. The slice aliases the
// backing buffer.
func (p *Packet) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data[:p.length]
}

// Len is the logical length.
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return p.length
}

// Cap is the size of the backing buffer.
func (p *Packet) Cap() int {
	if p == nil {
		return 0
	}
	return len(p.data)
}

// Buffer exposes the whole backing buffer, for receive calls that fill it.
func (p *Packet) Buffer() []byte {
	if p == nil {
		return nil
	}
	return p.data
}

// SetLen sets the logical length after the buffer was filled externally.
func (p *Packet) SetLen(n int) error {
	if p == nil || n < 0 || n > len(p.data) {
		return fmt.Errorf("%w: length %d out of range", core.ErrInvalidParam, n)
	}
	p.length = n
	return nil
}

// Reset zeroes the buffer and every decoded field.
func (p *Packet) Reset() {
	clear(p.data)
	*p = Packet{data: p.data}
}

// Clear empties the packet and drops its decoded fields. Unlike Reset the
// buffer contents are left in place, which suits receive paths that are about
// to overwrite them anyway.
func (p *Packet) Clear() {
	*p = Packet{data: p.data}
}

// Decode parses the packet's current contents into a new Packet view that
// shares the same bytes. The receive timestamp is carried over.
func (p *Packet) Decode(mode ParseMode) (*Packet, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", core.ErrInvalidParam)
	}
	parsed, err := Parse(p.Bytes(), mode)
	if err != nil {
		return nil, err
	}
	parsed.Timestamp = p.Timestamp
	return parsed, nil
}

func (p *Packet) String() string {
	if p == nil {
		return "<nil>"
	}
	switch p.Protocol {
	case ProtocolTCP, ProtocolUDP:
		return fmt.Sprintf("%s %s:%d > %s:%d len=%d ttl=%d", p.Protocol, p.SrcIP, p.SrcPort, p.DstIP, p.DstPort, p.length, p.TTL)
	case ProtocolICMP:
		return fmt.Sprintf("ICMP %s > %s type=%d code=%d len=%d ttl=%d", p.SrcIP, p.DstIP, p.SrcPort, p.DstPort, p.length, p.TTL)
	default:
		return fmt.Sprintf("%s %s > %s len=%d ttl=%d", p.Protocol, p.SrcIP, p.DstIP, p.length, p.TTL)
	}
}

// ipHeaderLen returns the IHL-derived header length if the buffer holds a
// plausible IPv4 header.
func (p *Packet) ipHeaderLen() (int, bool) {
	if p == nil || p.length < IPv4HeaderLen {
		return 0, false
	}
	ihl := int(p.data[0]&0x0F) * 4
	if ihl < IPv4HeaderLen || ihl > p.length {
		return 0, false
	}
	return ihl, true
}

// Now returns the current time at microsecond resolution.
func Now() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

// AddrFromUint32 converts a host-order integer to an IPv4 address.
func AddrFromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// AddrToUint32 converts an IPv4 address to a host-order integer. Non-IPv4
// addresses yield 0.
func AddrToUint32(a netip.Addr) uint32 {
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/netweaver/internal/core"
)

// ParseMode selects how much the parser trusts its input.
type ParseMode int

const (
	// ParseMinimal is for trusted input such as bytes read from an IP raw
	// socket: no link-layer detection, and a truncated transport header just
	// leaves the port fields zero.
	ParseMinimal ParseMode = iota

	// ParseFull is for device captures: an Ethernet header is detected and
	// skipped, and a truncated TCP/UDP/ICMP header is an error.
	ParseFull
)

func (m ParseMode) String() string {
	switch m {
	case ParseMinimal:
		return "minimal"
	case ParseFull:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseParseMode maps "minimal"/"full" to a ParseMode.
func ParseParseMode(s string) (ParseMode, error) {
	switch s {
	case "minimal", "trusted":
		return ParseMinimal, nil
	case "full", "untrusted":
		return ParseFull, nil
	default:
		return 0, fmt.Errorf("%w: unknown parse mode %q", core.ErrInvalidParam, s)
	}
}

// Parse decodes raw into a structured view. The returned packet shares raw's
// memory (starting at the IP header) and raw is never modified.
func Parse(raw []byte, mode ParseMode) (*Packet, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty packet", core.ErrInvalidParam)
	}
	if len(raw) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum packet size", core.ErrInvalidParam, len(raw))
	}

	data := raw
	if mode == ParseFull {
		data = raw[linkHeaderLen(raw):]
	}

	p := &Packet{}
	ihl, err := decodeIPv4(data, p)
	if err != nil {
		return nil, err
	}
	if mode == ParseFull {
		// Drop link-layer padding behind short datagrams.
		if total := int(binary.BigEndian.Uint16(data[2:4])); total >= ihl && total < len(data) {
			data = data[:total]
		}
	}
	p.data = data[:len(data):len(data)]
	p.length = len(data)
	if ihl >= len(data) {
		// valid IP header with nothing behind it
		return p, nil
	}

	if err := decodeTransport(data[ihl:], p); err != nil && mode == ParseFull {
		return nil, err
	}
	return p, nil
}

// EthernetFramed reports whether ParseFull would strip an Ethernet header
// from raw.
func EthernetFramed(raw []byte) bool {
	return linkHeaderLen(raw) > 0
}

// linkHeaderLen returns 14 when raw starts with an Ethernet II header
// carrying IPv4, 0 otherwise. Besides the EtherType the byte after the header
// must carry IP version 4, so a bare IPv4 packet whose source address happens
// to start with 8.0 is not mistaken for a frame.
func linkHeaderLen(raw []byte) int {
	if len(raw) <= EthernetHeaderLen {
		return 0
	}
	if binary.BigEndian.Uint16(raw[12:14]) != etherTypeIPv4 {
		return 0
	}
	if raw[EthernetHeaderLen]>>4 != 4 {
		return 0
	}
	return EthernetHeaderLen
}

// decodeIPv4 fills the IP-layer fields of p and returns the header length.
func decodeIPv4(data []byte, p *Packet) (int, error) {
	if len(data) < IPv4HeaderLen {
		return 0, fmt.Errorf("%w: %d bytes is shorter than an IPv4 header", core.ErrInvalidParam, len(data))
	}
	if version := data[0] >> 4; version != 4 {
		return 0, fmt.Errorf("%w: ip version %d", core.ErrInvalidParam, version)
	}
	ihl := int(data[0]&0x0F) * 4
	if ihl < IPv4HeaderLen || ihl > len(data) {
		return 0, fmt.Errorf("%w: ip header length %d out of range [20, %d]", core.ErrInvalidParam, ihl, len(data))
	}

	p.TTL = data[8]
	p.Protocol = Protocol(data[9])
	p.SrcIP = netip.AddrFrom4([4]byte(data[12:16]))
	p.DstIP = netip.AddrFrom4([4]byte(data[16:20]))
	return ihl, nil
}

// decodeTransport fills the port fields from the transport header in seg.
// ICMP type and code go into SrcPort and DstPort. Unknown protocols are not
// an error.
func decodeTransport(seg []byte, p *Packet) error {
	switch p.Protocol {
	case ProtocolTCP:
		if len(seg) < TCPHeaderLen {
			return fmt.Errorf("%w: truncated tcp header (%d bytes)", core.ErrInvalidParam, len(seg))
		}
		p.SrcPort = binary.BigEndian.Uint16(seg[0:2])
		p.DstPort = binary.BigEndian.Uint16(seg[2:4])
	case ProtocolUDP:
		if len(seg) < UDPHeaderLen {
			return fmt.Errorf("%w: truncated udp header (%d bytes)", core.ErrInvalidParam, len(seg))
		}
		p.SrcPort = binary.BigEndian.Uint16(seg[0:2])
		p.DstPort = binary.BigEndian.Uint16(seg[2:4])
	case ProtocolICMP:
		if len(seg) < ICMPHeaderLen {
			return fmt.Errorf("%w: truncated icmp header (%d bytes)", core.ErrInvalidParam, len(seg))
		}
		p.SrcPort = uint16(seg[0])
		p.DstPort = uint16(seg[1])
	}
	return nil
}

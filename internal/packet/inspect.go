package packet

import "encoding/binary"

// transportHeader returns the fixed-size transport header of p if the buffer
// holds at least want bytes past the IP header.
func (p *Packet) transportHeader(want int) ([]byte, bool) {
	ihl, ok := p.ipHeaderLen()
	if !ok || p.length < ihl+want {
		return nil, false
	}
	return p.data[ihl : ihl+want], true
}

// IsICMPEchoReply reports whether p is an ICMP echo reply carrying identifier
// id. Any structural mismatch yields false.
func (p *Packet) IsICMPEchoReply(id uint16) bool {
	if p == nil || p.Protocol != ProtocolICMP {
		return false
	}
	icmp, ok := p.transportHeader(ICMPHeaderLen)
	if !ok {
		return false
	}
	return icmp[0] == icmpTypeEchoReply && binary.BigEndian.Uint16(icmp[4:6]) == id
}

// IsTCPSynAck reports whether p is a TCP segment with both SYN and ACK set.
func (p *Packet) IsTCPSynAck() bool {
	flags, ok := p.TCPFlags()
	return ok && flags&(tcpFlagSYN|tcpFlagACK) == tcpFlagSYN|tcpFlagACK
}

// TCPFlags returns the control bits of a TCP segment (byte 13 of the header).
func (p *Packet) TCPFlags() (uint8, bool) {
	if p == nil || p.Protocol != ProtocolTCP {
		return 0, false
	}
	tcp, ok := p.transportHeader(TCPHeaderLen)
	if !ok {
		return 0, false
	}
	return tcp[13], true
}

// ICMPEchoFields returns the type, identifier and sequence of an ICMP message.
func (p *Packet) ICMPEchoFields() (typ uint8, id, seq uint16, ok bool) {
	if p == nil || p.Protocol != ProtocolICMP {
		return 0, 0, 0, false
	}
	icmp, ok := p.transportHeader(ICMPHeaderLen)
	if !ok {
		return 0, 0, 0, false
	}
	return icmp[0], binary.BigEndian.Uint16(icmp[4:6]), binary.BigEndian.Uint16(icmp[6:8]), true
}

// Payload returns the bytes after the IP and transport headers, or nil when
// there are none. The TCP header length comes from its data-offset field.
func (p *Packet) Payload() []byte {
	ihl, ok := p.ipHeaderLen()
	if !ok {
		return nil
	}
	off := ihl
	switch p.Protocol {
	case ProtocolTCP:
		if p.length < off+TCPHeaderLen {
			return nil
		}
		doff := int(p.data[off+12]>>4) * 4
		if doff < TCPHeaderLen {
			return nil
		}
		off += doff
	case ProtocolUDP:
		if p.length < off+UDPHeaderLen {
			return nil
		}
		off += UDPHeaderLen
	case ProtocolICMP:
		if p.length < off+ICMPHeaderLen {
			return nil
		}
		off += ICMPHeaderLen
	}
	if off >= p.length {
		return nil
	}
	return p.data[off:p.length]
}

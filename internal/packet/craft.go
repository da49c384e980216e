package packet

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net/netip"

	"firestige.xyz/netweaver/internal/core"
)

const (
	icmpTypeEchoRequest = 8
	icmpTypeEchoReply   = 0

	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagPSH = 0x08
	tcpFlagACK = 0x10
	tcpFlagURG = 0x20

	ipFlagDontFragment = 0x4000
	tcpDefaultWindow   = 65535
)

// ipv4Fields are the variable parts of a crafted IPv4 header.
type ipv4Fields struct {
	totalLen uint16
	flags    uint16
	protocol Protocol
	src      netip.Addr
	dst      netip.Addr
}

// ICMPEcho crafts an ICMP echo request into a newly allocated packet.
func ICMPEcho(dst netip.Addr, id, seq uint16) (*Packet, error) {
	p := Alloc()
	if err := p.CraftICMPEcho(dst, id, seq); err != nil {
		return nil, err
	}
	return p, nil
}

// TCPSyn crafts a TCP SYN segment into a newly allocated packet.
func TCPSyn(src, dst netip.Addr, srcPort, dstPort uint16) (*Packet, error) {
	p := Alloc()
	if err := p.CraftTCPSyn(src, dst, srcPort, dstPort); err != nil {
		return nil, err
	}
	return p, nil
}

// UDP crafts a UDP datagram carrying payload into a newly allocated packet.
func UDP(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) (*Packet, error) {
	p := Alloc()
	if err := p.CraftUDP(src, dst, srcPort, dstPort, payload); err != nil {
		return nil, err
	}
	return p, nil
}

// CraftICMPEcho overwrites p with an ICMP echo request to dst. The IP source
// is left unspecified (0.0.0.0); Linux fills it in on IP_HDRINCL sockets.
func (p *Packet) CraftICMPEcho(dst netip.Addr, id, seq uint16) error {
	const total = IPv4HeaderLen + ICMPHeaderLen
	if err := p.checkTarget(total); err != nil {
		return err
	}
	if !dst.Is4() {
		return fmt.Errorf("%w: icmp echo destination %v is not IPv4", core.ErrInvalidParam, dst)
	}
	src := netip.IPv4Unspecified()

	p.Reset()
	putIPv4Header(p.data, ipv4Fields{
		totalLen: total,
		protocol: ProtocolICMP,
		src:      src,
		dst:      dst,
	})

	icmp := p.data[IPv4HeaderLen:total]
	icmp[0] = icmpTypeEchoRequest
	icmp[1] = 0
	binary.BigEndian.PutUint16(icmp[4:6], id)
	binary.BigEndian.PutUint16(icmp[6:8], seq)
	binary.BigEndian.PutUint16(icmp[2:4], Checksum(icmp))

	p.finish(total, src, dst, icmpTypeEchoRequest, 0, ProtocolICMP)
	return nil
}

// CraftTCPSyn overwrites p with a TCP SYN (DF set, random sequence number,
// window 65535, no options). The TCP checksum is computed here over the
// pseudo-header because the kernel does not fill it for IP_HDRINCL sockets.
func (p *Packet) CraftTCPSyn(src, dst netip.Addr, srcPort, dstPort uint16) error {
	const total = IPv4HeaderLen + TCPHeaderLen
	if err := p.checkTarget(total); err != nil {
		return err
	}
	if err := checkEndpoints(src, dst); err != nil {
		return err
	}

	p.Reset()
	putIPv4Header(p.data, ipv4Fields{
		totalLen: total,
		flags:    ipFlagDontFragment,
		protocol: ProtocolTCP,
		src:      src,
		dst:      dst,
	})

	tcp := p.data[IPv4HeaderLen:total]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], rand.Uint32())
	// ack number, checksum and urgent pointer stay zero
	tcp[12] = (TCPHeaderLen / 4) << 4
	tcp[13] = tcpFlagSYN
	binary.BigEndian.PutUint16(tcp[14:16], tcpDefaultWindow)
	binary.BigEndian.PutUint16(tcp[16:18], transportChecksum(src, dst, ProtocolTCP, tcp))

	p.finish(total, src, dst, srcPort, dstPort, ProtocolTCP)
	return nil
}

// CraftUDP overwrites p with a UDP datagram. The UDP checksum is left zero,
// which IPv4 permits.
func (p *Packet) CraftUDP(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) error {
	total := IPv4HeaderLen + UDPHeaderLen + len(payload)
	if total > MaxSize {
		return fmt.Errorf("%w: udp payload of %d bytes exceeds %d-byte packet limit", core.ErrInvalidParam, len(payload), MaxSize)
	}
	if err := p.checkTarget(total); err != nil {
		return err
	}
	if err := checkEndpoints(src, dst); err != nil {
		return err
	}

	p.Reset()
	putIPv4Header(p.data, ipv4Fields{
		totalLen: uint16(total),
		protocol: ProtocolUDP,
		src:      src,
		dst:      dst,
	})

	udp := p.data[IPv4HeaderLen : IPv4HeaderLen+UDPHeaderLen]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(UDPHeaderLen+len(payload)))
	copy(p.data[IPv4HeaderLen+UDPHeaderLen:total], payload)

	p.finish(total, src, dst, srcPort, dstPort, ProtocolUDP)
	return nil
}

// checkTarget fails before any byte is written if p cannot hold n bytes.
func (p *Packet) checkTarget(n int) error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", core.ErrInvalidParam)
	}
	if len(p.data) < n {
		return fmt.Errorf("%w: packet buffer of %d bytes cannot hold %d", core.ErrInvalidParam, len(p.data), n)
	}
	return nil
}

func (p *Packet) finish(total int, src, dst netip.Addr, srcPort, dstPort uint16, proto Protocol) {
	p.length = total
	p.SrcIP = src
	p.DstIP = dst
	p.SrcPort = srcPort
	p.DstPort = dstPort
	p.Protocol = proto
	p.TTL = DefaultTTL
	p.Timestamp = Now()
}

func checkEndpoints(src, dst netip.Addr) error {
	if !src.Is4() || !dst.Is4() {
		return fmt.Errorf("%w: endpoints %v > %v must be IPv4", core.ErrInvalidParam, src, dst)
	}
	return nil
}

// putIPv4Header writes a 20-byte, option-less IPv4 header at b[0:20] and
// fills in its checksum. b must already be zeroed.
func putIPv4Header(b []byte, f ipv4Fields) {
	h := b[:IPv4HeaderLen]
	h[0] = 4<<4 | IPv4HeaderLen/4
	h[1] = 0
	binary.BigEndian.PutUint16(h[2:4], f.totalLen)
	binary.BigEndian.PutUint16(h[4:6], uint16(rand.Uint32()))
	binary.BigEndian.PutUint16(h[6:8], f.flags)
	h[8] = DefaultTTL
	h[9] = byte(f.protocol)
	src, dst := f.src.As4(), f.dst.As4()
	copy(h[12:16], src[:])
	copy(h[16:20], dst[:])
	binary.BigEndian.PutUint16(h[10:12], Checksum(h))
}

// transportChecksum computes a TCP/UDP checksum including the IPv4
// pseudo-header. The segment's checksum field must be zero.
func transportChecksum(src, dst netip.Addr, proto Protocol, segment []byte) uint16 {
	var pseudo [12]byte
	s, d := src.As4(), dst.As4()
	copy(pseudo[0:4], s[:])
	copy(pseudo[4:8], d[:])
	pseudo[9] = byte(proto)
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))
	return fold(sum(sum(0, pseudo[:]), segment))
}

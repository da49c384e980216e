// Package filter builds classic BPF socket filters for IPv4 traffic.
//
// Programs are assembled with golang.org/x/net/bpf and attached either to a
// raw IP socket, where the filter sees the packet from the IP header on, or to
// an AF_PACKET capture handle, where a 14-byte Ethernet header comes first.
package filter

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

// Link is the framing a filter program runs against.
type Link int

const (
	// LinkRaw: the buffer starts at the IPv4 header.
	LinkRaw Link = iota
	// LinkEthernet: the buffer starts at an Ethernet header.
	LinkEthernet
)

func (l Link) base() uint32 {
	if l == LinkEthernet {
		return packet.EthernetHeaderLen
	}
	return 0
}

const (
	acceptLen   = 0xFFFF
	etherTypeV4 = 0x0800

	ipOffFlags = 6
	ipOffProto = 9
	ipOffSrc   = 12
	ipOffDst   = 16
	fragMask   = 0x1FFF
)

// Expr is a conjunction of match terms. Zero-valued terms match anything.
type Expr struct {
	Protocol packet.Protocol
	Src      netip.Addr
	Dst      netip.Addr
	Host     netip.Addr   // source or destination
	Net      netip.Prefix // source or destination inside the prefix
	Port     uint16       // TCP/UDP source or destination port
	SrcPort  uint16
	DstPort  uint16
}

// Parse reads a tcpdump-like expression: terms joined by "and", where a term
// is one of "ip", "icmp", "tcp", "udp", "[src|dst] host A", "src A", "dst A",
// "net CIDR" or "[src|dst] port N". "or" and "not" are not supported.
func Parse(s string) (Expr, error) {
	var e Expr
	toks := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		next := func() (string, error) {
			if i+1 >= len(toks) {
				return "", fmt.Errorf("%w: filter %q: %q needs an argument", core.ErrInvalidParam, s, tok)
			}
			i++
			return toks[i], nil
		}

		switch tok {
		case "and", "&&", "ip":
		case "icmp", "tcp", "udp":
			proto, _ := packet.ParseProtocol(tok)
			if e.Protocol != 0 && e.Protocol != proto {
				return Expr{}, fmt.Errorf("%w: filter %q: conflicting protocols", core.ErrInvalidParam, s)
			}
			e.Protocol = proto
		case "host":
			arg, err := next()
			if err != nil {
				return Expr{}, err
			}
			if e.Host, err = parseAddr(s, arg); err != nil {
				return Expr{}, err
			}
		case "src", "dst":
			arg, err := next()
			if err != nil {
				return Expr{}, err
			}
			if err := e.parseDirected(s, tok, arg, next); err != nil {
				return Expr{}, err
			}
		case "net":
			arg, err := next()
			if err != nil {
				return Expr{}, err
			}
			p, perr := netip.ParsePrefix(arg)
			if perr != nil || !p.Addr().Is4() {
				return Expr{}, fmt.Errorf("%w: filter %q: bad network %q", core.ErrInvalidParam, s, arg)
			}
			e.Net = p.Masked()
		case "port":
			arg, err := next()
			if err != nil {
				return Expr{}, err
			}
			if e.Port, err = parsePort(s, arg); err != nil {
				return Expr{}, err
			}
		default:
			return Expr{}, fmt.Errorf("%w: filter %q: unsupported term %q", core.ErrInvalidParam, s, tok)
		}
	}
	if e.hasPorts() && e.Protocol == packet.ProtocolICMP {
		return Expr{}, fmt.Errorf("%w: filter %q: icmp has no ports", core.ErrInvalidParam, s)
	}
	return e, nil
}

// parseDirected handles "src A", "src host A" and "src port N" (and dst).
func (e *Expr) parseDirected(s, dir, arg string, next func() (string, error)) error {
	switch arg {
	case "host":
		a, err := next()
		if err != nil {
			return err
		}
		arg = a
	case "port":
		a, err := next()
		if err != nil {
			return err
		}
		port, err := parsePort(s, a)
		if err != nil {
			return err
		}
		if dir == "src" {
			e.SrcPort = port
		} else {
			e.DstPort = port
		}
		return nil
	}

	addr, err := parseAddr(s, arg)
	if err != nil {
		return err
	}
	if dir == "src" {
		e.Src = addr
	} else {
		e.Dst = addr
	}
	return nil
}

func parseAddr(s, arg string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(arg)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: filter %q: %q is not an IPv4 address", core.ErrInvalidParam, s, arg)
	}
	return addr, nil
}

func parsePort(s, arg string) (uint16, error) {
	n, err := strconv.ParseUint(arg, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: filter %q: bad port %q", core.ErrInvalidParam, s, arg)
	}
	return uint16(n), nil
}

func (e Expr) hasPorts() bool {
	return e.Port != 0 || e.SrcPort != 0 || e.DstPort != 0
}

// Compile parses s and assembles it for link.
func Compile(s string, link Link) ([]bpf.RawInstruction, error) {
	e, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return e.Assemble(link)
}

// Assemble turns the expression into a kernel-ready program.
func (e Expr) Assemble(link Link) ([]bpf.RawInstruction, error) {
	return assemble(e.instructions(link))
}

func (e Expr) instructions(link Link) []bpf.Instruction {
	b := newBuilder(link)
	if e.Protocol != 0 {
		b.requireProtocol(e.Protocol)
	}
	if e.Src.IsValid() {
		b.requireWord(ipOffSrc, packet.AddrToUint32(e.Src))
	}
	if e.Dst.IsValid() {
		b.requireWord(ipOffDst, packet.AddrToUint32(e.Dst))
	}
	if e.Host.IsValid() {
		b.requireEither(ipOffSrc, ipOffDst, packet.AddrToUint32(e.Host), 0xFFFFFFFF)
	}
	if e.Net.IsValid() {
		mask := uint32(0xFFFFFFFF) << (32 - e.Net.Bits())
		if e.Net.Bits() == 0 {
			mask = 0
		}
		b.requireEither(ipOffSrc, ipOffDst, packet.AddrToUint32(e.Net.Addr()), mask)
	}
	if e.hasPorts() {
		if e.Protocol == 0 {
			b.requireTCPOrUDP()
		}
		b.loadTransportOffset()
		if e.SrcPort != 0 {
			b.requireTransportHalf(0, e.SrcPort)
		}
		if e.DstPort != 0 {
			b.requireTransportHalf(2, e.DstPort)
		}
		if e.Port != 0 {
			b.requireEitherPort(e.Port)
		}
	}
	return b.finish()
}

// ICMPEchoReply matches ICMP echo replies carrying identifier id.
func ICMPEchoReply(id uint16, link Link) ([]bpf.RawInstruction, error) {
	return assemble(icmpEchoReply(id, link))
}

func icmpEchoReply(id uint16, link Link) []bpf.Instruction {
	b := newBuilder(link)
	b.requireProtocol(packet.ProtocolICMP)
	b.loadTransportOffset()
	b.add(bpf.LoadIndirect{Off: b.base, Size: 1})
	b.failUnless(0) // echo reply type
	b.add(bpf.LoadIndirect{Off: b.base + 4, Size: 2})
	b.failUnless(uint32(id))
	return b.finish()
}

// TCPSynAck matches TCP segments to dstPort with both SYN and ACK set.
func TCPSynAck(dstPort uint16, link Link) ([]bpf.RawInstruction, error) {
	return assemble(tcpSynAck(dstPort, link))
}

func tcpSynAck(dstPort uint16, link Link) []bpf.Instruction {
	const synAck = 0x12
	b := newBuilder(link)
	b.requireProtocol(packet.ProtocolTCP)
	b.loadTransportOffset()
	b.requireTransportHalf(2, dstPort)
	b.add(bpf.LoadIndirect{Off: b.base + 13, Size: 1})
	b.add(bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: synAck})
	b.failUnless(synAck)
	return b.finish()
}

func assemble(ins []bpf.Instruction) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(ins)
	if err != nil {
		return nil, fmt.Errorf("%w: assemble filter: %w", core.ErrInvalidParam, err)
	}
	return raw, nil
}

package packet

import "encoding/binary"

type portLabel struct {
	port  uint16
	label string
}

var (
	tcpServices = []portLabel{
		{80, "HTTP"},
		{443, "HTTPS"},
		{22, "SSH"},
		{25, "SMTP"},
		{3306, "MySQL"},
		{5432, "PostgreSQL"},
	}
	udpServices = []portLabel{
		{53, "DNS"},
		{123, "NTP"},
		{67, "DHCP"},
		{68, "DHCP"},
	}
)

// Classify labels p with a best-effort application protocol derived from
// well-known ports, falling back to the transport name, "unknown" for other
// protocol numbers and "invalid" for a nil packet.
func Classify(p *Packet) string {
	if p == nil {
		return "invalid"
	}
	switch p.Protocol {
	case ProtocolTCP:
		return matchPort(p, tcpServices, "TCP")
	case ProtocolUDP:
		return matchPort(p, udpServices, "UDP")
	case ProtocolICMP:
		return "ICMP"
	default:
		return "unknown"
	}
}

func matchPort(p *Packet, table []portLabel, fallback string) string {
	for _, s := range table {
		if p.DstPort == s.port || p.SrcPort == s.port {
			return s.label
		}
	}
	return fallback
}

// Validate performs advisory structural checks: length bounds, IP version,
// header length and total-length consistency. It never modifies p.
func Validate(p *Packet) bool {
	if p == nil || p.length == 0 || p.length > MaxSize {
		return false
	}
	if p.length < IPv4HeaderLen {
		return false
	}
	if p.data[0]>>4 != 4 {
		return false
	}
	if _, ok := p.ipHeaderLen(); !ok {
		return false
	}
	return int(binary.BigEndian.Uint16(p.data[2:4])) <= p.length
}

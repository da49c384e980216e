package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/inspect"
	"firestige.xyz/netweaver/internal/packet"
)

const (
	icmpEchoReply   = 0
	icmpEchoRequest = 8
)

const (
	outputHex  = "hex"
	outputYAML = "yaml"
	outputText = "text"
)

// packetView is the rendered form of a decoded packet.
type packetView struct {
	Timestamp string              `yaml:"timestamp,omitempty"`
	Protocol  string              `yaml:"protocol"`
	Class     string              `yaml:"class"`
	Src       string              `yaml:"src"`
	Dst       string              `yaml:"dst"`
	SrcPort   uint16              `yaml:"src_port,omitempty"`
	DstPort   uint16              `yaml:"dst_port,omitempty"`
	TCPFlags  string              `yaml:"tcp_flags,omitempty"`
	ICMP      *icmpView           `yaml:"icmp,omitempty"`
	TTL       uint8               `yaml:"ttl"`
	Length    int                 `yaml:"length"`
	Valid     bool                `yaml:"valid"`
	RTT       string              `yaml:"rtt,omitempty"`
	Hex       string              `yaml:"hex,omitempty"`
	Error     string              `yaml:"error,omitempty"`
	Layers    *inspect.Dissection `yaml:"dissection,omitempty"`
}

type icmpView struct {
	Type uint8  `yaml:"type"`
	Code uint8  `yaml:"code"`
	ID   uint16 `yaml:"id,omitempty"`
	Seq  uint16 `yaml:"seq,omitempty"`
}

func newPacketView(p *packet.Packet) *packetView {
	v := &packetView{
		Protocol: p.Protocol.String(),
		Class:    packet.Classify(p),
		Src:      p.SrcIP.String(),
		Dst:      p.DstIP.String(),
		TTL:      p.TTL,
		Length:   p.Len(),
		Valid:    packet.Validate(p),
	}
	if !p.Timestamp.IsZero() {
		v.Timestamp = p.Timestamp.Format("2006-01-02T15:04:05.000000Z07:00")
	}
	switch p.Protocol {
	case packet.ProtocolICMP:
		v.ICMP = &icmpView{Type: uint8(p.SrcPort), Code: uint8(p.DstPort)}
		if typ, id, seq, ok := p.ICMPEchoFields(); ok && (typ == icmpEchoReply || typ == icmpEchoRequest) {
			v.ICMP.ID, v.ICMP.Seq = id, seq
		}
	case packet.ProtocolTCP:
		v.SrcPort, v.DstPort = p.SrcPort, p.DstPort
		if flags, ok := p.TCPFlags(); ok {
			v.TCPFlags = fmt.Sprintf("0x%02x", flags)
		}
	case packet.ProtocolUDP:
		v.SrcPort, v.DstPort = p.SrcPort, p.DstPort
	}
	return v
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	return enc.Close()
}

// writeLine prints the one-line summary used by receive loops.
func writeLine(w io.Writer, p *packet.Packet) error {
	mark := ""
	if !packet.Validate(p) {
		mark = " [invalid]"
	}
	_, err := fmt.Fprintf(w, "%s %-10s %s%s\n", p.Timestamp.Format("15:04:05.000000"), packet.Classify(p), p, mark)
	return err
}

// parseHex accepts hex with optional whitespace, colons and a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("%w: no hex input", core.ErrInvalidParam)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex input: %w", core.ErrInvalidParam, err)
	}
	return b, nil
}

func checkOutput(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return fmt.Errorf("%w: output %q (must be %s)", core.ErrInvalidParam, format, strings.Join(allowed, "/"))
}

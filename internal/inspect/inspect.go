// Package inspect renders a packet layer by layer with gopacket, as an
// independent second opinion on the hand-written codec.
package inspect

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

// Checksum verdicts.
const (
	ChecksumOK    = "ok"
	ChecksumBad   = "bad"
	ChecksumUnset = "unset"
)

// Field is one named header value.
type Field struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Layer is one decoded protocol layer.
type Layer struct {
	Name     string  `yaml:"layer"`
	Fields   []Field `yaml:"fields,omitempty"`
	Checksum string  `yaml:"checksum,omitempty"`
}

// Dissection is the result of Dissect. Error is set when gopacket stopped
// before the end of the data.
type Dissection struct {
	Layers []Layer `yaml:"layers"`
	Error  string  `yaml:"error,omitempty"`
}

// Dissect decodes data starting at first, usually layers.LayerTypeIPv4 or
// layers.LayerTypeEthernet.
func Dissect(data []byte, first gopacket.LayerType) (*Dissection, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty packet", core.ErrInvalidParam)
	}
	pkt := gopacket.NewPacket(data, first, gopacket.Default)

	d := &Dissection{}
	var ip *layers.IPv4
	for _, l := range decodedLayers(pkt, data) {
		switch v := l.(type) {
		case *layers.Ethernet:
			d.Layers = append(d.Layers, ethernetLayer(v))
		case *layers.IPv4:
			ip = v
			d.Layers = append(d.Layers, ipv4Layer(v))
		case *layers.ICMPv4:
			d.Layers = append(d.Layers, icmpLayer(v))
		case *layers.TCP:
			d.Layers = append(d.Layers, tcpLayer(v, ip))
		case *layers.UDP:
			d.Layers = append(d.Layers, udpLayer(v, ip))
		case *gopacket.DecodeFailure:
			d.Error = v.Error().Error()
		default:
			d.Layers = append(d.Layers, Layer{
				Name:   l.LayerType().String(),
				Fields: []Field{{"length", strconv.Itoa(len(l.LayerContents()))}},
			})
		}
	}
	if len(d.Layers) == 0 {
		return nil, fmt.Errorf("%w: no decodable layer: %s", core.ErrInvalidParam, d.Error)
	}
	return d, nil
}

// decodedLayers drops the layer a DecodeFailure belongs to. gopacket adds a
// layer to the packet before reporting that it failed to decode, so the layer
// in front of the failure may hold only partially filled fields.
func decodedLayers(pkt gopacket.Packet, data []byte) []gopacket.Layer {
	all := pkt.Layers()
	if pkt.ErrorLayer() == nil {
		return all
	}
	off := 0
	for i, l := range all {
		if _, ok := l.(*gopacket.DecodeFailure); !ok {
			off += len(l.LayerContents())
			continue
		}
		if i == 0 {
			return all
		}
		prev := all[i-1]
		start := off - len(prev.LayerContents())
		if start < 0 || start > len(data) || redecode(prev, data[start:]) == nil {
			return all
		}
		return append(all[:i-1:i-1], all[i:]...)
	}
	return all
}

// redecode runs a fresh decoder of l's type over data.
func redecode(l gopacket.Layer, data []byte) error {
	var dl gopacket.DecodingLayer
	switch l.(type) {
	case *layers.Ethernet:
		dl = &layers.Ethernet{}
	case *layers.IPv4:
		dl = &layers.IPv4{}
	case *layers.ICMPv4:
		dl = &layers.ICMPv4{}
	case *layers.TCP:
		dl = &layers.TCP{}
	case *layers.UDP:
		dl = &layers.UDP{}
	default:
		return nil
	}
	return dl.DecodeFromBytes(data, gopacket.NilDecodeFeedback)
}

func ethernetLayer(e *layers.Ethernet) Layer {
	return Layer{
		Name: "Ethernet",
		Fields: []Field{
			{"src", e.SrcMAC.String()},
			{"dst", e.DstMAC.String()},
			{"type", e.EthernetType.String()},
		},
	}
}

func ipv4Layer(ip *layers.IPv4) Layer {
	l := Layer{
		Name: "IPv4",
		Fields: []Field{
			{"version", strconv.Itoa(int(ip.Version))},
			{"ihl", strconv.Itoa(int(ip.IHL))},
			{"tos", hex8(ip.TOS)},
			{"length", strconv.Itoa(int(ip.Length))},
			{"id", hex16(ip.Id)},
			{"flags", ip.Flags.String()},
			{"frag_offset", strconv.Itoa(int(ip.FragOffset))},
			{"ttl", strconv.Itoa(int(ip.TTL))},
			{"protocol", ip.Protocol.String()},
			{"checksum", hex16(ip.Checksum)},
			{"src", ip.SrcIP.String()},
			{"dst", ip.DstIP.String()},
		},
	}
	if len(ip.Options) > 0 {
		l.Fields = append(l.Fields, Field{"options", strconv.Itoa(len(ip.Contents) - packet.IPv4HeaderLen)})
	}
	l.Checksum = verdict(packet.Checksum(ip.Contents) == 0)
	return l
}

func icmpLayer(icmp *layers.ICMPv4) Layer {
	l := Layer{
		Name: "ICMPv4",
		Fields: []Field{
			{"type", strconv.Itoa(int(icmp.TypeCode.Type()))},
			{"code", strconv.Itoa(int(icmp.TypeCode.Code()))},
			{"kind", icmp.TypeCode.String()},
			{"checksum", hex16(icmp.Checksum)},
			{"id", strconv.Itoa(int(icmp.Id))},
			{"seq", strconv.Itoa(int(icmp.Seq))},
		},
	}
	msg := append(append([]byte(nil), icmp.Contents...), icmp.Payload...)
	l.Checksum = verdict(packet.Checksum(msg) == 0)
	return l
}

func tcpLayer(tcp *layers.TCP, ip *layers.IPv4) Layer {
	l := Layer{
		Name: "TCP",
		Fields: []Field{
			{"src_port", strconv.Itoa(int(tcp.SrcPort))},
			{"dst_port", strconv.Itoa(int(tcp.DstPort))},
			{"seq", strconv.FormatUint(uint64(tcp.Seq), 10)},
			{"ack", strconv.FormatUint(uint64(tcp.Ack), 10)},
			{"data_offset", strconv.Itoa(int(tcp.DataOffset))},
			{"flags", tcpFlags(tcp)},
			{"window", strconv.Itoa(int(tcp.Window))},
			{"checksum", hex16(tcp.Checksum)},
			{"urgent", strconv.Itoa(int(tcp.Urgent))},
		},
	}
	if ip == nil {
		return l
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return l
	}
	// Summing a segment that carries a correct checksum leaves zero.
	residual, err := tcp.ComputeChecksum()
	if err == nil {
		l.Checksum = verdict(residual == 0)
	}
	return l
}

func udpLayer(udp *layers.UDP, ip *layers.IPv4) Layer {
	l := Layer{
		Name: "UDP",
		Fields: []Field{
			{"src_port", strconv.Itoa(int(udp.SrcPort))},
			{"dst_port", strconv.Itoa(int(udp.DstPort))},
			{"length", strconv.Itoa(int(udp.Length))},
			{"checksum", hex16(udp.Checksum)},
		},
	}
	if udp.Checksum == 0 {
		l.Checksum = ChecksumUnset
		return l
	}
	if ip == nil {
		return l
	}
	want, err := udpChecksum(udp, ip)
	if err == nil {
		l.Checksum = verdict(want == udp.Checksum)
	}
	return l
}

// udpChecksum reserializes a copy of the datagram to let gopacket compute the
// checksum over the pseudo-header.
func udpChecksum(udp *layers.UDP, ip *layers.IPv4) (uint16, error) {
	c := *udp
	if err := c.SetNetworkLayerForChecksum(ip); err != nil {
		return 0, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &c, gopacket.Payload(udp.Payload)); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf.Bytes()[6:8]), nil
}

func tcpFlags(tcp *layers.TCP) string {
	var names []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{tcp.FIN, "FIN"}, {tcp.SYN, "SYN"}, {tcp.RST, "RST"}, {tcp.PSH, "PSH"},
		{tcp.ACK, "ACK"}, {tcp.URG, "URG"}, {tcp.ECE, "ECE"}, {tcp.CWR, "CWR"}, {tcp.NS, "NS"},
	} {
		if f.set {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

func verdict(ok bool) string {
	if ok {
		return ChecksumOK
	}
	return ChecksumBad
}

func hex8(v uint8) string   { return fmt.Sprintf("0x%02x", v) }
func hex16(v uint16) string { return fmt.Sprintf("0x%04x", v) }

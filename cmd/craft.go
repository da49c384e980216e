package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

// craftOptions describe one packet. Shared by craft and send.
type craftOptions struct {
	proto   string
	src     string
	dst     string
	srcPort uint16
	dstPort uint16
	id      uint16
	seq     uint16
	payload string
}

func (o *craftOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.src, "src", "", "source IPv4 address (default transport.source_ip)")
	f.StringVar(&o.dst, "dst", "", "destination IPv4 address (required)")
	f.Uint16Var(&o.srcPort, "sport", 0, "tcp/udp source port (default random ephemeral)")
	f.Uint16Var(&o.dstPort, "dport", 0, "tcp/udp destination port")
	f.Uint16Var(&o.id, "id", 0, "icmp echo identifier (default pid)")
	f.Uint16Var(&o.seq, "seq", 1, "icmp echo sequence number")
	f.StringVar(&o.payload, "payload", "", "udp payload")
	cmd.MarkFlagRequired("dst")
}

// resolve fills defaults that depend on the process and configuration.
func (o *craftOptions) resolve(source netip.Addr) (src, dst netip.Addr, err error) {
	dst, err = netip.ParseAddr(o.dst)
	if err != nil || !dst.Is4() {
		return src, dst, fmt.Errorf("%w: --dst %q is not an IPv4 address", core.ErrInvalidParam, o.dst)
	}
	if o.src != "" {
		src, err = netip.ParseAddr(o.src)
		if err != nil || !src.Is4() {
			return src, dst, fmt.Errorf("%w: --src %q is not an IPv4 address", core.ErrInvalidParam, o.src)
		}
	} else {
		src = source
	}
	if o.id == 0 {
		o.id = uint16(os.Getpid())
	}
	if o.srcPort == 0 {
		o.srcPort = ephemeralPort()
	}
	return src, dst, nil
}

func (o *craftOptions) protocol() (packet.Protocol, error) {
	proto, err := packet.ParseProtocol(o.proto)
	if err != nil {
		return 0, err
	}
	if proto == packet.ProtocolRaw {
		return 0, fmt.Errorf("%w: cannot craft %s packets", core.ErrInvalidParam, proto)
	}
	return proto, nil
}

// build crafts the packet described by o.
func (o *craftOptions) build(source netip.Addr) (*packet.Packet, error) {
	proto, err := o.protocol()
	if err != nil {
		return nil, err
	}
	src, dst, err := o.resolve(source)
	if err != nil {
		return nil, err
	}

	switch proto {
	case packet.ProtocolICMP:
		return packet.ICMPEcho(dst, o.id, o.seq)
	case packet.ProtocolTCP, packet.ProtocolUDP:
		if !src.IsValid() {
			return nil, fmt.Errorf("%w: no source address, set --src or transport.source_ip", core.ErrInvalidParam)
		}
		if o.dstPort == 0 {
			return nil, fmt.Errorf("%w: --dport is required for %s", core.ErrInvalidParam, proto)
		}
		if proto == packet.ProtocolTCP {
			return packet.TCPSyn(src, dst, o.srcPort, o.dstPort)
		}
		return packet.UDP(src, dst, o.srcPort, o.dstPort, []byte(o.payload))
	default:
		return nil, fmt.Errorf("%w: cannot craft %s packets", core.ErrInvalidParam, proto)
	}
}

var (
	craftOpts   craftOptions
	craftOutput string
)

var craftCmd = &cobra.Command{
	Use:   "craft icmp|tcp|udp",
	Short: "Build a packet and print it",
	Long: `Build an ICMP echo request, TCP SYN or UDP datagram with a complete IPv4
header and print it without sending.

Examples:
  netweaver craft icmp --dst 192.0.2.1
  netweaver craft tcp --src 10.0.0.2 --dst 192.0.2.1 --dport 443 -o yaml
  netweaver craft udp --dst 192.0.2.1 --dport 53 --payload hello`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"icmp", "tcp", "udp"},
	RunE: func(cmd *cobra.Command, args []string) error {
		craftOpts.proto = args[0]
		return runCraft(craftOpts, craftOutput, currentConfig().Transport.Source(), cmd.OutOrStdout())
	},
}

func init() {
	craftOpts.bind(craftCmd)
	craftCmd.Flags().StringVarP(&craftOutput, "output", "o", outputHex, "output format (hex/yaml)")
}

func runCraft(o craftOptions, output string, source netip.Addr, w io.Writer) error {
	if err := checkOutput(output, outputHex, outputYAML); err != nil {
		return err
	}
	p, err := o.build(source)
	if err != nil {
		return err
	}
	if output == outputHex {
		_, err := fmt.Fprintln(w, hex.EncodeToString(p.Bytes()))
		return err
	}
	v := newPacketView(p)
	v.Hex = hex.EncodeToString(p.Bytes())
	return writeYAML(w, v)
}

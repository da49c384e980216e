package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/bpf"

	"firestige.xyz/netweaver/internal/config"
	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/filter"
	"firestige.xyz/netweaver/internal/log"
	"firestige.xyz/netweaver/internal/packet"
	"firestige.xyz/netweaver/internal/transport"
)

var (
	sendOpts  craftOptions
	sendWait  bool
	sendCount int
	sendGap   time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send icmp|tcp|udp",
	Short: "Craft a packet and send it over a raw socket",
	Long: `Craft a packet and send it through an IP_HDRINCL raw socket. With --wait
the command waits for the matching reply (ICMP echo reply with the same
identifier, or TCP SYN-ACK to the source port) using a kernel socket filter.

Requires CAP_NET_RAW.

Examples:
  netweaver send icmp --dst 192.0.2.1 --wait --count 3
  netweaver send tcp --dst 192.0.2.1 --dport 443 --wait`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"icmp", "tcp", "udp"},
	RunE: func(cmd *cobra.Command, args []string) error {
		sendOpts.proto = args[0]
		return runSend(cmd.Context(), currentConfig(), sendOpts, cmd.OutOrStdout())
	},
}

func init() {
	sendOpts.bind(sendCmd)
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "wait for the matching reply")
	sendCmd.Flags().IntVarP(&sendCount, "count", "n", 1, "number of packets (icmp sequence increments)")
	sendCmd.Flags().DurationVar(&sendGap, "interval", time.Second, "delay between packets")
}

func runSend(ctx context.Context, c *config.Config, o craftOptions, w io.Writer) error {
	proto, err := o.protocol()
	if err != nil {
		return err
	}
	if sendWait && proto == packet.ProtocolUDP {
		return fmt.Errorf("%w: --wait is not supported for udp", core.ErrInvalidParam)
	}
	mode, err := packet.ParseParseMode(c.Transport.ParseMode)
	if err != nil {
		return err
	}

	tel, err := startTelemetry(ctx, c.Metrics)
	if err != nil {
		return err
	}
	defer tel.stop()

	s, err := openRawSocket(c.Transport, proto, tel)
	if err != nil {
		return err
	}
	defer s.Close()

	logger := log.GetLogger().WithField("proto", proto.String())
	for i := 0; i < max(sendCount, 1); i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sendGap):
			}
		}

		p, err := o.build(c.Transport.Source())
		if err != nil {
			return err
		}
		if i == 0 && sendWait {
			if err := attachReplyFilter(s, proto, o); err != nil {
				return err
			}
		}
		if err := s.Send(p); err != nil {
			return err
		}
		sent := p.Timestamp
		logger.WithField("dst", p.DstIP.String()).Debug("packet sent")
		if err := writeYAML(w, map[string]*packetView{"sent": newPacketView(p)}); err != nil {
			return err
		}

		if sendWait {
			reply, err := awaitReply(ctx, s, proto, o, mode, c.Transport.Timeout())
			if err != nil {
				return err
			}
			v := newPacketView(reply)
			v.RTT = reply.Timestamp.Sub(sent).String()
			if err := writeYAML(w, map[string]*packetView{"reply": v}); err != nil {
				return err
			}
		}
		o.seq++
	}
	return nil
}

func openRawSocket(tc config.TransportConfig, proto packet.Protocol, tel *telemetry) (*transport.Socket, error) {
	s, err := transport.Open(transport.FamilyIPv4, transport.TypeRaw, proto, tel.transportOptions()...)
	if err != nil {
		if errors.Is(err, core.ErrPermissionDenied) {
			return nil, fmt.Errorf("%w (raw sockets need root or CAP_NET_RAW)", err)
		}
		return nil, err
	}
	if tc.Device != "" {
		if err := s.BindToDevice(tc.Device); err != nil {
			s.Close()
			return nil, err
		}
	}
	if tc.Nonblocking {
		if err := s.SetNonblocking(true); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func attachReplyFilter(s *transport.Socket, proto packet.Protocol, o craftOptions) error {
	var (
		prog []bpf.RawInstruction
		err  error
	)
	switch proto {
	case packet.ProtocolICMP:
		prog, err = filter.ICMPEchoReply(o.id, filter.LinkRaw)
	case packet.ProtocolTCP:
		prog, err = filter.TCPSynAck(o.srcPort, filter.LinkRaw)
	default:
		return fmt.Errorf("%w: no reply filter for %s", core.ErrInvalidParam, proto)
	}
	if err != nil {
		return err
	}
	return s.SetFilter(prog)
}

// awaitReply receives until a packet matching the request arrives or timeout
// elapses. Non-blocking sockets are polled.
func awaitReply(ctx context.Context, s *transport.Socket, proto packet.Protocol, o craftOptions, mode packet.ParseMode, timeout time.Duration) (*packet.Packet, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	buf := packet.Alloc()
	for {
		remaining := time.Until(deadline)
		// A zero SO_RCVTIMEO blocks forever, so stop before it rounds down.
		if remaining < time.Millisecond {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.Receive(buf, remaining)
		if errors.Is(err, core.ErrTimeout) {
			if s.Nonblocking() {
				time.Sleep(time.Millisecond)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		p, err := buf.Decode(mode)
		if err != nil {
			log.GetLogger().WithError(err).Debug("ignoring undecodable packet")
			continue
		}
		if isReply(p, proto, o) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no reply within %s", core.ErrTimeout, timeout)
}

func isReply(p *packet.Packet, proto packet.Protocol, o craftOptions) bool {
	switch proto {
	case packet.ProtocolICMP:
		if !p.IsICMPEchoReply(o.id) {
			return false
		}
		_, _, seq, _ := p.ICMPEchoFields()
		return seq == o.seq
	case packet.ProtocolTCP:
		return p.IsTCPSynAck() && p.DstPort == o.srcPort && p.SrcPort == o.dstPort
	default:
		return false
	}
}

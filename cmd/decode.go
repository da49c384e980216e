package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"firestige.xyz/netweaver/internal/inspect"
	"firestige.xyz/netweaver/internal/packet"
)

var (
	decodeMode   string
	decodeLayers bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode a packet given as hex",
	Long: `Decode an IPv4 packet (or an Ethernet frame in full mode) given as hex on
the command line or on stdin.

Modes:
  minimal  trusted input, IP header starts at byte 0
  full     untrusted input, Ethernet header detected and skipped, every
           header length checked

Examples:
  netweaver decode 4500001c...
  netweaver craft tcp --dst 192.0.2.1 --dport 80 | netweaver decode --layers`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input string
		if len(args) == 1 {
			input = args[0]
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			input = string(b)
		}
		mode := decodeMode
		if !cmd.Flags().Changed("mode") {
			mode = currentConfig().Transport.ParseMode
		}
		return runDecode(input, mode, decodeLayers, cmd.OutOrStdout())
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeMode, "mode", "m", "full", "parse mode (minimal/full)")
	decodeCmd.Flags().BoolVarP(&decodeLayers, "layers", "l", false, "add a layer-by-layer dissection with checksum verdicts")
}

// runDecode renders the decoded view. A parse failure is rendered too and
// then returned, so the exit status reflects it.
func runDecode(input, modeName string, withLayers bool, w io.Writer) error {
	raw, err := parseHex(input)
	if err != nil {
		return err
	}
	mode, err := packet.ParseParseMode(modeName)
	if err != nil {
		return err
	}

	p, parseErr := packet.Parse(raw, mode)
	v := &packetView{}
	first := layers.LayerTypeIPv4
	if parseErr == nil {
		v = newPacketView(p)
		if mode == packet.ParseFull && packet.EthernetFramed(raw) {
			first = layers.LayerTypeEthernet
		}
	} else {
		v.Error = parseErr.Error()
	}

	if withLayers {
		d, err := inspect.Dissect(raw, first)
		if err != nil {
			parseErr = errors.Join(parseErr, err)
		} else {
			v.Layers = d
		}
	}

	if err := writeYAML(w, v); err != nil {
		return err
	}
	return parseErr
}

package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netweaver/internal/capture"
	"firestige.xyz/netweaver/internal/config"
	"firestige.xyz/netweaver/internal/log"
	"firestige.xyz/netweaver/internal/packet"
)

var (
	captureType   string
	captureDevice string
	captureFile   string
	captureFilter string
	captureCount  int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture frames from a device or pcap file and classify them",
	Long: `Read link-layer frames from an AF_PACKET ring (capture.type=afpacket) or
replay a pcap/pcapng file (capture.type=file). Frames are treated as
untrusted: they are decoded in full mode and anything that is not
well-formed IPv4 is skipped.

Flags override the capture section of the configuration.

Examples:
  netweaver capture --device eth0 --filter "icmp"
  netweaver capture --file trace.pcap --filter "udp and port 53"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc := currentConfig().Capture
		f := cmd.Flags()
		if f.Changed("type") {
			cc.Type = captureType
		}
		if f.Changed("device") {
			cc.Device = captureDevice
		}
		if f.Changed("file") {
			cc.File = captureFile
			if !f.Changed("type") {
				cc.Type = capture.TypeFile
			}
		}
		if f.Changed("filter") {
			cc.Filter = captureFilter
		}
		return runCapture(cmd.Context(), cc, currentConfig().Metrics, captureCount, cmd.OutOrStdout())
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureType, "type", "t", capture.TypeAFPacket, "source type (afpacket/file)")
	captureCmd.Flags().StringVarP(&captureDevice, "device", "d", "", "capture device (afpacket, empty = all)")
	captureCmd.Flags().StringVarP(&captureFile, "file", "r", "", "pcap or pcapng file to replay (implies --type file)")
	captureCmd.Flags().StringVarP(&captureFilter, "filter", "f", "", `filter expression, e.g. "tcp and port 443"`)
	captureCmd.Flags().IntVarP(&captureCount, "count", "n", 0, "stop after n packets (0 = until end or interrupt)")
}

var errCountReached = errors.New("count reached")

func runCapture(ctx context.Context, cc config.CaptureConfig, mc config.MetricsConfig, count int, w io.Writer) error {
	tel, err := startTelemetry(ctx, mc)
	if err != nil {
		return err
	}
	defer tel.stop()

	r, err := capture.Open(cc, tel.captureOptions()...)
	if err != nil {
		return err
	}
	defer r.Close()

	log.GetLogger().WithFields(map[string]interface{}{
		"source": r.Name(),
		"link":   r.LinkType().String(),
		"filter": cc.Filter,
	}).Info("capture started")

	var n int
	err = r.Each(ctx, func(p *packet.Packet) error {
		if err := writeLine(w, p); err != nil {
			return err
		}
		n++
		if count > 0 && n >= count {
			return errCountReached
		}
		return nil
	})
	if errors.Is(err, errCountReached) {
		err = nil
	}
	log.GetLogger().WithField("packets", n).Info("capture finished")
	return err
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netweaver/internal/config"
	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/filter"
	"firestige.xyz/netweaver/internal/log"
	"firestige.xyz/netweaver/internal/packet"
	"firestige.xyz/netweaver/internal/pool"
	"firestige.xyz/netweaver/internal/transport"
)

var (
	listenProto  string
	listenFilter string
	listenCount  int
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive packets on a raw socket and classify them",
	Long: `Receive packets of one IP protocol on a raw socket into pooled buffers,
decode them with transport.parse_mode and print one line per packet.

Requires CAP_NET_RAW.

Examples:
  netweaver listen --proto icmp
  netweaver listen --proto tcp --filter "dst port 443" --count 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListen(cmd.Context(), currentConfig(), cmd.OutOrStdout())
	},
}

func init() {
	listenCmd.Flags().StringVarP(&listenProto, "proto", "p", "icmp", "ip protocol to receive (icmp/tcp/udp)")
	listenCmd.Flags().StringVarP(&listenFilter, "filter", "f", "", `kernel filter, e.g. "src 192.0.2.1 and port 53"`)
	listenCmd.Flags().IntVarP(&listenCount, "count", "n", 0, "stop after n packets (0 = until interrupted)")
}

// received is a filled pool slot on its way to the printer.
type received struct {
	slot *pool.Slot
	pkt  *packet.Packet
}

func runListen(ctx context.Context, c *config.Config, w io.Writer) error {
	proto, err := packet.ParseProtocol(listenProto)
	if err != nil {
		return err
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

	if listenFilter != "" {
		prog, err := filter.Compile(listenFilter, filter.LinkRaw)
		if err != nil {
			return err
		}
		if err := s.SetFilter(prog); err != nil {
			return err
		}
	}
	// The loop needs to wake up to notice cancellation.
	timeout := c.Transport.Timeout()
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := s.SetTimeout(timeout); err != nil {
		return err
	}

	pl, err := pool.New(c.Pool.SlotSize, c.Pool.SlotCount)
	if err != nil {
		return err
	}
	slots := pool.NewShared(pl)
	defer slots.Destroy()

	queue := make(chan received, c.Pool.SlotCount)
	var wg sync.WaitGroup
	var printErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range queue {
			if printErr == nil {
				printErr = printReceived(w, r.pkt, mode)
			}
			slots.Release(r.slot)
			tel.setPoolInUse(slots.InUse())
		}
	}()

	err = receiveLoop(ctx, s, slots, queue, tel)
	close(queue)
	wg.Wait()
	if err != nil {
		return err
	}
	return printErr
}

// receiveLoop fills pool slots from s and queues them until ctx is done or
// listenCount packets were received.
func receiveLoop(ctx context.Context, s *transport.Socket, slots *pool.Shared, queue chan<- received, tel *telemetry) error {
	logger := log.GetLogger()
	for n := 0; listenCount <= 0 || n < listenCount; {
		if ctx.Err() != nil {
			return nil
		}

		slot, err := slots.Get()
		if errors.Is(err, core.ErrPoolExhausted) {
			// printer is behind; every slot is queued
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return err
		}
		tel.setPoolInUse(slots.InUse())

		p, err := packet.Wrap(slot.Bytes())
		if err != nil {
			slots.Release(slot)
			return err
		}
		err = s.Receive(p, 0)
		if err != nil {
			slots.Release(slot)
			if errors.Is(err, core.ErrTimeout) {
				if s.Nonblocking() {
					time.Sleep(time.Millisecond)
				}
				continue
			}
			if core.Retryable(err) {
				logger.WithError(err).Warn("receive failed, retrying")
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}
		queue <- received{slot: slot, pkt: p}
		n++
	}
	return nil
}

func printReceived(w io.Writer, raw *packet.Packet, mode packet.ParseMode) error {
	p, err := raw.Decode(mode)
	if err != nil {
		_, werr := fmt.Fprintf(w, "%s %-10s %d bytes: %v\n", raw.Timestamp.Format("15:04:05.000000"), "invalid", raw.Len(), err)
		return werr
	}
	return writeLine(w, p)
}

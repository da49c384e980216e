//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/filter"
)

// AFPacketSource captures from a device through a TPACKET_V3 ring.
type AFPacketSource struct {
	handle *afpacket.TPacket
	device string
}

// OpenAFPacket opens the ring, joins the fanout group and attaches the
// kernel filter.
func OpenAFPacket(cfg AFPacketConfig) (*AFPacketSource, error) {
	cfg.applyDefaults()
	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidParam, err)
	}

	opts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	}
	if cfg.Device != "" {
		opts = append(opts, afpacket.OptInterface(cfg.Device))
	}
	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return nil, wrapOpenErr(cfg.Device, err)
	}

	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("%w: fanout group %d: %w", core.ErrSocket, cfg.FanoutID, err)
		}
	}

	if cfg.Filter != "" {
		prog, err := filter.Compile(cfg.Filter, filter.LinkEthernet)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(prog); err != nil {
			tp.Close()
			return nil, fmt.Errorf("%w: attach filter: %w", core.ErrSocket, err)
		}
	}
	return &AFPacketSource{handle: tp, device: cfg.Device}, nil
}

func wrapOpenErr(device string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: afpacket on %q: %w", core.ErrPermissionDenied, device, err)
	}
	return fmt.Errorf("%w: afpacket on %q: %w", core.ErrSocket, device, err)
}

// ReadPacketData copies the next frame out of the ring. An expired poll is
// reported as core.ErrTimeout.
func (s *AFPacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, fmt.Errorf("%w: %w", core.ErrTimeout, err)
	}
	return data, ci, err
}

func (s *AFPacketSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

// Stats returns the kernel's packet and drop counters.
func (s *AFPacketSource) Stats() (packets, drops uint, err error) {
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return 0, 0, err
	}
	return v3.Packets(), v3.Drops(), nil
}

func (s *AFPacketSource) Close() error {
	s.handle.Close()
	return nil
}

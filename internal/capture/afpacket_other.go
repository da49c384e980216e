//go:build !linux

package capture

import (
	"fmt"
	"runtime"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netweaver/internal/core"
)

// AFPacketSource is only available on linux.
type AFPacketSource struct{}

func OpenAFPacket(cfg AFPacketConfig) (*AFPacketSource, error) {
	return nil, fmt.Errorf("%w: afpacket on %s", core.ErrUnsupported, runtime.GOOS)
}

func (s *AFPacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, fmt.Errorf("%w: afpacket on %s", core.ErrUnsupported, runtime.GOOS)
}

func (s *AFPacketSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *AFPacketSource) Stats() (packets, drops uint, err error) {
	return 0, 0, fmt.Errorf("%w: afpacket on %s", core.ErrUnsupported, runtime.GOOS)
}

func (s *AFPacketSource) Close() error { return nil }

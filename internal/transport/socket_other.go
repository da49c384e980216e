//go:build !linux

package transport

import (
	"fmt"
	"net/netip"
	"runtime"
	"time"

	"golang.org/x/net/bpf"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

func unsupported() error {
	return fmt.Errorf("%w: raw sockets on %s", core.ErrUnsupported, runtime.GOOS)
}

func sysOpen(Type, packet.Protocol) (int, error)       { return -1, unsupported() }
func sysBind(int, netip.AddrPort) error                { return unsupported() }
func sysSetTimeout(int, time.Duration) error           { return unsupported() }
func sysSetNonblock(int, bool) error                   { return unsupported() }
func sysBindToDevice(int, string) error                { return unsupported() }
func sysAttachFilter(int, []bpf.RawInstruction) error  { return unsupported() }
func sysSend(int, []byte, netip.AddrPort) error        { return unsupported() }
func sysRecv(int, []byte) (int, netip.AddrPort, error) { return 0, netip.AddrPort{}, unsupported() }
func sysLocalAddr(int) (netip.AddrPort, error)         { return netip.AddrPort{}, unsupported() }
func sysClose(int) error                               { return unsupported() }

//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

func sysOpen(typ Type, proto packet.Protocol) (int, error) {
	sotype := unix.SOCK_RAW
	if typ == TypeDatagram {
		sotype = unix.SOCK_DGRAM
	}
	fd, err := unix.Socket(unix.AF_INET, sotype|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return -1, wrapErrno("socket", err)
	}
	if typ == TypeRaw {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
			unix.Close(fd)
			return -1, wrapErrno("set IP_HDRINCL", err)
		}
	}
	return fd, nil
}

func sysBind(fd int, ap netip.AddrPort) error {
	if err := unix.Bind(fd, sockaddr(ap)); err != nil {
		return wrapErrno("bind", err)
	}
	return nil
}

func sysSetTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return wrapErrno("set SO_RCVTIMEO", err)
	}
	return nil
}

func sysSetNonblock(fd int, on bool) error {
	if err := unix.SetNonblock(fd, on); err != nil {
		return wrapErrno("set nonblock", err)
	}
	return nil
}

func sysBindToDevice(fd int, name string) error {
	if err := unix.BindToDevice(fd, name); err != nil {
		return wrapErrno("set SO_BINDTODEVICE", err)
	}
	return nil
}

func sysAttachFilter(fd int, prog []bpf.RawInstruction) error {
	filter := make([]unix.SockFilter, len(prog))
	for i, ins := range prog {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&filter[0])),
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return wrapErrno("set SO_ATTACH_FILTER", err)
	}
	return nil
}

func sysSend(fd int, b []byte, to netip.AddrPort) error {
	for {
		err := unix.Sendto(fd, b, 0, sockaddr(to))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
				return fmt.Errorf("%w: sendto: %w", core.ErrPermissionDenied, err)
			}
			return fmt.Errorf("%w: sendto: %w", core.ErrSocket, err)
		}
		return nil
	}
}

func sysRecv(fd int, buf []byte) (int, netip.AddrPort, error) {
	for {
		n, from, err := unix.Recvfrom(fd, buf, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, netip.AddrPort{}, wrapErrno("recvfrom", err)
		}
		return n, addrPort(from), nil
	}
}

func sysLocalAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, wrapErrno("getsockname", err)
	}
	return addrPort(sa), nil
}

func sysClose(fd int) error {
	if err := unix.Close(fd); err != nil {
		return wrapErrno("close", err)
	}
	return nil
}

func sockaddr(ap netip.AddrPort) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
	}
	return netip.AddrPort{}
}

// wrapErrno maps an errno onto the package's error kinds. Missing privilege
// and "no data yet" are told apart from other socket failures.
func wrapErrno(op string, err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w: %s: %w", core.ErrPermissionDenied, op, err)
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return fmt.Errorf("%w: %s: %w", core.ErrTimeout, op, err)
	case errors.Is(err, unix.EPROTONOSUPPORT), errors.Is(err, unix.EAFNOSUPPORT):
		return fmt.Errorf("%w: %s: %w", core.ErrUnsupported, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", core.ErrSocket, op, err)
	}
}

// Package hostinfo reads interface, address and routing data from the kernel
// over netlink. Its results are only used to fill in configuration, such as a
// missing source address for crafted packets.
package hostinfo

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"firestige.xyz/netweaver/internal/core"
)

// Interface is one network link with its IPv4 addresses.
type Interface struct {
	Name     string         `yaml:"name"`
	Index    int            `yaml:"index"`
	MAC      string         `yaml:"mac,omitempty"`
	MTU      int            `yaml:"mtu"`
	Up       bool           `yaml:"up"`
	Loopback bool           `yaml:"loopback"`
	Addrs    []netip.Prefix `yaml:"addrs,omitempty"`
}

// Gateway is the preferred IPv4 default route.
type Gateway struct {
	Addr      netip.Addr `yaml:"addr"`
	Interface string     `yaml:"interface"`
	Src       netip.Addr `yaml:"src"`
}

// Interfaces lists every link together with its IPv4 addresses.
func Interfaces() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("%w: list links: %w", core.ErrSocket, err)
	}

	ifaces := make([]Interface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		iface := Interface{
			Name:     attrs.Name,
			Index:    attrs.Index,
			MTU:      attrs.MTU,
			Up:       attrs.Flags&net.FlagUp != 0,
			Loopback: attrs.Flags&net.FlagLoopback != 0,
		}
		if len(attrs.HardwareAddr) > 0 {
			iface.MAC = attrs.HardwareAddr.String()
		}

		addrs, err := netlink.AddrList(link, unix.AF_INET)
		if err != nil {
			return nil, fmt.Errorf("%w: list addresses of %s: %w", core.ErrSocket, attrs.Name, err)
		}
		for _, a := range addrs {
			if p, ok := prefixFromIPNet(a.IPNet); ok {
				iface.Addrs = append(iface.Addrs, p)
			}
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, nil
}

// DefaultGateway returns the IPv4 default route with the lowest metric. It
// fails with core.ErrNotFound when the host has no default route.
func DefaultGateway() (Gateway, error) {
	routes, err := netlink.RouteList(nil, unix.AF_INET)
	if err != nil {
		return Gateway{}, fmt.Errorf("%w: list routes: %w", core.ErrSocket, err)
	}

	route, ok := defaultRoute(routes)
	if !ok {
		return Gateway{}, fmt.Errorf("%w: no IPv4 default route", core.ErrNotFound)
	}

	gw := Gateway{}
	if addr, ok := netip.AddrFromSlice(route.Gw); ok {
		gw.Addr = addr.Unmap()
	}
	if src, ok := netip.AddrFromSlice(route.Src); ok {
		gw.Src = src.Unmap()
	}
	if link, err := netlink.LinkByIndex(route.LinkIndex); err == nil {
		gw.Interface = link.Attrs().Name
	}
	return gw, nil
}

// PrimaryIPv4 returns the first IPv4 address of the first interface that is
// up and not a loopback, skipping link-local addresses.
func PrimaryIPv4() (netip.Addr, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return netip.Addr{}, err
	}
	return primaryIPv4(ifaces)
}

func primaryIPv4(ifaces []Interface) (netip.Addr, error) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}
		for _, p := range iface.Addrs {
			addr := p.Addr()
			if !addr.Is4() || addr.IsLinkLocalUnicast() || addr.IsLoopback() {
				continue
			}
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: no usable IPv4 address on any interface", core.ErrNotFound)
}

// defaultRoute picks the default route with the lowest priority. Depending on
// the netlink version the default destination is nil or 0.0.0.0/0.
func defaultRoute(routes []netlink.Route) (netlink.Route, bool) {
	var best *netlink.Route
	for i := range routes {
		r := &routes[i]
		if !isDefaultDst(r.Dst) {
			continue
		}
		if best == nil || r.Priority < best.Priority {
			best = r
		}
	}
	if best == nil {
		return netlink.Route{}, false
	}
	return *best, true
}

func isDefaultDst(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}

func prefixFromIPNet(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(addr.Unmap(), ones), true
}

package hostinfo

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"firestige.xyz/netweaver/internal/core"
)

func ipNet(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

func TestDefaultRoutePicksLowestPriority(t *testing.T) {
	routes := []netlink.Route{
		{Dst: ipNet("10.0.0.0/8"), Gw: net.ParseIP("10.0.0.1"), Priority: 0},
		{Dst: nil, Gw: net.ParseIP("192.168.1.1"), Priority: 600, LinkIndex: 3},
		{Dst: ipNet("0.0.0.0/0"), Gw: net.ParseIP("192.168.0.1"), Priority: 100, LinkIndex: 2},
	}

	r, ok := defaultRoute(routes)
	require.True(t, ok)
	assert.Equal(t, 2, r.LinkIndex)
	assert.True(t, r.Gw.Equal(net.ParseIP("192.168.0.1")))
}

func TestDefaultRouteMissing(t *testing.T) {
	_, ok := defaultRoute([]netlink.Route{{Dst: ipNet("172.16.0.0/12")}})
	assert.False(t, ok)

	_, ok = defaultRoute(nil)
	assert.False(t, ok)
}

func TestPrimaryIPv4(t *testing.T) {
	ifaces := []Interface{
		{Name: "lo", Up: true, Loopback: true, Addrs: []netip.Prefix{netip.MustParsePrefix("127.0.0.1/8")}},
		{Name: "eth1", Up: false, Addrs: []netip.Prefix{netip.MustParsePrefix("10.1.0.5/24")}},
		{Name: "eth0", Up: true, Addrs: []netip.Prefix{
			netip.MustParsePrefix("169.254.10.1/16"),
			netip.MustParsePrefix("192.168.0.20/24"),
		}},
	}
	addr, err := primaryIPv4(ifaces)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.0.20"), addr)

	_, err = primaryIPv4(ifaces[:2])
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPrefixFromIPNet(t *testing.T) {
	p, ok := prefixFromIPNet(&net.IPNet{IP: net.ParseIP("10.2.3.4"), Mask: net.CIDRMask(16, 32)})
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.2.3.4/16"), p)
	assert.True(t, p.Addr().Is4(), "v4-mapped slices are unmapped")

	_, ok = prefixFromIPNet(nil)
	assert.False(t, ok)
}

func TestInterfacesIncludesLoopback(t *testing.T) {
	ifaces, err := Interfaces()
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}
	var lo *Interface
	for i := range ifaces {
		if ifaces[i].Loopback {
			lo = &ifaces[i]
		}
	}
	require.NotNil(t, lo, "every linux host has a loopback link")
	assert.Greater(t, lo.MTU, 0)
}

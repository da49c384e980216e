package filter

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

var (
	hostA = netip.MustParseAddr("10.0.0.1")
	hostB = netip.MustParseAddr("192.168.7.9")
)

func run(t *testing.T, ins []bpf.Instruction, data []byte) bool {
	t.Helper()
	vm, err := bpf.NewVM(ins)
	require.NoError(t, err)
	n, err := vm.Run(data)
	require.NoError(t, err)
	return n > 0
}

func withEthernet(ip []byte) []byte {
	frame := make([]byte, packet.EthernetHeaderLen+len(ip))
	binary.BigEndian.PutUint16(frame[12:14], etherTypeV4)
	copy(frame[packet.EthernetHeaderLen:], ip)
	return frame
}

func udp(t *testing.T, src, dst netip.Addr, sp, dp uint16) []byte {
	t.Helper()
	p, err := packet.UDP(src, dst, sp, dp, []byte("data"))
	require.NoError(t, err)
	return p.Bytes()
}

func tcp(t *testing.T, src, dst netip.Addr, sp, dp uint16, flags byte) []byte {
	t.Helper()
	p, err := packet.TCPSyn(src, dst, sp, dp)
	require.NoError(t, err)
	b := append([]byte(nil), p.Bytes()...)
	b[packet.IPv4HeaderLen+13] = flags
	return b
}

func echo(t *testing.T, id uint16, typ byte) []byte {
	t.Helper()
	p, err := packet.ICMPEcho(hostB, id, 1)
	require.NoError(t, err)
	b := append([]byte(nil), p.Bytes()...)
	b[packet.IPv4HeaderLen] = typ
	return b
}

func TestParse(t *testing.T) {
	e, err := Parse("udp and src 10.0.0.1 and dst port 53")
	require.NoError(t, err)
	assert.Equal(t, Expr{Protocol: packet.ProtocolUDP, Src: hostA, DstPort: 53}, e)

	e, err = Parse("  ip && host 192.168.7.9 && net 10.1.2.3/16 && port 80 ")
	require.NoError(t, err)
	assert.Equal(t, Expr{Host: hostB, Net: netip.MustParsePrefix("10.1.0.0/16"), Port: 80}, e)

	e, err = Parse("src host 10.0.0.1 and src port 1234")
	require.NoError(t, err)
	assert.Equal(t, Expr{Src: hostA, SrcPort: 1234}, e)

	e, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, Expr{}, e)
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"tcp or udp",
		"not icmp",
		"host",
		"host example.com",
		"src ::1",
		"port 0",
		"port 70000",
		"net 10.0.0.0",
		"tcp and udp",
		"icmp and port 7",
		"sctp",
	} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, core.ErrInvalidParam, s)
	}
}

func TestExprMatching(t *testing.T) {
	dns := udp(t, hostA, hostB, 40000, 53)
	web := tcp(t, hostB, hostA, 443, 50000, 0x12)
	ping := echo(t, 9, 8)

	tests := []struct {
		expr string
		data []byte
		want bool
	}{
		{"", dns, true},
		{"udp", dns, true},
		{"tcp", dns, false},
		{"icmp", ping, true},
		{"src 10.0.0.1", dns, true},
		{"src 10.0.0.1", web, false},
		{"dst 10.0.0.1", web, true},
		{"host 10.0.0.1", dns, true},
		{"host 10.0.0.1", web, true},
		{"host 10.9.9.9", web, false},
		{"net 192.168.0.0/16", dns, true},
		{"net 192.168.0.0/16", web, true},
		{"net 172.16.0.0/12", web, false},
		{"net 0.0.0.0/0", web, true},
		{"port 53", dns, true},
		{"port 443", web, true},
		{"port 53", web, false},
		{"port 53", ping, false},
		{"dst port 53", dns, true},
		{"src port 53", dns, false},
		{"udp and src 10.0.0.1 and dst port 53", dns, true},
		{"udp and src 10.0.0.1 and dst port 54", dns, false},
		{"tcp and port 443 and host 192.168.7.9", web, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, run(t, e.instructions(LinkRaw), tt.data), "raw")
			assert.Equal(t, tt.want, run(t, e.instructions(LinkEthernet), withEthernet(tt.data)), "ethernet")
		})
	}
}

func TestEthernetRequiresIPv4(t *testing.T) {
	frame := withEthernet(udp(t, hostA, hostB, 1, 2))
	binary.BigEndian.PutUint16(frame[12:14], 0x86DD)
	assert.False(t, run(t, Expr{}.instructions(LinkEthernet), frame))
}

func TestPortsIgnoreLaterFragments(t *testing.T) {
	b := udp(t, hostA, hostB, 40000, 53)
	binary.BigEndian.PutUint16(b[6:8], 0x0010) // fragment offset 16
	e, err := Parse("port 53")
	require.NoError(t, err)
	assert.False(t, run(t, e.instructions(LinkRaw), b))
}

func TestPortsFollowIHL(t *testing.T) {
	plain := udp(t, hostA, hostB, 40000, 53)
	// Same datagram with 4 bytes of IP options in front of the UDP header.
	b := make([]byte, len(plain)+4)
	copy(b, plain[:packet.IPv4HeaderLen])
	b[0] = 0x46
	copy(b[packet.IPv4HeaderLen+4:], plain[packet.IPv4HeaderLen:])

	e, err := Parse("dst port 53")
	require.NoError(t, err)
	assert.True(t, run(t, e.instructions(LinkRaw), b))
}

func TestICMPEchoReply(t *testing.T) {
	for _, link := range []Link{LinkRaw, LinkEthernet} {
		frame := func(b []byte) []byte {
			if link == LinkEthernet {
				return withEthernet(b)
			}
			return b
		}
		ins := icmpEchoReply(77, link)
		assert.True(t, run(t, ins, frame(echo(t, 77, 0))))
		assert.False(t, run(t, ins, frame(echo(t, 78, 0))), "other identifier")
		assert.False(t, run(t, ins, frame(echo(t, 77, 8))), "echo request")
		assert.False(t, run(t, ins, frame(udp(t, hostA, hostB, 77, 77))))
	}

	raw, err := ICMPEchoReply(77, LinkRaw)
	require.NoError(t, err)
	assert.Len(t, raw, len(icmpEchoReply(77, LinkRaw)))
}

func TestTCPSynAck(t *testing.T) {
	ins := tcpSynAck(40000, LinkRaw)
	assert.True(t, run(t, ins, tcp(t, hostB, hostA, 80, 40000, 0x12)))
	assert.True(t, run(t, ins, tcp(t, hostB, hostA, 80, 40000, 0x1A)), "syn+ack+psh")
	assert.False(t, run(t, ins, tcp(t, hostB, hostA, 80, 40000, 0x02)), "bare syn")
	assert.False(t, run(t, ins, tcp(t, hostB, hostA, 80, 40000, 0x14)), "rst+ack")
	assert.False(t, run(t, ins, tcp(t, hostB, hostA, 80, 40001, 0x12)), "other port")

	_, err := TCPSynAck(40000, LinkEthernet)
	assert.NoError(t, err)
}

func TestTruncatedInputIsRejected(t *testing.T) {
	e, err := Parse("port 53")
	require.NoError(t, err)
	assert.False(t, run(t, e.instructions(LinkRaw), udp(t, hostA, hostB, 40000, 53)[:packet.IPv4HeaderLen+1]))
}

func TestCompile(t *testing.T) {
	raw, err := Compile("icmp and host 10.0.0.1", LinkEthernet)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	_, err = Compile("or", LinkRaw)
	assert.ErrorIs(t, err, core.ErrInvalidParam)
}

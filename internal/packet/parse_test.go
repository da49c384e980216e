package packet

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netweaver/internal/core"
)

// fields is the comparable projection of a parsed packet.
type fields struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol Protocol
	TTL      uint8
	Len      int
}

func project(p *Packet) fields {
	return fields{p.SrcIP, p.DstIP, p.SrcPort, p.DstPort, p.Protocol, p.TTL, p.Len()}
}

var addrCmp = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

func ethernetFrame(ip []byte) []byte {
	frame := make([]byte, EthernetHeaderLen+len(ip))
	copy(frame[0:6], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	copy(frame[6:12], []byte{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb})
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv4)
	copy(frame[EthernetHeaderLen:], ip)
	return frame
}

func TestParseICMPEchoRoundTrip(t *testing.T) {
	crafted, err := ICMPEcho(dstAddr, 0xBEEF, 42)
	require.NoError(t, err)

	for _, mode := range []ParseMode{ParseMinimal, ParseFull} {
		t.Run(mode.String(), func(t *testing.T) {
			p, err := Parse(crafted.Bytes(), mode)
			require.NoError(t, err)
			assert.Equal(t, dstAddr, p.DstIP)
			assert.Equal(t, ProtocolICMP, p.Protocol)
			assert.Equal(t, uint16(8), p.SrcPort, "icmp type is exposed as src port")
			assert.Equal(t, uint16(0), p.DstPort, "icmp code is exposed as dst port")

			typ, id, seq, ok := p.ICMPEchoFields()
			require.True(t, ok)
			assert.Equal(t, uint8(8), typ)
			assert.Equal(t, uint16(0xBEEF), id)
			assert.Equal(t, uint16(42), seq)
		})
	}
}

func TestParseTCPSynEndToEnd(t *testing.T) {
	crafted, err := TCPSyn(srcAddr, dstAddr, 40000, 80)
	require.NoError(t, err)

	wire := append([]byte(nil), crafted.Bytes()...)
	p, err := Parse(wire, ParseFull)
	require.NoError(t, err)

	want := fields{srcAddr, dstAddr, 40000, 80, ProtocolTCP, DefaultTTL, 40}
	if diff := cmp.Diff(want, project(p), addrCmp); diff != "" {
		t.Errorf("parsed fields mismatch (-want +got):\n%s", diff)
	}
	assert.NotZero(t, wire[IPv4HeaderLen+13]&tcpFlagSYN, "SYN bit in byte 13 of the tcp header")
	assert.Equal(t, wire, crafted.Bytes(), "parsing must not mutate the input")
}

func TestParseUDPWithEthernet(t *testing.T) {
	crafted, err := UDP(srcAddr, dstAddr, 1234, 53, []byte{1, 2, 3})
	require.NoError(t, err)
	frame := ethernetFrame(crafted.Bytes())

	p, err := Parse(frame, ParseFull)
	require.NoError(t, err)
	assert.Equal(t, crafted.Len(), p.Len(), "link header is stripped")
	assert.Equal(t, uint16(1234), p.SrcPort)
	assert.Equal(t, uint16(53), p.DstPort)
	assert.Equal(t, []byte{1, 2, 3}, p.Payload())

	// Minimal parsing never looks for a link header.
	_, err = Parse(frame, ParseMinimal)
	assert.ErrorIs(t, err, core.ErrInvalidParam)
}

func TestParseFullTrimsLinkPadding(t *testing.T) {
	crafted, err := UDP(srcAddr, dstAddr, 1234, 53, []byte{1, 2})
	require.NoError(t, err)
	// Ethernet pads short frames to 60 bytes.
	frame := ethernetFrame(crafted.Bytes())
	frame = append(frame, make([]byte, 60-len(frame))...)
	assert.True(t, EthernetFramed(frame))

	p, err := Parse(frame, ParseFull)
	require.NoError(t, err)
	assert.Equal(t, crafted.Len(), p.Len())
	assert.Equal(t, []byte{1, 2}, p.Payload())
	assert.True(t, Validate(p))

	// Trusted input keeps whatever the caller handed over.
	padded := append(append([]byte(nil), crafted.Bytes()...), 0, 0, 0, 0)
	p, err = Parse(padded, ParseMinimal)
	require.NoError(t, err)
	assert.Equal(t, len(padded), p.Len())

	// A total length larger than the capture is left alone.
	short := append([]byte(nil), crafted.Bytes()[:crafted.Len()-1]...)
	p, err = Parse(short, ParseFull)
	require.NoError(t, err)
	assert.Equal(t, len(short), p.Len())
}

func TestParseSourceLooksLikeEtherType(t *testing.T) {
	// 8.0.x.x puts 0x0800 at offset 12 of a bare IP packet.
	src := netip.MustParseAddr("8.0.1.2")
	crafted, err := TCPSyn(src, dstAddr, 1000, 22)
	require.NoError(t, err)

	p, err := Parse(crafted.Bytes(), ParseFull)
	require.NoError(t, err)
	assert.Equal(t, src, p.SrcIP)
	assert.Equal(t, uint16(22), p.DstPort)
}

func TestParseUnknownProtocol(t *testing.T) {
	crafted, err := UDP(srcAddr, dstAddr, 1, 2, []byte{9, 9, 9, 9})
	require.NoError(t, err)
	b := append([]byte(nil), crafted.Bytes()...)
	b[9] = 47 // GRE

	p, err := Parse(b, ParseFull)
	require.NoError(t, err)
	assert.Equal(t, Protocol(47), p.Protocol)
	assert.Zero(t, p.SrcPort)
	assert.Equal(t, "unknown", Classify(p))
}

func TestParseTruncatedTransport(t *testing.T) {
	crafted, err := TCPSyn(srcAddr, dstAddr, 40000, 80)
	require.NoError(t, err)
	truncated := crafted.Bytes()[:IPv4HeaderLen+10]

	_, err = Parse(truncated, ParseFull)
	assert.ErrorIs(t, err, core.ErrInvalidParam)

	p, err := Parse(truncated, ParseMinimal)
	require.NoError(t, err)
	assert.Equal(t, ProtocolTCP, p.Protocol)
	assert.Zero(t, p.SrcPort)
	assert.Zero(t, p.DstPort)
}

func TestParseHeaderOnly(t *testing.T) {
	crafted, err := ICMPEcho(dstAddr, 1, 1)
	require.NoError(t, err)

	p, err := Parse(crafted.Bytes()[:IPv4HeaderLen], ParseFull)
	require.NoError(t, err)
	assert.Equal(t, ProtocolICMP, p.Protocol)
	assert.Nil(t, p.Payload())
}

func corruptedBuffers(t *testing.T) map[string][]byte {
	t.Helper()
	crafted, err := UDP(srcAddr, dstAddr, 1, 2, []byte("payload"))
	require.NoError(t, err)
	clone := func() []byte { return append([]byte(nil), crafted.Bytes()...) }

	version6 := clone()
	version6[0] = 0x65

	ihlTooLong := clone()[:24]
	ihlTooLong[0] = 0x4F // 60-byte header in a 24-byte buffer

	ihlTooShort := clone()
	ihlTooShort[0] = 0x44

	return map[string][]byte{
		"empty":          {},
		"short":          clone()[:19],
		"version 6":      version6,
		"ihl past end":   ihlTooLong,
		"ihl below 20":   ihlTooShort,
		"single byte":    {0x45},
		"oversized data": make([]byte, MaxSize+1),
	}
}

func TestParseRejectsCorruptedBuffers(t *testing.T) {
	for name, raw := range corruptedBuffers(t) {
		t.Run(name, func(t *testing.T) {
			for _, mode := range []ParseMode{ParseMinimal, ParseFull} {
				_, err := Parse(raw, mode)
				assert.ErrorIs(t, err, core.ErrInvalidParam, "mode %s", mode)
			}
		})
	}
}

func TestDecodeCarriesTimestamp(t *testing.T) {
	crafted, err := ICMPEcho(dstAddr, 1, 1)
	require.NoError(t, err)

	p, err := crafted.Decode(ParseMinimal)
	require.NoError(t, err)
	assert.Equal(t, crafted.Timestamp, p.Timestamp)

	var nilPacket *Packet
	_, err = nilPacket.Decode(ParseFull)
	assert.ErrorIs(t, err, core.ErrInvalidParam)
}

func TestParseModeNames(t *testing.T) {
	m, err := ParseParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, ParseFull, m)

	m, err = ParseParseMode("minimal")
	require.NoError(t, err)
	assert.Equal(t, ParseMinimal, m)

	_, err = ParseParseMode("paranoid")
	assert.ErrorIs(t, err, core.ErrInvalidParam)
}

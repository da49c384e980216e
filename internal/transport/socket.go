// Package transport owns raw IPv4 sockets: it puts crafted packets on the
// wire and reads raw datagrams back into caller-supplied packet buffers.
//
// A Socket has exactly one owner and no internal locking. Sharing one across
// goroutines needs external synchronization. A Receive blocked in the kernel
// is not reliably interrupted by Close from another goroutine; use a receive
// timeout or non-blocking mode for loops that must stop.
package transport

import (
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/net/bpf"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/log"
	"firestige.xyz/netweaver/internal/packet"
)

// Family is the socket address family. Only IPv4 is supported.
type Family int

const FamilyIPv4 Family = 4

// Type is the socket type.
type Type int

const (
	// TypeRaw sockets carry whole IP datagrams; the header is written by the
	// packet codec (IP_HDRINCL) and never rewritten by the kernel.
	TypeRaw Type = iota + 1
	// TypeDatagram sockets carry transport payloads only (UDP, or ICMP
	// "ping" sockets). They need no privilege.
	TypeDatagram
)

func (t Type) String() string {
	switch t {
	case TypeRaw:
		return "raw"
	case TypeDatagram:
		return "dgram"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// State is the socket lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateBound
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateBound:
		return "bound"
	default:
		return "closed"
	}
}

// Recorder observes transport traffic. metrics.Collector implements it.
type Recorder interface {
	PacketSent(proto packet.Protocol, n int)
	PacketReceived(proto packet.Protocol, n int)
	TransportError(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) PacketSent(packet.Protocol, int)     {}
func (nopRecorder) PacketReceived(packet.Protocol, int) {}
func (nopRecorder) TransportError(string, error)        {}

type options struct {
	logger   log.Logger
	recorder Recorder
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger for socket lifecycle events.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder reports sent and received packets and errors to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// Socket is one kernel socket plus its configuration.
type Socket struct {
	fd          int
	family      Family
	typ         Type
	proto       packet.Protocol
	state       State
	nonblocking bool
	timeout     time.Duration

	log log.Logger
	rec Recorder
}

// Open creates a socket. Raw sockets additionally take over the IP header.
// Opening a raw socket without privilege fails with core.ErrPermissionDenied.
func Open(family Family, typ Type, proto packet.Protocol, opts ...Option) (*Socket, error) {
	if family != FamilyIPv4 {
		return nil, fmt.Errorf("%w: unsupported address family %d", core.ErrInvalidParam, family)
	}
	if typ != TypeRaw && typ != TypeDatagram {
		return nil, fmt.Errorf("%w: unsupported socket type %s", core.ErrInvalidParam, typ)
	}

	o := options{logger: log.Discard(), recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}

	fd, err := sysOpen(typ, proto)
	if err != nil {
		o.recorder.TransportError("open", err)
		return nil, err
	}
	s := &Socket{
		fd:     fd,
		family: family,
		typ:    typ,
		proto:  proto,
		state:  StateOpen,
		log:    o.logger.WithFields(map[string]interface{}{"type": typ.String(), "proto": proto.String()}),
		rec:    o.recorder,
	}
	s.log.Debug("socket opened")
	return s, nil
}

func (s *Socket) checkOpen(op string) error {
	if s == nil || s.state == StateClosed {
		return fmt.Errorf("%w: %s on closed socket", core.ErrInvalidParam, op)
	}
	return nil
}

func (s *Socket) fail(op string, err error) error {
	s.rec.TransportError(op, err)
	return err
}

// Bind assigns the local address. An invalid addr binds the wildcard
// address. The port only matters for datagram sockets.
func (s *Socket) Bind(addr netip.Addr, port uint16) error {
	if err := s.checkOpen("bind"); err != nil {
		return err
	}
	if !addr.IsValid() {
		addr = netip.IPv4Unspecified()
	}
	if !addr.Is4() {
		return fmt.Errorf("%w: bind address %s is not IPv4", core.ErrInvalidParam, addr)
	}
	if err := sysBind(s.fd, netip.AddrPortFrom(addr, port)); err != nil {
		return s.fail("bind", err)
	}
	s.state = StateBound
	s.log.WithField("addr", netip.AddrPortFrom(addr, port).String()).Debug("socket bound")
	return nil
}

// SetTimeout sets the receive timeout. Zero blocks indefinitely.
func (s *Socket) SetTimeout(d time.Duration) error {
	if err := s.checkOpen("set timeout"); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: negative timeout %s", core.ErrInvalidParam, d)
	}
	if err := sysSetTimeout(s.fd, d); err != nil {
		return s.fail("set timeout", err)
	}
	s.timeout = d
	return nil
}

// SetNonblocking toggles non-blocking mode. A non-blocking Receive with no
// queued data fails with core.ErrTimeout.
func (s *Socket) SetNonblocking(on bool) error {
	if err := s.checkOpen("set nonblocking"); err != nil {
		return err
	}
	if err := sysSetNonblock(s.fd, on); err != nil {
		return s.fail("set nonblocking", err)
	}
	s.nonblocking = on
	return nil
}

// BindToDevice restricts the socket to one interface (SO_BINDTODEVICE).
func (s *Socket) BindToDevice(name string) error {
	if err := s.checkOpen("bind to device"); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty device name", core.ErrInvalidParam)
	}
	if err := sysBindToDevice(s.fd, name); err != nil {
		return s.fail("bind to device", err)
	}
	s.log.WithField("device", name).Debug("socket bound to device")
	return nil
}

// SetFilter attaches a classic BPF program so that only matching datagrams
// are queued on the socket. See package filter.
func (s *Socket) SetFilter(prog []bpf.RawInstruction) error {
	if err := s.checkOpen("set filter"); err != nil {
		return err
	}
	if len(prog) == 0 || len(prog) > 0xFFFF {
		return fmt.Errorf("%w: filter program length %d", core.ErrInvalidParam, len(prog))
	}
	if err := sysAttachFilter(s.fd, prog); err != nil {
		return s.fail("set filter", err)
	}
	return nil
}

// Send writes p's bytes to p.DstIP. For datagram sockets p.DstPort selects
// the destination port and the bytes are the datagram payload.
func (s *Socket) Send(p *packet.Packet) error {
	if err := s.checkOpen("send"); err != nil {
		return err
	}
	if p == nil || p.Len() == 0 {
		return fmt.Errorf("%w: nothing to send", core.ErrInvalidParam)
	}
	if !p.DstIP.Is4() {
		return fmt.Errorf("%w: destination %s is not IPv4", core.ErrInvalidParam, p.DstIP)
	}

	var port uint16
	if s.typ == TypeDatagram {
		port = p.DstPort
	}
	if err := sysSend(s.fd, p.Bytes(), netip.AddrPortFrom(p.DstIP, port)); err != nil {
		return s.fail("send", err)
	}
	s.rec.PacketSent(p.Protocol, p.Len())
	if s.log.IsTraceEnabled() {
		s.log.WithField("dst", p.DstIP.String()).Tracef("sent %d bytes", p.Len())
	}
	return nil
}

// Receive reads one datagram into p's buffer, up to its capacity. A positive
// timeout is applied as the socket timeout before blocking. On success p
// holds the raw bytes, a receive timestamp, SrcIP and, for datagram sockets,
// SrcPort; the remaining fields are left for packet.Parse to fill in.
func (s *Socket) Receive(p *packet.Packet, timeout time.Duration) error {
	if err := s.checkOpen("receive"); err != nil {
		return err
	}
	if p == nil || p.Cap() == 0 {
		return fmt.Errorf("%w: no receive buffer", core.ErrInvalidParam)
	}
	if timeout > 0 {
		if err := s.SetTimeout(timeout); err != nil {
			return err
		}
	}

	p.Clear()
	n, from, err := sysRecv(s.fd, p.Buffer())
	if err != nil {
		return s.fail("receive", err)
	}
	if err := p.SetLen(n); err != nil {
		return err
	}
	p.Timestamp = packet.Now()
	p.SrcIP = from.Addr()
	if s.typ == TypeDatagram {
		p.SrcPort = from.Port()
	}
	s.rec.PacketReceived(s.proto, n)
	return nil
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() (netip.AddrPort, error) {
	if err := s.checkOpen("local addr"); err != nil {
		return netip.AddrPort{}, err
	}
	return sysLocalAddr(s.fd)
}

// Close releases the descriptor. Closing twice is an invalid-parameter error.
func (s *Socket) Close() error {
	if err := s.checkOpen("close"); err != nil {
		return err
	}
	s.state = StateClosed
	err := sysClose(s.fd)
	s.fd = -1
	if err != nil {
		return s.fail("close", err)
	}
	s.log.Debug("socket closed")
	return nil
}

func (s *Socket) State() State {
	if s == nil {
		return StateClosed
	}
	return s.state
}

func (s *Socket) Type() Type                { return s.typ }
func (s *Socket) Protocol() packet.Protocol { return s.proto }
func (s *Socket) Raw() bool                 { return s.typ == TypeRaw }
func (s *Socket) Nonblocking() bool         { return s.nonblocking }
func (s *Socket) Timeout() time.Duration    { return s.timeout }

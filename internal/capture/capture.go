// Package capture reads link-layer frames from a device or a pcap file and
// decodes them as untrusted IPv4 packets.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"firestige.xyz/netweaver/internal/config"
	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/filter"
	"firestige.xyz/netweaver/internal/log"
	"firestige.xyz/netweaver/internal/packet"
)

const (
	TypeAFPacket = "afpacket"
	TypeFile     = "file"
)

// Drop reasons reported to Recorder.CaptureDropped.
const (
	DropDecode    = "decode"
	DropRateLimit = "rate_limit"
)

// Source yields raw frames. ReadPacketData returns io.EOF when the source is
// exhausted and an error wrapping core.ErrTimeout when a poll expired.
type Source interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
	Close() error
}

// Recorder observes accepted and dropped frames. metrics.Collector
// implements it.
type Recorder interface {
	CapturedPacket(source, class string)
	CaptureDropped(source, reason string)
}

type nopRecorder struct{}

func (nopRecorder) CapturedPacket(string, string) {}
func (nopRecorder) CaptureDropped(string, string) {}

type options struct {
	logger   log.Logger
	recorder Recorder
	limiter  *SourceLimiter
}

// Option configures a Reader.
type Option func(*options)

// WithLogger sets the logger used for skipped frames.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder reports every frame outcome to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithSourceLimit drops packets from a source beyond limit per window.
func WithSourceLimit(limit int, window time.Duration) Option {
	return func(o *options) {
		o.limiter = NewSourceLimiter(limit, window)
	}
}

// Reader decodes the frames of a Source with packet.ParseFull, skipping
// frames that are not well-formed IPv4.
type Reader struct {
	src     Source
	name    string
	vm      *bpf.VM
	limiter *SourceLimiter
	log     log.Logger
	rec     Recorder
}

// Open creates the source described by cfg and wraps it in a Reader. Device
// sources filter in the kernel, file sources in user space.
func Open(cfg config.CaptureConfig, opts ...Option) (*Reader, error) {
	if cfg.MaxPerSource > 0 {
		window := time.Duration(cfg.RateWindowMs) * time.Millisecond
		opts = append(opts, WithSourceLimit(cfg.MaxPerSource, window))
	}
	switch cfg.Type {
	case TypeAFPacket:
		src, err := OpenAFPacket(AFPacketConfig{
			Device:       cfg.Device,
			SnapLen:      cfg.SnapLen,
			BufferSizeMB: cfg.BufferSizeMB,
			TimeoutMs:    cfg.TimeoutMs,
			FanoutID:     cfg.FanoutID,
			Filter:       cfg.Filter,
		})
		if err != nil {
			return nil, err
		}
		return NewReader(src, TypeAFPacket, opts...), nil
	case TypeFile:
		src, err := OpenFile(cfg.File)
		if err != nil {
			return nil, err
		}
		r := NewReader(src, TypeFile, opts...)
		if err := r.SetFilter(cfg.Filter); err != nil {
			src.Close()
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: capture type %q", core.ErrUnsupported, cfg.Type)
	}
}

// NewReader wraps src. name labels the source in logs and metrics.
func NewReader(src Source, name string, opts ...Option) *Reader {
	o := options{logger: log.Discard(), recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reader{
		src:     src,
		name:    name,
		limiter: o.limiter,
		log:     o.logger.WithField("source", name),
		rec:     o.recorder,
	}
}

// SetFilter installs a user-space filter evaluated on every raw frame. An
// empty expression removes it.
func (r *Reader) SetFilter(expr string) error {
	if expr == "" {
		r.vm = nil
		return nil
	}
	link, err := filterLink(r.src.LinkType())
	if err != nil {
		return err
	}
	raw, err := filter.Compile(expr, link)
	if err != nil {
		return err
	}
	ins, ok := bpf.Disassemble(raw)
	if !ok {
		return fmt.Errorf("%w: filter %q does not disassemble", core.ErrInvalidParam, expr)
	}
	vm, err := bpf.NewVM(ins)
	if err != nil {
		return fmt.Errorf("%w: filter %q: %w", core.ErrInvalidParam, expr, err)
	}
	r.vm = vm
	return nil
}

// Next returns the next decodable packet that passes the filter and the
// source limit. The packet's Timestamp is the capture time.
func (r *Reader) Next() (*packet.Packet, error) {
	for {
		data, ci, err := r.src.ReadPacketData()
		if err != nil {
			return nil, err
		}
		if r.vm != nil {
			n, err := r.vm.Run(data)
			if err != nil || n == 0 {
				continue
			}
		}

		p, err := packet.Parse(data, packet.ParseFull)
		if err != nil {
			r.rec.CaptureDropped(r.name, DropDecode)
			if r.log.IsDebugEnabled() {
				r.log.WithError(err).WithField("len", len(data)).Debug("skipping undecodable frame")
			}
			continue
		}
		p.Timestamp = ci.Timestamp
		if !r.limiter.Allow(p.SrcIP, ci.Timestamp) {
			r.rec.CaptureDropped(r.name, DropRateLimit)
			continue
		}
		r.rec.CapturedPacket(r.name, packet.Classify(p))
		return p, nil
	}
}

// Each calls fn for every packet until the source is exhausted, ctx is done
// or fn fails. Poll timeouts only give ctx a chance to be checked.
func (r *Reader) Each(ctx context.Context, fn func(*packet.Packet) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		p, err := r.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, core.ErrTimeout):
			continue
		case err != nil:
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}

// LinkType is the framing of the underlying source.
func (r *Reader) LinkType() layers.LinkType { return r.src.LinkType() }

// Name labels the source.
func (r *Reader) Name() string { return r.name }

// Close releases the source.
func (r *Reader) Close() error {
	return r.src.Close()
}

func filterLink(lt layers.LinkType) (filter.Link, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return filter.LinkEthernet, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return filter.LinkRaw, nil
	default:
		return 0, fmt.Errorf("%w: link type %s", core.ErrUnsupported, lt)
	}
}

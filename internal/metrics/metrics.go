// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

const namespace = "netweaver"

// Collector holds the process metrics. It is registered on a caller supplied
// Registerer and implements transport.Recorder.
type Collector struct {
	// PacketsSentTotal counts packets handed to the kernel by protocol
	PacketsSentTotal *prometheus.CounterVec
	// PacketsReceivedTotal counts packets received by protocol
	PacketsReceivedTotal *prometheus.CounterVec
	// BytesSentTotal counts bytes handed to the kernel by protocol
	BytesSentTotal *prometheus.CounterVec
	// BytesReceivedTotal counts bytes received by protocol
	BytesReceivedTotal *prometheus.CounterVec
	// TransportErrorsTotal counts transport failures by operation and error kind
	TransportErrorsTotal *prometheus.CounterVec
	// PoolSlotsInUse tracks borrowed receive buffer slots
	PoolSlotsInUse prometheus.Gauge
	// CapturePacketsTotal counts captured packets by source and traffic class
	CapturePacketsTotal *prometheus.CounterVec
	// CaptureDropsTotal counts captured frames dropped by reason
	CaptureDropsTotal *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		PacketsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_packets_sent_total",
				Help:      "Total number of packets sent",
			},
			[]string{"protocol"},
		),
		PacketsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_packets_received_total",
				Help:      "Total number of packets received",
			},
			[]string{"protocol"},
		),
		BytesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_bytes_sent_total",
				Help:      "Total number of bytes sent",
			},
			[]string{"protocol"},
		),
		BytesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_bytes_received_total",
				Help:      "Total number of bytes received",
			},
			[]string{"protocol"},
		),
		TransportErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Total number of transport errors",
			},
			[]string{"op", "kind"},
		),
		PoolSlotsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_slots_in_use",
				Help:      "Number of receive buffer slots currently borrowed",
			},
		),
		CapturePacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_packets_total",
				Help:      "Total number of packets captured",
			},
			[]string{"source", "class"},
		),
		CaptureDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_drops_total",
				Help:      "Total number of captured frames dropped",
			},
			[]string{"source", "reason"},
		),
	}

	for _, m := range []prometheus.Collector{
		c.PacketsSentTotal,
		c.PacketsReceivedTotal,
		c.BytesSentTotal,
		c.BytesReceivedTotal,
		c.TransportErrorsTotal,
		c.PoolSlotsInUse,
		c.CapturePacketsTotal,
		c.CaptureDropsTotal,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// PacketSent implements transport.Recorder.
func (c *Collector) PacketSent(proto packet.Protocol, n int) {
	c.PacketsSentTotal.WithLabelValues(proto.String()).Inc()
	c.BytesSentTotal.WithLabelValues(proto.String()).Add(float64(n))
}

// PacketReceived implements transport.Recorder.
func (c *Collector) PacketReceived(proto packet.Protocol, n int) {
	c.PacketsReceivedTotal.WithLabelValues(proto.String()).Inc()
	c.BytesReceivedTotal.WithLabelValues(proto.String()).Add(float64(n))
}

// TransportError implements transport.Recorder.
func (c *Collector) TransportError(op string, err error) {
	c.TransportErrorsTotal.WithLabelValues(op, core.Kind(err)).Inc()
}

// SetPoolInUse reports the number of borrowed pool slots.
func (c *Collector) SetPoolInUse(n int) {
	c.PoolSlotsInUse.Set(float64(n))
}

// CapturedPacket counts one captured packet of the given traffic class.
func (c *Collector) CapturedPacket(source, class string) {
	c.CapturePacketsTotal.WithLabelValues(source, class).Inc()
}

// CaptureDropped counts one captured frame dropped for reason.
func (c *Collector) CaptureDropped(source, reason string) {
	c.CaptureDropsTotal.WithLabelValues(source, reason).Inc()
}

package cmd

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"firestige.xyz/netweaver/internal/capture"
	"firestige.xyz/netweaver/internal/config"
	"firestige.xyz/netweaver/internal/log"
	"firestige.xyz/netweaver/internal/metrics"
	"firestige.xyz/netweaver/internal/transport"
)

// telemetry owns the optional metrics endpoint of a command run.
type telemetry struct {
	collector *metrics.Collector
	server    *metrics.Server
}

func startTelemetry(ctx context.Context, mc config.MetricsConfig) (*telemetry, error) {
	t := &telemetry{}
	if !mc.Enabled {
		return t, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, err
	}
	s := metrics.NewServer(mc.Listen, mc.Path, reg)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	t.collector, t.server = c, s
	return t, nil
}

func (t *telemetry) stop() {
	if t.server == nil {
		return
	}
	if err := t.server.Stop(context.Background()); err != nil {
		log.GetLogger().WithError(err).Warn("metrics server stop failed")
	}
}

func (t *telemetry) transportOptions() []transport.Option {
	opts := []transport.Option{transport.WithLogger(log.GetLogger())}
	if t.collector != nil {
		opts = append(opts, transport.WithRecorder(t.collector))
	}
	return opts
}

func (t *telemetry) captureOptions() []capture.Option {
	opts := []capture.Option{capture.WithLogger(log.GetLogger())}
	if t.collector != nil {
		opts = append(opts, capture.WithRecorder(t.collector))
	}
	return opts
}

func (t *telemetry) setPoolInUse(n int) {
	if t.collector != nil {
		t.collector.SetPoolInUse(n)
	}
}

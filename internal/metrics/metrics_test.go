package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/packet"
)

func TestCollectorRecordsTransport(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.PacketSent(packet.ProtocolICMP, 28)
	c.PacketSent(packet.ProtocolICMP, 28)
	c.PacketReceived(packet.ProtocolTCP, 40)
	c.TransportError("receive", core.ErrTimeout)
	c.TransportError("send", core.ErrPermissionDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PacketsSentTotal.WithLabelValues("ICMP")))
	assert.Equal(t, 56.0, testutil.ToFloat64(c.BytesSentTotal.WithLabelValues("ICMP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PacketsReceivedTotal.WithLabelValues("TCP")))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.BytesReceivedTotal.WithLabelValues("TCP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TransportErrorsTotal.WithLabelValues("receive", core.Kind(core.ErrTimeout))))
	assert.Equal(t, 2, testutil.CollectAndCount(c.TransportErrorsTotal))
}

func TestCollectorPoolAndCapture(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.SetPoolInUse(3)
	c.SetPoolInUse(1)
	c.CapturedPacket("file", "icmp")
	c.CaptureDropped("file", "decode")
	c.CaptureDropped("file", "rate_limit")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.PoolSlotsInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CapturePacketsTotal.WithLabelValues("file", "icmp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CaptureDropsTotal.WithLabelValues("file", "decode")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.CaptureDropsTotal))
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestServerExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.PacketSent(packet.ProtocolUDP, 10)

	s := NewServer("127.0.0.1:0", "", reg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `netweaver_transport_packets_sent_total{protocol="UDP"} 1`)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()), "second stop is a no-op")
}

func TestServerListenFailure(t *testing.T) {
	s := NewServer("256.0.0.1:bad", "/m", prometheus.NewRegistry())
	assert.Error(t, s.Start(context.Background()))
}

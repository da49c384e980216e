package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netweaver/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netweaver.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func stubResolver(t *testing.T, addr string, err error) {
	t.Helper()
	orig := resolveSourceIP
	resolveSourceIP = func() (netip.Addr, error) {
		if err != nil {
			return netip.Addr{}, err
		}
		return netip.MustParseAddr(addr), nil
	}
	t.Cleanup(func() { resolveSourceIP = orig })
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
netweaver:
  log:
    level: debug
    format: json
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
  transport:
    source_ip: 10.0.0.7
    timeout_ms: 250
    nonblocking: true
    device: eth0
    parse_mode: minimal
  pool:
    slot_size: 2048
    slot_count: 16
  capture:
    type: file
    file: /tmp/in.pcap
    filter: "icmp"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path, "default path kept")
	assert.Equal(t, netip.MustParseAddr("10.0.0.7"), cfg.Transport.Source())
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.Timeout())
	assert.True(t, cfg.Transport.Nonblocking)
	assert.Equal(t, "eth0", cfg.Transport.Device)
	assert.Equal(t, "minimal", cfg.Transport.ParseMode)
	assert.Equal(t, PoolConfig{SlotSize: 2048, SlotCount: 16}, cfg.Pool)
	assert.Equal(t, "file", cfg.Capture.Type)
	assert.Equal(t, "/tmp/in.pcap", cfg.Capture.File)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	stubResolver(t, "192.168.1.10", nil)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, time.Second, cfg.Transport.Timeout())
	assert.Equal(t, "full", cfg.Transport.ParseMode)
	assert.Equal(t, 65535, cfg.Pool.SlotSize)
	assert.Equal(t, 64, cfg.Pool.SlotCount)
	assert.Equal(t, "afpacket", cfg.Capture.Type)
	assert.Zero(t, cfg.Capture.MaxPerSource)
	assert.Equal(t, 10000, cfg.Capture.RateWindowMs)
	assert.Equal(t, "192.168.1.10", cfg.Transport.SourceIP, "source ip detected from the host")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NETWEAVER_TRANSPORT_TIMEOUT_MS", "5000")
	t.Setenv("NETWEAVER_LOG_LEVEL", "warn")
	stubResolver(t, "192.168.1.10", nil)

	cfg, err := Load(writeConfig(t, "netweaver:\n  log:\n    level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestSourceDetectionIsBestEffort(t *testing.T) {
	stubResolver(t, "", core.ErrNotFound)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Transport.SourceIP)
	assert.False(t, cfg.Transport.Source().IsValid())

	stubResolver(t, "", errors.New("netlink socket closed"))
	_, err = Load("")
	assert.NoError(t, err)
}

func TestLoadInvalid(t *testing.T) {
	stubResolver(t, "192.168.1.10", nil)

	tests := []struct {
		name    string
		content string
	}{
		{"log level", "netweaver:\n  log:\n    level: loud\n"},
		{"log format", "netweaver:\n  log:\n    format: xml\n"},
		{"negative timeout", "netweaver:\n  transport:\n    timeout_ms: -1\n"},
		{"parse mode", "netweaver:\n  transport:\n    parse_mode: paranoid\n"},
		{"ipv6 source", "netweaver:\n  transport:\n    source_ip: \"::1\"\n"},
		{"garbage source", "netweaver:\n  transport:\n    source_ip: nope\n"},
		{"slot size", "netweaver:\n  pool:\n    slot_size: 10\n"},
		{"slot count", "netweaver:\n  pool:\n    slot_count: 2000\n"},
		{"capture type", "netweaver:\n  capture:\n    type: xdp\n"},
		{"snap len", "netweaver:\n  capture:\n    snap_len: 0\n"},
		{"rate limit", "netweaver:\n  capture:\n    max_per_source: -5\n"},
		{"metrics listen", "netweaver:\n  metrics:\n    enabled: true\n    listen: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/hostinfo"
)

// Config is the top-level static configuration. Maps to the `netweaver:` root
// key in YAML.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Transport TransportConfig `mapstructure:"transport"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Capture   CaptureConfig   `mapstructure:"capture"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level"`       // trace / debug / info / warn / error
	Format     string           `mapstructure:"format"`      // json / text / pattern
	Pattern    string           `mapstructure:"pattern"`     // only for format=pattern
	TimeFormat string           `mapstructure:"time_format"` // Go layout
	Outputs    LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig lists log destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Transport ───

// TransportConfig contains raw socket settings.
type TransportConfig struct {
	SourceIP    string `mapstructure:"source_ip"` // Empty = first usable host IPv4
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	Nonblocking bool   `mapstructure:"nonblocking"`
	Device      string `mapstructure:"device"` // SO_BINDTODEVICE, optional
	ParseMode   string `mapstructure:"parse_mode"`
}

// Timeout is the receive timeout; zero means block.
func (t TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// Source returns the parsed source address, or the zero Addr when none is
// configured or resolved.
func (t TransportConfig) Source() netip.Addr {
	addr, err := netip.ParseAddr(t.SourceIP)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

// ─── Pool ───

// PoolConfig sizes the receive buffer pool.
type PoolConfig struct {
	SlotSize  int `mapstructure:"slot_size"`
	SlotCount int `mapstructure:"slot_count"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the packet capture source.
type CaptureConfig struct {
	Type         string `mapstructure:"type"` // afpacket / file
	Device       string `mapstructure:"device"`
	SnapLen      int    `mapstructure:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	FanoutID     uint16 `mapstructure:"fanout_id"`
	File         string `mapstructure:"file"`
	Filter       string `mapstructure:"filter"`         // e.g. "icmp and host 10.0.0.1"
	MaxPerSource int    `mapstructure:"max_per_source"` // packets per source per window, 0 = unlimited
	RateWindowMs int    `mapstructure:"rate_window_ms"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netweaver: ...`.
type configRoot struct {
	Netweaver Config `mapstructure:"netweaver"`
}

// resolveSourceIP is swapped out in tests.
var resolveSourceIP = hostinfo.PrimaryIPv4

// Load loads configuration from path. An empty path yields the defaults plus
// environment overrides. The YAML file uses `netweaver:` as root key; env vars
// use the NETWEAVER_ prefix (e.g. NETWEAVER_TRANSPORT_TIMEOUT_MS).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `netweaver.` key prefix maps to `NETWEAVER_` through the replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netweaver

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "netweaver." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("netweaver.log.level", "info")
	v.SetDefault("netweaver.log.format", "text")
	v.SetDefault("netweaver.log.pattern", "%time [%level] %caller: %msg%field")
	v.SetDefault("netweaver.log.time_format", "2006-01-02 15:04:05.000")
	v.SetDefault("netweaver.log.outputs.file.enabled", false)
	v.SetDefault("netweaver.log.outputs.file.path", "/var/log/netweaver/netweaver.log")
	v.SetDefault("netweaver.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netweaver.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netweaver.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netweaver.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("netweaver.metrics.enabled", false)
	v.SetDefault("netweaver.metrics.listen", ":9464")
	v.SetDefault("netweaver.metrics.path", "/metrics")

	// Transport defaults
	v.SetDefault("netweaver.transport.source_ip", "")
	v.SetDefault("netweaver.transport.timeout_ms", 1000)
	v.SetDefault("netweaver.transport.nonblocking", false)
	v.SetDefault("netweaver.transport.device", "")
	v.SetDefault("netweaver.transport.parse_mode", "full")

	// Pool defaults
	v.SetDefault("netweaver.pool.slot_size", 65535)
	v.SetDefault("netweaver.pool.slot_count", 64)

	// Capture defaults
	v.SetDefault("netweaver.capture.type", "afpacket")
	v.SetDefault("netweaver.capture.device", "")
	v.SetDefault("netweaver.capture.snap_len", 65535)
	v.SetDefault("netweaver.capture.buffer_size_mb", 8)
	v.SetDefault("netweaver.capture.timeout_ms", 100)
	v.SetDefault("netweaver.capture.fanout_id", 0)
	v.SetDefault("netweaver.capture.file", "")
	v.SetDefault("netweaver.capture.filter", "")
	v.SetDefault("netweaver.capture.max_per_source", 0)
	v.SetDefault("netweaver.capture.rate_window_ms", 10000)
}

// ValidateAndApplyDefaults validates configuration and resolves runtime
// defaults. Every failure wraps core.ErrConfigInvalid.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be json/text/pattern)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Transport ──
	if cfg.Transport.TimeoutMs < 0 {
		return fmt.Errorf("%w: transport.timeout_ms must not be negative", core.ErrConfigInvalid)
	}
	switch cfg.Transport.ParseMode {
	case "minimal", "full":
	default:
		return fmt.Errorf("%w: invalid transport.parse_mode: %s (must be minimal/full)", core.ErrConfigInvalid, cfg.Transport.ParseMode)
	}
	if err := resolveTransportSource(&cfg.Transport); err != nil {
		return err
	}

	// ── Pool ──
	if cfg.Pool.SlotSize < 20 || cfg.Pool.SlotSize > 65535 {
		return fmt.Errorf("%w: pool.slot_size must be in [20, 65535], got %d", core.ErrConfigInvalid, cfg.Pool.SlotSize)
	}
	if cfg.Pool.SlotCount < 1 || cfg.Pool.SlotCount > 1024 {
		return fmt.Errorf("%w: pool.slot_count must be in [1, 1024], got %d", core.ErrConfigInvalid, cfg.Pool.SlotCount)
	}

	// ── Capture ──
	switch cfg.Capture.Type {
	case "afpacket", "file":
	default:
		return fmt.Errorf("%w: unsupported capture.type: %s (must be afpacket/file)", core.ErrConfigInvalid, cfg.Capture.Type)
	}
	if cfg.Capture.SnapLen <= 0 || cfg.Capture.SnapLen > 65535 {
		return fmt.Errorf("%w: capture.snap_len must be in [1, 65535], got %d", core.ErrConfigInvalid, cfg.Capture.SnapLen)
	}
	if cfg.Capture.MaxPerSource < 0 || cfg.Capture.RateWindowMs < 0 {
		return fmt.Errorf("%w: capture.max_per_source and capture.rate_window_ms must not be negative", core.ErrConfigInvalid)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	return nil
}

// resolveTransportSource validates an explicit source IP or detects one.
// Detection is best effort: a host without a usable address keeps an empty
// source, and only commands that put packets on the wire need it.
func resolveTransportSource(t *TransportConfig) error {
	if t.SourceIP != "" {
		addr, err := netip.ParseAddr(t.SourceIP)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%w: transport.source_ip %q is not an IPv4 address", core.ErrConfigInvalid, t.SourceIP)
		}
		return nil
	}

	if addr, err := resolveSourceIP(); err == nil {
		t.SourceIP = addr.String()
	}
	return nil
}

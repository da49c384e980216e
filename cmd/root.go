// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netweaver/internal/config"
	"firestige.xyz/netweaver/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string

	// cfg is loaded once in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netweaver",
	Short: "netweaver - raw IPv4 packet crafting, sending and inspection",
	Long: `netweaver crafts ICMP, TCP and UDP packets with hand-built IPv4 headers,
sends them over raw sockets, and receives, decodes and classifies replies.

Features:
  - Packet crafting: ICMP echo, TCP SYN, UDP datagrams with correct checksums
  - Raw transport: IP_HDRINCL sockets with timeouts and kernel BPF filters
  - Decoding: trusted (minimal) and untrusted (full) parse modes
  - Capture: AF_PACKET ring or pcap/pcapng file replay
  - Metrics: Prometheus endpoint for transport and capture counters`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults plus NETWEAVER_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level (trace/debug/info/warn/error)")

	// Add subcommands
	rootCmd.AddCommand(craftCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(hostinfoCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
		if err := c.ValidateAndApplyDefaults(); err != nil {
			return err
		}
	}
	if err := log.Init(c.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	cfg = c
	return nil
}

// currentConfig returns the loaded configuration, or the defaults when a
// command runs without the root's pre-run hook (tests).
func currentConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	c, err := config.Load("")
	if err != nil {
		return &config.Config{}
	}
	cfg = c
	return cfg
}

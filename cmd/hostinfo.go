package cmd

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netweaver/internal/core"
	"firestige.xyz/netweaver/internal/hostinfo"
)

var hostinfoCmd = &cobra.Command{
	Use:   "hostinfo",
	Short: "Show interfaces, IPv4 addresses and the default gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHostinfo(cmd.OutOrStdout())
	},
}

type hostView struct {
	Interfaces  []hostinfo.Interface `yaml:"interfaces"`
	Gateway     *hostinfo.Gateway    `yaml:"gateway,omitempty"`
	PrimaryIPv4 string               `yaml:"primary_ipv4,omitempty"`
}

func runHostinfo(w io.Writer) error {
	ifaces, err := hostinfo.Interfaces()
	if err != nil {
		return err
	}
	v := hostView{Interfaces: ifaces}

	gw, err := hostinfo.DefaultGateway()
	switch {
	case err == nil:
		v.Gateway = &gw
	case !errors.Is(err, core.ErrNotFound):
		return err
	}
	if addr, err := hostinfo.PrimaryIPv4(); err == nil {
		v.PrimaryIPv4 = addr.String()
	}
	return writeYAML(w, v)
}

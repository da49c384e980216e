// Package main is the entry point for the netweaver raw packet tool.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/netweaver/cmd"
	"firestige.xyz/netweaver/internal/core"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error (%s): %v\n", core.Kind(err), err)
		os.Exit(1)
	}
}

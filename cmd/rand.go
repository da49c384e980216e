package cmd

import "math/rand/v2"

// ephemeralPort picks a source port from the IANA dynamic range.
func ephemeralPort() uint16 {
	return uint16(49152 + rand.IntN(65536-49152))
}

// Command sensorsim runs sensor simulations from a YAML scenario and
// optionally exposes the sensor manager over gRPC.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

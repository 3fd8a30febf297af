// Package main is the entry point for the streamforge application.
package main

import (
	"os"

	"github.com/jmylchreest/streamforge/cmd/streamforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the valet CLI.
package main

import (
	"os"

	"github.com/valet-ai/valet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the zapfluxo CLI.
package main

import (
	"os"

	"github.com/zapfluxo/zapfluxo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

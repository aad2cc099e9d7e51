// Package main is the entry point for the clienthub CLI.
package main

import (
	"os"

	"github.com/KafClaw/clienthub/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

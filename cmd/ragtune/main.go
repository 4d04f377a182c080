// Package main provides the entry point for the ragtune CLI.
package main

import (
	"os"

	"github.com/ragtune/ragtune/cmd/ragtune/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

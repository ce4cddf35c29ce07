// Package main provides the entry point for the sonactl CLI.
package main

import (
	"os"

	"github.com/opensona/sona/cmd/sonactl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

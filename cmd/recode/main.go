// Package main is the entry point for the recode application.
package main

import (
	"os"

	"github.com/jmylchreest/recode/cmd/recode/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

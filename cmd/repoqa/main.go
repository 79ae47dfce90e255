// Package main provides the entry point for the repoqa CLI.
package main

import (
	"os"

	"github.com/repoqa/repoqa/cmd/repoqa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

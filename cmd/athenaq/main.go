// Package main is the entry point for the athenaq CLI binary.
package main

import (
	"os"

	"athena-runner/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}

// Package main is the entrypoint for the cubecompile CLI.
package main

import (
	"os"

	"github.com/canonica-labs/cubecompile/internal/cli"
)

// Build-time version metadata, set via -ldflags.
var (
	version   = ""
	gitCommit = ""
	buildDate = ""
)

func main() {
	cli.SetVersionInfo(version, gitCommit, buildDate)
	os.Exit(cli.New().Execute())
}

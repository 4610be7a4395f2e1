// Package main is the single-binary entrypoint for the poco settlement node.
package main

import "github.com/tutu-network/poco/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}

// Package main is the entry point for the loseme CLI.
package main

import (
	"os"

	"github.com/loseme/loseme/cmd/loseme/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

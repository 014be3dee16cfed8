// Command wassel is the CLI entry point: build and serve plugins and
// plugin stacks (spec.md §6 "CLI surface").
package main

import (
	"fmt"
	"os"

	"github.com/n0emo/wassel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

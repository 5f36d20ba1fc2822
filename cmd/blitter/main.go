// Command blitter runs and inspects the 2D blit engine arbiter.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/blitter/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

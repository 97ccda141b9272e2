// Command autotest runs an operating system's test suite inside an emulator
// and writes one XML report per test.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/autotest/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "autotest: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

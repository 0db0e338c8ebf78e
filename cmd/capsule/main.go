package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/oursynth/capsule/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands report their own failures; only cobra's errors (unknown
		// command, bad flag) still need printing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}

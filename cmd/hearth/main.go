package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/hearth/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands that fail with an ExitError have already written a
		// formatted error; cobra errors (bad flags, unknown commands) have not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}

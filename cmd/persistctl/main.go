package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ammar0144/persist4go/internal/cli"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cmd := cli.NewRootCommand(os.Stdout, cli.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "persistctl:", err)
		var withExitCode interface{ ExitCode() int }
		if errors.As(err, &withExitCode) {
			os.Exit(withExitCode.ExitCode())
		}
		os.Exit(1)
	}
}

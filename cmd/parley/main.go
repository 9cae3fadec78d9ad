// Package main provides the parley CLI entrypoint.
//
// Usage:
//
//	parley <command> [subcommand] [options]
//
// Exit codes for chat and ask:
//   - 0: the turn completed
//   - 1: usage, config or local error
//   - 2: the backend reported an error
//   - 3: the stream failed in transport
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/cli/cmd"
	"github.com/pithecene-io/parley/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "parley",
		Usage:          "Streaming chat client with citations",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ChatCommand(),
			cmd.AskCommand(),
			cmd.HistoryCommand(),
			cmd.PersonasCommand(),
			cmd.FeedbackCommand(),
			cmd.ArchiveCommand(),
			cmd.DebugCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler prints the error and exits with the code carried by
// cli.Exit, or 1.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the exit code for err and the message worth printing.
// cli.Exit("", N) reports "exit status N", which is not printed.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}

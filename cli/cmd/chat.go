package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/cli/render"
	"github.com/pithecene-io/parley/cli/tui"
)

// ChatCommand returns the interactive chat command.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:   "chat",
		Usage:  "Start an interactive chat session",
		Flags:  SessionFlags(),
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	if !render.IsTTY(os.Stdout) {
		return cli.Exit("parley chat needs a terminal; use `parley ask` in scripts", exitError)
	}

	notices := tui.NewNotices(8)
	// The terminal belongs to the UI, so logs always go to a file.
	s, err := openSession(c, notices, true)
	if err != nil {
		return exitWith(err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM)
	defer stop()

	title := "parley"
	if p := c.String("persona"); p != "" {
		title += " · persona " + p
	}
	runErr := tui.RunChat(ctx, s.ctrl, notices, title)
	closeErr := s.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}

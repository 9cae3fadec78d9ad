package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/cli/render"
	"github.com/pithecene-io/parley/types"
)

// HistoryResponse is a session with its messages.
type HistoryResponse struct {
	Session *types.Session `json:"session"`
}

// Headers implements render.Tabular.
func (h HistoryResponse) Headers() []string {
	return []string{"ID", "ROLE", "SENT", "SOURCES", "FEEDBACK", "TEXT"}
}

// Rows implements render.Tabular.
func (h HistoryResponse) Rows() [][]string {
	if h.Session == nil {
		return nil
	}
	rows := make([][]string, 0, len(h.Session.Messages))
	for _, m := range h.Session.Messages {
		sent := ""
		if !m.SentAt.IsZero() {
			sent = m.SentAt.Format(time.RFC3339)
		}
		fb := ""
		if m.Feedback != nil {
			fb = string(m.Feedback.Vote())
		}
		text := m.Text
		if m.Error != "" && text == "" {
			text = "error: " + m.Error
		}
		rows = append(rows, []string{
			m.ID.String(),
			string(m.Role),
			sent,
			strconv.Itoa(len(m.Citations)),
			fb,
			clip(text, 72),
		})
	}
	return rows
}

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the messages of a session",
		ArgsUsage: "SESSION_ID",
		Flags:     ReadFlags(),
		Action:    historyAction,
	}
}

func historyAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session id required", exitError)
	}
	id := types.ID(c.Args().First())

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	client, done, err := openBackend(c)
	if err != nil {
		return exitWith(err)
	}
	defer done()

	sess, err := client.GetSession(c.Context, id)
	if err != nil {
		return exitWith(fmt.Errorf("failed to load session %s: %w", id, err))
	}
	return r.Render(HistoryResponse{Session: sess})
}

// clip shortens s to one line of at most n runes.
func clip(s string, n int) string {
	out := make([]rune, 0, n)
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		if len(out) == n {
			out[n-1] = '…'
			break
		}
		out = append(out, r)
	}
	return string(out)
}

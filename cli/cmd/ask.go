package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/chat"
	"github.com/pithecene-io/parley/cli/render"
	"github.com/pithecene-io/parley/log"
	"github.com/pithecene-io/parley/transcript"
	"github.com/pithecene-io/parley/types"
)

// AskResponse is the result of a one-shot question.
type AskResponse struct {
	SessionID types.ID         `json:"session_id"`
	MessageID types.ID         `json:"message_id,omitempty"`
	Outcome   types.Outcome    `json:"outcome"`
	Answer    string           `json:"answer"`
	Citations []types.Citation `json:"citations"`
	Frames    int              `json:"frames"`
	Error     string           `json:"error,omitempty"`
}

// AskCommand returns the one-shot ask command.
func AskCommand() *cli.Command {
	flags := append(SessionFlags(), OutputFlags()...)
	flags = append(flags, &cli.BoolFlag{
		Name:  "stream",
		Usage: "Print the answer as it is revealed (table output only)",
	})
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask one question and print the answer with its sources",
		ArgsUsage: "QUESTION...",
		Flags:     flags,
		Action:    askAction,
	}
}

func askAction(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" || question == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return fmt.Errorf("read question from stdin: %w", err)
		}
		question = strings.TrimSpace(string(data))
	}
	if question == "" {
		return cli.Exit("a question is required", exitError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	s, err := openSession(c, nil, false)
	if err != nil {
		return exitWith(err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	streaming := c.Bool("stream") && r.Format() == render.FormatTable
	var printer *revealPrinter
	if streaming {
		printer = startRevealPrinter(s.ctrl.Store(), c.App.Writer)
	}

	res, submitErr := s.ctrl.Submit(ctx, question)
	if res != nil {
		// Streaming lets the reveal play out before sources print.
		settleReveals(ctx, s.ctrl, s.logger, streaming)
	}
	if printer != nil {
		printer.stop()
	}

	resp := buildAskResponse(s.ctrl.Store().Snapshot(), res, submitErr)
	closeErr := s.Close()

	if res == nil {
		return exitWith(submitErr)
	}
	if r.Format() == render.FormatTable {
		writeAnswer(c.App.Writer, c.App.ErrWriter, resp, streaming)
	} else if err := r.Render(resp); err != nil {
		return err
	}
	if closeErr != nil {
		s.logger.Warn("shutdown failed", map[string]any{"error": closeErr.Error()})
	}

	if code := outcomeToExitCode(res.Outcome); code != exitSuccess {
		return cli.Exit(resp.Error, code)
	}
	return nil
}

// settleReveals leaves every reveal at its full text. With wait set the
// reveal plays out first; an interrupted wait is logged and then finished.
func settleReveals(ctx context.Context, ctrl *chat.Controller, logger *log.Logger, wait bool) {
	if wait {
		err := ctrl.WaitReveals(ctx)
		if err == nil {
			return
		}
		logger.Warn("reveal interrupted", map[string]any{"error": err.Error()})
	}
	if _, err := ctrl.Scheduler().FinishAll(); err != nil {
		logger.Warn("finish reveals failed", map[string]any{"error": err.Error()})
	}
}

func buildAskResponse(snap transcript.Snapshot, res *chat.TurnResult, err error) AskResponse {
	resp := AskResponse{Citations: []types.Citation{}}
	if err != nil {
		resp.Error = err.Error()
	}
	if res == nil {
		return resp
	}
	resp.SessionID, resp.Outcome, resp.Frames = res.SessionID, res.Outcome, res.Frames

	var parts []string
	for _, id := range res.AssistantMessageIDs {
		msg, ok := snap.Get(id)
		if !ok {
			continue
		}
		resp.MessageID = id
		if msg.Text != "" {
			parts = append(parts, msg.Text)
		}
		resp.Citations = append(resp.Citations, msg.Citations...)
	}
	resp.Answer = strings.Join(parts, "\n\n")
	return resp
}

func writeAnswer(w, errw io.Writer, resp AskResponse, streamed bool) {
	if !streamed && resp.Answer != "" {
		fmt.Fprintln(w, resp.Answer)
	}
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for i, c := range resp.Citations {
			label := c.Link
			if label == "" {
				label = c.DocumentID
			}
			if label == "" {
				label = c.ID.String()
			}
			fmt.Fprintf(w, "  [%d] %s\n", i+1, label)
		}
	}
	if resp.Error != "" {
		fmt.Fprintf(errw, "error: %s\n", resp.Error)
	}
}

// revealPrinter writes assistant text to w as the reveal scheduler grows it.
type revealPrinter struct {
	w       io.Writer
	store   *transcript.Store
	cancel  func()
	done    chan struct{}
	printed map[types.ID]int
	started bool
}

func startRevealPrinter(store *transcript.Store, w io.Writer) *revealPrinter {
	snaps, cancel := store.Subscribe()
	p := &revealPrinter{
		w:       w,
		store:   store,
		cancel:  cancel,
		done:    make(chan struct{}),
		printed: make(map[types.ID]int),
	}
	go func() {
		defer close(p.done)
		for snap := range snaps {
			p.print(snap)
		}
	}()
	return p
}

// print writes the text each assistant message gained since the last call.
func (p *revealPrinter) print(snap transcript.Snapshot) {
	for _, msg := range snap.All() {
		if msg.Role != types.RoleAssistant {
			continue
		}
		n, seen := p.printed[msg.ID]
		if !seen {
			if p.started {
				fmt.Fprint(p.w, "\n\n")
			}
			p.started = true
		}
		if len(msg.Text) > n {
			fmt.Fprint(p.w, msg.Text[n:])
			n = len(msg.Text)
		}
		p.printed[msg.ID] = n
	}
}

// stop unsubscribes, then prints whatever the final transcript adds.
func (p *revealPrinter) stop() {
	p.cancel()
	<-p.done
	p.print(p.store.Snapshot())
	if p.started {
		fmt.Fprintln(p.w)
	}
}

package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/parley/chat"
)

// Notices buffers controller notifications for the view. It implements
// chat.Notifier; when the view falls behind, the oldest pending notice is
// replaced so the controller never blocks on the UI.
type Notices struct {
	ch chan chat.Notification
}

// NewNotices returns a queue holding up to size undelivered notices.
func NewNotices(size int) *Notices {
	return &Notices{ch: make(chan chat.Notification, max(size, 1))}
}

// Notify implements chat.Notifier.
func (q *Notices) Notify(n chat.Notification) {
	for {
		select {
		case q.ch <- n:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// C is the delivery channel.
func (q *Notices) C() <-chan chat.Notification { return q.ch }

// RunChat runs the interactive view until the user quits or ctx ends.
func RunChat(ctx context.Context, ctrl Controller, notices *Notices, title string) error {
	snaps, unsubscribe := ctrl.Store().Subscribe()
	defer unsubscribe()

	var notes <-chan chat.Notification
	if notices != nil {
		notes = notices.C()
	}

	// Cancelling this context on quit aborts a turn that is still streaming.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewChatModel(runCtx, ctrl, snaps, notes, title)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

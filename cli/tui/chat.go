package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/parley/chat"
	"github.com/pithecene-io/parley/transcript"
	"github.com/pithecene-io/parley/types"
)

// Controller is the chat surface the view drives. *chat.Controller
// satisfies it.
type Controller interface {
	Submit(ctx context.Context, text string) (*chat.TurnResult, error)
	NewSession(ctx context.Context) error
	Feedback(ctx context.Context, messageID types.ID, vote types.Vote) error
	SessionID() types.ID
	Store() *transcript.Store
	// Revealing reports whether message id still has a typing cursor.
	Revealing(id types.ID) bool
}

type (
	snapshotMsg struct{ snap transcript.Snapshot }
	noticeMsg   struct{ n chat.Notification }
	turnDoneMsg struct {
		result *chat.TurnResult
		err    error
	}
	actionDoneMsg struct {
		info string
		err  error
	}
)

// ChatModel is the Bubble Tea model for an interactive session.
type ChatModel struct {
	ctx   context.Context
	ctrl  Controller
	snaps <-chan transcript.Snapshot
	notes <-chan chat.Notification
	title string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	snap          transcript.Snapshot
	inFlight      bool
	showCitations bool
	cursorShown   bool
	notice        string
	noticeLevel   string
	width         int
	height        int
	quitting      bool
}

// NewChatModel builds the view. snaps is a store subscription and notes
// delivers controller notifications; either may be nil.
func NewChatModel(ctx context.Context, ctrl Controller, snaps <-chan transcript.Snapshot, notes <-chan chat.Notification, title string) ChatModel {
	in := textinput.New()
	in.Placeholder = "Ask a question"
	in.Prompt = "> "
	in.CharLimit = 4000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	if title == "" {
		title = "parley"
	}
	return ChatModel{
		ctx:      ctx,
		ctrl:     ctrl,
		snaps:    snaps,
		notes:    notes,
		title:    title,
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  sp,
	}
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitSnapshot(m.snaps), waitNotice(m.notes))
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Send):
			return m.send()
		case key.Matches(msg, keys.Citations):
			m.showCitations = !m.showCitations
			m.layout()
			m.refresh()
			return m, nil
		case key.Matches(msg, keys.NewSession):
			if m.inFlight {
				return m, nil
			}
			return m, m.newSession()
		case key.Matches(msg, keys.Upvote):
			return m, m.vote(types.VoteUp)
		case key.Matches(msg, keys.Downvote):
			return m, m.vote(types.VoteDown)
		case key.Matches(msg, keys.PageUp), key.Matches(msg, keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case snapshotMsg:
		m.snap = msg.snap
		m.refresh()
		return m, waitSnapshot(m.snaps)

	case noticeMsg:
		m.notice, m.noticeLevel = msg.n.Message, string(msg.n.Level)
		return m, waitNotice(m.notes)

	case turnDoneMsg:
		m.inFlight = false
		// Transport and backend failures already arrived as notifications.
		if msg.err != nil && !chat.IsTransportError(msg.err) && !errors.Is(msg.err, context.Canceled) {
			m.notice, m.noticeLevel = msg.err.Error(), "warn"
		}
		cmds = append(cmds, m.input.Focus())
		m.refresh()

	case actionDoneMsg:
		if msg.err != nil {
			m.notice, m.noticeLevel = msg.err.Error(), "error"
		} else if msg.info != "" {
			m.notice, m.noticeLevel = msg.info, "info"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		// The last patch of a reveal can land before the cursor is retired.
		if m.cursorShown {
			m.refresh()
		}
		return m, cmd
	}

	if !m.inFlight {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m ChatModel) send() (tea.Model, tea.Cmd) {
	if m.inFlight {
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()
	m.input.Blur()
	m.inFlight = true
	m.notice = ""
	return m, tea.Batch(m.spinner.Tick, m.submit(text))
}

func (m ChatModel) submit(text string) tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		res, err := ctrl.Submit(ctx, text)
		return turnDoneMsg{result: res, err: err}
	}
}

func (m ChatModel) newSession() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		if err := ctrl.NewSession(ctx); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{info: "new chat"}
	}
}

func (m ChatModel) vote(v types.Vote) tea.Cmd {
	target := lastAssistant(m.snap)
	if target == nil {
		return nil
	}
	ctrl, ctx, id := m.ctrl, m.ctx, target.ID
	return func() tea.Msg {
		if err := ctrl.Feedback(ctx, id, v); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{info: "feedback sent"}
	}
}

// layout sizes the viewport to whatever the header, sources panel, notice
// and input lines leave over.
func (m *ChatModel) layout() {
	if m.width == 0 {
		return
	}
	m.input.Width = max(m.width-4, 10)
	reserved := 4 // header, notice, input, help
	if m.showCitations {
		reserved += lipgloss.Height(m.citationsView())
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-reserved, 3)
}

func (m *ChatModel) refresh() {
	atBottom := m.viewport.AtBottom()
	content, cursor := m.transcriptView()
	m.cursorShown = cursor
	m.viewport.SetContent(content)
	if atBottom || m.inFlight || cursor {
		m.viewport.GotoBottom()
	}
}

func (m ChatModel) transcriptView() (string, bool) {
	if m.snap.Len() == 0 {
		return MutedStyle.Render("No messages yet."), false
	}
	wrap := lipgloss.NewStyle()
	if m.width > 0 {
		wrap = wrap.Width(m.width - 2)
	}
	var b strings.Builder
	cursor := false
	for i, msg := range m.snap.All() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		revealing := !msg.Role.IsUser() && m.ctrl.Revealing(msg.ID)
		cursor = cursor || revealing
		b.WriteString(messageHeader(msg))
		b.WriteString("\n")
		body := msg.Text
		if revealing {
			body += CursorStyle.Render("▌")
		}
		b.WriteString(wrap.Render(body))
		if msg.Error != "" {
			b.WriteString("\n" + ErrorStyle.Render(msg.Error))
		}
	}
	return b.String(), cursor
}

func messageHeader(msg *types.Message) string {
	var label string
	if msg.Role.IsUser() {
		label = UserLabelStyle.Render("you")
	} else {
		label = AssistantLabelStyle.Render("assistant")
	}
	switch msg.Status {
	case types.StatusPending:
		label += " " + MutedStyle.Render("sending")
	case types.StatusFailed:
		label += " " + ErrorStyle.Render("not sent")
	}
	if n := len(msg.Citations); n > 0 {
		label += " " + MutedStyle.Render(fmt.Sprintf("[%d sources]", n))
	}
	if msg.Feedback != nil {
		if msg.Feedback.UpVotes {
			label += " " + SuccessStyle.Render("+1")
		} else {
			label += " " + WarningStyle.Render("-1")
		}
	}
	return label
}

func (m ChatModel) citationsView() string {
	target := lastAssistant(m.snap)
	if target == nil || len(target.Citations) == 0 {
		return CitationBoxStyle.Render(MutedStyle.Render("No sources."))
	}
	limit := 60
	if m.width > 10 {
		limit = m.width - 10
	}
	lines := make([]string, 0, len(target.Citations))
	for i, c := range target.Citations {
		label := c.Link
		if label == "" {
			label = c.DocumentID
		}
		if label == "" {
			label = c.ID.String()
		}
		line := fmt.Sprintf("[%d] %s", i+1, label)
		if c.Content != "" {
			line += MutedStyle.Render(": " + truncate(oneLine(c.Content), limit-len(label)))
		}
		lines = append(lines, line)
	}
	return CitationBoxStyle.Render(strings.Join(lines, "\n"))
}

// View implements tea.Model.
func (m ChatModel) View() string {
	if m.quitting {
		return ""
	}
	header := TitleStyle.Render(m.title)
	if id := m.ctrl.SessionID(); !id.IsZero() {
		header += " " + SessionStyle.Render("session "+id.String())
	}

	parts := []string{header, m.viewport.View()}
	if m.showCitations {
		parts = append(parts, m.citationsView())
	}
	parts = append(parts, levelStyle(m.noticeLevel).Render(m.notice))
	if m.inFlight {
		parts = append(parts, m.spinner.View()+" "+MutedStyle.Render("answering"))
	} else {
		parts = append(parts, m.input.View())
	}
	parts = append(parts, HelpStyle.Render(helpLine()))
	return strings.Join(parts, "\n")
}

func helpLine() string {
	var items []string
	for _, b := range keys.help() {
		h := b.Help()
		items = append(items, h.Key+" "+h.Desc)
	}
	return strings.Join(items, " | ")
}

func lastAssistant(snap transcript.Snapshot) *types.Message {
	for i := snap.Len() - 1; i >= 0; i-- {
		if msg := snap.At(i); msg.Role == types.RoleAssistant {
			return msg
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func waitSnapshot(ch <-chan transcript.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg{snap: snap}
	}
}

func waitNotice(ch <-chan chat.Notification) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg{n: n}
	}
}

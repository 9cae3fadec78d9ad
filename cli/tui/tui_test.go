package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/parley/chat"
	"github.com/pithecene-io/parley/transcript"
	"github.com/pithecene-io/parley/types"
)

type fakeController struct {
	store *transcript.Store

	mu        sync.Mutex
	submitted []string
	votes     map[types.ID]types.Vote
	revealing map[types.ID]bool
	submitErr error
	newCalls  int
}

func newFakeController() *fakeController {
	return &fakeController{
		store:     transcript.New("s1"),
		votes:     make(map[types.ID]types.Vote),
		revealing: make(map[types.ID]bool),
	}
}

func (f *fakeController) Submit(_ context.Context, text string) (*chat.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &chat.TurnResult{SessionID: "s1", Outcome: types.OutcomeCompleted}, nil
}

func (f *fakeController) NewSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newCalls++
	return nil
}

func (f *fakeController) Feedback(_ context.Context, id types.ID, v types.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[id] = v
	return nil
}

func (f *fakeController) SessionID() types.ID { return f.store.SessionID() }
func (f *fakeController) Store() *transcript.Store { return f.store }
func (f *fakeController) Revealing(id types.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revealing[id]
}

func seed(t *testing.T, f *fakeController) {
	t.Helper()
	msgs := []*types.Message{
		{ID: "u1", SessionID: "s1", Role: types.RoleUser, Text: "what is lode?"},
		{ID: "a1", SessionID: "s1", Role: types.RoleAssistant, Text: "A storage layer"},
	}
	for _, m := range msgs {
		if err := f.store.Append(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.store.AddCitation("a1", types.Citation{ID: "c1", MessageID: "a1", Link: "docs/lode.md", Content: "Lode stores\ndatasets."}); err != nil {
		t.Fatal(err)
	}
}

func update(t *testing.T, m ChatModel, msg tea.Msg) (ChatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	cm, ok := next.(ChatModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return cm, cmd
}

func newModel(t *testing.T, f *fakeController) ChatModel {
	t.Helper()
	m := NewChatModel(t.Context(), f, nil, nil, "")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = update(t, m, snapshotMsg{snap: f.store.Snapshot()})
	return m
}

func TestChatModel_RendersSnapshot(t *testing.T) {
	f := newFakeController()
	seed(t, f)
	m := newModel(t, f)

	view := m.View()
	for _, want := range []string{"parley", "session s1", "you", "what is lode?", "assistant", "A storage layer", "[1 sources]"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "▌") {
		t.Error("cursor shown for a finished message")
	}
}

func TestChatModel_TypingCursorWhileRevealing(t *testing.T) {
	f := newFakeController()
	seed(t, f)
	f.revealing["a1"] = true
	m := newModel(t, f)

	if !strings.Contains(m.View(), "▌") {
		t.Fatalf("expected typing cursor:\n%s", m.View())
	}

	// Reveal finishes without another snapshot; the next spinner tick
	// retires the cursor.
	f.mu.Lock()
	f.revealing["a1"] = false
	f.mu.Unlock()
	m, _ = update(t, m, m.spinner.Tick())
	if strings.Contains(m.View(), "▌") {
		t.Error("cursor still shown after reveal finished")
	}
}

func TestChatModel_SubmitDisablesInput(t *testing.T) {
	f := newFakeController()
	m := newModel(t, f)

	m.input.SetValue("  hello  ")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.inFlight {
		t.Fatal("expected turn in flight after enter")
	}
	if cmd == nil {
		t.Fatal("expected submit command")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
	if !strings.Contains(m.View(), "answering") {
		t.Errorf("expected progress line:\n%s", m.View())
	}

	// A second enter while in flight does nothing.
	m.input.SetValue("again")
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("enter while in flight returned a command")
	}

	msg := m.submit("hello")()
	done, ok := msg.(turnDoneMsg)
	if !ok {
		t.Fatalf("submit produced %T", msg)
	}
	if got := f.submitted; len(got) != 1 || got[0] != "hello" {
		t.Errorf("submitted = %v", got)
	}

	m, _ = update(t, m, done)
	if m.inFlight {
		t.Error("still in flight after turn finished")
	}
	if !m.input.Focused() {
		t.Error("input not focused after turn finished")
	}
}

func TestChatModel_EmptyInputIgnored(t *testing.T) {
	f := newFakeController()
	m := newModel(t, f)
	m.input.SetValue("   ")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.inFlight || cmd != nil {
		t.Error("whitespace input started a turn")
	}
}

func TestChatModel_TurnErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantNotice string
	}{
		{"validation", chat.ErrSubmitInFlight, chat.ErrSubmitInFlight.Error()},
		{"transport already notified", &chat.TransportError{Op: "send", Err: errors.New("refused")}, ""},
		{"cancelled", context.Canceled, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t, newFakeController())
			m.inFlight = true
			m, _ = update(t, m, turnDoneMsg{err: tt.err})
			if m.notice != tt.wantNotice {
				t.Errorf("notice = %q, want %q", m.notice, tt.wantNotice)
			}
		})
	}
}

func TestChatModel_NotificationLine(t *testing.T) {
	f := newFakeController()
	q := NewNotices(4)
	m := NewChatModel(t.Context(), f, nil, q.C(), "")

	q.Notify(chat.Notification{Level: chat.LevelError, Message: "backend said no"})
	msg := waitNotice(q.C())()
	m, cmd := update(t, m, msg)
	if cmd == nil {
		t.Error("expected to keep listening for notices")
	}
	if !strings.Contains(m.View(), "backend said no") {
		t.Errorf("notice missing from view:\n%s", m.View())
	}
}

func TestChatModel_CitationsPanel(t *testing.T) {
	f := newFakeController()
	seed(t, f)
	m := newModel(t, f)

	if strings.Contains(m.View(), "[1] docs/lode.md") {
		t.Fatal("sources panel shown before toggle")
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	view := m.View()
	if !strings.Contains(view, "[1] docs/lode.md") || !strings.Contains(view, "Lode stores datasets.") {
		t.Errorf("sources panel missing:\n%s", view)
	}
}

func TestChatModel_VoteTargetsLastAssistant(t *testing.T) {
	f := newFakeController()
	seed(t, f)
	m := newModel(t, f)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlU})
	if cmd == nil {
		t.Fatal("expected feedback command")
	}
	if msg, ok := cmd().(actionDoneMsg); !ok || msg.err != nil {
		t.Fatalf("feedback result = %#v", msg)
	}
	if f.votes["a1"] != types.VoteUp {
		t.Errorf("votes = %v", f.votes)
	}

	empty := newModel(t, newFakeController())
	if _, cmd := update(t, empty, tea.KeyMsg{Type: tea.KeyCtrlX}); cmd != nil {
		t.Error("vote without an assistant message returned a command")
	}
}

func TestChatModel_NewSessionAndQuit(t *testing.T) {
	f := newFakeController()
	m := newModel(t, f)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	if cmd == nil {
		t.Fatal("expected new session command")
	}
	cmd()
	if f.newCalls != 1 {
		t.Errorf("NewSession calls = %d", f.newCalls)
	}

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil || !m.quitting {
		t.Fatal("expected quit")
	}
	if m.View() != "" {
		t.Error("view not cleared on quit")
	}
}

func TestNotices_DropsOldestWhenFull(t *testing.T) {
	q := NewNotices(2)
	for _, s := range []string{"one", "two", "three"} {
		q.Notify(chat.Notification{Message: s})
	}
	var got []string
	for range 2 {
		got = append(got, (<-q.C()).Message)
	}
	if strings.Join(got, ",") != "two,three" {
		t.Errorf("got %v, want [two three]", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"much too long", 5, "much…"},
		{"ünïcode text", 4, "ünï…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/backend"
	"github.com/pithecene-io/parley/backend/backendtest"
	"github.com/pithecene-io/parley/sse"
	"github.com/pithecene-io/parley/types"
)

// runResult is the output of one CLI invocation.
type runResult struct {
	stdout string
	stderr string
	err    error
}

// code returns the exit code the process would have used.
func (r runResult) code() int {
	if r.err == nil {
		return exitSuccess
	}
	var coder cli.ExitCoder
	if errors.As(r.err, &coder) {
		return coder.ExitCode()
	}
	return exitError
}

// runApp runs the parley commands with args in an empty working directory,
// capturing output instead of exiting.
func runApp(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	app := cli.NewApp()
	app.Name = "parley"
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.Reader = strings.NewReader(stdin)
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	app.Commands = []*cli.Command{
		ChatCommand(),
		AskCommand(),
		HistoryCommand(),
		PersonasCommand(),
		FeedbackCommand(),
		ArchiveCommand(),
		DebugCommand(),
		VersionCommand("abc123"),
	}

	err := app.RunContext(t.Context(), append([]string{"parley"}, args...))
	return runResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func newBackend(t *testing.T) *backendtest.Server {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.Personas = []types.Persona{
		{ID: "1", Name: "General"},
		{ID: "2", Name: "Support", Default: true, Description: "Answers product questions"},
	}
	return srv
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	return v
}

func TestAsk_JSON(t *testing.T) {
	srv := newBackend(t)
	srv.Reply = func(sessionID types.ID, message string) []*types.Frame {
		return []*types.Frame{
			{Type: types.EventTypeDocument, Document: &types.Citation{ID: "c1", MessageID: "900", Link: "https://docs.example.com/a"}},
			{Type: types.EventTypeMessage, Message: &types.Message{
				ID: "900", SessionID: sessionID, Role: types.RoleAssistant, Text: "Use the reset page.",
			}},
			{Type: types.EventTypeEnd},
		}
	}

	res := runApp(t, "", "ask", "--backend-url", srv.URL, "--format", "json", "how", "do", "I", "reset?")
	if res.err != nil {
		t.Fatalf("ask: %v\nstderr: %s", res.err, res.stderr)
	}

	resp := decodeJSON[AskResponse](t, res.stdout)
	if resp.Outcome != types.OutcomeCompleted {
		t.Errorf("outcome = %q", resp.Outcome)
	}
	if resp.Answer != "Use the reset page." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.SessionID.IsZero() || resp.MessageID != "900" {
		t.Errorf("ids = %q/%q", resp.SessionID, resp.MessageID)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].Link != "https://docs.example.com/a" {
		t.Errorf("citations = %+v", resp.Citations)
	}

	creates := srv.RequestsTo(backend.DefaultPaths().CreateSession)
	if len(creates) != 1 {
		t.Fatalf("got %d create-session requests, want 1", len(creates))
	}
	// Without --persona the backend's default persona is used.
	if got := creates[0].Body["persona_id"]; got != float64(2) {
		t.Errorf("persona_id = %v, want 2", got)
	}
}

func TestAsk_QuestionFromStdin(t *testing.T) {
	srv := newBackend(t)
	res := runApp(t, "  what changed?\n", "ask", "--backend-url", srv.URL, "--format", "json")
	if res.err != nil {
		t.Fatalf("ask: %v", res.err)
	}
	if resp := decodeJSON[AskResponse](t, res.stdout); resp.Answer != "echo: what changed?" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestAsk_NoQuestion(t *testing.T) {
	res := runApp(t, "", "ask", "--backend-url", "http://127.0.0.1:1")
	if res.code() != exitError || !strings.Contains(res.err.Error(), "a question is required") {
		t.Fatalf("got code %d, err %v", res.code(), res.err)
	}
}

func TestAsk_MissingBackendURL(t *testing.T) {
	if _, ok := os.LookupEnv("PARLEY_BACKEND_URL"); ok {
		t.Skip("PARLEY_BACKEND_URL is set in the environment")
	}
	res := runApp(t, "", "ask", "hello")
	if res.code() != exitError || !strings.Contains(res.err.Error(), "--backend-url is required") {
		t.Fatalf("got code %d, err %v", res.code(), res.err)
	}
}

func TestAsk_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*backendtest.Server)
		wantCode int
	}{
		{
			name: "backend error frame",
			setup: func(s *backendtest.Server) {
				s.Reply = func(types.ID, string) []*types.Frame {
					return []*types.Frame{{Type: types.EventTypeError, Error: &types.ErrorPayload{Error: "model overloaded"}}}
				}
			},
			wantCode: exitBackendError,
		},
		{
			name:     "send rejected",
			setup:    func(s *backendtest.Server) { s.FailStatus = 500 },
			wantCode: exitTransportError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newBackend(t)
			tt.setup(srv)
			res := runApp(t, "", "ask", "--backend-url", srv.URL, "--format", "json", "hi")
			if got := res.code(); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err %v)", got, tt.wantCode, res.err)
			}
		})
	}
}

func TestAsk_StreamPrintsAnswerOnce(t *testing.T) {
	srv := newBackend(t)
	res := runApp(t, "", "ask",
		"--backend-url", srv.URL,
		"--format", "table",
		"--stream",
		"--reveal-cadence", "1ms",
		"--reveal-step", "4",
		"hello there",
	)
	if res.err != nil {
		t.Fatalf("ask: %v", res.err)
	}
	if n := strings.Count(res.stdout, "echo: hello there"); n != 1 {
		t.Errorf("answer printed %d times:\n%s", n, res.stdout)
	}
}

func TestAsk_TableListsSources(t *testing.T) {
	srv := newBackend(t)
	srv.Reply = func(sessionID types.ID, _ string) []*types.Frame {
		return []*types.Frame{
			{Type: types.EventTypeMessage, Message: &types.Message{ID: "7", SessionID: sessionID, Role: types.RoleAssistant, Text: "Answer."}},
			{Type: types.EventTypeDocument, Document: &types.Citation{ID: "d1", MessageID: "7", DocumentID: "kb-42"}},
			{Type: types.EventTypeEnd},
		}
	}
	res := runApp(t, "", "ask", "--backend-url", srv.URL, "--format", "table", "q")
	if res.err != nil {
		t.Fatalf("ask: %v", res.err)
	}
	for _, want := range []string{"Answer.", "Sources:", "[1] kb-42"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("output missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestAsk_ArchiveThenQuery(t *testing.T) {
	srv := newBackend(t)
	archiveDir := t.TempDir()

	res := runApp(t, "", "ask",
		"--backend-url", srv.URL,
		"--format", "json",
		"--client-id", "ci",
		"--archive-policy", "strict",
		"--archive-path", archiveDir,
		"archive me",
	)
	if res.err != nil {
		t.Fatalf("ask: %v", res.err)
	}
	sessionID := decodeJSON[AskResponse](t, res.stdout).SessionID

	res = runApp(t, "", "archive", "turns", "--archive-path", archiveDir, "--format", "json")
	if res.err != nil {
		t.Fatalf("archive turns: %v", res.err)
	}
	turns := decodeJSON[[]map[string]any](t, res.stdout)
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1:\n%s", len(turns), res.stdout)
	}
	if turns[0]["session_id"] != sessionID.String() || turns[0]["outcome"] != "completed" {
		t.Errorf("turn = %v", turns[0])
	}

	res = runApp(t, "", "archive", "turns", "--archive-path", archiveDir, "--format", "json", "--session-id", "nope")
	if res.err != nil {
		t.Fatalf("archive turns filtered: %v", res.err)
	}
	if got := decodeJSON[[]map[string]any](t, res.stdout); len(got) != 0 {
		t.Errorf("filter should match nothing, got %d", len(got))
	}

	res = runApp(t, "", "archive", "metrics", "--archive-path", archiveDir, "--format", "json", "--client-id", "ci")
	if res.err != nil {
		t.Fatalf("archive metrics: %v", res.err)
	}
	if m := decodeJSON[map[string]any](t, res.stdout); m["record_kind"] != "metrics" {
		t.Errorf("metrics record = %v", m)
	}
}

func TestArchive_Errors(t *testing.T) {
	res := runApp(t, "", "archive", "turns")
	if res.code() != exitError || !strings.Contains(res.err.Error(), "--archive-path is required") {
		t.Errorf("missing path: code %d, err %v", res.code(), res.err)
	}
	res = runApp(t, "", "archive", "turns", "--archive-path", t.TempDir(), "--day", "May 1")
	if res.code() != exitError || !strings.Contains(res.err.Error(), "YYYY-MM-DD") {
		t.Errorf("bad day: code %d, err %v", res.code(), res.err)
	}
	res = runApp(t, "", "archive", "metrics", "--archive-path", t.TempDir())
	if res.code() != exitError || !strings.Contains(res.err.Error(), "no metrics found") {
		t.Errorf("empty archive: code %d, err %v", res.code(), res.err)
	}
}

func TestHistory(t *testing.T) {
	srv := newBackend(t)
	srv.AddSession(&types.Session{
		ID:        "55",
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Messages: []*types.Message{
			{ID: "1", SessionID: "55", Role: types.RoleUser, Text: "hello"},
			{ID: "2", SessionID: "55", Role: types.RoleAssistant, Text: "hi\nthere",
				Citations: types.Citations{{ID: "c"}},
				Feedback:  &types.Feedback{UpVotes: true}},
		},
	})

	res := runApp(t, "", "history", "--backend-url", srv.URL, "--format", "table", "--no-color", "55")
	if res.err != nil {
		t.Fatalf("history: %v", res.err)
	}
	for _, want := range []string{"ROLE", "assistant", "hi there", "upvote"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("output missing %q:\n%s", want, res.stdout)
		}
	}

	res = runApp(t, "", "history", "--backend-url", srv.URL, "404")
	if res.code() != exitTransportError {
		t.Errorf("unknown session: code %d, err %v", res.code(), res.err)
	}

	res = runApp(t, "", "history", "--backend-url", srv.URL)
	if res.code() != exitError {
		t.Errorf("missing id: code %d", res.code())
	}
}

func TestPersonas(t *testing.T) {
	srv := newBackend(t)
	res := runApp(t, "", "personas", "--backend-url", srv.URL, "--format", "json")
	if res.err != nil {
		t.Fatalf("personas: %v", res.err)
	}
	got := decodeJSON[[]types.Persona](t, res.stdout)
	if len(got) != 2 || got[1].Name != "Support" || !got[1].Default {
		t.Errorf("personas = %+v", got)
	}
}

func TestPersonas_Unauthorized(t *testing.T) {
	srv := newBackend(t)
	srv.Token = "secret"
	res := runApp(t, "", "personas", "--backend-url", srv.URL, "--token", "wrong")
	if res.code() != exitTransportError {
		t.Errorf("code %d, err %v", res.code(), res.err)
	}
	if len(srv.RequestsTo("/")) == 0 || srv.Requests()[0].Auth != "Bearer wrong" {
		t.Errorf("requests = %+v", srv.Requests())
	}
}

func TestFeedback(t *testing.T) {
	srv := newBackend(t)
	res := runApp(t, "", "feedback", "--backend-url", srv.URL, "--message", "1001", "--vote", "up", "--format", "json")
	if res.err != nil {
		t.Fatalf("feedback: %v", res.err)
	}
	resp := decodeJSON[FeedbackResponse](t, res.stdout)
	if resp.Vote != types.VoteUp || resp.MessageID != "1001" {
		t.Errorf("response = %+v", resp)
	}

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	if last.Body["vote"] != "upvote" || last.Body["id"] != float64(1001) {
		t.Errorf("feedback body = %v", last.Body)
	}

	res = runApp(t, "", "feedback", "--backend-url", srv.URL, "--message", "1", "--vote", "meh")
	if res.code() != exitError || !strings.Contains(res.err.Error(), "invalid vote") {
		t.Errorf("bad vote: code %d, err %v", res.code(), res.err)
	}
}

func TestDebugDecode(t *testing.T) {
	var stream bytes.Buffer
	enc := sse.NewEncoder(&stream)
	for _, f := range []*types.Frame{
		{Type: types.EventTypeMessage, Message: &types.Message{ID: "5", SessionID: "9", Role: types.RoleAssistant, Text: "partial"}},
		{Type: types.EventTypeDocument, Document: &types.Citation{ID: "d", MessageID: "5", Link: "https://x"}},
		{Type: types.EventTypeEnd},
	} {
		if err := enc.Encode(f); err != nil {
			t.Fatal(err)
		}
	}
	stream.WriteString("event: telemetry\ndata: {}\n\n")

	path := filepath.Join(t.TempDir(), "capture.sse")
	if err := os.WriteFile(path, stream.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	res := runApp(t, "", "debug", "decode", "--format", "json", path)
	if res.err != nil {
		t.Fatalf("decode: %v", res.err)
	}
	rows := decodeJSON[[]DecodedFrame](t, res.stdout)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4:\n%s", len(rows), res.stdout)
	}
	if rows[0].Event != types.EventTypeMessage || rows[0].Detail != "partial" || rows[0].Session != "9" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Detail != "https://x" {
		t.Errorf("row 1 = %+v", rows[1])
	}
	if rows[2].Event != types.EventTypeEnd {
		t.Errorf("row 2 = %+v", rows[2])
	}
	if rows[3].Error == "" {
		t.Errorf("unknown event should be reported, got %+v", rows[3])
	}
}

func TestDebugDecode_FrameTooLarge(t *testing.T) {
	data := "event: message\ndata: " + strings.Repeat("x", 256) + "\n\n"
	res := runApp(t, data, "debug", "decode", "--format", "json", "--max-frame-size", "64")
	if res.code() != exitTransportError {
		t.Fatalf("code = %d, err %v", res.code(), res.err)
	}
}

func TestDebugConfig_MasksSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	yaml := `backend:
  base_url: https://chat.example.com
  token: ${PARLEY_TEST_TOKEN:-fallback}
  headers:
    X-Api-Key: abc
adapter:
  type: redis
  url: redis://user:pw@cache:6379/0
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	res := runApp(t, "", "debug", "config", "--config", path, "--format", "json")
	if res.err != nil {
		t.Fatalf("debug config: %v", res.err)
	}
	for _, secret := range []string{"fallback", "abc", "pw@"} {
		if strings.Contains(res.stdout, secret) {
			t.Errorf("output leaks %q:\n%s", secret, res.stdout)
		}
	}
	if !strings.Contains(res.stdout, `"PARLEY_TEST_TOKEN"`) {
		t.Errorf("referenced env var not listed:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "redis://***@cache:6379/0") {
		t.Errorf("adapter url not masked:\n%s", res.stdout)
	}
}

func TestVersion(t *testing.T) {
	res := runApp(t, "", "version", "--format", "json")
	if res.err != nil {
		t.Fatalf("version: %v", res.err)
	}
	v := decodeJSON[VersionResponse](t, res.stdout)
	if v.Version != types.Version || v.Commit != "abc123" {
		t.Errorf("version = %+v", v)
	}
}

func TestChat_RequiresTerminal(t *testing.T) {
	res := runApp(t, "", "chat", "--backend-url", "http://127.0.0.1:1")
	if res.code() != exitError || !strings.Contains(res.err.Error(), "parley ask") {
		t.Fatalf("code %d, err %v", res.code(), res.err)
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 8, "this is…"},
		{"line\nbreak", 20, "line break"},
		{"héllo wörld", 5, "héll…"},
	}
	for _, tt := range tests {
		if got := clip(tt.in, tt.n); got != tt.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestMaskUserinfo(t *testing.T) {
	tests := map[string]string{
		"redis://user:pw@host:6379/0": "redis://***@host:6379/0",
		"redis://host:6379":           "redis://host:6379",
		"not a url @ all":             "not a url @ all",
	}
	for in, want := range tests {
		if got := maskUserinfo(in); got != want {
			t.Errorf("maskUserinfo(%q) = %q, want %q", in, got, want)
		}
	}
}

// Package backendtest provides an in-process fake of the chat backend for
// tests. It speaks the same routes, envelope and event stream as the real
// service.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/parley/backend"
	"github.com/pithecene-io/parley/sse"
	"github.com/pithecene-io/parley/types"
)

// ReplyFunc scripts the stream answering a sent message.
type ReplyFunc func(sessionID types.ID, message string) []*types.Frame

// Request is a recorded request.
type Request struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

// Server is a fake backend. Exported fields may be set before the first
// request.
type Server struct {
	*httptest.Server

	// Personas is returned by the personas route.
	Personas []types.Persona
	// Reply scripts streams. Nil echoes the message back.
	Reply ReplyFunc
	// Token, when set, is required as the bearer token.
	Token string
	// FailStatus, when non-zero, makes send-message answer with this status.
	FailStatus int
	// FailGets is the number of GET requests to fail with 503 before succeeding.
	FailGets int

	mu          sync.Mutex
	sessions    map[types.ID]*types.Session
	nextSession int
	nextMessage int
	requests    []Request
}

// New starts a fake backend. Close it with t.Cleanup(srv.Close).
func New() *Server {
	s := &Server{
		sessions:    make(map[types.ID]*types.Session),
		nextSession: 100,
		nextMessage: 1000,
	}
	paths := backend.DefaultPaths()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+paths.CreateSession, s.createSession)
	mux.HandleFunc("GET "+paths.GetSession, s.getSession)
	mux.HandleFunc("POST "+paths.SendMessage, s.sendMessage)
	mux.HandleFunc("GET "+paths.Personas, s.listPersonas)
	mux.HandleFunc("POST "+paths.Feedback, s.feedback)
	s.Server = httptest.NewServer(s.authenticate(mux))
	return s
}

// AddSession seeds a session with history.
func (s *Server) AddSession(session *types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// Requests returns the recorded requests in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns recorded requests whose path starts with prefix.
func (s *Server) RequestsTo(prefix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		failGet := r.Method == http.MethodGet && s.FailGets > 0
		if failGet {
			s.FailGets--
		}
		s.mu.Unlock()

		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeEnvelope(w, http.StatusUnauthorized, "invalid token", nil)
			return
		}
		if failGet {
			writeEnvelope(w, http.StatusServiceUnavailable, "try again", nil)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), bodyKey{}, body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())

	s.mu.Lock()
	s.nextSession++
	session := &types.Session{
		ID:          types.ID(fmt.Sprint(s.nextSession)),
		Description: fmt.Sprint(body["description"]),
		PersonaID:   idFrom(body["persona_id"]),
		OneShot:     body["one_shot"] == true,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	s.sessions[session.ID] = session
	s.mu.Unlock()

	writeEnvelope(w, http.StatusCreated, "", session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := types.ID(r.PathValue("id"))

	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeEnvelope(w, http.StatusNotFound, "session not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "", session)
}

func (s *Server) listPersonas(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, http.StatusOK, "", s.Personas)
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	if _, err := types.ParseVote(fmt.Sprint(body["vote"])); err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "", nil)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	if s.FailStatus != 0 {
		writeEnvelope(w, s.FailStatus, "send failed", nil)
		return
	}
	body := bodyFrom(r.Context())
	sessionID := idFrom(body["chat_session_id"])
	message := fmt.Sprint(body["message"])

	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		writeEnvelope(w, http.StatusNotFound, "session not found", nil)
		return
	}

	reply := s.Reply
	if reply == nil {
		reply = s.echo
	}
	frames := reply(sessionID, message)

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := sse.NewEncoder(w)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// echo answers with one assistant message repeating the input.
func (s *Server) echo(sessionID types.ID, message string) []*types.Frame {
	s.mu.Lock()
	s.nextMessage++
	id := types.ID(fmt.Sprint(s.nextMessage))
	s.mu.Unlock()

	return []*types.Frame{
		{Type: types.EventTypeMessage, Message: &types.Message{
			ID:        id,
			SessionID: sessionID,
			Role:      types.RoleAssistant,
			Text:      "echo: " + message,
		}},
		{Type: types.EventTypeEnd},
	}
}

func writeEnvelope(w http.ResponseWriter, status int, errText string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"error":  errText,
		"data":   data,
	})
}

// idFrom converts a decoded JSON id (number or string) to an ID.
func idFrom(v any) types.ID {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return types.ID(fmt.Sprintf("%.0f", x))
	default:
		return types.ID(fmt.Sprint(x))
	}
}

type bodyKey struct{}

func bodyFrom(ctx context.Context) map[string]any {
	body, _ := ctx.Value(bodyKey{}).(map[string]any)
	return body
}

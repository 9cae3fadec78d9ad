// Package chat drives one conversation at a time. It creates or loads
// sessions, sends user turns and routes the streamed frames into the
// transcript store, the citation merger and the reveal scheduler.
//
// Turn lifecycle:
//
//	Submit ─▶ session? ─▶ user message (pending) ─▶ send ─▶ stream open (sent)
//	       ─▶ message/document frames ─▶ end | error | EOF ─▶ archive, publish
//
// LoadSession, NewSession and Close bump a generation counter under the
// controller lock. Frames are applied under the same lock only while their
// turn's generation is current, so a stream that is still draining never
// writes into the next session's transcript.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/parley/adapter"
	"github.com/pithecene-io/parley/backend"
	"github.com/pithecene-io/parley/citation"
	"github.com/pithecene-io/parley/iox"
	"github.com/pithecene-io/parley/log"
	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/policy"
	"github.com/pithecene-io/parley/reveal"
	"github.com/pithecene-io/parley/sse"
	"github.com/pithecene-io/parley/transcript"
	"github.com/pithecene-io/parley/types"
)

// closeTimeout bounds the policy flush in Close.
const closeTimeout = 10 * time.Second

// Backend is the chat backend surface the controller uses.
type Backend interface {
	CreateSession(ctx context.Context, req backend.CreateSessionRequest) (*types.Session, error)
	GetSession(ctx context.Context, id types.ID) (*types.Session, error)
	// SendMessage returns the event stream. The caller closes it.
	SendMessage(ctx context.Context, req backend.SendMessageRequest) (io.ReadCloser, error)
	ListPersonas(ctx context.Context) ([]types.Persona, error)
	SendFeedback(ctx context.Context, req backend.FeedbackRequest) error
}

var _ Backend = (*backend.Client)(nil)

// Config configures a Controller. Every field is optional.
type Config struct {
	// ClientID is stamped on archived turns and published events.
	ClientID string
	Logger   *log.Logger
	// Collector receives turn, frame, citation and reveal counters.
	Collector *metrics.Collector
	// Notifier receives user-facing errors.
	Notifier Notifier
	// Policy archives finished turns.
	Policy policy.Policy
	// Adapter publishes a TurnCompletedEvent per finished turn.
	Adapter adapter.Adapter

	// RevealCadence is the reveal tick interval (default 25ms).
	RevealCadence time.Duration
	// RevealStep is the runes revealed per tick (default 1).
	RevealStep int
	// NewTicker overrides reveal ticker creation.
	NewTicker reveal.TickerFunc
	// MaxPendingCitations bounds citations held for unknown messages.
	MaxPendingCitations int
	// MaxFrameSize bounds one stream frame.
	MaxFrameSize int
	// DefaultPersonaID is used for new sessions when none is selected.
	DefaultPersonaID types.ID

	// Now overrides the clock.
	Now func() time.Time
	// NewID overrides user message id generation (default UUIDv4).
	NewID func() types.ID
}

// TurnResult summarizes one Submit.
type TurnResult struct {
	SessionID           types.ID
	UserMessageID       types.ID
	AssistantMessageIDs []types.ID
	// Citations is the number attached to the assistant messages when the
	// stream ended.
	Citations int
	Frames    int
	Outcome   types.Outcome
	// Err is the error that ended the turn, nil on success.
	Err error
}

// Controller runs turns against a Backend. Safe for concurrent use; one turn
// streams at a time.
type Controller struct {
	backend      Backend
	clientID     string
	logger       *log.Logger
	collector    *metrics.Collector
	notifier     Notifier
	policy       policy.Policy
	adapter      adapter.Adapter
	maxFrameSize int
	defaultID    types.ID
	now          func() time.Time
	newID        func() types.ID

	store     *transcript.Store
	merger    *citation.Merger
	scheduler *reveal.Scheduler

	mu         sync.Mutex
	gen        uint64
	sessionID  types.ID
	personaID  types.ID
	selected   types.ID
	personas   []types.Persona
	inFlight   bool
	cancelTurn context.CancelFunc
	closed     bool
}

// New creates a controller with an empty transcript and no session.
func New(b Backend, cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() types.ID { return types.ID(uuid.NewString()) }
	}

	store := transcript.New("")
	return &Controller{
		backend:      b,
		clientID:     cfg.ClientID,
		logger:       logger,
		collector:    cfg.Collector,
		notifier:     cfg.Notifier,
		policy:       cfg.Policy,
		adapter:      cfg.Adapter,
		maxFrameSize: cfg.MaxFrameSize,
		defaultID:    cfg.DefaultPersonaID,
		now:          now,
		newID:        newID,
		store:        store,
		merger: citation.NewMerger(store, citation.Config{
			MaxPending: cfg.MaxPendingCitations,
			Logger:     logger,
			Collector:  cfg.Collector,
		}),
		scheduler: reveal.NewScheduler(store, reveal.Config{
			Cadence:   cfg.RevealCadence,
			Step:      cfg.RevealStep,
			NewTicker: cfg.NewTicker,
			Logger:    logger,
			Collector: cfg.Collector,
		}),
	}
}

// Store returns the transcript. Read it with Snapshot or Subscribe.
func (c *Controller) Store() *transcript.Store { return c.store }

// Scheduler returns the reveal scheduler, for typing indicators.
func (c *Controller) Scheduler() *reveal.Scheduler { return c.scheduler }

// Revealing reports whether message id is still being revealed.
func (c *Controller) Revealing(id types.ID) bool { return c.scheduler.Revealing(id) }

// SessionID returns the active session, empty before the first turn.
func (c *Controller) SessionID() types.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// InFlight reports whether a turn is streaming.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Personas lists the backend's personas and remembers them for persona
// resolution.
func (c *Controller) Personas(ctx context.Context) ([]types.Persona, error) {
	personas, err := c.backend.ListPersonas(ctx)
	if err != nil {
		return nil, &TransportError{Op: "list personas", Err: err}
	}
	c.mu.Lock()
	c.personas = slices.Clone(personas)
	c.mu.Unlock()
	return personas, nil
}

// SelectPersona sets the persona for the next created session. When personas
// have been listed, id must be one of them.
func (c *Controller) SelectPersona(id types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.personas) > 0 && !slices.ContainsFunc(c.personas, func(p types.Persona) bool { return p.ID == id }) {
		return fmt.Errorf("select persona %s: %w", id, ErrNoPersona)
	}
	c.selected = id
	return nil
}

// turn is the state of one Submit.
type turn struct {
	gen       uint64
	sessionID types.ID
	personaID types.ID
	user      *types.Message
	// assistant holds the frame messages with full text, in arrival order.
	assistant []*types.Message
	frames    int
	started   time.Time
	logger    *log.Logger
}

// errStale is returned by apply when the turn's generation was torn down.
var errStale = errors.New("turn superseded by session switch")

// Submit sends text as a user turn and streams the reply into the store.
// It returns once the stream has ended; reveals may still be running.
//
// A non-nil TurnResult is returned for every turn that reached the send
// step; its Err is also returned as the error.
func (c *Controller) Submit(ctx context.Context, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	c.inFlight = true
	gen := c.gen
	sessionID, personaID := c.sessionID, c.personaID
	c.mu.Unlock()
	defer c.endTurn()

	// A new user message ends every reveal still running, full text in place.
	if _, err := c.scheduler.FinishAll(); err != nil {
		c.violation(c.logger, "finish reveals", "", err)
	}

	c.collector.IncTurnStarted()
	started := c.now()

	if sessionID.IsZero() {
		session, err := c.createSession(ctx, text)
		if err != nil {
			c.collector.IncTurnFailed()
			if IsTransportError(err) {
				c.collector.IncTransportErrors()
			}
			c.notify(Notification{Level: LevelError, Message: "could not start a session", Err: err})
			return nil, err
		}
		sessionID, personaID = session.ID, session.PersonaID
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &turn{
		gen:       gen,
		sessionID: sessionID,
		personaID: personaID,
		started:   started,
		logger:    c.logger.WithSession(sessionID, personaID),
		user: &types.Message{
			ID:        c.newID(),
			SessionID: sessionID,
			Role:      types.RoleUser,
			Text:      text,
			SentAt:    started,
			Status:    types.StatusPending,
		},
	}

	err := c.apply(gen, func() error {
		c.sessionID, c.personaID = sessionID, personaID
		c.store.SetSessionID(sessionID)
		c.cancelTurn = cancel
		return c.store.Append(t.user.Clone())
	})
	if err != nil {
		c.collector.IncTurnFailed()
		if errors.Is(err, errStale) {
			return nil, ErrSuperseded
		}
		c.violation(t.logger, "append user message", t.user.ID, err)
		return nil, err
	}

	t.logger.Debug("sending message", map[string]any{
		"message_id": t.user.ID.String(),
	})
	body, err := c.backend.SendMessage(turnCtx, backend.SendMessageRequest{
		Message:   text,
		SessionID: sessionID,
	})
	if err != nil {
		c.setStatus(t, types.StatusFailed)
		if turnCtx.Err() != nil {
			return c.finishTurn(ctx, t, types.OutcomeCancelled, turnCtx.Err())
		}
		transportErr := &TransportError{Op: "send message", Err: err}
		c.collector.IncTransportErrors()
		t.logger.Error("send message failed", map[string]any{"error": err.Error()})
		c.notify(Notification{
			Level:     LevelError,
			Message:   "message could not be sent",
			SessionID: sessionID,
			Err:       transportErr,
		})
		return c.finishTurn(ctx, t, types.OutcomeTransportError, transportErr)
	}

	src := &streamBody{r: body, onData: func() { c.setStatus(t, types.StatusSent) }}
	stop := iox.CloseOnDone(turnCtx, body)
	outcome, streamErr := c.stream(turnCtx, t, src)
	stop()
	iox.DiscardClose(body)

	if !src.seen {
		if outcome == types.OutcomeCompleted {
			c.setStatus(t, types.StatusSent)
		} else {
			c.setStatus(t, types.StatusFailed)
		}
	}
	return c.finishTurn(ctx, t, outcome, streamErr)
}

// streamBody reports the first byte read from a response body.
type streamBody struct {
	r      io.Reader
	onData func()
	seen   bool
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if n > 0 && !b.seen {
		b.seen = true
		b.onData()
	}
	return n, err
}

// stream decodes frames in order until a terminal frame, EOF or a fatal error.
// A read failure before the first byte is a transport error, not a stream error.
func (c *Controller) stream(ctx context.Context, t *turn, body *streamBody) (types.Outcome, error) {
	dec := sse.NewFrameDecoder(body, sse.WithMaxFrameSize(c.maxFrameSize))

	for frame, err := range dec.Frames() {
		if err != nil {
			if sse.IsDecodeError(err) {
				c.skipFrame(t, err)
				continue
			}
			if ctx.Err() != nil {
				return types.OutcomeCancelled, ctx.Err()
			}
			c.collector.IncTransportErrors()
			if !body.seen {
				transportErr := &TransportError{Op: "read stream", Err: err}
				t.logger.Error("stream failed before any data", map[string]any{"error": err.Error()})
				c.notify(Notification{
					Level:     LevelError,
					Message:   "no reply was received",
					SessionID: t.sessionID,
					Err:       transportErr,
				})
				return types.OutcomeTransportError, transportErr
			}
			t.logger.Error("stream failed", map[string]any{
				"error":  err.Error(),
				"frames": t.frames,
			})
			return types.OutcomeStreamError, err
		}

		t.frames++
		c.collector.IncFrameDecoded(string(frame.Type))

		var applyErr error
		switch frame.Type {
		case types.EventTypeMessage:
			applyErr = c.onMessage(t, frame.Message)
		case types.EventTypeDocument:
			applyErr = c.onDocument(t, frame.Document)
		case types.EventTypeError:
			return c.onError(t, frame.Error)
		case types.EventTypeEnd:
			return types.OutcomeCompleted, nil
		default:
			c.skipFrame(t, &sse.FrameError{
				Kind:  sse.FrameErrorUnknownEvent,
				Event: frame.Type,
				Msg:   "unhandled event",
			})
		}
		if errors.Is(applyErr, errStale) {
			return types.OutcomeCancelled, context.Canceled
		}
	}

	if ctx.Err() != nil {
		return types.OutcomeCancelled, ctx.Err()
	}
	// The backend may close the stream without an end frame.
	return types.OutcomeCompleted, nil
}

func (c *Controller) skipFrame(t *turn, err error) {
	var frameErr *sse.FrameError
	if errors.As(err, &frameErr) && frameErr.Kind == sse.FrameErrorUnknownEvent {
		c.collector.IncUnknownEvents()
	} else {
		c.collector.IncDecodeErrors()
	}
	t.logger.Warn("skipping frame", map[string]any{"error": err.Error()})
}

func (c *Controller) onMessage(t *turn, msg *types.Message) error {
	full := msg.Clone()
	if full.SessionID.IsZero() {
		full.SessionID = t.sessionID
	}
	if full.Role == "" {
		full.Role = types.RoleAssistant
	}
	full.Status = types.StatusSent

	shown := full.Clone()
	shown.Text = ""

	return c.apply(t.gen, func() error {
		if err := c.store.Append(shown); err != nil {
			c.violation(t.logger, "append assistant message", shown.ID, err)
			return nil
		}
		t.assistant = append(t.assistant, full)
		if _, err := c.merger.Resolve(shown.ID); err != nil {
			c.violation(t.logger, "resolve citations", shown.ID, err)
		}
		if err := c.scheduler.Start(shown.ID, full.Text); err != nil {
			t.logger.Warn("reveal not started", map[string]any{
				"message_id": shown.ID.String(),
				"error":      err.Error(),
			})
		}
		return nil
	})
}

func (c *Controller) onDocument(t *turn, doc *types.Citation) error {
	return c.apply(t.gen, func() error {
		if err := c.merger.Merge(*doc); err != nil {
			c.violation(t.logger, "merge citation", doc.MessageID, err)
		}
		return nil
	})
}

func (c *Controller) onError(t *turn, payload *types.ErrorPayload) (types.Outcome, error) {
	backendErr := &BackendError{Message: payload.Error}
	c.collector.IncBackendErrors()
	t.logger.Warn("backend reported an error", map[string]any{"error": payload.Error})
	c.notify(Notification{
		Level:     LevelError,
		Message:   payload.Error,
		SessionID: t.sessionID,
		Err:       backendErr,
	})
	return types.OutcomeBackendError, backendErr
}

// finishTurn builds the result, then archives and publishes the turn.
// Archive and publish run even when ctx was cancelled.
func (c *Controller) finishTurn(ctx context.Context, t *turn, outcome types.Outcome, err error) (*TurnResult, error) {
	record := c.turnRecord(t, outcome, err)

	res := &TurnResult{
		SessionID:     t.sessionID,
		UserMessageID: t.user.ID,
		Frames:        t.frames,
		Outcome:       outcome,
		Err:           err,
	}
	for _, m := range record.Assistant {
		res.AssistantMessageIDs = append(res.AssistantMessageIDs, m.ID)
		res.Citations += len(m.Citations)
	}

	if outcome.IsSuccess() {
		c.collector.IncTurnCompleted()
	} else {
		c.collector.IncTurnFailed()
	}
	t.logger.Info("turn finished", map[string]any{
		"outcome":     string(outcome),
		"frames":      t.frames,
		"messages":    len(res.AssistantMessageIDs),
		"citations":   res.Citations,
		"duration_ms": record.Duration().Milliseconds(),
	})

	detached := context.WithoutCancel(ctx)
	if c.policy != nil {
		if ingestErr := c.policy.IngestTurn(detached, record); ingestErr != nil {
			t.logger.Error("archive turn failed", map[string]any{"error": ingestErr.Error()})
		}
	}
	if c.adapter != nil {
		if pubErr := c.adapter.Publish(detached, adapter.NewTurnCompletedEvent(record)); pubErr != nil {
			c.collector.IncAdapterPublishFailure()
			t.logger.Warn("publish turn event failed", map[string]any{"error": pubErr.Error()})
		} else {
			c.collector.IncAdapterPublishSuccess()
		}
	}
	return res, err
}

// turnRecord assembles the archive record. Assistant messages carry their
// full text and the citations the store holds for them.
func (c *Controller) turnRecord(t *turn, outcome types.Outcome, err error) *types.Turn {
	record := &types.Turn{
		ClientID:    c.clientID,
		SessionID:   t.sessionID,
		PersonaID:   t.personaID,
		User:        t.user.Clone(),
		Outcome:     outcome,
		Frames:      t.frames,
		StartedAt:   t.started,
		CompletedAt: c.now(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	for _, m := range t.assistant {
		archived := m.Clone()
		if stored, ok := c.store.Get(m.ID); ok && stored.SessionID == m.SessionID {
			archived.Citations = stored.Citations
		}
		record.Assistant = append(record.Assistant, archived)
	}
	return record
}

func (c *Controller) setStatus(t *turn, status types.Status) {
	t.user.Status = status
	err := c.apply(t.gen, func() error {
		return c.store.SetStatus(t.user.ID, status)
	})
	if err != nil && !errors.Is(err, errStale) {
		c.violation(t.logger, "set user message status", t.user.ID, err)
	}
}

func (c *Controller) endTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	c.cancelTurn = nil
}

// createSession opens a one-shot session described by the first message.
func (c *Controller) createSession(ctx context.Context, text string) (*types.Session, error) {
	personaID, err := c.resolvePersona(ctx)
	if err != nil {
		return nil, err
	}
	session, err := c.backend.CreateSession(ctx, backend.CreateSessionRequest{
		Description: text,
		OneShot:     true,
		PersonaID:   personaID,
	})
	if err != nil {
		return nil, &TransportError{Op: "create session", Err: err}
	}
	if session.PersonaID.IsZero() {
		session.PersonaID = personaID
	}
	c.logger.Info("session created", map[string]any{
		"session_id": session.ID.String(),
		"persona_id": session.PersonaID.String(),
	})
	return session, nil
}

// resolvePersona picks the persona for a new session: the selected one, then
// the configured default, then the backend's default, then the first listed.
func (c *Controller) resolvePersona(ctx context.Context) (types.ID, error) {
	c.mu.Lock()
	selected, personas := c.selected, c.personas
	c.mu.Unlock()

	if !selected.IsZero() {
		return selected, nil
	}
	if !c.defaultID.IsZero() {
		return c.defaultID, nil
	}
	if len(personas) == 0 {
		var err error
		if personas, err = c.Personas(ctx); err != nil {
			return "", err
		}
	}
	if i := slices.IndexFunc(personas, func(p types.Persona) bool { return p.Default }); i >= 0 {
		return personas[i].ID, nil
	}
	if len(personas) > 0 {
		return personas[0].ID, nil
	}
	return "", ErrNoPersona
}

// LoadSession switches to an existing session and shows its history.
// History messages are not revealed.
func (c *Controller) LoadSession(ctx context.Context, id types.ID) error {
	if id.IsZero() {
		return errors.New("load session: session id is required")
	}
	gen, err := c.teardown(id)
	if err != nil {
		return err
	}
	c.flushPolicy(ctx)

	session, err := c.backend.GetSession(ctx, id)
	if err != nil {
		transportErr := &TransportError{Op: "get session", Err: err}
		c.notify(Notification{
			Level:     LevelError,
			Message:   "could not load session",
			SessionID: id,
			Err:       transportErr,
		})
		return transportErr
	}

	err = c.apply(gen, func() error {
		c.personaID = session.PersonaID
		for _, m := range session.Messages {
			msg := m.Clone()
			if msg.SessionID.IsZero() {
				msg.SessionID = id
			}
			msg.Status = types.StatusSent
			if err := c.store.Append(msg); err != nil {
				c.violation(c.logger, "append history message", msg.ID, err)
			}
		}
		return nil
	})
	if errors.Is(err, errStale) {
		return ErrSuperseded
	}

	c.logger.Info("session loaded", map[string]any{
		"session_id": id.String(),
		"messages":   len(session.Messages),
	})
	return nil
}

// NewSession drops the current session. The next Submit creates one.
func (c *Controller) NewSession(ctx context.Context) error {
	if _, err := c.teardown(""); err != nil {
		return err
	}
	c.flushPolicy(ctx)
	return nil
}

// Feedback records a vote on a message in the transcript.
func (c *Controller) Feedback(ctx context.Context, messageID types.ID, vote types.Vote) error {
	v, err := types.ParseVote(string(vote))
	if err != nil {
		return err
	}
	if _, ok := c.store.Get(messageID); !ok {
		return fmt.Errorf("feedback on %s: %w", messageID, transcript.ErrNotFound)
	}
	if err := c.backend.SendFeedback(ctx, backend.FeedbackRequest{MessageID: messageID, Vote: v}); err != nil {
		return &TransportError{Op: "send feedback", Err: err}
	}
	fb := &types.Feedback{MessageID: messageID, UpVotes: v == types.VoteUp}
	if err := c.store.SetFeedback(messageID, fb); err != nil {
		c.violation(c.logger, "record feedback", messageID, err)
		return err
	}
	return nil
}

// WaitReveals blocks until every running reveal has finished.
func (c *Controller) WaitReveals(ctx context.Context) error {
	return c.scheduler.Wait(ctx)
}

// Close aborts the stream, cancels reveals, discards held citations and
// flushes the archive policy. The policy and adapter stay open; their owner
// closes them.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.resetLocked("")
	c.closed = true
	c.mu.Unlock()

	c.scheduler.Close()

	if c.policy == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := c.policy.Flush(ctx)
	stats := c.policy.Stats()
	c.collector.AbsorbPolicyStats(stats.TurnsPersisted, stats.TurnsDropped)
	return err
}

func (c *Controller) teardown(sessionID types.ID) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.resetLocked(sessionID)
	return c.gen, nil
}

// resetLocked ends the current generation. Order matters: the scheduler is
// reset before the store so no patch lands after the store is emptied.
func (c *Controller) resetLocked(sessionID types.ID) {
	c.gen++
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
	c.scheduler.Reset()
	if n := c.merger.Discard(); n > 0 {
		c.logger.Debug("discarded held citations", map[string]any{"count": n})
	}
	c.store.Reset(sessionID)
	c.sessionID = sessionID
	c.personaID = ""
}

// apply runs fn under the controller lock if gen is still current.
func (c *Controller) apply(gen uint64, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return errStale
	}
	return fn()
}

func (c *Controller) flushPolicy(ctx context.Context) {
	if c.policy == nil {
		return
	}
	if err := c.policy.Flush(ctx); err != nil {
		c.logger.Error("archive flush failed", map[string]any{"error": err.Error()})
	}
}

// violation logs and counts a store contract violation.
func (c *Controller) violation(logger *log.Logger, op string, id types.ID, err error) {
	c.collector.IncContractViolations()
	logger.Error("transcript contract violation", map[string]any{
		"op":         op,
		"message_id": id.String(),
		"error":      err.Error(),
	})
}

func (c *Controller) notify(n Notification) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}

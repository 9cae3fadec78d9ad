// Package metrics provides per-client counters for the chat pipeline.
//
// The Collector accumulates counters for the lifetime of one chat client.
// It is a leaf package with no internal dependencies. Archive policy counters
// are absorbed from policy.Stats at teardown rather than recorded live.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Turn lifecycle
	TurnsStarted   int64
	TurnsCompleted int64
	TurnsFailed    int64

	// Stream
	FramesDecoded   map[string]int64
	DecodeErrors    int64
	UnknownEvents   int64
	TransportErrors int64
	BackendErrors   int64

	// Citations
	CitationsMerged   int64
	CitationsBuffered int64
	CitationsDropped  int64

	// Reveal
	RevealsStarted   int64
	RevealsCompleted int64
	RevealsCancelled int64

	// Store contract violations (NotFound, DuplicateIdentity)
	ContractViolations int64

	// Archive (absorbed from policy.Stats at teardown)
	TurnsArchived       int64
	TurnsArchiveDropped int64
	ArchiveWriteSuccess int64
	ArchiveWriteFailure int64

	// Adapter
	AdapterPublishSuccess int64
	AdapterPublishFailure int64

	// Dimensions (informational, set at construction)
	Policy         string
	StorageBackend string
	Adapter        string
	ClientID       string
}

// Collector accumulates counters for one chat client.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	turnsStarted   int64
	turnsCompleted int64
	turnsFailed    int64

	framesDecoded   map[string]int64
	decodeErrors    int64
	unknownEvents   int64
	transportErrors int64
	backendErrors   int64

	citationsMerged   int64
	citationsBuffered int64
	citationsDropped  int64

	revealsStarted   int64
	revealsCompleted int64
	revealsCancelled int64

	contractViolations int64

	turnsArchived       int64
	turnsArchiveDropped int64
	archiveWriteSuccess int64
	archiveWriteFailure int64

	adapterPublishSuccess int64
	adapterPublishFailure int64

	policy         string
	storageBackend string
	adapter        string
	clientID       string
}

// NewCollector creates a Collector with dimension labels.
// Empty dimensions are reported as-is.
func NewCollector(policy, storageBackend, adapter, clientID string) *Collector {
	return &Collector{
		framesDecoded:  make(map[string]int64),
		policy:         policy,
		storageBackend: storageBackend,
		adapter:        adapter,
		clientID:       clientID,
	}
}

// add increments one counter under the lock.
func (c *Collector) add(counter *int64, n int64) {
	c.mu.Lock()
	*counter += n
	c.mu.Unlock()
}

// --- Turn lifecycle ---

// IncTurnStarted records a submitted turn.
func (c *Collector) IncTurnStarted() {
	if c == nil {
		return
	}
	c.add(&c.turnsStarted, 1)
}

// IncTurnCompleted records a turn whose stream ended cleanly.
func (c *Collector) IncTurnCompleted() {
	if c == nil {
		return
	}
	c.add(&c.turnsCompleted, 1)
}

// IncTurnFailed records a turn ended by a transport, backend or fatal frame error.
func (c *Collector) IncTurnFailed() {
	if c == nil {
		return
	}
	c.add(&c.turnsFailed, 1)
}

// --- Stream ---

// IncFrameDecoded records a decoded frame by event kind.
func (c *Collector) IncFrameDecoded(eventType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesDecoded[eventType]++
	c.mu.Unlock()
}

// IncDecodeErrors records a skipped malformed frame.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors, 1)
}

// IncUnknownEvents records a skipped frame of an unknown kind.
func (c *Collector) IncUnknownEvents() {
	if c == nil {
		return
	}
	c.add(&c.unknownEvents, 1)
}

// IncTransportErrors records a request that never completed.
func (c *Collector) IncTransportErrors() {
	if c == nil {
		return
	}
	c.add(&c.transportErrors, 1)
}

// IncBackendErrors records an explicit error frame.
func (c *Collector) IncBackendErrors() {
	if c == nil {
		return
	}
	c.add(&c.backendErrors, 1)
}

// --- Citations ---

// AddCitationsMerged records citations attached to a message.
func (c *Collector) AddCitationsMerged(n int) {
	if c == nil || n == 0 {
		return
	}
	c.add(&c.citationsMerged, int64(n))
}

// IncCitationsBuffered records a citation held for a not-yet-seen message.
func (c *Collector) IncCitationsBuffered() {
	if c == nil {
		return
	}
	c.add(&c.citationsBuffered, 1)
}

// AddCitationsDropped records citations discarded by the buffer bound or teardown.
func (c *Collector) AddCitationsDropped(n int) {
	if c == nil || n == 0 {
		return
	}
	c.add(&c.citationsDropped, int64(n))
}

// --- Reveal ---

// IncRevealStarted records a reveal leaving Idle.
func (c *Collector) IncRevealStarted() {
	if c == nil {
		return
	}
	c.add(&c.revealsStarted, 1)
}

// IncRevealCompleted records a reveal reaching Complete.
func (c *Collector) IncRevealCompleted() {
	if c == nil {
		return
	}
	c.add(&c.revealsCompleted, 1)
}

// IncRevealCancelled records a reveal cancelled before completion.
func (c *Collector) IncRevealCancelled() {
	if c == nil {
		return
	}
	c.add(&c.revealsCancelled, 1)
}

// IncContractViolations records a store NotFound or DuplicateIdentity.
func (c *Collector) IncContractViolations() {
	if c == nil {
		return
	}
	c.add(&c.contractViolations, 1)
}

// --- Archive ---
// Archive write counters are per-call, not per-turn. A buffered flush of N
// turns counts as 1 success.

// IncArchiveWriteSuccess records a successful archive write (per-call).
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteSuccess, 1)
}

// IncArchiveWriteFailure records a failed archive write (per-call).
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteFailure, 1)
}

// AbsorbPolicyStats copies archive counters from policy.Stats into the collector.
// Called once at teardown with the final policy stats snapshot.
func (c *Collector) AbsorbPolicyStats(persisted, dropped int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.turnsArchived = persisted
	c.turnsArchiveDropped = dropped
	c.mu.Unlock()
}

// --- Adapter ---

// IncAdapterPublishSuccess records a delivered turn notification.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishSuccess, 1)
}

// IncAdapterPublishFailure records a notification that exhausted its retries.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	frames := make(map[string]int64, len(c.framesDecoded))
	for k, v := range c.framesDecoded {
		frames[k] = v
	}

	return Snapshot{
		TurnsStarted:   c.turnsStarted,
		TurnsCompleted: c.turnsCompleted,
		TurnsFailed:    c.turnsFailed,

		FramesDecoded:   frames,
		DecodeErrors:    c.decodeErrors,
		UnknownEvents:   c.unknownEvents,
		TransportErrors: c.transportErrors,
		BackendErrors:   c.backendErrors,

		CitationsMerged:   c.citationsMerged,
		CitationsBuffered: c.citationsBuffered,
		CitationsDropped:  c.citationsDropped,

		RevealsStarted:   c.revealsStarted,
		RevealsCompleted: c.revealsCompleted,
		RevealsCancelled: c.revealsCancelled,

		ContractViolations: c.contractViolations,

		TurnsArchived:       c.turnsArchived,
		TurnsArchiveDropped: c.turnsArchiveDropped,
		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,

		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Policy:         c.policy,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
		ClientID:       c.clientID,
	}
}

package lode

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/types"
)

// RecordKind discriminator values. record_kind is also the last partition key.
const (
	RecordKindTurn    = "turn"
	RecordKindMetrics = "metrics"
)

// Partition placeholders for records without a persona or session.
const (
	NoPersona = "none"
	NoSession = "none"
)

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"persona", "day", "session_id", "record_kind"}

// DeriveDay computes the partition day from a timestamp (YYYY-MM-DD UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TurnRecord is the storage format of one archived turn.
type TurnRecord struct {
	RecordKind string `json:"record_kind"`

	ClientID  string           `json:"client_id"`
	SessionID string           `json:"session_id"`
	PersonaID string           `json:"persona_id,omitempty"`
	User      *types.Message   `json:"user"`
	Assistant []*types.Message `json:"assistant,omitempty"`
	Outcome   string           `json:"outcome"`
	Error     string           `json:"error,omitempty"`
	Frames    int              `json:"frames"`
	Citations int              `json:"citations"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`

	// Partition keys
	Persona string `json:"persona"`
	Day     string `json:"day"`
}

// Turn converts the record back to the domain type.
func (r *TurnRecord) Turn() *types.Turn {
	return &types.Turn{
		ClientID:    r.ClientID,
		SessionID:   types.ID(r.SessionID),
		PersonaID:   types.ID(r.PersonaID),
		User:        r.User,
		Assistant:   r.Assistant,
		Outcome:     types.Outcome(r.Outcome),
		Error:       r.Error,
		Frames:      r.Frames,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func personaPartition(id types.ID) string {
	if id.IsZero() {
		return NoPersona
	}
	return id.String()
}

// toTurnRecord builds the typed record for a turn.
func toTurnRecord(t *types.Turn, clientID string) TurnRecord {
	citations := 0
	for _, m := range t.Assistant {
		citations += len(m.Citations)
	}
	if t.ClientID != "" {
		clientID = t.ClientID
	}
	return TurnRecord{
		RecordKind:  RecordKindTurn,
		ClientID:    clientID,
		SessionID:   t.SessionID.String(),
		PersonaID:   t.PersonaID.String(),
		User:        t.User,
		Assistant:   t.Assistant,
		Outcome:     string(t.Outcome),
		Error:       t.Error,
		Frames:      t.Frames,
		Citations:   citations,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		DurationMS:  t.Duration().Milliseconds(),
		Persona:     personaPartition(t.PersonaID),
		Day:         DeriveDay(t.StartedAt),
	}
}

// toTurnRecordMap converts a turn to the map form Lode's HiveLayout
// partitions on. Messages go through their JSON tags so the archive uses
// the backend's field names.
func toTurnRecordMap(t *types.Turn, clientID string) (map[string]any, error) {
	return toMap(toTurnRecord(t, clientID))
}

// toMetricsRecordMap converts a metrics snapshot to a storage record.
// Metrics land under the session they were taken for, or session_id=none.
func toMetricsRecordMap(snap metrics.Snapshot, sessionID, personaID types.ID, at time.Time) map[string]any {
	session := sessionID.String()
	if session == "" {
		session = NoSession
	}
	return map[string]any{
		"record_kind": RecordKindMetrics,
		"client_id":   snap.ClientID,
		"session_id":  session,
		"persona":     personaPartition(personaID),
		"day":         DeriveDay(at),
		"ts":          at.UTC().Format(time.RFC3339Nano),
		"policy":      snap.Policy,
		"storage":     snap.StorageBackend,
		"adapter":     snap.Adapter,

		"turns_started":         snap.TurnsStarted,
		"turns_completed":       snap.TurnsCompleted,
		"turns_failed":          snap.TurnsFailed,
		"frames_decoded":        snap.FramesDecoded,
		"decode_errors":         snap.DecodeErrors,
		"unknown_events":        snap.UnknownEvents,
		"transport_errors":      snap.TransportErrors,
		"backend_errors":        snap.BackendErrors,
		"citations_merged":      snap.CitationsMerged,
		"citations_buffered":    snap.CitationsBuffered,
		"citations_dropped":     snap.CitationsDropped,
		"reveals_started":       snap.RevealsStarted,
		"reveals_completed":     snap.RevealsCompleted,
		"reveals_cancelled":     snap.RevealsCancelled,
		"contract_violations":   snap.ContractViolations,
		"turns_archived":        snap.TurnsArchived,
		"turns_archive_dropped": snap.TurnsArchiveDropped,
		"archive_write_success": snap.ArchiveWriteSuccess,
		"archive_write_failure": snap.ArchiveWriteFailure,
	}
}

// fromTurnRecordMap decodes a record read back through the JSONL codec.
func fromTurnRecordMap(m map[string]any) (*TurnRecord, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var rec TurnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode turn record: %w", err)
	}
	return &rec, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

package policy_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pithecene-io/parley/policy"
	"github.com/pithecene-io/parley/types"
)

func newTurn(n int, outcome types.Outcome) *types.Turn {
	started := time.Date(2024, 5, 1, 12, 0, n, 0, time.UTC)
	return &types.Turn{
		ClientID:  "client-1",
		SessionID: "101",
		User: &types.Message{
			ID:   types.ID(fmt.Sprintf("u-%d", n)),
			Role: types.RoleUser,
			Text: fmt.Sprintf("question %d", n),
		},
		Outcome:     outcome,
		StartedAt:   started,
		CompletedAt: started.Add(time.Second),
	}
}

func TestStrictPolicy_WritesImmediately(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)

	for i := range 3 {
		if err := pol.IngestTurn(t.Context(), newTurn(i, types.OutcomeCompleted)); err != nil {
			t.Fatalf("IngestTurn: %v", err)
		}
	}

	if sink.BatchCount() != 3 {
		t.Errorf("expected 3 batches of one, got %d", sink.BatchCount())
	}
	stats := pol.Stats()
	if stats.TotalTurns != 3 || stats.TurnsPersisted != 3 || stats.TurnsDropped != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStrictPolicy_NeverDrops(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)

	outcomes := []types.Outcome{
		types.OutcomeCompleted,
		types.OutcomeBackendError,
		types.OutcomeTransportError,
		types.OutcomeStreamError,
		types.OutcomeCancelled,
	}
	for i, o := range outcomes {
		if err := pol.IngestTurn(t.Context(), newTurn(i, o)); err != nil {
			t.Fatalf("IngestTurn(%s): %v", o, err)
		}
	}
	if got := len(sink.Turns()); got != len(outcomes) {
		t.Errorf("persisted %d turns, want %d", got, len(outcomes))
	}
}

func TestStrictPolicy_SinkError(t *testing.T) {
	sink := policy.NewStubSink()
	sink.SetError(errors.New("disk full"))
	pol := policy.NewStrictPolicy(sink)

	err := pol.IngestTurn(t.Context(), newTurn(1, types.OutcomeCompleted))
	if err == nil {
		t.Fatal("expected sink error")
	}
	if policy.IsPolicyError(err) {
		t.Error("sink failure should not classify as policy error")
	}
	if pol.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", pol.Stats().Errors)
	}
}

func TestStrictPolicy_RejectsInvalidTurn(t *testing.T) {
	pol := policy.NewStrictPolicy(policy.NewStubSink())

	turn := newTurn(1, types.OutcomeCompleted)
	turn.SessionID = ""
	err := pol.IngestTurn(t.Context(), turn)
	if !errors.Is(err, policy.ErrInvalidTurn) {
		t.Fatalf("err = %v, want ErrInvalidTurn", err)
	}
}

func TestStrictPolicy_CloseClosesSink(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)
	if err := pol.Close(); err != nil {
		t.Fatal(err)
	}
	if !sink.IsClosed() {
		t.Error("sink not closed")
	}
}

func TestNoopPolicy_Stats(t *testing.T) {
	pol := policy.NewNoopPolicy()

	_ = pol.IngestTurn(t.Context(), newTurn(1, types.OutcomeCompleted))
	_ = pol.IngestTurn(t.Context(), newTurn(2, types.OutcomeCancelled))
	_ = pol.IngestTurn(t.Context(), newTurn(3, types.OutcomeBackendError))
	_ = pol.Flush(t.Context())

	stats := pol.Stats()
	if stats.TotalTurns != 3 {
		t.Errorf("TotalTurns = %d", stats.TotalTurns)
	}
	if stats.TurnsPersisted != 2 || stats.TurnsDropped != 1 {
		t.Errorf("persisted=%d dropped=%d", stats.TurnsPersisted, stats.TurnsDropped)
	}
	if stats.DroppedByOutcome[types.OutcomeCancelled] != 1 {
		t.Errorf("DroppedByOutcome = %v", stats.DroppedByOutcome)
	}
	if stats.FlushCount != 1 {
		t.Errorf("FlushCount = %d", stats.FlushCount)
	}
}

func TestStats_SnapshotIsolation(t *testing.T) {
	pol := policy.NewNoopPolicy()
	_ = pol.IngestTurn(t.Context(), newTurn(1, types.OutcomeCancelled))

	snap := pol.Stats()
	snap.DroppedByOutcome[types.OutcomeCancelled] = 99

	if got := pol.Stats().DroppedByOutcome[types.OutcomeCancelled]; got != 1 {
		t.Errorf("mutating snapshot leaked into policy: %d", got)
	}
}

func TestIsDroppable(t *testing.T) {
	tests := []struct {
		outcome types.Outcome
		want    bool
	}{
		{types.OutcomeCompleted, false},
		{types.OutcomeBackendError, false},
		{types.OutcomeTransportError, false},
		{types.OutcomeStreamError, false},
		{types.OutcomeCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			if got := policy.IsDroppable(tt.outcome); got != tt.want {
				t.Errorf("IsDroppable(%s) = %v, want %v", tt.outcome, got, tt.want)
			}
		})
	}
}

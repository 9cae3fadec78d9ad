package reveal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/transcript"
	"github.com/pithecene-io/parley/types"
)

// recorder is a Target that records every patch.
type recorder struct {
	mu      sync.Mutex
	patches map[types.ID][]string
	err     error
}

func newRecorder() *recorder {
	return &recorder{patches: make(map[types.ID][]string)}
}

func (r *recorder) PatchText(id types.ID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.patches[id] = append(r.patches[id], text)
	return nil
}

func (r *recorder) get(id types.ID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.patches[id]...)
}

func waitDone(t *testing.T, s *Scheduler, id types.ID) {
	t.Helper()
	select {
	case <-s.Done(id):
	case <-time.After(5 * time.Second):
		t.Fatalf("reveal of %s did not finish", id)
	}
}

func TestScheduler_RevealsOneRunePerTick(t *testing.T) {
	clock := NewManualClock()
	rec := newRecorder()
	s := NewScheduler(rec, Config{NewTicker: clock.NewTicker})
	defer s.Close()

	if err := s.Start("m1", "Hi there"); err != nil {
		t.Fatal(err)
	}
	if !s.Revealing("m1") {
		t.Fatal("expected Revealing")
	}

	for range 8 {
		clock.Tick()
	}
	waitDone(t, s, "m1")

	patches := rec.get("m1")
	want := []string{"H", "Hi", "Hi ", "Hi t", "Hi th", "Hi the", "Hi ther", "Hi there"}
	if len(patches) != len(want) {
		t.Fatalf("patches = %q, want %q", patches, want)
	}
	for i := range want {
		if patches[i] != want[i] {
			t.Errorf("patch[%d] = %q, want %q", i, patches[i], want[i])
		}
	}
	if got := s.State("m1"); got != StateComplete {
		t.Errorf("State = %v, want complete", got)
	}
	s.Close()
	if clock.Live() != 0 {
		t.Errorf("ticker not released: %d live", clock.Live())
	}
}

func TestScheduler_MonotonicAndRuneSafe(t *testing.T) {
	texts := []string{
		"plain ascii answer",
		"naïve café ☕ 日本語",
		"🙂🙃",
	}
	for _, text := range texts {
		for _, step := range []int{1, 2, 5} {
			clock := NewManualClock()
			rec := newRecorder()
			s := NewScheduler(rec, Config{NewTicker: clock.NewTicker, Step: step})

			if err := s.Start("m", text); err != nil {
				t.Fatal(err)
			}
			n := utf8.RuneCountInString(text)
			for range (n + step - 1) / step {
				clock.Tick()
			}
			waitDone(t, s, "m")
			s.Close()

			patches := rec.get("m")
			prev := 0
			for i, p := range patches {
				if !utf8.ValidString(p) {
					t.Errorf("%q step %d: patch %d splits a rune: %q", text, step, i, p)
				}
				if len(p) < prev {
					t.Errorf("%q step %d: patch %d shrank", text, step, i)
				}
				prev = len(p)
			}
			if last := patches[len(patches)-1]; last != text {
				t.Errorf("%q step %d: final = %q", text, step, last)
			}
		}
	}
}

func TestScheduler_EmptyTextCompletesImmediately(t *testing.T) {
	clock := NewManualClock()
	rec := newRecorder()
	s := NewScheduler(rec, Config{NewTicker: clock.NewTicker})
	defer s.Close()

	if err := s.Start("m1", ""); err != nil {
		t.Fatal(err)
	}
	if s.State("m1") != StateComplete {
		t.Errorf("State = %v", s.State("m1"))
	}
	if len(rec.get("m1")) != 0 {
		t.Error("empty text must not patch")
	}
	if clock.Live() != 0 {
		t.Error("empty text must not start a ticker")
	}
}

func TestScheduler_AlreadyRevealing(t *testing.T) {
	clock := NewManualClock()
	s := NewScheduler(newRecorder(), Config{NewTicker: clock.NewTicker})
	defer s.Close()

	if err := s.Start("m1", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start("m1", "abc"); !errors.Is(err, ErrAlreadyRevealing) {
		t.Errorf("err = %v, want ErrAlreadyRevealing", err)
	}
}

func TestScheduler_ConcurrentCursors(t *testing.T) {
	clock := NewManualClock()
	rec := newRecorder()
	s := NewScheduler(rec, Config{NewTicker: clock.NewTicker})
	defer s.Close()

	if err := s.Start("a", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start("b", "wxyz"); err != nil {
		t.Fatal(err)
	}
	if s.Active() != 2 {
		t.Fatalf("Active = %d", s.Active())
	}

	for range 4 {
		clock.Tick()
	}
	waitDone(t, s, "a")
	waitDone(t, s, "b")

	if got := rec.get("a"); got[len(got)-1] != "abc" || len(got) != 3 {
		t.Errorf("a patches = %q", got)
	}
	if got := rec.get("b"); got[len(got)-1] != "wxyz" || len(got) != 4 {
		t.Errorf("b patches = %q", got)
	}
}

// TestScheduler_CancelStopsPatches checks that no patch is issued for a
// cursor once Cancel has returned.
func TestScheduler_CancelStopsPatches(t *testing.T) {
	clock := NewManualClock()
	rec := newRecorder()
	collector := metrics.NewCollector("", "", "", "c")
	s := NewScheduler(rec, Config{NewTicker: clock.NewTicker, Collector: collector})
	defer s.Close()

	if err := s.Start("m1", "a long answer"); err != nil {
		t.Fatal(err)
	}
	clock.Tick()
	clock.Tick()
	clock.Tick()

	if !s.Cancel("m1") {
		t.Fatal("Cancel returned false")
	}
	after := len(rec.get("m1"))
	if after > 3 {
		t.Fatalf("patches = %d, want <= 3", after)
	}

	for range 10 {
		clock.Tick()
	}
	if got := len(rec.get("m1")); got != after {
		t.Errorf("patches after cancel: %d -> %d", after, got)
	}
	if s.State("m1") != StateIdle {
		t.Errorf("State = %v, want idle", s.State("m1"))
	}
	select {
	case <-s.Done("m1"):
	default:
		t.Error("Done should be closed after cancel")
	}
	if s.Cancel("m1") {
		t.Error("second Cancel should return false")
	}

	snap := collector.Snapshot()
	if snap.RevealsStarted != 1 || snap.RevealsCancelled != 1 || snap.RevealsCompleted != 0 {
		t.Errorf("collector = %+v", snap)
	}
}

// TestScheduler_ResetStoreAfterCancelAll covers a session switch: the store
// is reset after CancelAll and receives no further patches.
func TestScheduler_ResetStoreAfterCancelAll(t *testing.T) {
	clock := NewManualClock()
	store := transcript.New("old")
	if err := store.Append(&types.Message{ID: "m1", Role: types.RoleAssistant}); err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(store, Config{NewTicker: clock.NewTicker})
	defer s.Close()

	if err := s.Start("m1", "Hi there"); err != nil {
		t.Fatal(err)
	}
	clock.Tick()
	clock.Tick()

	if n := s.CancelAll(); n != 1 {
		t.Errorf("CancelAll = %d", n)
	}
	store.Reset("new")
	if err := store.Append(&types.Message{ID: "m1", Role: types.RoleAssistant}); err != nil {
		t.Fatal(err)
	}
	version := store.Version()

	for range 10 {
		clock.Tick()
	}
	if store.Version() != version {
		t.Errorf("store mutated after reset: version %d -> %d", version, store.Version())
	}
	if m, _ := store.Get("m1"); m.Text != "" {
		t.Errorf("new session message patched: %q", m.Text)
	}
}

func TestScheduler_Finish(t *testing.T) {
	clock := NewManualClock()
	rec := newRecorder()
	s := NewScheduler(rec, Config{NewTicker: clock.NewTicker})
	defer s.Close()

	if err := s.Start("m1", "skip me"); err != nil {
		t.Fatal(err)
	}
	clock.Tick()
	if err := s.Finish("m1"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s, "m1")

	patches := rec.get("m1")
	if patches[len(patches)-1] != "skip me" {
		t.Errorf("final = %q", patches[len(patches)-1])
	}
	if s.State("m1") != StateComplete {
		t.Errorf("State = %v", s.State("m1"))
	}
	if err := s.Finish("unknown"); err != nil {
		t.Errorf("Finish(unknown) = %v", err)
	}
}

func TestScheduler_FinishAll(t *testing.T) {
	clock := NewManualClock()
	rec := newRecorder()
	s := NewScheduler(rec, Config{NewTicker: clock.NewTicker})
	defer s.Close()

	for id, text := range map[types.ID]string{"m1": "first", "m2": "second"} {
		if err := s.Start(id, text); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.FinishAll()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("FinishAll = %d, want 2", n)
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d", s.Active())
	}
	for id, want := range map[types.ID]string{"m1": "first", "m2": "second"} {
		patches := rec.get(id)
		if len(patches) == 0 || patches[len(patches)-1] != want {
			t.Errorf("%s patches = %q", id, patches)
		}
		if s.State(id) != StateComplete {
			t.Errorf("%s State = %v", id, s.State(id))
		}
	}
}

func TestScheduler_PatchErrorStopsCursor(t *testing.T) {
	clock := NewManualClock()
	rec := newRecorder()
	rec.err = transcript.ErrNotFound
	collector := metrics.NewCollector("", "", "", "c")
	s := NewScheduler(rec, Config{NewTicker: clock.NewTicker, Collector: collector})
	defer s.Close()

	if err := s.Start("m1", "abc"); err != nil {
		t.Fatal(err)
	}
	clock.Tick()
	waitDone(t, s, "m1")

	if s.State("m1") != StateIdle {
		t.Errorf("State = %v, want idle", s.State("m1"))
	}
	if collector.Snapshot().ContractViolations != 1 {
		t.Errorf("ContractViolations = %d", collector.Snapshot().ContractViolations)
	}
}

func TestScheduler_WaitAndClose(t *testing.T) {
	rec := newRecorder()
	s := NewScheduler(rec, Config{Cadence: time.Millisecond})

	if err := s.Start("m1", "real ticker"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := rec.get("m1"); got[len(got)-1] != "real ticker" {
		t.Errorf("final = %q", got[len(got)-1])
	}

	s.Close()
	if err := s.Start("m2", "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestScheduler_WaitHonorsContext(t *testing.T) {
	clock := NewManualClock()
	s := NewScheduler(newRecorder(), Config{NewTicker: clock.NewTicker})
	defer s.Close()

	if err := s.Start("m1", "never ticks"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}

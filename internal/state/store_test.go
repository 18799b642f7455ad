package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"clmmRebalancer/internal/model"
)

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func openFile(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(context.Background(), &FileBackend{Path: path}, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func readRecord(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parse state: %v", err)
	}
	return out
}

func withdrawn() model.WithdrawResult {
	return model.WithdrawResult{Success: true, AmountAWithdrawn: "1500000000", AmountBWithdrawn: "210000000", TxID: "sig"}
}

func TestOpenCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := openFile(t, path)

	if st := store.Snapshot(); st.IsPending() || st.PositionMint != "" || st.LastRebalance != nil {
		t.Fatalf("expected default state, got %+v", st)
	}
	want := map[string]any{
		"current_position_mint": nil,
		"last_rebalance":        nil,
		"pending_rebalance":     false,
		"pending_step":          nil,
		"withdrawn_amounts":     nil,
	}
	if got := readRecord(t, path); !reflect.DeepEqual(got, want) {
		t.Fatalf("record = %v, want %v", got, want)
	}
}

func TestFullTransitionSequence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := openFile(t, path)

	if err := store.SetPosition(ctx, "oldMint"); err != nil {
		t.Fatalf("set position: %v", err)
	}
	if err := store.MarkStarted(ctx); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if rec := readRecord(t, path); rec["pending_step"] != "withdraw" || rec["pending_rebalance"] != true {
		t.Fatalf("after start: %v", rec)
	}

	if err := store.MarkWithdrawComplete(ctx, withdrawn()); err != nil {
		t.Fatalf("mark withdraw: %v", err)
	}
	rec := readRecord(t, path)
	if rec["pending_step"] != "swap" || rec["current_position_mint"] != nil || rec["withdrawn_amounts"] == nil {
		t.Fatalf("after withdraw: %v", rec)
	}

	if err := store.MarkSwapComplete(ctx); err != nil {
		t.Fatalf("mark swap: %v", err)
	}
	st := store.Snapshot()
	if st.Step() != StepOpenPosition {
		t.Fatalf("step = %s, want open_position", st.Step())
	}
	if w, ok := st.Withdrawn(); !ok || w.AmountAWithdrawn != "1500000000" {
		t.Fatalf("withdrawn amounts lost: %+v", w)
	}

	if err := store.MarkComplete(ctx, "newMint"); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	want := map[string]any{
		"current_position_mint": "newMint",
		"last_rebalance":        "2025-06-01T09:30:00Z",
		"pending_rebalance":     false,
		"pending_step":          nil,
		"withdrawn_amounts":     nil,
	}
	if got := readRecord(t, path); !reflect.DeepEqual(got, want) {
		t.Fatalf("record = %v, want %v", got, want)
	}
}

func TestReopenResumesPendingStep(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := openFile(t, path)
	if err := store.MarkStarted(ctx); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := store.MarkWithdrawComplete(ctx, withdrawn()); err != nil {
		t.Fatalf("mark withdraw: %v", err)
	}

	reopened := openFile(t, path)
	st := reopened.Snapshot()
	swap, ok := st.Pending.(Swap)
	if !ok {
		t.Fatalf("pending = %#v, want Swap", st.Pending)
	}
	if !reflect.DeepEqual(swap.Withdrawn, withdrawn()) {
		t.Fatalf("withdrawn = %+v", swap.Withdrawn)
	}
}

func TestRecordRoundTripIsExact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	original := []byte(`{
  "current_position_mint": null,
  "last_rebalance": "2025-05-30T08:00:00.123456Z",
  "pending_rebalance": true,
  "pending_step": "open_position",
  "withdrawn_amounts": {
    "success": true,
    "amountAWithdrawn": "42",
    "amountBWithdrawn": "7",
    "txid": "abc"
  }
}
`)
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	backend := &FileBackend{Path: path}
	rec, ok, err := backend.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("load: ok=%t err=%v", ok, err)
	}
	st, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if err := backend.Save(context.Background(), ToRecord(st)); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(saved, original) {
		t.Fatalf("round trip changed the file:\n%s\nwant:\n%s", saved, original)
	}
}

func TestTransitionKeepsUnknownWithdrawKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	original := []byte(`{
  "current_position_mint": null,
  "last_rebalance": null,
  "pending_rebalance": true,
  "pending_step": "swap",
  "withdrawn_amounts": {
    "success": true,
    "amountAWithdrawn": "42",
    "amountBWithdrawn": "7",
    "liquidityRemoved": "123456789",
    "dry_run": false,
    "error": null
  }
}
`)
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	store := openFile(t, path)
	if w, ok := store.Snapshot().Withdrawn(); !ok || w.AmountAWithdrawn != "42" {
		t.Fatalf("withdrawn = %+v, ok=%t", w, ok)
	}
	if err := store.MarkSwapComplete(context.Background()); err != nil {
		t.Fatalf("mark swap: %v", err)
	}

	saved, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := bytes.Replace(original, []byte(`"pending_step": "swap"`), []byte(`"pending_step": "open_position"`), 1)
	if !bytes.Equal(saved, want) {
		t.Fatalf("transition rewrote withdrawn_amounts:\n%s\nwant:\n%s", saved, want)
	}

	if err := store.ResetPending(context.Background()); err != nil {
		t.Fatalf("reset pending: %v", err)
	}
	if rec := readRecord(t, path); rec["withdrawn_amounts"] != nil {
		t.Fatalf("withdrawn_amounts should clear with the pending step: %v", rec)
	}
}

func TestCorruptFileFallsBackToDefault(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":           "{not json",
		"wrong type":        `{"pending_rebalance": "yes"}`,
		"pending no step":   `{"pending_rebalance": true, "pending_step": null}`,
		"unknown step":      `{"pending_rebalance": true, "pending_step": "bridge"}`,
		"swap no amounts":   `{"pending_rebalance": true, "pending_step": "swap"}`,
		"amounts when idle": `{"pending_rebalance": false, "withdrawn_amounts": {"amountAWithdrawn": "1"}}`,
	} {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		store := openFile(t, path)
		if st := store.Snapshot(); st.IsPending() || st.PositionMint != "" {
			t.Fatalf("%s: expected defaults, got %+v", name, st)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	store := openFile(t, filepath.Join(t.TempDir(), "state.json"))

	if err := store.MarkSwapComplete(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("swap complete while idle: %v", err)
	}
	if err := store.MarkComplete(ctx, "mint"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete while idle: %v", err)
	}
	if err := store.MarkStarted(ctx); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := store.MarkStarted(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double start: %v", err)
	}
}

func TestMarkFailedKeepsPendingState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := openFile(t, path)
	if err := store.MarkStarted(ctx); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := store.MarkWithdrawComplete(ctx, withdrawn()); err != nil {
		t.Fatalf("mark withdraw: %v", err)
	}
	before, _ := os.ReadFile(path)

	store.MarkFailed(errors.New("swap venue unavailable"))

	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Fatalf("mark failed must not touch the persisted state")
	}
	if store.Snapshot().Step() != StepSwap {
		t.Fatalf("step changed after failure")
	}
	if store.LastError() != "swap venue unavailable" {
		t.Fatalf("last error = %q", store.LastError())
	}
}

func TestResetPendingKeepsPosition(t *testing.T) {
	ctx := context.Background()
	store := openFile(t, filepath.Join(t.TempDir(), "state.json"))
	if err := store.SetPosition(ctx, "mint"); err != nil {
		t.Fatalf("set position: %v", err)
	}
	if err := store.MarkStarted(ctx); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := store.ResetPending(ctx); err != nil {
		t.Fatalf("reset pending: %v", err)
	}
	st := store.Snapshot()
	if st.IsPending() || st.PositionMint != "mint" {
		t.Fatalf("unexpected state after reset: %+v", st)
	}

	if err := store.ResetAll(ctx); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if st := store.Snapshot(); st.PositionMint != "" {
		t.Fatalf("reset all kept position %q", st.PositionMint)
	}
}

func TestInitializeFromConfig(t *testing.T) {
	ctx := context.Background()
	store := openFile(t, filepath.Join(t.TempDir(), "state.json"))

	changed, err := store.InitializeFromConfig(ctx, "cfgMint")
	if err != nil || !changed {
		t.Fatalf("initialize: changed=%t err=%v", changed, err)
	}
	changed, err = store.InitializeFromConfig(ctx, "otherMint")
	if err != nil || changed {
		t.Fatalf("second initialize should be a no-op: changed=%t err=%v", changed, err)
	}
	if got := store.Snapshot().PositionMint; got != "cfgMint" {
		t.Fatalf("position = %q", got)
	}
}

type failingBackend struct {
	rec     Record
	failing bool
}

func (f *failingBackend) Load(ctx context.Context) (Record, bool, error) {
	return f.rec, true, nil
}

func (f *failingBackend) Save(ctx context.Context, rec Record) error {
	if f.failing {
		return errors.New("disk full")
	}
	f.rec = rec
	return nil
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{}
	store, err := Open(ctx, backend, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.MarkStarted(ctx); err != nil {
		t.Fatalf("mark started: %v", err)
	}

	backend.failing = true
	if err := store.MarkWithdrawComplete(ctx, withdrawn()); err == nil {
		t.Fatalf("expected persist error")
	}
	if st := store.Snapshot(); st.Step() != StepWithdraw {
		t.Fatalf("in-memory state advanced despite failed save: %s", st.Step())
	}
	if backend.rec.PendingStep == nil || *backend.rec.PendingStep != "withdraw" {
		t.Fatalf("persisted record advanced: %+v", backend.rec)
	}
}

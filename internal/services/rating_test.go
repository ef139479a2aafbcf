package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/types"
)

func selectPending(t *testing.T, env *testEnv, session *types.Session, threadID uuid.UUID) {
	t.Helper()
	if err := env.db.Transaction(func(tx *gorm.DB) error {
		return env.session.SelectPendingTx(context.Background(), tx, session, threadID)
	}); err != nil {
		t.Fatalf("select pending: %v", err)
	}
}

func TestRateValidation(t *testing.T) {
	env := newTestEnv(t)
	session := env.openSession(t)

	tests := []struct {
		name   string
		rating float64
		read   int
	}{
		{"below range", 0.0, 1},
		{"above range", 5.5, 1},
		{"off the half-point grid", 3.3, 1},
		{"zero issues read", 3.0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.rating.Rate(context.Background(), session.ID, tt.rating, tt.read, false)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestRateWithoutPendingThread(t *testing.T) {
	env := newTestEnv(t)
	env.seedThreads(t, 2, 3)
	session := env.openSession(t)

	if _, err := env.rating.Rate(context.Background(), session.ID, 3.0, 1, false); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestRateLikedMovesToBackAndNarrowsDie(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 3, 5)
	session := env.openSession(t)
	ctx := context.Background()

	selectPending(t, env, session, threads[0].ID)
	result, err := env.rating.Rate(ctx, session.ID, 4.5, 1, false)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}

	if result.QueueMove != types.QueueMoveBack {
		t.Errorf("queue move = %q, want back", result.QueueMove)
	}
	if result.DieAfter != 4 {
		t.Errorf("die after = %d, want stepped down to 4", result.DieAfter)
	}
	if result.Thread.IssuesRemaining != 4 {
		t.Errorf("issues remaining = %d, want 4", result.Thread.IssuesRemaining)
	}
	if result.Completed || result.SessionEnded {
		t.Error("unexpected completion or session end")
	}

	got := env.activeOrder(t)
	want := []string{"Thread 2", "Thread 3", "Thread 1"}
	if !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	reloaded := env.reloadSession(t, session.ID)
	if reloaded.PendingThreadID != nil {
		t.Error("pending thread not cleared after rating")
	}
	die, err := env.session.CurrentDie(ctx, reloaded)
	if err != nil {
		t.Fatalf("current die: %v", err)
	}
	if die != 4 {
		t.Errorf("current die = %d, want 4", die)
	}
}

func TestRateDislikedMovesToFrontAndWidensDie(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 3, 5)
	session := env.openSession(t)

	selectPending(t, env, session, threads[2].ID)
	result, err := env.rating.Rate(context.Background(), session.ID, 2.0, 1, false)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}

	if result.QueueMove != types.QueueMoveFront {
		t.Errorf("queue move = %q, want front", result.QueueMove)
	}
	if result.DieAfter != 8 {
		t.Errorf("die after = %d, want stepped up to 8", result.DieAfter)
	}

	got := env.activeOrder(t)
	want := []string{"Thread 3", "Thread 1", "Thread 2"}
	if !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRateCompletion(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 3, 2)
	session := env.openSession(t)
	ctx := context.Background()

	selectPending(t, env, session, threads[1].ID)
	result, err := env.rating.Rate(ctx, session.ID, 4.0, 2, false)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}

	if !result.Completed {
		t.Fatal("thread should have completed")
	}
	if result.Thread.Status != types.ThreadStatusCompleted {
		t.Errorf("status = %q, want completed", result.Thread.Status)
	}
	if result.Thread.IssuesRemaining != 0 {
		t.Errorf("issues remaining = %d, want 0", result.Thread.IssuesRemaining)
	}

	// Remaining actives close ranks.
	got := env.activeOrder(t)
	want := []string{"Thread 1", "Thread 3"}
	if !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRateOverReadClampsToZero(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 2, 1)
	session := env.openSession(t)

	selectPending(t, env, session, threads[0].ID)
	result, err := env.rating.Rate(context.Background(), session.ID, 3.0, 5, false)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if result.Thread.IssuesRemaining != 0 {
		t.Errorf("issues remaining = %d, want clamped to 0", result.Thread.IssuesRemaining)
	}
	if !result.Completed {
		t.Error("over-read thread should complete")
	}
}

func TestRateWritesEventAndSnapshot(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 2, 5)
	session := env.openSession(t)
	ctx := context.Background()

	selectPending(t, env, session, threads[0].ID)
	result, err := env.rating.Rate(ctx, session.ID, 4.5, 1, false)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}

	if result.Event.Rating == nil || *result.Event.Rating != 4.5 {
		t.Errorf("event rating = %v, want 4.5", result.Event.Rating)
	}
	if result.Event.IssuesRead == nil || *result.Event.IssuesRead != 1 {
		t.Errorf("event issues_read = %v, want 1", result.Event.IssuesRead)
	}
	if result.Event.DieAfter == nil || *result.Event.DieAfter != 4 {
		t.Errorf("event die_after = %v, want 4", result.Event.DieAfter)
	}

	if result.Snapshot == nil {
		t.Fatal("no snapshot written")
	}
	if result.Snapshot.EventID == nil || *result.Snapshot.EventID != result.Event.ID {
		t.Errorf("snapshot event ref = %v, want %s", result.Snapshot.EventID, result.Event.ID)
	}

	// The snapshot preserves the pre-rating state: full issues, original spot.
	var states map[string]types.ThreadState
	if err := json.Unmarshal(result.Snapshot.ThreadStates, &states); err != nil {
		t.Fatalf("decode thread states: %v", err)
	}
	frozen, ok := states[threads[0].ID.String()]
	if !ok {
		t.Fatal("rated thread missing from snapshot")
	}
	if frozen.IssuesRemaining != 5 {
		t.Errorf("frozen issues = %d, want the pre-rating 5", frozen.IssuesRemaining)
	}
	if frozen.QueuePosition != 1 {
		t.Errorf("frozen position = %d, want the pre-rating 1", frozen.QueuePosition)
	}
}

func TestRateFinishSession(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 2, 5)
	session := env.openSession(t)

	selectPending(t, env, session, threads[0].ID)
	result, err := env.rating.Rate(context.Background(), session.ID, 3.0, 1, true)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !result.SessionEnded {
		t.Error("session should have ended")
	}
	reloaded := env.reloadSession(t, session.ID)
	if reloaded.EndedAt == nil {
		t.Error("ended_at not persisted")
	}
}

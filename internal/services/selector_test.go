package services

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/types"
)

func seedRNG(env *testEnv, seed int64) {
	env.selector.(*selectorService).rng = rand.New(rand.NewSource(seed))
}

func TestRollEmptyPool(t *testing.T) {
	env := newTestEnv(t)
	session := env.openSession(t)

	if _, err := env.selector.Roll(context.Background(), session.ID, types.SelectionMethodRandom); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation for empty pool", err)
	}
}

func TestRollRejectsUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	env.seedThreads(t, 3, 3)
	session := env.openSession(t)

	if _, err := env.selector.Roll(context.Background(), session.ID, "psychic"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation for unknown method", err)
	}
}

func TestRollStaysInsideDiePrefix(t *testing.T) {
	env := newTestEnv(t)
	env.seedThreads(t, 10, 3)
	session := env.openSession(t)
	ctx := context.Background()

	// Start die is 6, queue has 10 threads: only positions 1..6 are eligible.
	for seed := int64(0); seed < 20; seed++ {
		seedRNG(env, seed)
		result, err := env.selector.Roll(ctx, session.ID, types.SelectionMethodRandom)
		if err != nil {
			t.Fatalf("roll (seed %d): %v", seed, err)
		}
		if result.Die != 6 {
			t.Fatalf("die = %d, want 6", result.Die)
		}
		if result.Index < 1 || result.Index > 6 {
			t.Fatalf("index = %d, want within [1, 6]", result.Index)
		}
		if result.Thread.QueuePosition != result.Index {
			t.Fatalf("thread position %d does not match index %d", result.Thread.QueuePosition, result.Index)
		}
	}
}

func TestRollShortQueueUsesWholePool(t *testing.T) {
	env := newTestEnv(t)
	env.seedThreads(t, 2, 3)
	session := env.openSession(t)

	seedRNG(env, 7)
	result, err := env.selector.Roll(context.Background(), session.ID, types.SelectionMethodRandom)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if result.Die != 6 {
		t.Errorf("die = %d, want 6", result.Die)
	}
	if result.Index < 1 || result.Index > 2 {
		t.Errorf("index = %d, want within [1, 2]", result.Index)
	}
}

func TestRollSetsPendingAndLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	env.seedThreads(t, 4, 3)
	session := env.openSession(t)
	ctx := context.Background()

	seedRNG(env, 1)
	result, err := env.selector.Roll(ctx, session.ID, types.SelectionMethodRandom)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}

	reloaded := env.reloadSession(t, session.ID)
	if reloaded.PendingThreadID == nil || *reloaded.PendingThreadID != result.Thread.ID {
		t.Errorf("pending = %v, want %s", reloaded.PendingThreadID, result.Thread.ID)
	}
	if result.Event.Type != types.EventTypeRoll {
		t.Errorf("event type = %q, want roll", result.Event.Type)
	}
	if result.Event.SelectionMethod == nil || *result.Event.SelectionMethod != types.SelectionMethodRandom {
		t.Errorf("selection method = %v, want random", result.Event.SelectionMethod)
	}
	if result.Event.Result == nil || *result.Event.Result != result.Index {
		t.Errorf("event result = %v, want %d", result.Event.Result, result.Index)
	}
}

func TestRollSkipsSnoozedThreads(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 3, 3)
	session := env.openSession(t)
	ctx := context.Background()

	session.SetSnoozedIDs([]uuid.UUID{threads[0].ID, threads[1].ID})
	if err := env.sessionRepo.Save(ctx, nil, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	for seed := int64(0); seed < 10; seed++ {
		seedRNG(env, seed)
		result, err := env.selector.Roll(ctx, session.ID, types.SelectionMethodRandom)
		if err != nil {
			t.Fatalf("roll (seed %d): %v", seed, err)
		}
		if result.Thread.ID != threads[2].ID {
			t.Fatalf("selected %q, want the only unsnoozed thread", result.Thread.Title)
		}
	}
}

func TestOverride(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 5, 3)
	session := env.openSession(t)
	ctx := context.Background()

	// Snooze the target first: an override must unsnooze it.
	session.SetSnoozedIDs([]uuid.UUID{threads[4].ID})
	if err := env.sessionRepo.Save(ctx, nil, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	result, err := env.selector.Override(ctx, session.ID, threads[4].ID)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if result.Index != 0 {
		t.Errorf("override index = %d, want 0", result.Index)
	}
	if result.Event.SelectionMethod == nil || *result.Event.SelectionMethod != types.SelectionMethodOverride {
		t.Errorf("selection method = %v, want override", result.Event.SelectionMethod)
	}

	reloaded := env.reloadSession(t, session.ID)
	if reloaded.PendingThreadID == nil || *reloaded.PendingThreadID != threads[4].ID {
		t.Errorf("pending = %v, want %s", reloaded.PendingThreadID, threads[4].ID)
	}
	if reloaded.IsSnoozed(threads[4].ID) {
		t.Error("override left the thread snoozed")
	}
}

func TestReplacingPendingThreadLogsSkipEvent(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 4, 3)
	session := env.openSession(t)
	ctx := context.Background()

	if _, err := env.selector.Override(ctx, session.ID, threads[0].ID); err != nil {
		t.Fatalf("first selection: %v", err)
	}
	// Selecting the same thread again abandons nothing.
	if _, err := env.selector.Override(ctx, session.ID, threads[0].ID); err != nil {
		t.Fatalf("repeat selection: %v", err)
	}
	var skipped []*types.Event
	if err := env.db.Where("type = ?", types.EventTypeRolledButSkipped).Find(&skipped).Error; err != nil {
		t.Fatalf("load skip events: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("skip events after re-selecting the same thread = %d, want 0", len(skipped))
	}

	// Picking a different thread abandons the first one unrated.
	if _, err := env.selector.Override(ctx, session.ID, threads[1].ID); err != nil {
		t.Fatalf("replacing selection: %v", err)
	}
	if err := env.db.Where("type = ?", types.EventTypeRolledButSkipped).Find(&skipped).Error; err != nil {
		t.Fatalf("load skip events: %v", err)
	}
	if len(skipped) != 1 {
		t.Fatalf("skip events = %d, want 1", len(skipped))
	}
	if skipped[0].ThreadID == nil || *skipped[0].ThreadID != threads[0].ID {
		t.Errorf("skip event thread = %v, want the abandoned %s", skipped[0].ThreadID, threads[0].ID)
	}
	if skipped[0].SessionID == nil || *skipped[0].SessionID != session.ID {
		t.Errorf("skip event session = %v, want %s", skipped[0].SessionID, session.ID)
	}

	reloaded := env.reloadSession(t, session.ID)
	if reloaded.PendingThreadID == nil || *reloaded.PendingThreadID != threads[1].ID {
		t.Errorf("pending = %v, want %s", reloaded.PendingThreadID, threads[1].ID)
	}
}

func TestOverrideRejectsCompletedThread(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 2, 3)
	session := env.openSession(t)

	if err := env.db.Model(&types.Thread{}).
		Where("id = ?", threads[0].ID).
		Update("status", types.ThreadStatusCompleted).Error; err != nil {
		t.Fatalf("complete thread: %v", err)
	}

	if _, err := env.selector.Override(context.Background(), session.ID, threads[0].ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
	if _, err := env.selector.Override(context.Background(), session.ID, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/types"
)

func TestGetOrCreateReusesOpenSession(t *testing.T) {
	env := newTestEnv(t)

	first := env.openSession(t)
	second := env.openSession(t)
	if first.ID != second.ID {
		t.Fatalf("got two sessions %s and %s, want one", first.ID, second.ID)
	}
	if first.StartDie != env.cfg.StartDie {
		t.Errorf("start die = %d, want %d", first.StartDie, env.cfg.StartDie)
	}

	snaps, err := env.snapshot.List(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want the single session-start snapshot", len(snaps))
	}
	if snaps[0].Description != SnapshotDescriptionSessionStart {
		t.Errorf("description = %q, want %q", snaps[0].Description, SnapshotDescriptionSessionStart)
	}
}

func TestGetOrCreateCreatesUser(t *testing.T) {
	env := newTestEnv(t)
	newcomer := uuid.New()

	if _, err := env.session.GetOrCreate(context.Background(), newcomer); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	exists, err := env.userRepo.Exists(context.Background(), nil, newcomer)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("user row was not created")
	}
}

func TestGetOrCreateStartsFreshAfterGap(t *testing.T) {
	env := newTestEnv(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.setNow(t, base)
	first := env.openSession(t)

	// Inside the gap window the same session comes back.
	env.setNow(t, base.Add(2*time.Hour))
	if again := env.openSession(t); again.ID != first.ID {
		t.Fatalf("session changed inside gap window")
	}

	// Past the gap the old session is abandoned and a new one starts.
	env.setNow(t, base.Add(time.Duration(env.cfg.SessionGapHours+1)*time.Hour))
	fresh := env.openSession(t)
	if fresh.ID == first.ID {
		t.Fatalf("expected a new session after the gap")
	}
}

func TestGetOpenNeverCreates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	open, err := env.session.GetOpen(ctx, env.userID)
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if open != nil {
		t.Fatal("got a session before any was started")
	}
	var snapCount int64
	if err := env.db.Model(&types.Snapshot{}).Count(&snapCount).Error; err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if snapCount != 0 {
		t.Errorf("snapshots written by a lookup = %d, want 0", snapCount)
	}

	created := env.openSession(t)
	open, err = env.session.GetOpen(ctx, env.userID)
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if open == nil || open.ID != created.ID {
		t.Fatalf("open = %v, want the started session %s", open, created.ID)
	}

	if _, err := env.session.End(ctx, created.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	open, err = env.session.GetOpen(ctx, env.userID)
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if open != nil {
		t.Error("ended session still reported open")
	}
}

func TestCurrentDie(t *testing.T) {
	env := newTestEnv(t)
	session := env.openSession(t)
	ctx := context.Background()

	die, err := env.session.CurrentDie(ctx, session)
	if err != nil {
		t.Fatalf("current die: %v", err)
	}
	if die != env.cfg.StartDie {
		t.Errorf("fresh session die = %d, want %d", die, env.cfg.StartDie)
	}

	// A rate event's die_after takes over.
	after := 10
	sid := session.ID
	if _, err := env.eventRepo.Create(ctx, nil, []*types.Event{{
		ID:        uuid.New(),
		SessionID: &sid,
		Type:      types.EventTypeRate,
		DieAfter:  &after,
		CreatedAt: time.Now().UTC(),
	}}); err != nil {
		t.Fatalf("seed rate event: %v", err)
	}
	die, err = env.session.CurrentDie(ctx, session)
	if err != nil {
		t.Fatalf("current die: %v", err)
	}
	if die != 10 {
		t.Errorf("die after rate = %d, want 10", die)
	}

	// Manual override wins over the event.
	manual := 20
	updated, err := env.session.SetManualDie(ctx, session.ID, &manual)
	if err != nil {
		t.Fatalf("set manual die: %v", err)
	}
	die, err = env.session.CurrentDie(ctx, updated)
	if err != nil {
		t.Fatalf("current die: %v", err)
	}
	if die != 20 {
		t.Errorf("manual die = %d, want 20", die)
	}

	// Clearing the override returns control to the event.
	updated, err = env.session.SetManualDie(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("clear manual die: %v", err)
	}
	die, err = env.session.CurrentDie(ctx, updated)
	if err != nil {
		t.Fatalf("current die: %v", err)
	}
	if die != 10 {
		t.Errorf("die after clearing override = %d, want 10", die)
	}
}

func TestSetManualDieRejectsNonLadderValues(t *testing.T) {
	env := newTestEnv(t)
	session := env.openSession(t)

	for _, bad := range []int{0, 3, 7, 100} {
		v := bad
		if _, err := env.session.SetManualDie(context.Background(), session.ID, &v); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("die %d err = %v, want validation", bad, err)
		}
	}
}

func TestSnooze(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 3, 3)
	session := env.openSession(t)
	ctx := context.Background()

	if err := env.db.Transaction(func(tx *gorm.DB) error {
		return env.session.SelectPendingTx(ctx, tx, session, threads[0].ID)
	}); err != nil {
		t.Fatalf("select pending: %v", err)
	}

	updated, event, err := env.session.Snooze(ctx, session.ID)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if updated.PendingThreadID != nil {
		t.Error("pending thread not cleared")
	}
	if !updated.IsSnoozed(threads[0].ID) {
		t.Error("thread not in the snoozed set")
	}
	if updated.ManualDie == nil || *updated.ManualDie != 8 {
		t.Errorf("manual die = %v, want stepped up to 8", updated.ManualDie)
	}
	if event.Type != types.EventTypeSnooze {
		t.Errorf("event type = %q, want snooze", event.Type)
	}
	if event.DieAfter == nil || *event.DieAfter != 8 {
		t.Errorf("event die_after = %v, want 8", event.DieAfter)
	}

	// Nothing pending anymore: a second snooze conflicts.
	if _, _, err := env.session.Snooze(ctx, session.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second snooze err = %v, want conflict", err)
	}
}

func TestEndClearsSnoozedSet(t *testing.T) {
	env := newTestEnv(t)
	threads := env.seedThreads(t, 2, 3)
	session := env.openSession(t)
	ctx := context.Background()

	session.SetSnoozedIDs([]uuid.UUID{threads[0].ID})
	if err := env.sessionRepo.Save(ctx, nil, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	ended, err := env.session.End(ctx, session.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.EndedAt == nil {
		t.Error("ended_at not set")
	}
	if len(ended.SnoozedIDs()) != 0 {
		t.Error("snoozed set not cleared on end")
	}
	if env.session.IsActive(ended) {
		t.Error("ended session still reported active")
	}
}

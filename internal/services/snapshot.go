package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/types"
)

const SnapshotDescriptionSessionStart = "Session start"

// SnapshotService freezes and restores full per-user thread state plus the
// session's dice settings. Snapshots are immutable; a restore writes new base
// state, re-creating threads deleted since the snapshot and deleting threads
// created after it.
type SnapshotService interface {
	WriteSessionStart(ctx context.Context, session *types.Session) (*types.Snapshot, error)
	WriteTx(ctx context.Context, tx *gorm.DB, session *types.Session, eventID *uuid.UUID, description string, threads []*types.Thread) (*types.Snapshot, error)
	List(ctx context.Context, sessionID uuid.UUID) ([]*types.Snapshot, error)
	Restore(ctx context.Context, snapshotID, userID uuid.UUID) (*types.Session, error)
}

type snapshotService struct {
	db           *gorm.DB
	log          *logger.Logger
	threadRepo   repos.ThreadRepo
	sessionRepo  repos.SessionRepo
	eventRepo    repos.EventRepo
	snapshotRepo repos.SnapshotRepo
	queueService QueueService
	writeBus     *bus.Bus
	now          func() time.Time
}

func NewSnapshotService(db *gorm.DB, log *logger.Logger, threadRepo repos.ThreadRepo, sessionRepo repos.SessionRepo, eventRepo repos.EventRepo, snapshotRepo repos.SnapshotRepo, queueService QueueService, writeBus *bus.Bus) SnapshotService {
	serviceLog := log.With("service", "SnapshotService")
	return &snapshotService{
		db:           db,
		log:          serviceLog,
		threadRepo:   threadRepo,
		sessionRepo:  sessionRepo,
		eventRepo:    eventRepo,
		snapshotRepo: snapshotRepo,
		queueService: queueService,
		writeBus:     writeBus,
		now:          time.Now,
	}
}

func (ss *snapshotService) WriteSessionStart(ctx context.Context, session *types.Session) (*types.Snapshot, error) {
	var snap *types.Snapshot
	err := withDeadlockRetry(ctx, ss.log, func() error {
		return ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			threads, err := ss.threadRepo.GetAllByUserID(ctx, tx, session.UserID)
			if err != nil {
				return err
			}
			s, err := ss.WriteTx(ctx, tx, session, nil, SnapshotDescriptionSessionStart, threads)
			if err != nil {
				return err
			}
			snap = s
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ss.writeBus.Publish(session.UserID, bus.SignalSnapshotsChanged)
	return snap, nil
}

// WriteTx records the given thread states (the caller decides whether those
// are pre- or post-mutation reads) together with the session's dice state.
func (ss *snapshotService) WriteTx(ctx context.Context, tx *gorm.DB, session *types.Session, eventID *uuid.UUID, description string, threads []*types.Thread) (*types.Snapshot, error) {
	states := make(map[string]types.ThreadState, len(threads))
	for _, t := range threads {
		states[t.ID.String()] = freezeThread(t)
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return nil, err
	}
	sessionState := types.SessionState{StartDie: session.StartDie, ManualDie: session.ManualDie}
	sessionJSON, err := json.Marshal(sessionState)
	if err != nil {
		return nil, err
	}

	snap := &types.Snapshot{
		ID:           uuid.New(),
		SessionID:    session.ID,
		EventID:      eventID,
		Description:  description,
		ThreadStates: datatypes.JSON(statesJSON),
		SessionState: datatypes.JSON(sessionJSON),
		CreatedAt:    ss.now().UTC(),
	}
	if _, err := ss.snapshotRepo.Create(ctx, tx, []*types.Snapshot{snap}); err != nil {
		return nil, err
	}
	return snap, nil
}

func (ss *snapshotService) List(ctx context.Context, sessionID uuid.UUID) ([]*types.Snapshot, error) {
	return ss.snapshotRepo.GetBySessionID(ctx, nil, sessionID)
}

// Restore is scoped to the snapshot's owner: a snapshot belonging to another
// user's session reads as missing.
func (ss *snapshotService) Restore(ctx context.Context, snapshotID, userID uuid.UUID) (*types.Session, error) {
	snap, err := ss.snapshotRepo.GetByID(ctx, nil, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperr.NotFound("snapshot %s", snapshotID)
	}

	var restored *types.Session
	err = withDeadlockRetry(ctx, ss.log, func() error {
		return ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			session, err := ss.sessionRepo.GetByID(ctx, tx, snap.SessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return apperr.NotFound("session %s for snapshot %s", snap.SessionID, snap.ID)
			}
			if session.UserID != userID {
				return apperr.NotFound("snapshot %s", snap.ID)
			}

			var states map[string]types.ThreadState
			if err := json.Unmarshal(snap.ThreadStates, &states); err != nil {
				return apperr.IntegrityViolation("snapshot %s has undecodable thread states: %v", snap.ID, err)
			}

			current, err := ss.threadRepo.GetAllByUserID(ctx, tx, session.UserID)
			if err != nil {
				return err
			}
			currentByID := make(map[string]*types.Thread, len(current))
			for _, t := range current {
				currentByID[t.ID.String()] = t
			}

			// Threads created after the snapshot go away. Event refs are
			// nulled in one batch first.
			var toDelete []uuid.UUID
			for key, t := range currentByID {
				if _, ok := states[key]; !ok {
					toDelete = append(toDelete, t.ID)
				}
			}
			if len(toDelete) > 0 {
				if err := ss.eventRepo.NullThreadRefs(ctx, tx, toDelete); err != nil {
					return err
				}
				if err := ss.threadRepo.DeleteByIDs(ctx, tx, toDelete); err != nil {
					return err
				}
			}

			for key, state := range states {
				id, err := uuid.Parse(key)
				if err != nil {
					return apperr.IntegrityViolation("snapshot %s has bad thread key %q", snap.ID, key)
				}
				if existing, ok := currentByID[key]; ok {
					thawThread(existing, state)
					if err := ss.threadRepo.Save(ctx, tx, existing); err != nil {
						return err
					}
					continue
				}
				// Deleted since the snapshot: reconstruct with the captured id.
				rebuilt := &types.Thread{ID: id}
				thawThread(rebuilt, state)
				if _, err := ss.threadRepo.Create(ctx, tx, []*types.Thread{rebuilt}); err != nil {
					return err
				}
			}

			if len(snap.SessionState) > 0 {
				var sessionState types.SessionState
				if err := json.Unmarshal(snap.SessionState, &sessionState); err != nil {
					return apperr.IntegrityViolation("snapshot %s has undecodable session state: %v", snap.ID, err)
				}
				session.StartDie = sessionState.StartDie
				session.ManualDie = sessionState.ManualDie
				if err := ss.sessionRepo.Save(ctx, tx, session); err != nil {
					return err
				}
			}

			// Snapshots capture dense positions, but guard anyway: fix the
			// queue before commit rather than committing a broken invariant.
			if err := ss.queueService.VerifyDenseTx(ctx, tx, session.UserID); err != nil {
				ss.log.Warn("restore left non-dense queue, renormalizing", "snapshotID", snap.ID, "error", err)
				if err := ss.queueService.NormalizeTx(ctx, tx, session.UserID); err != nil {
					return err
				}
				if err := ss.queueService.VerifyDenseTx(ctx, tx, session.UserID); err != nil {
					return err
				}
			}

			restored = session
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	ss.writeBus.Publish(restored.UserID, bus.SignalThreadsChanged)
	ss.writeBus.Publish(restored.UserID, bus.SignalSessionChanged)
	return restored, nil
}

func freezeThread(t *types.Thread) types.ThreadState {
	return types.ThreadState{
		UserID:          t.UserID,
		Title:           t.Title,
		Format:          t.Format,
		IssuesRemaining: t.IssuesRemaining,
		QueuePosition:   t.QueuePosition,
		Status:          t.Status,
		LastRating:      copyFloat(t.LastRating),
		LastActivityAt:  copyTimeUTC(t.LastActivityAt),
		LastReviewAt:    copyTimeUTC(t.LastReviewAt),
		ReviewURL:       t.ReviewURL,
		Notes:           t.Notes,
		IsTest:          t.IsTest,
		CreatedAt:       t.CreatedAt.UTC(),
	}
}

func thawThread(t *types.Thread, state types.ThreadState) {
	t.UserID = state.UserID
	t.Title = state.Title
	t.Format = state.Format
	t.IssuesRemaining = state.IssuesRemaining
	t.QueuePosition = state.QueuePosition
	t.Status = state.Status
	t.LastRating = copyFloat(state.LastRating)
	t.LastActivityAt = copyTimeUTC(state.LastActivityAt)
	t.LastReviewAt = copyTimeUTC(state.LastReviewAt)
	t.ReviewURL = state.ReviewURL
	t.Notes = state.Notes
	t.IsTest = state.IsTest
	t.CreatedAt = state.CreatedAt
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTimeUTC(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := v.UTC()
	return &c
}

package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/config"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/types"
)

// QueueService keeps each user's active threads on a dense 1..N position
// sequence. Every public operation runs in one transaction and renormalizes
// first when it finds gaps or duplicates, so the density invariant holds on
// commit even against a corrupted starting state.
type QueueService interface {
	GetRollPool(ctx context.Context, userID uuid.UUID) ([]*types.Thread, error)
	GetStale(ctx context.Context, userID uuid.UUID, days int) ([]*types.Thread, error)
	MoveToFront(ctx context.Context, threadID, userID uuid.UUID) error
	MoveToBack(ctx context.Context, threadID, userID uuid.UUID) error
	MoveToPosition(ctx context.Context, threadID, userID uuid.UUID, newPosition int) error

	// Tx variants for callers composing larger transactions (rating, restore).
	GetRollPoolTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, session *types.Session) ([]*types.Thread, error)
	MoveToFrontTx(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID) (bool, error)
	MoveToBackTx(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID) (bool, error)
	NormalizeTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
	VerifyDenseTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
	InsertAtFrontTx(ctx context.Context, tx *gorm.DB, thread *types.Thread) error
}

type queueService struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         *config.Config
	threadRepo  repos.ThreadRepo
	eventRepo   repos.EventRepo
	sessionRepo repos.SessionRepo
	writeBus    *bus.Bus
	now         func() time.Time
}

func NewQueueService(db *gorm.DB, log *logger.Logger, cfg *config.Config, threadRepo repos.ThreadRepo, eventRepo repos.EventRepo, sessionRepo repos.SessionRepo, writeBus *bus.Bus) QueueService {
	serviceLog := log.With("service", "QueueService")
	return &queueService{
		db:          db,
		log:         serviceLog,
		cfg:         cfg,
		threadRepo:  threadRepo,
		eventRepo:   eventRepo,
		sessionRepo: sessionRepo,
		writeBus:    writeBus,
		now:         time.Now,
	}
}

func (qs *queueService) GetRollPool(ctx context.Context, userID uuid.UUID) ([]*types.Thread, error) {
	cutoff := qs.now().UTC().Add(-time.Duration(qs.cfg.SessionGapHours) * time.Hour)
	session, err := qs.sessionRepo.GetOpenSince(ctx, nil, userID, cutoff)
	if err != nil {
		return nil, err
	}
	return qs.GetRollPoolTx(ctx, nil, userID, session)
}

// GetRollPoolTx returns active threads in queue order minus the session's
// snoozed set. session may be nil (no open session, nothing snoozed).
func (qs *queueService) GetRollPoolTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, session *types.Session) ([]*types.Thread, error) {
	threads, err := qs.threadRepo.GetActiveByUserID(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return threads, nil
	}
	snoozed := make(map[uuid.UUID]bool)
	for _, id := range session.SnoozedIDs() {
		snoozed[id] = true
	}
	pool := make([]*types.Thread, 0, len(threads))
	for _, t := range threads {
		if snoozed[t.ID] {
			continue
		}
		pool = append(pool, t)
	}
	return pool, nil
}

func (qs *queueService) GetStale(ctx context.Context, userID uuid.UUID, days int) ([]*types.Thread, error) {
	if days < 0 {
		return nil, apperr.Validation("days must be >= 0, got %d", days)
	}
	cutoff := qs.now().UTC().AddDate(0, 0, -days)
	return qs.threadRepo.GetStale(ctx, nil, userID, cutoff)
}

func (qs *queueService) MoveToFront(ctx context.Context, threadID, userID uuid.UUID) error {
	return qs.moveOp(ctx, threadID, userID, func(tx *gorm.DB) (bool, error) {
		return qs.MoveToFrontTx(ctx, tx, threadID, userID)
	})
}

func (qs *queueService) MoveToBack(ctx context.Context, threadID, userID uuid.UUID) error {
	return qs.moveOp(ctx, threadID, userID, func(tx *gorm.DB) (bool, error) {
		return qs.MoveToBackTx(ctx, tx, threadID, userID)
	})
}

func (qs *queueService) MoveToPosition(ctx context.Context, threadID, userID uuid.UUID, newPosition int) error {
	if newPosition < 1 {
		newPosition = 1
	}
	return qs.moveOp(ctx, threadID, userID, func(tx *gorm.DB) (bool, error) {
		return qs.moveToPositionTx(ctx, tx, threadID, userID, newPosition)
	})
}

// moveOp wraps one structural change in a transaction, appends a reorder
// event when the target's observed position changed, and signals the bus.
func (qs *queueService) moveOp(ctx context.Context, threadID, userID uuid.UUID, move func(tx *gorm.DB) (bool, error)) error {
	err := withDeadlockRetry(ctx, qs.log, func() error {
		return qs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			target, err := qs.threadRepo.GetOwned(ctx, tx, threadID, userID)
			if err != nil {
				return err
			}
			if target == nil {
				return apperr.NotFound("thread %s", threadID)
			}
			if target.Status != types.ThreadStatusActive {
				return apperr.Conflict("thread %s is not active", threadID)
			}
			moved, err := move(tx)
			if err != nil {
				return err
			}
			if moved {
				tid := threadID
				event := &types.Event{
					ID:        uuid.New(),
					Type:      types.EventTypeReorder,
					ThreadID:  &tid,
					CreatedAt: qs.now().UTC(),
				}
				if _, err := qs.eventRepo.Create(ctx, tx, []*types.Event{event}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	qs.writeBus.Publish(userID, bus.SignalThreadsChanged)
	return nil
}

func (qs *queueService) MoveToFrontTx(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID) (bool, error) {
	threads, observedBefore, idx, err := qs.loadNormalized(ctx, tx, threadID, userID)
	if err != nil {
		return false, err
	}
	if idx == 0 {
		return observedBefore != 1, nil
	}
	pos := threads[idx].QueuePosition
	if err := qs.threadRepo.ShiftPositions(ctx, tx, userID, 1, pos-1, +1); err != nil {
		return false, err
	}
	if err := qs.threadRepo.SetPosition(ctx, tx, threadID, 1); err != nil {
		return false, err
	}
	return true, nil
}

func (qs *queueService) MoveToBackTx(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID) (bool, error) {
	threads, observedBefore, idx, err := qs.loadNormalized(ctx, tx, threadID, userID)
	if err != nil {
		return false, err
	}
	n := len(threads)
	if idx == n-1 {
		return observedBefore != n, nil
	}
	pos := threads[idx].QueuePosition
	if err := qs.threadRepo.ShiftPositions(ctx, tx, userID, pos+1, n, -1); err != nil {
		return false, err
	}
	if err := qs.threadRepo.SetPosition(ctx, tx, threadID, n); err != nil {
		return false, err
	}
	return true, nil
}

func (qs *queueService) moveToPositionTx(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID, newPosition int) (bool, error) {
	threads, observedBefore, idx, err := qs.loadNormalized(ctx, tx, threadID, userID)
	if err != nil {
		return false, err
	}
	n := len(threads)
	if newPosition > n {
		newPosition = n
	}
	oldPos := threads[idx].QueuePosition
	if oldPos == newPosition {
		return observedBefore != newPosition, nil
	}
	if oldPos < newPosition {
		// moving toward the back: (old, new] shifts down
		if err := qs.threadRepo.ShiftPositions(ctx, tx, userID, oldPos+1, newPosition, -1); err != nil {
			return false, err
		}
	} else {
		// moving toward the front: [new, old) shifts up
		if err := qs.threadRepo.ShiftPositions(ctx, tx, userID, newPosition, oldPos-1, +1); err != nil {
			return false, err
		}
	}
	if err := qs.threadRepo.SetPosition(ctx, tx, threadID, newPosition); err != nil {
		return false, err
	}
	return true, nil
}

// loadNormalized reads the active set under row locks, renormalizes if the
// positions are not dense, and locates the target. The returned observed
// position is the target's position before any renormalization.
func (qs *queueService) loadNormalized(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID) ([]*types.Thread, int, int, error) {
	threads, err := qs.threadRepo.GetActiveByUserID(ctx, tx, userID, true)
	if err != nil {
		return nil, 0, 0, err
	}
	observedBefore := 0
	for _, t := range threads {
		if t.ID == threadID {
			observedBefore = t.QueuePosition
		}
	}
	if observedBefore == 0 {
		return nil, 0, 0, apperr.NotFound("thread %s not in active queue", threadID)
	}
	if !isDense(threads) {
		if err := qs.renormalize(ctx, tx, threads); err != nil {
			return nil, 0, 0, err
		}
	}
	idx := -1
	for i, t := range threads {
		if t.ID == threadID {
			idx = i
			break
		}
	}
	return threads, observedBefore, idx, nil
}

// isDense expects threads sorted by (queue_position, id).
func isDense(threads []*types.Thread) bool {
	for i, t := range threads {
		if t.QueuePosition != i+1 {
			return false
		}
	}
	return true
}

// renormalize reassigns 1..N in the current (queue_position, id) order and
// updates the in-memory slice to match.
func (qs *queueService) renormalize(ctx context.Context, tx *gorm.DB, threads []*types.Thread) error {
	for i, t := range threads {
		want := i + 1
		if t.QueuePosition == want {
			continue
		}
		if err := qs.threadRepo.SetPosition(ctx, tx, t.ID, want); err != nil {
			return err
		}
		t.QueuePosition = want
	}
	return nil
}

func (qs *queueService) NormalizeTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	threads, err := qs.threadRepo.GetActiveByUserID(ctx, tx, userID, true)
	if err != nil {
		return err
	}
	return qs.renormalize(ctx, tx, threads)
}

// VerifyDenseTx is the post-operation invariant check: active positions must
// be exactly {1..N}.
func (qs *queueService) VerifyDenseTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	threads, err := qs.threadRepo.GetActiveByUserID(ctx, tx, userID, false)
	if err != nil {
		return err
	}
	if !isDense(threads) {
		return apperr.IntegrityViolation("queue positions for user %s are not dense", userID)
	}
	return nil
}

// InsertAtFrontTx shifts every active thread down one slot and places the
// (already persisted) thread at position 1. Used by reactivation.
func (qs *queueService) InsertAtFrontTx(ctx context.Context, tx *gorm.DB, thread *types.Thread) error {
	count, err := qs.threadRepo.CountActive(ctx, tx, thread.UserID)
	if err != nil {
		return err
	}
	if err := qs.threadRepo.ShiftPositions(ctx, tx, thread.UserID, 1, int(count), +1); err != nil {
		return err
	}
	thread.QueuePosition = 1
	return qs.threadRepo.SetPosition(ctx, tx, thread.ID, 1)
}

package services

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/types"
)

// RollResult is what a selection hands back to the caller: the chosen thread,
// its 1-based index inside the rolled prefix (0 for overrides), the die that
// sized the prefix, and the recorded event.
type RollResult struct {
	Thread  *types.Thread  `json:"thread"`
	Index   int            `json:"index"`
	Die     int            `json:"die"`
	Event   *types.Event   `json:"event"`
	Session *types.Session `json:"session"`
}

// SelectorService picks the next read from the die-sized prefix of the roll
// pool. Selection never mutates the queue; the rate or snooze that follows
// does.
type SelectorService interface {
	Roll(ctx context.Context, sessionID uuid.UUID, method string) (*RollResult, error)
	Override(ctx context.Context, sessionID, threadID uuid.UUID) (*RollResult, error)
}

type selectorService struct {
	db             *gorm.DB
	log            *logger.Logger
	sessionService SessionService
	queueService   QueueService
	threadRepo     repos.ThreadRepo
	sessionRepo    repos.SessionRepo
	eventRepo      repos.EventRepo
	writeBus       *bus.Bus
	now            func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSelectorService seeds one PRNG per process from crypto/rand so roll
// sequences do not repeat across restarts. Tests pass their own rng for
// deterministic draws.
func NewSelectorService(gdb *gorm.DB, log *logger.Logger, sessionService SessionService, queueService QueueService, threadRepo repos.ThreadRepo, sessionRepo repos.SessionRepo, eventRepo repos.EventRepo, writeBus *bus.Bus, rng *rand.Rand) SelectorService {
	serviceLog := log.With("service", "SelectorService")
	if rng == nil {
		var seed int64
		if err := binary.Read(crand.Reader, binary.BigEndian, &seed); err != nil {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	return &selectorService{
		db:             gdb,
		log:            serviceLog,
		sessionService: sessionService,
		queueService:   queueService,
		threadRepo:     threadRepo,
		sessionRepo:    sessionRepo,
		eventRepo:      eventRepo,
		writeBus:       writeBus,
		now:            time.Now,
		rng:            rng,
	}
}

func (ss *selectorService) draw(k int) int {
	ss.rngMu.Lock()
	defer ss.rngMu.Unlock()
	return ss.rng.Intn(k)
}

func (ss *selectorService) Roll(ctx context.Context, sessionID uuid.UUID, method string) (*RollResult, error) {
	if method != types.SelectionMethodRandom && method != types.SelectionMethodReroll {
		return nil, apperr.Validation("selection method %q must be %q or %q", method, types.SelectionMethodRandom, types.SelectionMethodReroll)
	}

	var result *RollResult
	err := withDeadlockRetry(ctx, ss.log, func() error {
		return ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			session, err := ss.sessionRepo.GetByID(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return apperr.NotFound("session %s", sessionID)
			}
			if !ss.sessionService.IsActive(session) {
				return apperr.Conflict("session %s is not open", sessionID)
			}

			pool, err := ss.queueService.GetRollPoolTx(ctx, tx, session.UserID, session)
			if err != nil {
				return err
			}
			die, err := ss.sessionService.CurrentDieTx(ctx, tx, session)
			if err != nil {
				return err
			}
			k := len(pool)
			if die < k {
				k = die
			}
			if k == 0 {
				return apperr.Validation("roll pool is empty")
			}

			i := ss.draw(k)
			thread := pool[i]
			index := i + 1

			event, err := ss.recordSelection(ctx, tx, session, thread, die, index, method)
			if err != nil {
				return err
			}
			result = &RollResult{Thread: thread, Index: index, Die: die, Event: event, Session: session}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ss.writeBus.Publish(result.Session.UserID, bus.SignalSessionChanged)
	return result, nil
}

// Override selects a specific thread, bypassing the die. Overriding a snoozed
// thread unsnoozes it; the event records result 0.
func (ss *selectorService) Override(ctx context.Context, sessionID, threadID uuid.UUID) (*RollResult, error) {
	var result *RollResult
	err := withDeadlockRetry(ctx, ss.log, func() error {
		return ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			session, err := ss.sessionRepo.GetByID(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return apperr.NotFound("session %s", sessionID)
			}
			if !ss.sessionService.IsActive(session) {
				return apperr.Conflict("session %s is not open", sessionID)
			}

			thread, err := ss.threadRepo.GetOwned(ctx, tx, threadID, session.UserID)
			if err != nil {
				return err
			}
			if thread == nil {
				return apperr.NotFound("thread %s", threadID)
			}
			if thread.Status != types.ThreadStatusActive {
				return apperr.Conflict("thread %s is not active", threadID)
			}

			die, err := ss.sessionService.CurrentDieTx(ctx, tx, session)
			if err != nil {
				return err
			}
			event, err := ss.recordSelection(ctx, tx, session, thread, die, 0, types.SelectionMethodOverride)
			if err != nil {
				return err
			}
			result = &RollResult{Thread: thread, Index: 0, Die: die, Event: event, Session: session}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ss.writeBus.Publish(result.Session.UserID, bus.SignalSessionChanged)
	return result, nil
}

func (ss *selectorService) recordSelection(ctx context.Context, tx *gorm.DB, session *types.Session, thread *types.Thread, die, index int, method string) (*types.Event, error) {
	sid := session.ID
	tid := thread.ID
	now := ss.now().UTC()

	events := make([]*types.Event, 0, 2)
	// A reroll or override that replaces a different pending thread abandons
	// it unrated; that abandonment goes on the record.
	if session.PendingThreadID != nil && *session.PendingThreadID != thread.ID {
		abandoned := *session.PendingThreadID
		events = append(events, &types.Event{
			ID:        uuid.New(),
			SessionID: &sid,
			Type:      types.EventTypeRolledButSkipped,
			ThreadID:  &abandoned,
			CreatedAt: now,
		})
	}
	event := &types.Event{
		ID:               uuid.New(),
		SessionID:        &sid,
		Type:             types.EventTypeRoll,
		SelectedThreadID: &tid,
		Die:              &die,
		Result:           &index,
		SelectionMethod:  &method,
		CreatedAt:        now,
	}
	events = append(events, event)
	if _, err := ss.eventRepo.Create(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := ss.sessionService.SelectPendingTx(ctx, tx, session, thread.ID); err != nil {
		return nil, err
	}
	return event, nil
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/config"
	"github.com/calebmoran/longbox-backend/internal/db"
	"github.com/calebmoran/longbox-backend/internal/dice"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/types"
)

const defaultUserName = "Reader"

// SessionService owns the session lifecycle. GetOrCreate is the only way
// callers obtain a session; creation is serialized per user by an in-process
// mutex plus a store advisory lock, so concurrent first calls agree on one
// session.
type SessionService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*types.Session, error)
	GetOpen(ctx context.Context, userID uuid.UUID) (*types.Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (*types.Session, error)
	IsActive(session *types.Session) bool
	CurrentDie(ctx context.Context, session *types.Session) (int, error)
	CurrentDieTx(ctx context.Context, tx *gorm.DB, session *types.Session) (int, error)
	SetManualDie(ctx context.Context, sessionID uuid.UUID, die *int) (*types.Session, error)
	End(ctx context.Context, sessionID uuid.UUID) (*types.Session, error)
	Snooze(ctx context.Context, sessionID uuid.UUID) (*types.Session, *types.Event, error)
	SelectPendingTx(ctx context.Context, tx *gorm.DB, session *types.Session, threadID uuid.UUID) error
	EndTx(ctx context.Context, tx *gorm.DB, session *types.Session) error
}

type sessionService struct {
	db              *gorm.DB
	log             *logger.Logger
	cfg             *config.Config
	userRepo        repos.UserRepo
	sessionRepo     repos.SessionRepo
	eventRepo       repos.EventRepo
	snapshotService SnapshotService
	writeBus        *bus.Bus
	now             func() time.Time

	mu        sync.Mutex
	userLocks map[uuid.UUID]*sync.Mutex
}

func NewSessionService(gdb *gorm.DB, log *logger.Logger, cfg *config.Config, userRepo repos.UserRepo, sessionRepo repos.SessionRepo, eventRepo repos.EventRepo, snapshotService SnapshotService, writeBus *bus.Bus) SessionService {
	serviceLog := log.With("service", "SessionService")
	return &sessionService{
		db:              gdb,
		log:             serviceLog,
		cfg:             cfg,
		userRepo:        userRepo,
		sessionRepo:     sessionRepo,
		eventRepo:       eventRepo,
		snapshotService: snapshotService,
		writeBus:        writeBus,
		now:             time.Now,
		userLocks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *sessionService) gapCutoff() time.Time {
	return s.now().UTC().Add(-time.Duration(s.cfg.SessionGapHours) * time.Hour)
}

func (s *sessionService) userLock(userID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

func (s *sessionService) GetOrCreate(ctx context.Context, userID uuid.UUID) (*types.Session, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	// Fast path: an open session inside the gap window needs no lock.
	session, err := s.sessionRepo.GetOpenSince(ctx, nil, userID, s.gapCutoff())
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var created bool
	err = withDeadlockRetry(ctx, s.log, func() error {
		created = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := db.AdvisoryXactLock(tx, userID); err != nil {
				return err
			}
			// Re-check under the lock: another worker may have won.
			existing, err := s.sessionRepo.GetOpenSince(ctx, tx, userID, s.gapCutoff())
			if err != nil {
				return err
			}
			if existing != nil {
				session = existing
				return nil
			}
			now := s.now().UTC()
			fresh := &types.Session{
				ID:        uuid.New(),
				UserID:    userID,
				StartedAt: now,
				StartDie:  s.cfg.StartDie,
				CreatedAt: now,
			}
			fresh.SetSnoozedIDs(nil)
			if _, err := s.sessionRepo.Create(ctx, tx, []*types.Session{fresh}); err != nil {
				return err
			}
			session = fresh
			created = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if created {
		// The session-start snapshot is the restore point for "undo this
		// whole session"; it must exist before the first roll.
		if _, err := s.snapshotService.WriteSessionStart(ctx, session); err != nil {
			return nil, err
		}
		s.log.Info("session created", "userID", userID, "sessionID", session.ID, "startDie", session.StartDie)
		s.writeBus.Publish(userID, bus.SignalSessionChanged)
	}
	return session, nil
}

func (s *sessionService) ensureUser(ctx context.Context, userID uuid.UUID) error {
	exists, err := s.userRepo.Exists(ctx, nil, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	now := s.now().UTC()
	_, err = s.userRepo.Create(ctx, nil, []*types.User{{
		ID:        userID,
		Name:      defaultUserName,
		CreatedAt: now,
	}})
	return err
}

// GetOpen returns the user's open session inside the gap window, or nil.
// Unlike GetOrCreate it never starts one.
func (s *sessionService) GetOpen(ctx context.Context, userID uuid.UUID) (*types.Session, error) {
	return s.sessionRepo.GetOpenSince(ctx, nil, userID, s.gapCutoff())
}

func (s *sessionService) GetByID(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperr.NotFound("session %s", sessionID)
	}
	return session, nil
}

func (s *sessionService) IsActive(session *types.Session) bool {
	if session == nil || session.EndedAt != nil {
		return false
	}
	return !session.StartedAt.Before(s.gapCutoff())
}

func (s *sessionService) CurrentDie(ctx context.Context, session *types.Session) (int, error) {
	return s.CurrentDieTx(ctx, nil, session)
}

// CurrentDieTx resolves the die in effect: a manual override wins, then the
// most recent rate event's die_after, then the session's start die.
func (s *sessionService) CurrentDieTx(ctx context.Context, tx *gorm.DB, session *types.Session) (int, error) {
	if session.ManualDie != nil {
		return dice.Clamp(*session.ManualDie, s.cfg.StartDie), nil
	}
	rates, err := s.eventRepo.GetRateEventsDesc(ctx, tx, session.ID)
	if err != nil {
		return 0, err
	}
	for _, e := range rates {
		if e.DieAfter != nil {
			return dice.Clamp(*e.DieAfter, s.cfg.StartDie), nil
		}
	}
	return dice.Clamp(session.StartDie, s.cfg.StartDie), nil
}

// SetManualDie pins the die; die == nil returns control to the ladder.
func (s *sessionService) SetManualDie(ctx context.Context, sessionID uuid.UUID, die *int) (*types.Session, error) {
	if die != nil && !dice.Valid(*die) {
		return nil, apperr.Validation("die %d is not a ladder die", *die)
	}

	var session *types.Session
	err := withDeadlockRetry(ctx, s.log, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			loaded, err := s.sessionRepo.GetByID(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if loaded == nil {
				return apperr.NotFound("session %s", sessionID)
			}
			loaded.ManualDie = die
			if err := s.sessionRepo.Save(ctx, tx, loaded); err != nil {
				return err
			}
			session = loaded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.writeBus.Publish(session.UserID, bus.SignalSessionChanged)
	return session, nil
}

func (s *sessionService) End(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	var session *types.Session
	err := withDeadlockRetry(ctx, s.log, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			loaded, err := s.sessionRepo.GetByID(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if loaded == nil {
				return apperr.NotFound("session %s", sessionID)
			}
			if err := s.EndTx(ctx, tx, loaded); err != nil {
				return err
			}
			session = loaded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.writeBus.Publish(session.UserID, bus.SignalSessionChanged)
	return session, nil
}

// EndTx closes the session and clears the snoozed set. The pending thread is
// left in place as history.
func (s *sessionService) EndTx(ctx context.Context, tx *gorm.DB, session *types.Session) error {
	now := s.now().UTC()
	session.EndedAt = &now
	session.SetSnoozedIDs(nil)
	return s.sessionRepo.Save(ctx, tx, session)
}

// Snooze shelves the pending thread for the rest of the session and widens
// the die one rung.
func (s *sessionService) Snooze(ctx context.Context, sessionID uuid.UUID) (*types.Session, *types.Event, error) {
	var (
		session *types.Session
		event   *types.Event
	)
	err := withDeadlockRetry(ctx, s.log, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			loaded, err := s.sessionRepo.GetByID(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if loaded == nil {
				return apperr.NotFound("session %s", sessionID)
			}
			if !s.IsActive(loaded) {
				return apperr.Conflict("session %s is not open", sessionID)
			}
			if loaded.PendingThreadID == nil {
				return apperr.Conflict("no pending thread to snooze")
			}

			current, err := s.CurrentDieTx(ctx, tx, loaded)
			if err != nil {
				return err
			}
			after := dice.StepUp(current)
			pending := *loaded.PendingThreadID

			snoozed := loaded.SnoozedIDs()
			alreadySnoozed := false
			for _, id := range snoozed {
				if id == pending {
					alreadySnoozed = true
					break
				}
			}
			if !alreadySnoozed {
				snoozed = append(snoozed, pending)
			}
			loaded.SetSnoozedIDs(snoozed)
			loaded.ManualDie = &after
			loaded.PendingThreadID = nil
			now := s.now().UTC()
			loaded.PendingThreadUpdatedAt = &now
			if err := s.sessionRepo.Save(ctx, tx, loaded); err != nil {
				return err
			}

			sid := loaded.ID
			e := &types.Event{
				ID:        uuid.New(),
				SessionID: &sid,
				Type:      types.EventTypeSnooze,
				ThreadID:  &pending,
				DieAfter:  &after,
				CreatedAt: now,
			}
			if _, err := s.eventRepo.Create(ctx, tx, []*types.Event{e}); err != nil {
				return err
			}

			session = loaded
			event = e
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	s.writeBus.Publish(session.UserID, bus.SignalSessionChanged)
	return session, event, nil
}

// SelectPendingTx marks the thread as awaiting a rating. Selecting a snoozed
// thread (an override) unsnoozes it.
func (s *sessionService) SelectPendingTx(ctx context.Context, tx *gorm.DB, session *types.Session, threadID uuid.UUID) error {
	now := s.now().UTC()
	session.PendingThreadID = &threadID
	session.PendingThreadUpdatedAt = &now

	snoozed := session.SnoozedIDs()
	filtered := snoozed[:0]
	for _, id := range snoozed {
		if id != threadID {
			filtered = append(filtered, id)
		}
	}
	session.SetSnoozedIDs(filtered)
	return s.sessionRepo.Save(ctx, tx, session)
}

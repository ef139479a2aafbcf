package services

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/config"
	"github.com/calebmoran/longbox-backend/internal/dice"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/types"
)

type RateResult struct {
	Session      *types.Session  `json:"session"`
	Thread       *types.Thread   `json:"thread"`
	Event        *types.Event    `json:"event"`
	Snapshot     *types.Snapshot `json:"snapshot"`
	DieAfter     int             `json:"die_after"`
	QueueMove    string          `json:"queue_move"`
	Completed    bool            `json:"completed"`
	SessionEnded bool            `json:"session_ended"`
}

// RatingService is the single entry point after the user rates the pending
// thread. One transaction covers the issue decrement, the queue move, the
// ladder step, the rate event, the restore snapshot, and (optionally) the
// session end; any failure rolls the whole thing back.
type RatingService interface {
	Rate(ctx context.Context, sessionID uuid.UUID, rating float64, issuesRead int, finishSession bool) (*RateResult, error)
}

type ratingService struct {
	db              *gorm.DB
	log             *logger.Logger
	cfg             *config.Config
	sessionService  SessionService
	queueService    QueueService
	snapshotService SnapshotService
	threadRepo      repos.ThreadRepo
	sessionRepo     repos.SessionRepo
	eventRepo       repos.EventRepo
	writeBus        *bus.Bus
	now             func() time.Time
}

func NewRatingService(gdb *gorm.DB, log *logger.Logger, cfg *config.Config, sessionService SessionService, queueService QueueService, snapshotService SnapshotService, threadRepo repos.ThreadRepo, sessionRepo repos.SessionRepo, eventRepo repos.EventRepo, writeBus *bus.Bus) RatingService {
	serviceLog := log.With("service", "RatingService")
	return &ratingService{
		db:              gdb,
		log:             serviceLog,
		cfg:             cfg,
		sessionService:  sessionService,
		queueService:    queueService,
		snapshotService: snapshotService,
		threadRepo:      threadRepo,
		sessionRepo:     sessionRepo,
		eventRepo:       eventRepo,
		writeBus:        writeBus,
		now:             time.Now,
	}
}

func (rs *ratingService) validateRating(rating float64) error {
	if rating < rs.cfg.RatingMin || rating > rs.cfg.RatingMax {
		return apperr.Validation("rating %.2f out of range [%.1f, %.1f]", rating, rs.cfg.RatingMin, rs.cfg.RatingMax)
	}
	steps := (rating - rs.cfg.RatingMin) / rs.cfg.RatingStep
	if math.Abs(steps-math.Round(steps)) > 1e-9 {
		return apperr.Validation("rating %.2f is not a multiple of the %.1f step", rating, rs.cfg.RatingStep)
	}
	return nil
}

func (rs *ratingService) Rate(ctx context.Context, sessionID uuid.UUID, rating float64, issuesRead int, finishSession bool) (*RateResult, error) {
	if err := rs.validateRating(rating); err != nil {
		return nil, err
	}
	if issuesRead < 1 {
		return nil, apperr.Validation("issues_read must be >= 1, got %d", issuesRead)
	}

	var result *RateResult
	err := withDeadlockRetry(ctx, rs.log, func() error {
		return rs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			session, err := rs.sessionRepo.GetByID(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return apperr.NotFound("session %s", sessionID)
			}
			if !rs.sessionService.IsActive(session) {
				return apperr.Conflict("session %s is not open", sessionID)
			}
			if session.PendingThreadID == nil {
				return apperr.Conflict("no pending thread to rate")
			}

			thread, err := rs.threadRepo.GetOwned(ctx, tx, *session.PendingThreadID, session.UserID)
			if err != nil {
				return err
			}
			if thread == nil {
				return apperr.NotFound("pending thread %s", *session.PendingThreadID)
			}

			// Pre-mutation state is what the snapshot preserves: the point
			// the user can restore to if this rating was a mistake.
			preThreads, err := rs.threadRepo.GetAllByUserID(ctx, tx, session.UserID)
			if err != nil {
				return err
			}

			now := rs.now().UTC()
			newIssues := thread.IssuesRemaining - issuesRead
			if newIssues < 0 {
				newIssues = 0
			}
			thread.IssuesRemaining = newIssues
			thread.LastRating = &rating
			thread.LastActivityAt = &now
			completed := false
			if newIssues == 0 {
				thread.Status = types.ThreadStatusCompleted
				completed = true
			}
			if err := rs.threadRepo.Save(ctx, tx, thread); err != nil {
				return err
			}

			liked := rating >= rs.cfg.RatingThreshold
			queueMove := types.QueueMoveFront
			if liked {
				queueMove = types.QueueMoveBack
			}
			if err := rs.applyQueueMove(ctx, tx, thread, completed, liked); err != nil {
				return err
			}

			current, err := rs.sessionService.CurrentDieTx(ctx, tx, session)
			if err != nil {
				return err
			}
			dieAfter := dice.StepUp(current)
			if liked {
				dieAfter = dice.StepDown(current)
			}

			sid := session.ID
			tid := thread.ID
			event := &types.Event{
				ID:         uuid.New(),
				SessionID:  &sid,
				Type:       types.EventTypeRate,
				ThreadID:   &tid,
				Rating:     &rating,
				IssuesRead: &issuesRead,
				QueueMove:  &queueMove,
				DieAfter:   &dieAfter,
				CreatedAt:  now,
			}
			if _, err := rs.eventRepo.Create(ctx, tx, []*types.Event{event}); err != nil {
				return err
			}

			snap, err := rs.snapshotService.WriteTx(ctx, tx, session, &event.ID, "After rating", preThreads)
			if err != nil {
				return err
			}

			session.PendingThreadID = nil
			session.PendingThreadUpdatedAt = &now
			ended := false
			if finishSession {
				if err := rs.sessionService.EndTx(ctx, tx, session); err != nil {
					return err
				}
				ended = true
			} else {
				if err := rs.sessionRepo.Save(ctx, tx, session); err != nil {
					return err
				}
			}

			if err := rs.queueService.VerifyDenseTx(ctx, tx, session.UserID); err != nil {
				rs.log.Error("rate left non-dense queue", "sessionID", session.ID, "threadID", thread.ID, "error", err)
				return err
			}

			result = &RateResult{
				Session:      session,
				Thread:       thread,
				Event:        event,
				Snapshot:     snap,
				DieAfter:     dieAfter,
				QueueMove:    queueMove,
				Completed:    completed,
				SessionEnded: ended,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	rs.writeBus.Publish(result.Session.UserID, bus.SignalThreadsChanged)
	rs.writeBus.Publish(result.Session.UserID, bus.SignalSessionChanged)
	rs.writeBus.Publish(result.Session.UserID, bus.SignalSnapshotsChanged)
	return result, nil
}

// applyQueueMove reorders after a rating. An active thread moves through the
// normal queue ops. A thread that just completed left the active set, so the
// remaining actives close ranks and the completed thread keeps a cosmetic
// retained position at the chosen end; reactivation re-inserts it at the
// front regardless.
func (rs *ratingService) applyQueueMove(ctx context.Context, tx *gorm.DB, thread *types.Thread, completed, liked bool) error {
	if !completed {
		var err error
		if liked {
			_, err = rs.queueService.MoveToBackTx(ctx, tx, thread.ID, thread.UserID)
		} else {
			_, err = rs.queueService.MoveToFrontTx(ctx, tx, thread.ID, thread.UserID)
		}
		return err
	}

	if err := rs.queueService.NormalizeTx(ctx, tx, thread.UserID); err != nil {
		return err
	}
	retained := 1
	if liked {
		count, err := rs.threadRepo.CountActive(ctx, tx, thread.UserID)
		if err != nil {
			return err
		}
		retained = int(count) + 1
	}
	thread.QueuePosition = retained
	return rs.threadRepo.SetPosition(ctx, tx, thread.ID, retained)
}

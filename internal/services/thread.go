package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/apperr"
	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/types"
)

type ThreadInput struct {
	Title           string `json:"title"`
	Format          string `json:"format"`
	IssuesRemaining int    `json:"issues_remaining"`
	ReviewURL       string `json:"review_url"`
	Notes           string `json:"notes"`
	IsTest          bool   `json:"is_test"`
}

type ThreadUpdate struct {
	Title     *string `json:"title"`
	Format    *string `json:"format"`
	ReviewURL *string `json:"review_url"`
	Notes     *string `json:"notes"`
}

type ThreadService interface {
	Create(ctx context.Context, userID uuid.UUID, input ThreadInput) (*types.Thread, error)
	List(ctx context.Context, userID uuid.UUID) ([]*types.Thread, error)
	Get(ctx context.Context, threadID, userID uuid.UUID) (*types.Thread, error)
	Update(ctx context.Context, threadID, userID uuid.UUID, update ThreadUpdate) (*types.Thread, error)
	Delete(ctx context.Context, threadID, userID uuid.UUID) error
	Reactivate(ctx context.Context, threadID, userID uuid.UUID, issuesRemaining int) (*types.Thread, error)
}

type threadService struct {
	db           *gorm.DB
	log          *logger.Logger
	threadRepo   repos.ThreadRepo
	eventRepo    repos.EventRepo
	queueService QueueService
	writeBus     *bus.Bus
	now          func() time.Time
}

func NewThreadService(gdb *gorm.DB, log *logger.Logger, threadRepo repos.ThreadRepo, eventRepo repos.EventRepo, queueService QueueService, writeBus *bus.Bus) ThreadService {
	serviceLog := log.With("service", "ThreadService")
	return &threadService{
		db:           gdb,
		log:          serviceLog,
		threadRepo:   threadRepo,
		eventRepo:    eventRepo,
		queueService: queueService,
		writeBus:     writeBus,
		now:          time.Now,
	}
}

// Create appends a new active thread at the back of the queue.
func (ts *threadService) Create(ctx context.Context, userID uuid.UUID, input ThreadInput) (*types.Thread, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if input.IssuesRemaining < 1 {
		return nil, apperr.Validation("issues_remaining must be >= 1, got %d", input.IssuesRemaining)
	}

	var thread *types.Thread
	err := withDeadlockRetry(ctx, ts.log, func() error {
		return ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			count, err := ts.threadRepo.CountActive(ctx, tx, userID)
			if err != nil {
				return err
			}
			now := ts.now().UTC()
			t := &types.Thread{
				ID:              uuid.New(),
				UserID:          userID,
				Title:           title,
				Format:          strings.TrimSpace(input.Format),
				IssuesRemaining: input.IssuesRemaining,
				QueuePosition:   int(count) + 1,
				Status:          types.ThreadStatusActive,
				ReviewURL:       strings.TrimSpace(input.ReviewURL),
				Notes:           input.Notes,
				IsTest:          input.IsTest,
				CreatedAt:       now,
			}
			if _, err := ts.threadRepo.Create(ctx, tx, []*types.Thread{t}); err != nil {
				return err
			}
			thread = t
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ts.writeBus.Publish(userID, bus.SignalThreadsChanged)
	return thread, nil
}

func (ts *threadService) List(ctx context.Context, userID uuid.UUID) ([]*types.Thread, error) {
	return ts.threadRepo.GetAllByUserID(ctx, nil, userID)
}

func (ts *threadService) Get(ctx context.Context, threadID, userID uuid.UUID) (*types.Thread, error) {
	thread, err := ts.threadRepo.GetOwned(ctx, nil, threadID, userID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, apperr.NotFound("thread %s", threadID)
	}
	return thread, nil
}

func (ts *threadService) Update(ctx context.Context, threadID, userID uuid.UUID, update ThreadUpdate) (*types.Thread, error) {
	var thread *types.Thread
	err := withDeadlockRetry(ctx, ts.log, func() error {
		return ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			loaded, err := ts.threadRepo.GetOwned(ctx, tx, threadID, userID)
			if err != nil {
				return err
			}
			if loaded == nil {
				return apperr.NotFound("thread %s", threadID)
			}
			if update.Title != nil {
				title := strings.TrimSpace(*update.Title)
				if title == "" {
					return apperr.Validation("title cannot be empty")
				}
				loaded.Title = title
			}
			if update.Format != nil {
				loaded.Format = strings.TrimSpace(*update.Format)
			}
			if update.ReviewURL != nil {
				loaded.ReviewURL = strings.TrimSpace(*update.ReviewURL)
			}
			if update.Notes != nil {
				loaded.Notes = *update.Notes
			}
			if err := ts.threadRepo.Save(ctx, tx, loaded); err != nil {
				return err
			}
			thread = loaded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ts.writeBus.Publish(userID, bus.SignalThreadsChanged)
	return thread, nil
}

// Delete nulls weak event references in one batch, removes the thread, and
// closes the queue gap it leaves behind.
func (ts *threadService) Delete(ctx context.Context, threadID, userID uuid.UUID) error {
	err := withDeadlockRetry(ctx, ts.log, func() error {
		return ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			loaded, err := ts.threadRepo.GetOwned(ctx, tx, threadID, userID)
			if err != nil {
				return err
			}
			if loaded == nil {
				return apperr.NotFound("thread %s", threadID)
			}
			if err := ts.eventRepo.NullThreadRefs(ctx, tx, []uuid.UUID{threadID}); err != nil {
				return err
			}
			if err := ts.threadRepo.DeleteByIDs(ctx, tx, []uuid.UUID{threadID}); err != nil {
				return err
			}
			if loaded.Status == types.ThreadStatusActive {
				if err := ts.queueService.NormalizeTx(ctx, tx, userID); err != nil {
					return err
				}
			}
			// The audit row stays; its thread refs were just cascaded away.
			event := &types.Event{
				ID:        uuid.New(),
				Type:      types.EventTypeDelete,
				CreatedAt: ts.now().UTC(),
			}
			if _, err := ts.eventRepo.Create(ctx, tx, []*types.Event{event}); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	ts.writeBus.Publish(userID, bus.SignalThreadsChanged)
	return nil
}

// Reactivate brings a completed thread back with a fresh issue count and
// puts it at the front of the queue.
func (ts *threadService) Reactivate(ctx context.Context, threadID, userID uuid.UUID, issuesRemaining int) (*types.Thread, error) {
	if issuesRemaining < 1 {
		return nil, apperr.Validation("issues_remaining must be >= 1, got %d", issuesRemaining)
	}

	var thread *types.Thread
	err := withDeadlockRetry(ctx, ts.log, func() error {
		return ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			loaded, err := ts.threadRepo.GetOwned(ctx, tx, threadID, userID)
			if err != nil {
				return err
			}
			if loaded == nil {
				return apperr.NotFound("thread %s", threadID)
			}
			if loaded.Status == types.ThreadStatusActive {
				return apperr.Conflict("thread %s is already active", threadID)
			}
			loaded.Status = types.ThreadStatusActive
			loaded.IssuesRemaining = issuesRemaining
			if err := ts.threadRepo.Save(ctx, tx, loaded); err != nil {
				return err
			}
			if err := ts.queueService.InsertAtFrontTx(ctx, tx, loaded); err != nil {
				return err
			}
			thread = loaded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ts.writeBus.Publish(userID, bus.SignalThreadsChanged)
	return thread, nil
}

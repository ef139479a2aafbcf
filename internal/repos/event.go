package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/types"
)

type EventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, events []*types.Event) ([]*types.Event, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Event, error)
	GetRateEventsDesc(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Event, error)
	HasRollForThread(ctx context.Context, tx *gorm.DB, sessionID, threadID uuid.UUID) (bool, error)
	NullThreadRefs(ctx context.Context, tx *gorm.DB, threadIDs []uuid.UUID) error
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	repoLog := baseLog.With("repo", "EventRepo")
	return &eventRepo{db: db, log: repoLog}
}

func (r *eventRepo) Create(ctx context.Context, tx *gorm.DB, events []*types.Event) ([]*types.Event, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(events) == 0 {
		return []*types.Event{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetBySessionID returns the session's events in log order. Ties on the
// timestamp break toward the larger id.
func (r *eventRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Event, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Event
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *eventRepo) GetRateEventsDesc(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Event, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Event
	if err := transaction.WithContext(ctx).
		Where("session_id = ? AND type = ?", sessionID, types.EventTypeRate).
		Order("created_at DESC, id DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *eventRepo) HasRollForThread(ctx context.Context, tx *gorm.DB, sessionID, threadID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Event{}).
		Where("session_id = ? AND type = ? AND selected_thread_id = ?", sessionID, types.EventTypeRoll, threadID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// NullThreadRefs clears weak thread references in one batch per column, so a
// thread delete never walks events row by row.
func (r *eventRepo) NullThreadRefs(ctx context.Context, tx *gorm.DB, threadIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(threadIDs) == 0 {
		return nil
	}

	if err := transaction.WithContext(ctx).
		Model(&types.Event{}).
		Where("thread_id IN ?", threadIDs).
		Update("thread_id", nil).Error; err != nil {
		return err
	}
	return transaction.WithContext(ctx).
		Model(&types.Event{}).
		Where("selected_thread_id IN ?", threadIDs).
		Update("selected_thread_id", nil).Error
}

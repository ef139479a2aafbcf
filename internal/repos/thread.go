package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/types"
)

type ThreadRepo interface {
	Create(ctx context.Context, tx *gorm.DB, threads []*types.Thread) ([]*types.Thread, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Thread, error)
	GetOwned(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID) (*types.Thread, error)
	GetActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, forUpdate bool) ([]*types.Thread, error)
	GetAllByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Thread, error)
	GetStale(ctx context.Context, tx *gorm.DB, userID uuid.UUID, cutoff time.Time) ([]*types.Thread, error)
	Save(ctx context.Context, tx *gorm.DB, thread *types.Thread) error
	SetPosition(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, position int) error
	ShiftPositions(ctx context.Context, tx *gorm.DB, userID uuid.UUID, from, to, delta int) error
	CountActive(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type threadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThreadRepo(db *gorm.DB, baseLog *logger.Logger) ThreadRepo {
	repoLog := baseLog.With("repo", "ThreadRepo")
	return &threadRepo{db: db, log: repoLog}
}

func (r *threadRepo) Create(ctx context.Context, tx *gorm.DB, threads []*types.Thread) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(threads) == 0 {
		return []*types.Thread{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *threadRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Thread
	if len(ids) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *threadRepo) GetOwned(ctx context.Context, tx *gorm.DB, threadID, userID uuid.UUID) (*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Thread
	if err := transaction.WithContext(ctx).
		Where("id = ? AND user_id = ?", threadID, userID).
		Limit(1).
		Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func (r *threadRepo) GetActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, forUpdate bool) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, types.ThreadStatusActive).
		Order("queue_position ASC, id ASC")
	// Row locks only exist on Postgres; sqlite serializes writers anyway.
	if forUpdate && transaction.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var results []*types.Thread
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *threadRepo) GetAllByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Thread
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("queue_position ASC, id ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *threadRepo) GetStale(ctx context.Context, tx *gorm.DB, userID uuid.UUID, cutoff time.Time) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Thread
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, types.ThreadStatusActive).
		Where("last_activity_at IS NULL OR last_activity_at < ?", cutoff).
		Order("last_activity_at IS NOT NULL, last_activity_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *threadRepo) Save(ctx context.Context, tx *gorm.DB, thread *types.Thread) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).Save(thread).Error
}

func (r *threadRepo) SetPosition(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, position int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Thread{}).
		Where("id = ?", threadID).
		Update("queue_position", position).Error
}

// ShiftPositions adds delta to queue_position for every active thread of the
// user with from <= queue_position <= to.
func (r *threadRepo) ShiftPositions(ctx context.Context, tx *gorm.DB, userID uuid.UUID, from, to, delta int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if from > to || delta == 0 {
		return nil
	}

	return transaction.WithContext(ctx).
		Model(&types.Thread{}).
		Where("user_id = ? AND status = ? AND queue_position >= ? AND queue_position <= ?",
			userID, types.ThreadStatusActive, from, to).
		Update("queue_position", gorm.Expr("queue_position + ?", delta)).Error
}

func (r *threadRepo) CountActive(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Thread{}).
		Where("user_id = ? AND status = ?", userID, types.ThreadStatusActive).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *threadRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(ids) == 0 {
		return nil
	}

	return transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.Thread{}).Error
}

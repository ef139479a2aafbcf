package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/types"
)

type SnapshotRepo interface {
	Create(ctx context.Context, tx *gorm.DB, snapshots []*types.Snapshot) ([]*types.Snapshot, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Snapshot, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Snapshot, error)
}

type snapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) SnapshotRepo {
	repoLog := baseLog.With("repo", "SnapshotRepo")
	return &snapshotRepo{db: db, log: repoLog}
}

func (r *snapshotRepo) Create(ctx context.Context, tx *gorm.DB, snapshots []*types.Snapshot) ([]*types.Snapshot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(snapshots) == 0 {
		return []*types.Snapshot{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *snapshotRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Snapshot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Snapshot
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func (r *snapshotRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Snapshot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Snapshot
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

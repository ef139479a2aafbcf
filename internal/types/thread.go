package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ThreadStatusActive    = "active"
	ThreadStatusCompleted = "completed"
)

// Thread is one reading project in a user's queue. Active threads carry a
// dense 1..N queue_position; completed threads keep their last position but
// are excluded from roll pools.
type Thread struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	User            *User      `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Title           string     `gorm:"not null;column:title" json:"title"`
	Format          string     `gorm:"column:format" json:"format"`
	IssuesRemaining int        `gorm:"not null;column:issues_remaining" json:"issues_remaining"`
	QueuePosition   int        `gorm:"not null;index;column:queue_position" json:"queue_position"`
	Status          string     `gorm:"not null;index;column:status" json:"status"`
	LastRating      *float64   `gorm:"column:last_rating" json:"last_rating,omitempty"`
	LastActivityAt  *time.Time `gorm:"column:last_activity_at" json:"last_activity_at,omitempty"`
	LastReviewAt    *time.Time `gorm:"column:last_review_at" json:"last_review_at,omitempty"`
	ReviewURL       string     `gorm:"column:review_url" json:"review_url"`
	Notes           string     `gorm:"column:notes" json:"notes"`
	IsTest          bool       `gorm:"not null;column:is_test" json:"is_test"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

func (Thread) TableName() string {
	return "thread"
}

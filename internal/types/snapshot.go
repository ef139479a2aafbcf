package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Snapshot freezes every thread of a user plus the session-level dice state
// at one moment. Immutable once written; restores read from it and write new
// base state.
type Snapshot struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Session      *Session       `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	EventID      *uuid.UUID     `gorm:"type:uuid;column:event_id" json:"event_id,omitempty"`
	Event        *Event         `gorm:"constraint:OnDelete:SET NULL;foreignKey:EventID;references:ID" json:"event,omitempty"`
	Description  string         `gorm:"not null;column:description" json:"description"`
	ThreadStates datatypes.JSON `gorm:"not null;column:thread_states" json:"thread_states"`
	SessionState datatypes.JSON `gorm:"column:session_state" json:"session_state,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Snapshot) TableName() string {
	return "snapshot"
}

// ThreadState is the frozen per-thread payload inside a snapshot. The map in
// Snapshot.ThreadStates is keyed by the stringified thread id; timestamps are
// ISO-8601 in UTC.
type ThreadState struct {
	UserID          uuid.UUID  `json:"user_id"`
	Title           string     `json:"title"`
	Format          string     `json:"format"`
	IssuesRemaining int        `json:"issues_remaining"`
	QueuePosition   int        `json:"queue_position"`
	Status          string     `json:"status"`
	LastRating      *float64   `json:"last_rating"`
	LastActivityAt  *time.Time `json:"last_activity_at"`
	LastReviewAt    *time.Time `json:"last_review_at"`
	ReviewURL       string     `json:"review_url"`
	Notes           string     `json:"notes"`
	IsTest          bool       `json:"is_test"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SessionState is the session-level part of a snapshot. A snapshot without
// one restores thread state only (older snapshots predate the field).
type SessionState struct {
	StartDie  int  `json:"start_die"`
	ManualDie *int `json:"manual_die"`
}

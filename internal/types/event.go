package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeRoll             = "roll"
	EventTypeRate             = "rate"
	EventTypeSnooze           = "snooze"
	EventTypeRolledButSkipped = "rolled_but_skipped"
	EventTypeReorder          = "reorder"
	EventTypeDelete           = "delete"
	EventTypeIssueRead        = "issue_read"
	EventTypeIssueUnread      = "issue_unread"
)

const (
	SelectionMethodRandom   = "random"
	SelectionMethodOverride = "override"
	SelectionMethodReroll   = "reroll"
)

const (
	QueueMoveFront  = "front"
	QueueMoveBack   = "back"
	QueueMoveMiddle = "middle"
)

// Event is the append-only activity log. Thread references are weak: the
// delete path nulls them out in one batch before removing a thread. Per
// session, order is (created_at, id) with the larger id the later event.
type Event struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID        *uuid.UUID `gorm:"type:uuid;index" json:"session_id,omitempty"`
	Session          *Session   `gorm:"constraint:OnDelete:SET NULL;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	Type             string     `gorm:"not null;index;column:type" json:"type"`
	ThreadID         *uuid.UUID `gorm:"type:uuid;index;column:thread_id" json:"thread_id,omitempty"`
	SelectedThreadID *uuid.UUID `gorm:"type:uuid;index;column:selected_thread_id" json:"selected_thread_id,omitempty"`
	Die              *int       `gorm:"column:die" json:"die,omitempty"`
	Result           *int       `gorm:"column:result" json:"result,omitempty"`
	SelectionMethod  *string    `gorm:"column:selection_method" json:"selection_method,omitempty"`
	Rating           *float64   `gorm:"column:rating" json:"rating,omitempty"`
	IssuesRead       *int       `gorm:"column:issues_read" json:"issues_read,omitempty"`
	QueueMove        *string    `gorm:"column:queue_move" json:"queue_move,omitempty"`
	DieAfter         *int       `gorm:"column:die_after" json:"die_after,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;index" json:"created_at"`
}

func (Event) TableName() string {
	return "event"
}

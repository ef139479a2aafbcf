package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Session is a contiguous span of user activity bounded by the configured
// inactivity gap. At most one session per user has EndedAt unset.
type Session struct {
	ID                     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                 uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User                   *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	StartedAt              time.Time      `gorm:"not null;index" json:"started_at"`
	EndedAt                *time.Time     `gorm:"index" json:"ended_at,omitempty"`
	StartDie               int            `gorm:"not null;column:start_die" json:"start_die"`
	ManualDie              *int           `gorm:"column:manual_die" json:"manual_die,omitempty"`
	PendingThreadID        *uuid.UUID     `gorm:"type:uuid;column:pending_thread_id" json:"pending_thread_id,omitempty"`
	PendingThreadUpdatedAt *time.Time     `gorm:"column:pending_thread_updated_at" json:"pending_thread_updated_at,omitempty"`
	SnoozedThreadIDs       datatypes.JSON `gorm:"column:snoozed_thread_ids" json:"snoozed_thread_ids,omitempty"`
	CreatedAt              time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"not null" json:"updated_at"`
}

func (Session) TableName() string {
	return "session"
}

// SnoozedIDs decodes the snoozed set. A broken or empty column decodes as
// the empty set.
func (s *Session) SnoozedIDs() []uuid.UUID {
	if len(s.SnoozedThreadIDs) == 0 {
		return nil
	}
	var raw []string
	if err := json.Unmarshal(s.SnoozedThreadIDs, &raw); err != nil {
		return nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// SetSnoozedIDs replaces the snoozed set. Ids are stored stringified so the
// column survives general JSON serializers.
func (s *Session) SetSnoozedIDs(ids []uuid.UUID) {
	if len(ids) == 0 {
		s.SnoozedThreadIDs = datatypes.JSON([]byte("[]"))
		return
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	b, _ := json.Marshal(raw)
	s.SnoozedThreadIDs = datatypes.JSON(b)
}

// IsSnoozed reports whether id is in the snoozed set.
func (s *Session) IsSnoozed(id uuid.UUID) bool {
	for _, v := range s.SnoozedIDs() {
		if v == id {
			return true
		}
	}
	return false
}

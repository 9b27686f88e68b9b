package model

import (
	"encoding/json"
	"time"
)

// Event types appended to the activity ledger.
const (
	EventLabStarted       = "lab.started"
	EventLabRunning       = "lab.running"
	EventLabReset         = "lab.reset"
	EventLabStopped       = "lab.stopped"
	EventLabExpired       = "lab.expired"
	EventLabFailed        = "lab.failed"
	EventAttemptStarted   = "attempt.started"
	EventAttemptSubmitted = "attempt.submitted"
	EventAttemptExpired   = "attempt.expired"
	EventFlagAccepted     = "flag.accepted"
	EventFlagDuplicate    = "flag.duplicate"
	EventFlagRejected     = "flag.rejected"
)

// ActivityEvent is an append-only ledger row. The ledger never owns session
// state; SessionID is a read-only reference.
// swagger:model ActivityEvent
type ActivityEvent struct {
	BaseModel
	EventType  string          `gorm:"size:50;index;not null" json:"eventType"`
	UserID     uint            `gorm:"index;type:bigint unsigned" json:"userId"`
	SessionID  string          `gorm:"size:36;index" json:"sessionId,omitempty"`
	ActivityID uint            `gorm:"type:bigint unsigned" json:"activityId,omitempty"`
	Payload    json.RawMessage `gorm:"type:json" json:"payload,omitempty"`
	OccurredAt time.Time       `gorm:"index" json:"occurredAt"`
}

func (ActivityEvent) TableName() string {
	return "activity_events"
}

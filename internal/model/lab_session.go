package model

import "time"

// SessionState is the lab session lifecycle state. Terminal states are
// write-once: no transition ever leaves them.
type SessionState string

const (
	SessionRequested    SessionState = "requested"
	SessionProvisioning SessionState = "provisioning"
	SessionRunning      SessionState = "running"
	SessionResetting    SessionState = "resetting"
	SessionStopped      SessionState = "stopped"
	SessionExpired      SessionState = "expired"
	SessionFailed       SessionState = "failed"
)

func (s SessionState) Terminal() bool {
	return s == SessionStopped || s == SessionExpired || s == SessionFailed
}

// NonTerminalSessionStates is used for "live session" queries.
var NonTerminalSessionStates = []SessionState{
	SessionRequested, SessionProvisioning, SessionRunning, SessionResetting,
}

// swagger:model LabSession
type LabSession struct {
	UUIDBase
	UserID           uint         `gorm:"index;type:bigint unsigned;not null" json:"userId"`
	LabID            uint         `gorm:"index;type:bigint unsigned;not null" json:"labId"`
	State            SessionState `gorm:"size:20;index;not null" json:"state"`
	ResourceHandle   string       `gorm:"size:255" json:"resourceHandle,omitempty"`
	StartedAt        time.Time    `json:"startedAt"`
	ExpiresAt        time.Time    `gorm:"index" json:"expiresAt"`
	LastTransitionAt time.Time    `json:"lastTransitionAt"`
	LastSeenAt       time.Time    `json:"lastSeenAt"` // heartbeat liveness, never extends ExpiresAt
	ResetCount       int          `gorm:"default:0" json:"resetCount"`
	FailureReason    string       `gorm:"size:255" json:"failureReason,omitempty"`
}

func (LabSession) TableName() string {
	return "lab_sessions"
}

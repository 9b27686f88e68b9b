package model

import (
	"encoding/json"
	"time"
)

// AttemptState is the assessment attempt lifecycle state. Submitted and
// expired are terminal and write-once.
type AttemptState string

const (
	AttemptInProgress AttemptState = "in_progress"
	AttemptSubmitted  AttemptState = "submitted"
	AttemptExpired    AttemptState = "expired"
)

func (s AttemptState) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired
}

// swagger:model AssessmentAttempt
type AssessmentAttempt struct {
	UUIDBase
	UserID           uint         `gorm:"index;type:bigint unsigned;not null" json:"userId"`
	AssessmentID     uint         `gorm:"index;type:bigint unsigned;not null" json:"assessmentId"`
	State            AttemptState `gorm:"size:20;index;not null" json:"state"`
	StartedAt        time.Time    `json:"startedAt"`
	ExpiresAt        time.Time    `gorm:"index" json:"expiresAt"`
	LastTransitionAt time.Time    `json:"lastTransitionAt"`

	// Answers maps question id -> submitted value, mutable only while
	// in_progress. FlaggedQuestions is informational and never affects
	// scoring. Result is populated exactly once, on finalize.
	Answers          json.RawMessage `gorm:"type:json" json:"answers"`
	FlaggedQuestions json.RawMessage `gorm:"type:json" json:"flaggedQuestions"`
	Result           json.RawMessage `gorm:"type:json" json:"result,omitempty"`

	// Denormalized from Result for list queries and reporting.
	Score      int  `gorm:"default:0" json:"score"`
	Percentage int  `gorm:"default:0" json:"percentage"`
	Passed     bool `gorm:"default:false" json:"passed"`
}

func (AssessmentAttempt) TableName() string {
	return "assessment_attempts"
}

package model

import (
	"encoding/json"
	"time"
)

// swagger:model Assessment
type Assessment struct {
	BaseModel
	Title            string     `gorm:"size:255;not null" json:"title"`
	Description      string     `gorm:"type:text" json:"description"`
	TimeLimit        int        `gorm:"default:0" json:"timeLimit"` // Minutes
	PassingThreshold int        `gorm:"default:70" json:"passingThreshold"`
	AllowRetake      bool       `gorm:"default:false" json:"allowRetake"`
	IsPublished      bool       `gorm:"default:false" json:"isPublished"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
}

func (Assessment) TableName() string {
	return "assessments"
}

// AssessmentQuestion holds one question and its answer key. Options and
// Answer are JSON whose shape depends on QuestionType (see the scoring
// engine's key parsing).
// swagger:model AssessmentQuestion
type AssessmentQuestion struct {
	BaseModel
	AssessmentID uint            `gorm:"index;type:bigint unsigned" json:"assessmentId"`
	QuestionType string          `gorm:"size:50;not null" json:"questionType"` // single_choice, multi_select, true_false, fill_blank, matching, code_submission
	Title        string          `gorm:"size:255" json:"title"`
	Content      string          `gorm:"type:text;not null" json:"content"`
	Options      json.RawMessage `gorm:"type:json" json:"options"`
	Answer       json.RawMessage `gorm:"type:json" json:"-"` // answer key, never serialized to students
	Points       int             `gorm:"default:0" json:"points"`
	Order        int             `gorm:"default:0" json:"order"`
	Explanation  string          `gorm:"type:text" json:"explanation"`
}

func (AssessmentQuestion) TableName() string {
	return "assessment_questions"
}

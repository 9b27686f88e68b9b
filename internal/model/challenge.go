package model

import "time"

// Challenge is a capture-the-flag challenge. FlagHash is the hex sha256 of
// the normalized flag; the plaintext is never stored.
// swagger:model Challenge
type Challenge struct {
	BaseModel
	Title          string `gorm:"size:255;not null" json:"title"`
	Description    string `gorm:"type:text" json:"description"`
	Category       string `gorm:"size:100;index" json:"category"`
	Difficulty     string `gorm:"size:20;default:'medium'" json:"difficulty"`
	Points         int    `gorm:"not null" json:"points"`
	FlagHash       string `gorm:"size:64;not null" json:"-"`
	Attachment     string `gorm:"size:255" json:"attachment,omitempty"` // storage URL
	AttachmentName string `gorm:"size:255" json:"-"`                    // storage object key
	IsPublished    bool   `gorm:"default:false" json:"isPublished"`
}

func (Challenge) TableName() string {
	return "challenges"
}

// ChallengeSolve is the durable proof a user has been credited for a
// challenge. The unique (user_id, challenge_id) index is what makes the
// award-once guarantee hold under concurrent submissions.
// swagger:model ChallengeSolve
type ChallengeSolve struct {
	BaseModel
	UserID        uint      `gorm:"uniqueIndex:idx_solve_user_challenge;type:bigint unsigned;not null" json:"userId"`
	ChallengeID   uint      `gorm:"uniqueIndex:idx_solve_user_challenge;type:bigint unsigned;not null" json:"challengeId"`
	PointsAwarded int       `gorm:"not null" json:"pointsAwarded"`
	SolvedAt      time.Time `json:"solvedAt"`
}

func (ChallengeSolve) TableName() string {
	return "challenge_solves"
}

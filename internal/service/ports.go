package service

import (
	"context"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/repository"
	"encoding/json"
	"time"
)

// Ports of the session engine. The gorm repositories implement the store
// interfaces; tests substitute in-memory fakes. Persistence technology and
// multi-instance deployment stay decoupled from lifecycle logic.

type LabStore interface {
	FindByID(id uint) (*model.Lab, error)
}

type LabSessionStore interface {
	Create(session *model.LabSession) error
	FindByID(id string) (*model.LabSession, error)
	FindLive(userID, labID uint) (*model.LabSession, error)
	Transition(id string, from, to model.SessionState, updates map[string]interface{}) (bool, error)
	ListOverdue(now time.Time) ([]model.LabSession, error)
	UpdateLastSeen(id string, t time.Time) error
	CountLive() (int64, error)
}

type AssessmentStore interface {
	FindByID(id uint) (*model.Assessment, error)
	ListQuestions(assessmentID uint) ([]model.AssessmentQuestion, error)
}

type AttemptStore interface {
	Create(attempt *model.AssessmentAttempt) error
	FindByID(id string) (*model.AssessmentAttempt, error)
	FindUnfinished(userID, assessmentID uint) (*model.AssessmentAttempt, error)
	CountByUserAndAssessment(userID, assessmentID uint) (int64, error)
	UpdateAnswers(id string, answers, flagged json.RawMessage) (bool, error)
	Transition(id string, from, to model.AttemptState, updates map[string]interface{}) (bool, error)
	UpdateResult(id string, updates map[string]interface{}) error
	ListOverdue(now time.Time) ([]model.AssessmentAttempt, error)
}

type ChallengeStore interface {
	FindByID(id uint) (*model.Challenge, error)
}

type SolveStore interface {
	CreateSolve(solve *model.ChallengeSolve) (created bool, err error)
	FindSolve(userID, challengeID uint) (*model.ChallengeSolve, error)
	Leaderboard(limit int) ([]repository.LeaderboardRow, error)
}

type PointsStore interface {
	AddPoints(userID uint, points int) error
}

// Provisioner is the contract to the external provisioning backend. All
// calls are bounded by the caller's context; the engine never waits longer
// than the configured provision timeout.
type Provisioner interface {
	Allocate(ctx context.Context, lab *model.Lab, session *model.LabSession) (handle string, err error)
	Reset(ctx context.Context, handle string) error
	Deallocate(ctx context.Context, handle string) error
}

// Ledger records activity events fire-and-forget; it must never block a
// state transition.
type Ledger interface {
	Record(event model.ActivityEvent)
}

type EventStore interface {
	Append(event *model.ActivityEvent) error
}

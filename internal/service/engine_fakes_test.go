package service

import (
	"context"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/repository"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// In-memory fakes implementing the engine's store ports. The compare-and-swap
// semantics mirror the gorm repositories: Transition succeeds only when the
// stored state equals the expected one.

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

// AfterFunc never fires on its own; tests drive expiry explicitly.
func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer { return fakeTimer{} }

type fakeLabStore struct {
	mu   sync.Mutex
	labs map[uint]*model.Lab
}

func newFakeLabStore() *fakeLabStore {
	return &fakeLabStore{labs: make(map[uint]*model.Lab)}
}

func (f *fakeLabStore) add(lab *model.Lab) {
	f.mu.Lock()
	f.labs[lab.ID] = lab
	f.mu.Unlock()
}

func (f *fakeLabStore) FindByID(id uint) (*model.Lab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lab, ok := f.labs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *lab
	return &copied, nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.LabSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.LabSession)}
}

func (f *fakeSessionStore) Create(session *model.LabSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionStore) FindByID(id string) (*model.LabSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) FindLive(userID, labID uint) (*model.LabSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.UserID == userID && session.LabID == labID && !session.State.Terminal() {
			copied := *session
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) Transition(id string, from, to model.SessionState, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.State != from {
		return false, nil
	}
	session.State = to
	for key, value := range updates {
		switch key {
		case "resource_handle":
			session.ResourceHandle = value.(string)
		case "expires_at":
			session.ExpiresAt = value.(time.Time)
		case "reset_count":
			session.ResetCount = value.(int)
		case "failure_reason":
			session.FailureReason = value.(string)
		case "last_transition_at":
			session.LastTransitionAt = value.(time.Time)
		}
	}
	return true, nil
}

func (f *fakeSessionStore) ListOverdue(now time.Time) ([]model.LabSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var overdue []model.LabSession
	for _, session := range f.sessions {
		if !session.State.Terminal() && !now.Before(session.ExpiresAt) {
			overdue = append(overdue, *session)
		}
	}
	return overdue, nil
}

func (f *fakeSessionStore) CountLive() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, session := range f.sessions {
		if !session.State.Terminal() {
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionStore) UpdateLastSeen(id string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.LastSeenAt = t
	}
	return nil
}

type fakeProvisioner struct {
	mu          sync.Mutex
	allocations int
	resets      int
	deallocs    int
	allocateErr error
	resetErr    error
}

func (f *fakeProvisioner) Allocate(ctx context.Context, lab *model.Lab, session *model.LabSession) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocateErr != nil {
		return "", f.allocateErr
	}
	f.allocations++
	return fmt.Sprintf("env-%d", f.allocations), nil
}

func (f *fakeProvisioner) Reset(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets++
	return nil
}

func (f *fakeProvisioner) Deallocate(ctx context.Context, handle string) error {
	f.mu.Lock()
	f.deallocs++
	f.mu.Unlock()
	return nil
}

func (f *fakeProvisioner) deallocCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deallocs
}

type fakeLedger struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (f *fakeLedger) Record(event model.ActivityEvent) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeLedger) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.EventType)
	}
	return types
}

type fakeAssessmentStore struct {
	mu          sync.Mutex
	assessments map[uint]*model.Assessment
	questions   map[uint][]model.AssessmentQuestion

	// onListQuestions, when set, runs at the top of ListQuestions. Tests use
	// it to hold grading open while concurrent writes are attempted.
	onListQuestions func()
}

func newFakeAssessmentStore() *fakeAssessmentStore {
	return &fakeAssessmentStore{
		assessments: make(map[uint]*model.Assessment),
		questions:   make(map[uint][]model.AssessmentQuestion),
	}
}

func (f *fakeAssessmentStore) add(a *model.Assessment, questions ...model.AssessmentQuestion) {
	f.mu.Lock()
	f.assessments[a.ID] = a
	f.questions[a.ID] = questions
	f.mu.Unlock()
}

func (f *fakeAssessmentStore) FindByID(id uint) (*model.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assessments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAssessmentStore) ListQuestions(assessmentID uint) ([]model.AssessmentQuestion, error) {
	if f.onListQuestions != nil {
		f.onListQuestions()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions[assessmentID], nil
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*model.AssessmentAttempt
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{attempts: make(map[string]*model.AssessmentAttempt)}
}

func (f *fakeAttemptStore) Create(attempt *model.AssessmentAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *attempt
	f.attempts[attempt.ID] = &copied
	return nil
}

func (f *fakeAttemptStore) FindByID(id string) (*model.AssessmentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (f *fakeAttemptStore) FindUnfinished(userID, assessmentID uint) (*model.AssessmentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, attempt := range f.attempts {
		if attempt.UserID == userID && attempt.AssessmentID == assessmentID && attempt.State == model.AttemptInProgress {
			copied := *attempt
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeAttemptStore) CountByUserAndAssessment(userID, assessmentID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, attempt := range f.attempts {
		if attempt.UserID == userID && attempt.AssessmentID == assessmentID {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptStore) UpdateAnswers(id string, answers, flagged json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[id]
	if !ok || attempt.State != model.AttemptInProgress {
		return false, nil
	}
	attempt.Answers = answers
	attempt.FlaggedQuestions = flagged
	return true, nil
}

func (f *fakeAttemptStore) Transition(id string, from, to model.AttemptState, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[id]
	if !ok || attempt.State != from {
		return false, nil
	}
	attempt.State = to
	for key, value := range updates {
		switch key {
		case "result":
			attempt.Result = value.(json.RawMessage)
		case "score":
			attempt.Score = value.(int)
		case "percentage":
			attempt.Percentage = value.(int)
		case "passed":
			attempt.Passed = value.(bool)
		case "last_transition_at":
			attempt.LastTransitionAt = value.(time.Time)
		}
	}
	return true, nil
}

func (f *fakeAttemptStore) UpdateResult(id string, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range updates {
		switch key {
		case "result":
			attempt.Result = value.(json.RawMessage)
		case "score":
			attempt.Score = value.(int)
		case "percentage":
			attempt.Percentage = value.(int)
		case "passed":
			attempt.Passed = value.(bool)
		}
	}
	return nil
}

func (f *fakeAttemptStore) ListOverdue(now time.Time) ([]model.AssessmentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var overdue []model.AssessmentAttempt
	for _, attempt := range f.attempts {
		if attempt.State == model.AttemptInProgress && !now.Before(attempt.ExpiresAt) {
			overdue = append(overdue, *attempt)
		}
	}
	return overdue, nil
}

type fakeChallengeStore struct {
	mu         sync.Mutex
	challenges map[uint]*model.Challenge
	solves     map[string]*model.ChallengeSolve
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{
		challenges: make(map[uint]*model.Challenge),
		solves:     make(map[string]*model.ChallengeSolve),
	}
}

func (f *fakeChallengeStore) add(c *model.Challenge) {
	f.mu.Lock()
	f.challenges[c.ID] = c
	f.mu.Unlock()
}

func (f *fakeChallengeStore) FindByID(id uint) (*model.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.challenges[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *c
	return &copied, nil
}

func solveKey(userID, challengeID uint) string {
	return fmt.Sprintf("%d/%d", userID, challengeID)
}

func (f *fakeChallengeStore) CreateSolve(solve *model.ChallengeSolve) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := solveKey(solve.UserID, solve.ChallengeID)
	if _, exists := f.solves[key]; exists {
		return false, nil
	}
	copied := *solve
	f.solves[key] = &copied
	return true, nil
}

func (f *fakeChallengeStore) FindSolve(userID, challengeID uint) (*model.ChallengeSolve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	solve, ok := f.solves[solveKey(userID, challengeID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *solve
	return &copied, nil
}

func (f *fakeChallengeStore) Leaderboard(limit int) ([]repository.LeaderboardRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := make(map[uint]*repository.LeaderboardRow)
	for _, solve := range f.solves {
		row, ok := totals[solve.UserID]
		if !ok {
			row = &repository.LeaderboardRow{UserID: solve.UserID}
			totals[solve.UserID] = row
		}
		row.Points += solve.PointsAwarded
		row.Solves++
	}
	rows := make([]repository.LeaderboardRow, 0, len(totals))
	for _, row := range totals {
		rows = append(rows, *row)
	}
	return rows, nil
}

type fakePointsStore struct {
	mu     sync.Mutex
	points map[uint]int
}

func newFakePointsStore() *fakePointsStore {
	return &fakePointsStore{points: make(map[uint]int)}
}

func (f *fakePointsStore) AddPoints(userID uint, points int) error {
	f.mu.Lock()
	f.points[userID] += points
	f.mu.Unlock()
	return nil
}

func (f *fakePointsStore) total(userID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points[userID]
}

var errBackendDown = errors.New("backend unavailable")

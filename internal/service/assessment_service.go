package service

import (
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/util"
	"cyberrange_backend/pkg/logger"
	"cyberrange_backend/pkg/monitoring"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// defaultAttemptLimit applies when an assessment has no time limit of its own.
const defaultAttemptLimit = 60 * time.Minute

// AssessmentService owns the attempt lifecycle: in_progress -> submitted or
// expired, both terminal and write-once. An explicit submit racing the expiry
// timer is settled by the store's compare-and-swap, so an attempt is graded
// exactly once.
type AssessmentService struct {
	assessments AssessmentStore
	attempts    AttemptStore
	ledger      Ledger
	clock       Clock

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]Timer
}

func NewAssessmentService(assessments AssessmentStore, attempts AttemptStore, ledger Ledger, clock Clock) *AssessmentService {
	return &AssessmentService{
		assessments: assessments,
		attempts:    attempts,
		ledger:      ledger,
		clock:       clock,
		locks:       make(map[string]*sync.Mutex),
		timers:      make(map[string]Timer),
	}
}

func (s *AssessmentService) lockFor(attemptID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[attemptID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[attemptID] = l
	}
	return l
}

func (s *AssessmentService) forget(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[attemptID]; ok {
		t.Stop()
		delete(s.timers, attemptID)
	}
	delete(s.locks, attemptID)
}

func (s *AssessmentService) record(eventType string, attempt *model.AssessmentAttempt, payload map[string]interface{}) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	s.ledger.Record(model.ActivityEvent{
		EventType:  eventType,
		UserID:     attempt.UserID,
		SessionID:  attempt.ID,
		ActivityID: attempt.AssessmentID,
		Payload:    raw,
		OccurredAt: s.clock.Now(),
	})
	monitoring.SessionTransitions.WithLabelValues("attempt", eventType).Inc()
}

// StartAttempt opens a new attempt. One unfinished attempt per user per
// assessment; a finished attempt blocks further ones unless retakes are
// allowed.
func (s *AssessmentService) StartAttempt(userID, assessmentID uint) (*model.AssessmentAttempt, error) {
	assessment, err := s.assessments.FindByID(assessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("assessment %d not found", assessmentID)
		}
		return nil, err
	}
	if !assessment.IsPublished {
		return nil, util.NotFoundErr("assessment %d not found", assessmentID)
	}

	startLock := s.lockFor(fmt.Sprintf("start:%d:%d", userID, assessmentID))
	startLock.Lock()
	defer startLock.Unlock()

	if unfinished, err := s.attempts.FindUnfinished(userID, assessmentID); err != nil {
		return nil, err
	} else if unfinished != nil {
		return nil, util.Conflict("an attempt is already in progress")
	}
	if !assessment.AllowRetake {
		count, err := s.attempts.CountByUserAndAssessment(userID, assessmentID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, util.Conflict("assessment does not allow retakes")
		}
	}

	limit := defaultAttemptLimit
	if assessment.TimeLimit > 0 {
		limit = time.Duration(assessment.TimeLimit) * time.Minute
	}
	now := s.clock.Now()
	attempt := &model.AssessmentAttempt{
		UUIDBase:         model.UUIDBase{ID: model.GenerateUUID()},
		UserID:           userID,
		AssessmentID:     assessmentID,
		State:            model.AttemptInProgress,
		StartedAt:        now,
		ExpiresAt:        now.Add(limit),
		LastTransitionAt: now,
	}
	if err := s.attempts.Create(attempt); err != nil {
		return nil, err
	}
	monitoring.ActiveSessions.WithLabelValues("attempt").Inc()
	s.record(model.EventAttemptStarted, attempt, map[string]interface{}{"timeLimit": limit.String()})

	s.mu.Lock()
	s.timers[attempt.ID] = s.clock.AfterFunc(limit, func() { s.ExpireAttempt(attempt.ID) })
	s.mu.Unlock()

	return attempt, nil
}

// RecordAnswer stores one answer in the attempt's answer map. Rejected once
// the attempt is terminal or past its deadline.
func (s *AssessmentService) RecordAnswer(attemptID string, requesterID, questionID uint, value json.RawMessage) (*model.AssessmentAttempt, error) {
	lock := s.lockFor(attemptID)
	lock.Lock()
	defer lock.Unlock()

	attempt, err := s.guardMutable(attemptID, requesterID)
	if err != nil {
		return nil, err
	}

	answers := map[uint]json.RawMessage{}
	if len(attempt.Answers) > 0 {
		if err := json.Unmarshal(attempt.Answers, &answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	answers[questionID] = value
	merged, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}

	ok, err := s.attempts.UpdateAnswers(attemptID, merged, attempt.FlaggedQuestions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.StateErr("attempt is no longer in progress")
	}
	attempt.Answers = merged
	return attempt, nil
}

// FlagQuestion toggles a review marker. Flags are informational and never
// affect grading.
func (s *AssessmentService) FlagQuestion(attemptID string, requesterID, questionID uint, flagged bool) (*model.AssessmentAttempt, error) {
	lock := s.lockFor(attemptID)
	lock.Lock()
	defer lock.Unlock()

	attempt, err := s.guardMutable(attemptID, requesterID)
	if err != nil {
		return nil, err
	}

	set := map[uint]bool{}
	if len(attempt.FlaggedQuestions) > 0 {
		if err := json.Unmarshal(attempt.FlaggedQuestions, &set); err != nil {
			return nil, fmt.Errorf("decode flags: %w", err)
		}
	}
	if flagged {
		set[questionID] = true
	} else {
		delete(set, questionID)
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}

	ok, err := s.attempts.UpdateAnswers(attemptID, attempt.Answers, raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.StateErr("attempt is no longer in progress")
	}
	attempt.FlaggedQuestions = raw
	return attempt, nil
}

// guardMutable loads the attempt and verifies it is still open for writes.
// A past-deadline attempt is finalized on the spot before rejecting.
func (s *AssessmentService) guardMutable(attemptID string, requesterID uint) (*model.AssessmentAttempt, error) {
	attempt, err := s.getAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != requesterID {
		return nil, util.NotAuthorized("caller is not the attempt owner")
	}
	if attempt.State.Terminal() {
		return nil, util.StateErr("attempt already %s", attempt.State)
	}
	if !s.clock.Now().Before(attempt.ExpiresAt) {
		if _, ferr := s.finalizeLocked(attemptID, model.AttemptExpired); ferr != nil {
			logger.Log.Error("Failed to finalize overdue attempt",
				zap.String("attempt_id", attemptID), zap.Error(ferr))
		}
		return nil, util.StateErr("attempt deadline has passed")
	}
	return attempt, nil
}

// Submit finalizes and grades the attempt. A second sequential submit is a
// state error; losing a race against the expiry timer is not, the caller
// just gets the expired verdict. A submit arriving past the deadline is an
// expiry finalization: expiresAt is the sole authority for termination.
func (s *AssessmentService) Submit(attemptID string, requesterID uint) (*model.AssessmentAttempt, error) {
	lock := s.lockFor(attemptID)
	lock.Lock()
	defer lock.Unlock()

	attempt, err := s.getAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != requesterID {
		return nil, util.NotAuthorized("caller is not the attempt owner")
	}
	if attempt.State.Terminal() {
		return nil, util.StateErr("attempt already %s", attempt.State)
	}
	to := model.AttemptSubmitted
	if !s.clock.Now().Before(attempt.ExpiresAt) {
		to = model.AttemptExpired
	}
	return s.finalizeLocked(attemptID, to)
}

// ExpireAttempt is the timer and sweeper entry point.
func (s *AssessmentService) ExpireAttempt(attemptID string) {
	attempt, err := s.getAttempt(attemptID)
	if err != nil {
		logger.Log.Error("ExpireAttempt: lookup failed", zap.String("attempt_id", attemptID), zap.Error(err))
		return
	}
	if attempt.State.Terminal() {
		return
	}
	if _, err := s.finalize(attemptID, model.AttemptExpired); err != nil {
		logger.Log.Error("ExpireAttempt: finalize failed", zap.String("attempt_id", attemptID), zap.Error(err))
	}
}

// finalize takes the per-attempt lock and grades. Timer and sweeper entry.
func (s *AssessmentService) finalize(attemptID string, to model.AttemptState) (*model.AssessmentAttempt, error) {
	lock := s.lockFor(attemptID)
	lock.Lock()
	defer lock.Unlock()
	return s.finalizeLocked(attemptID, to)
}

// finalizeLocked grades whatever answers exist and writes the terminal state
// with its result in one compare-and-swap. If the swap loses, the attempt was
// already finalized by the other path and that verdict is returned. The
// caller must hold the per-attempt lock so no answer write can land between
// the snapshot read and the swap.
func (s *AssessmentService) finalizeLocked(attemptID string, to model.AttemptState) (*model.AssessmentAttempt, error) {
	attempt, err := s.getAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.State.Terminal() {
		return attempt, nil
	}

	assessment, err := s.assessments.FindByID(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	questions, err := s.assessments.ListQuestions(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	answers := map[uint]json.RawMessage{}
	if len(attempt.Answers) > 0 {
		if err := json.Unmarshal(attempt.Answers, &answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}

	started := time.Now()
	result := Score(questions, answers, assessment.PassingThreshold)
	monitoring.ScoringDuration.Observe(time.Since(started).Seconds())
	if to == model.AttemptExpired {
		result.Incomplete = true
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	ok, err := s.attempts.Transition(attemptID, model.AttemptInProgress, to, map[string]interface{}{
		"result":             json.RawMessage(raw),
		"score":              result.Score,
		"percentage":         result.Percentage,
		"passed":             result.Passed,
		"last_transition_at": s.clock.Now(),
	})
	if err != nil {
		// Grading failed to persist; the attempt stays in_progress and the
		// sweeper retries.
		return nil, err
	}
	if !ok {
		return s.getAttempt(attemptID)
	}

	attempt.State = to
	attempt.Result = raw
	attempt.Score = result.Score
	attempt.Percentage = result.Percentage
	attempt.Passed = result.Passed
	monitoring.ActiveSessions.WithLabelValues("attempt").Dec()
	event := model.EventAttemptSubmitted
	if to == model.AttemptExpired {
		event = model.EventAttemptExpired
	}
	s.record(event, attempt, map[string]interface{}{
		"score":      result.Score,
		"percentage": result.Percentage,
		"passed":     result.Passed,
	})
	s.forget(attemptID)
	return attempt, nil
}

// ResolvePendingGrades applies manual scores for pending questions of a
// finalized attempt and recomputes the totals.
func (s *AssessmentService) ResolvePendingGrades(attemptID string, awarded map[uint]int) (*model.AssessmentAttempt, error) {
	attempt, err := s.getAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.State.Terminal() {
		return nil, util.StateErr("attempt has not been finalized")
	}
	if len(attempt.Result) == 0 {
		return nil, util.StateErr("attempt has no stored result")
	}

	var result AttemptResult
	if err := json.Unmarshal(attempt.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if result.PendingCount == 0 {
		return nil, util.StateErr("attempt has no pending questions")
	}

	assessment, err := s.assessments.FindByID(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	questions, err := s.assessments.ListQuestions(attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	points := make(map[uint]int, len(questions))
	for _, q := range questions {
		points[q.ID] = q.Points
	}

	for i := range result.Questions {
		qr := &result.Questions[i]
		if qr.Outcome != OutcomePending {
			continue
		}
		grade, ok := awarded[qr.QuestionID]
		if !ok {
			continue
		}
		possible := points[qr.QuestionID]
		if grade < 0 {
			grade = 0
		}
		if grade > possible {
			grade = possible
		}
		qr.PointsAwarded = grade
		qr.PointsPossible = possible
		if grade == possible && possible > 0 {
			qr.Outcome = OutcomeCorrect
		} else {
			qr.Outcome = OutcomeIncorrect
		}
		result.Score += grade
		result.Possible += possible
		result.PendingCount--
	}
	result.Percentage = percentage(result.Score, result.Possible)
	result.Passed = result.Possible > 0 && result.Percentage >= assessment.PassingThreshold

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := s.attempts.UpdateResult(attemptID, map[string]interface{}{
		"result":     json.RawMessage(raw),
		"score":      result.Score,
		"percentage": result.Percentage,
		"passed":     result.Passed,
	}); err != nil {
		return nil, err
	}
	attempt.Result = raw
	attempt.Score = result.Score
	attempt.Percentage = result.Percentage
	attempt.Passed = result.Passed
	return attempt, nil
}

// GetAttempt returns an attempt to its owner or an admin.
func (s *AssessmentService) GetAttempt(attemptID string, requesterID uint, requesterRole model.UserRole) (*model.AssessmentAttempt, error) {
	attempt, err := s.getAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != requesterID && !requesterRole.IsAdmin() {
		return nil, util.NotAuthorized("caller is neither owner nor admin")
	}
	return attempt, nil
}

// SweepOverdue finalizes attempts whose deadline passed without a live
// timer, e.g. after a restart or an earlier grading failure.
func (s *AssessmentService) SweepOverdue() error {
	overdue, err := s.attempts.ListOverdue(s.clock.Now())
	if err != nil {
		return err
	}
	for _, attempt := range overdue {
		s.ExpireAttempt(attempt.ID)
	}
	return nil
}

func (s *AssessmentService) getAttempt(attemptID string) (*model.AssessmentAttempt, error) {
	attempt, err := s.attempts.FindByID(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("attempt %s not found", attemptID)
		}
		return nil, err
	}
	return attempt, nil
}

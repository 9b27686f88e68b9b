package service

import (
	"context"
	"cyberrange_backend/internal/config"
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

// LabService drives a lab session through its lifecycle:
//
//	requested -> provisioning -> running -> resetting -> running
//	                                     -> stopped | expired | failed
//
// It is the sole writer of session state. Mutations on the same session are
// serialized by a per-session lock; racing terminal transitions (stop vs
// expire vs reset) are resolved by the store's compare-and-swap so exactly
// one wins.
type LabService struct {
	labs     LabStore
	sessions LabSessionStore
	prov     Provisioner
	ledger   Ledger
	clock    Clock
	cfg      *config.Config

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]Timer
}

func NewLabService(labs LabStore, sessions LabSessionStore, prov Provisioner, ledger Ledger, clock Clock, cfg *config.Config) *LabService {
	return &LabService{
		labs:     labs,
		sessions: sessions,
		prov:     prov,
		ledger:   ledger,
		clock:    clock,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
		timers:   make(map[string]Timer),
	}
}

func (s *LabService) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *LabService) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
	delete(s.locks, sessionID)
}

func (s *LabService) armTimer(sessionID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
	}
	s.timers[sessionID] = s.clock.AfterFunc(d, func() { s.Expire(sessionID) })
}

func (s *LabService) budgetFor(lab *model.Lab) time.Duration {
	if lab.BudgetMinutes > 0 {
		return time.Duration(lab.BudgetMinutes) * time.Minute
	}
	return s.cfg.Engine.DefaultLabBudget
}

func (s *LabService) record(eventType string, session *model.LabSession, payload map[string]interface{}) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	s.ledger.Record(model.ActivityEvent{
		EventType:  eventType,
		UserID:     session.UserID,
		SessionID:  session.ID,
		ActivityID: session.LabID,
		Payload:    raw,
		OccurredAt: s.clock.Now(),
	})
	monitoring.SessionTransitions.WithLabelValues("lab", eventType).Inc()
}

// Start creates a session for (owner, lab), allocates the backing resource
// and arms the expiry timer. At most one live session per user per lab.
func (s *LabService) Start(ctx context.Context, ownerID, labID uint) (*model.LabSession, error) {
	lab, err := s.labs.FindByID(labID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("lab %d not found", labID)
		}
		return nil, err
	}
	if !lab.IsPublished {
		return nil, util.NotFoundErr("lab %d not found", labID)
	}

	// Serialize concurrent starts by the same user on the same lab so the
	// live-session check cannot race itself.
	startLock := s.lockFor(fmt.Sprintf("start:%d:%d", ownerID, labID))
	startLock.Lock()
	defer startLock.Unlock()

	live, err := s.sessions.FindLive(ownerID, labID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, util.Conflict("a live session already exists for this lab")
	}

	now := s.clock.Now()
	budget := s.budgetFor(lab)
	session := &model.LabSession{
		UUIDBase:         model.UUIDBase{ID: model.GenerateUUID()},
		UserID:           ownerID,
		LabID:            labID,
		State:            model.SessionRequested,
		StartedAt:        now,
		ExpiresAt:        now.Add(budget),
		LastTransitionAt: now,
		LastSeenAt:       now,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}
	monitoring.ActiveSessions.WithLabelValues("lab").Inc()
	s.record(model.EventLabStarted, session, map[string]interface{}{"budget": budget.String()})

	if ok, err := s.sessions.Transition(session.ID, model.SessionRequested, model.SessionProvisioning,
		map[string]interface{}{"last_transition_at": s.clock.Now()}); err != nil || !ok {
		if err == nil {
			// A concurrent stop can only land after the session row exists.
			return s.sessions.FindByID(session.ID)
		}
		return nil, err
	}
	session.State = model.SessionProvisioning

	allocCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.ProvisionTimeout)
	defer cancel()
	handle, err := s.prov.Allocate(allocCtx, lab, session)
	if err != nil {
		return nil, s.failProvisioning(session, model.SessionProvisioning, "allocate", err)
	}

	ok, err := s.sessions.Transition(session.ID, model.SessionProvisioning, model.SessionRunning,
		map[string]interface{}{"resource_handle": handle, "last_transition_at": s.clock.Now()})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Stop won the race during allocation; release what we just got.
		if derr := s.prov.Deallocate(context.Background(), handle); derr != nil {
			logger.Log.Warn("Failed to deallocate after lost provisioning race",
				zap.String("session_id", session.ID), zap.Error(derr))
		}
		return s.sessions.FindByID(session.ID)
	}

	session.State = model.SessionRunning
	session.ResourceHandle = handle
	s.record(model.EventLabRunning, session, nil)
	s.armTimer(session.ID, session.ExpiresAt.Sub(s.clock.Now()))

	logger.Log.Info("Lab session running",
		zap.String("session_id", session.ID),
		zap.Uint("user_id", ownerID),
		zap.Uint("lab_id", labID),
		zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

// failProvisioning moves the session to the failed terminal state after the
// backend did not acknowledge within budget.
func (s *LabService) failProvisioning(session *model.LabSession, from model.SessionState, op string, cause error) error {
	reason := fmt.Sprintf("%s: %v", op, cause)
	ok, err := s.sessions.Transition(session.ID, from, model.SessionFailed, map[string]interface{}{
		"failure_reason":     reason,
		"last_transition_at": s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if ok {
		session.State = model.SessionFailed
		session.FailureReason = reason
		monitoring.ActiveSessions.WithLabelValues("lab").Dec()
		s.record(model.EventLabFailed, session, map[string]interface{}{"reason": reason})
		s.forget(session.ID)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return util.ProvisioningTimeout("provisioning backend did not acknowledge in time", cause)
	}
	return util.ProvisioningTimeout(reason, cause)
}

func (s *LabService) authorize(session *model.LabSession, requesterID uint, requesterRole model.UserRole) error {
	if session.UserID != requesterID && !requesterRole.IsAdmin() {
		return util.NotAuthorized("caller is neither owner nor admin")
	}
	return nil
}

// Reset recycles the backing resource and extends the deadline by the full
// budget from the reset moment. Only legal from running; a reset already in
// flight rejects a second one instead of double-provisioning.
func (s *LabService) Reset(ctx context.Context, sessionID string, requesterID uint, requesterRole model.UserRole) (*model.LabSession, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, requesterID, requesterRole); err != nil {
		return nil, err
	}

	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err = s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	switch {
	case session.State == model.SessionResetting:
		return nil, util.Conflict("a reset is already in progress")
	case session.State != model.SessionRunning:
		return nil, util.StateErr("cannot reset a session in state %q", session.State)
	}

	ok, err := s.sessions.Transition(sessionID, model.SessionRunning, model.SessionResetting,
		map[string]interface{}{"last_transition_at": s.clock.Now()})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.Conflict("session changed state concurrently")
	}

	lab, err := s.labs.FindByID(session.LabID)
	if err != nil {
		return nil, err
	}

	resetCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.ProvisionTimeout)
	defer cancel()
	if rerr := s.prov.Reset(resetCtx, session.ResourceHandle); rerr != nil {
		// No partial state: back to running with the old handle and the old
		// deadline, surfacing the error so the caller may retry.
		if _, terr := s.sessions.Transition(sessionID, model.SessionResetting, model.SessionRunning,
			map[string]interface{}{"last_transition_at": s.clock.Now()}); terr != nil {
			return nil, terr
		}
		if errors.Is(rerr, context.DeadlineExceeded) {
			return nil, util.ProvisioningTimeout("reset did not acknowledge in time", rerr)
		}
		return nil, fmt.Errorf("reset backend: %w", rerr)
	}

	now := s.clock.Now()
	newExpiry := now.Add(s.budgetFor(lab))
	ok, err = s.sessions.Transition(sessionID, model.SessionResetting, model.SessionRunning,
		map[string]interface{}{
			"expires_at":         newExpiry,
			"reset_count":        session.ResetCount + 1,
			"last_transition_at": now,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		// A stop or expire won while the backend was resetting.
		return s.getSession(sessionID)
	}

	s.armTimer(sessionID, newExpiry.Sub(now))
	session, err = s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	s.record(model.EventLabReset, session, map[string]interface{}{"resetCount": session.ResetCount})
	return session, nil
}

// Stop deallocates and moves the session to stopped. Idempotent: stopping a
// terminal session returns the terminal state unchanged.
func (s *LabService) Stop(ctx context.Context, sessionID string, requesterID uint, requesterRole model.UserRole) (*model.LabSession, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, requesterID, requesterRole); err != nil {
		return nil, err
	}
	return s.terminate(ctx, sessionID, model.SessionStopped, model.EventLabStopped)
}

// Expire is the timer-driven terminal transition. Safe to race a concurrent
// stop or reset: the compare-and-swap picks exactly one winner and the loser
// observes the terminal state.
func (s *LabService) Expire(sessionID string) {
	session, err := s.getSession(sessionID)
	if err != nil {
		logger.Log.Error("Expire: session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if session.State.Terminal() {
		return
	}
	// A reset may have pushed the deadline out after this timer was armed.
	if now := s.clock.Now(); now.Before(session.ExpiresAt) {
		s.armTimer(sessionID, session.ExpiresAt.Sub(now))
		return
	}
	if _, err := s.terminate(context.Background(), sessionID, model.SessionExpired, model.EventLabExpired); err != nil {
		logger.Log.Error("Expire: terminate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *LabService) terminate(ctx context.Context, sessionID string, to model.SessionState, eventType string) (*model.LabSession, error) {
	for {
		session, err := s.getSession(sessionID)
		if err != nil {
			return nil, err
		}
		if session.State.Terminal() {
			return session, nil
		}

		ok, err := s.sessions.Transition(sessionID, session.State, to,
			map[string]interface{}{"last_transition_at": s.clock.Now()})
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race; re-read and either observe the terminal state or
			// retry against the new non-terminal state.
			continue
		}

		if session.ResourceHandle != "" {
			if derr := s.prov.Deallocate(ctx, session.ResourceHandle); derr != nil {
				logger.Log.Warn("Deallocate failed",
					zap.String("session_id", sessionID),
					zap.String("handle", session.ResourceHandle),
					zap.Error(derr))
			}
		}

		session.State = to
		monitoring.ActiveSessions.WithLabelValues("lab").Dec()
		s.record(eventType, session, nil)
		s.forget(sessionID)
		return session, nil
	}
}

// Heartbeat records liveness. It never extends ExpiresAt: the deadline is
// the sole authority for termination.
func (s *LabService) Heartbeat(sessionID string, requesterID uint) (*model.LabSession, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != requesterID {
		return nil, util.NotAuthorized("caller is not the session owner")
	}
	if session.State.Terminal() {
		return session, nil
	}
	if err := s.sessions.UpdateLastSeen(sessionID, s.clock.Now()); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns a session visible to its owner or an admin.
func (s *LabService) Get(sessionID string, requesterID uint, requesterRole model.UserRole) (*model.LabSession, error) {
	session, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, requesterID, requesterRole); err != nil {
		return nil, err
	}
	return session, nil
}

// SweepOverdue finalizes sessions whose deadline passed but whose armed
// timer was lost, e.g. across a process restart.
func (s *LabService) SweepOverdue() error {
	overdue, err := s.sessions.ListOverdue(s.clock.Now())
	if err != nil {
		return err
	}
	for _, session := range overdue {
		s.Expire(session.ID)
	}
	return nil
}

// RearmTimers re-arms expiry timers for live sessions; called once on boot.
func (s *LabService) RearmTimers() error {
	if live, err := s.sessions.CountLive(); err == nil {
		monitoring.ActiveSessions.WithLabelValues("lab").Set(float64(live))
	}
	// Overdue ones are finalized immediately by the first sweep; sessions
	// still inside their budget get fresh timers lazily via the sweeper as
	// well, so nothing else is needed here beyond an initial sweep.
	return s.SweepOverdue()
}

func (s *LabService) getSession(sessionID string) (*model.LabSession, error) {
	session, err := s.sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("session %s not found", sessionID)
		}
		return nil, err
	}
	return session, nil
}

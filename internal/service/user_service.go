package service

import (
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/repository"
	"cyberrange_backend/internal/util"
	"errors"

	"gorm.io/gorm"
)

// UserService exposes profile and activity history reads.
type UserService struct {
	UserRepo    *repository.UserRepository
	SessionRepo *repository.LabSessionRepository
	AttemptRepo *repository.AttemptRepository
	SolveRepo   *repository.ChallengeRepository
	EventRepo   *repository.ActivityEventRepository
}

func NewUserService(users *repository.UserRepository, sessions *repository.LabSessionRepository, attempts *repository.AttemptRepository, solves *repository.ChallengeRepository, events *repository.ActivityEventRepository) *UserService {
	return &UserService{
		UserRepo:    users,
		SessionRepo: sessions,
		AttemptRepo: attempts,
		SolveRepo:   solves,
		EventRepo:   events,
	}
}

func (s *UserService) GetProfile(userID uint) (*model.User, error) {
	user, err := s.UserRepo.FindByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("user %d not found", userID)
		}
		return nil, err
	}
	user.Password = ""
	return user, nil
}

func (s *UserService) UpdateProfile(userID uint, name, avatar string) (*model.User, error) {
	user, err := s.UserRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if name != "" {
		user.Name = name
	}
	if avatar != "" {
		user.Avatar = avatar
	}
	if err := s.UserRepo.Update(user); err != nil {
		return nil, err
	}
	user.Password = ""
	return user, nil
}

func (s *UserService) ListSessions(userID uint, page, limit int) ([]model.LabSession, int64, error) {
	return s.SessionRepo.ListByUser(userID, page, limit)
}

// ListAssessmentAttempts is the instructor view of attempts against one assessment.
func (s *UserService) ListAssessmentAttempts(assessmentID uint, page, limit int) ([]model.AssessmentAttempt, int64, error) {
	return s.AttemptRepo.ListByAssessment(assessmentID, page, limit)
}

func (s *UserService) ListSolves(userID uint) ([]model.ChallengeSolve, error) {
	return s.SolveRepo.ListSolvesByUser(userID)
}

// SessionTimeline is the ledger slice for one session, ordered oldest first.
func (s *UserService) SessionTimeline(sessionID string, requesterID uint, requesterRole model.UserRole, session *model.LabSession) ([]model.ActivityEvent, error) {
	if session.UserID != requesterID && !requesterRole.IsAdmin() {
		return nil, util.NotAuthorized("caller is neither owner nor admin")
	}
	return s.EventRepo.ListBySession(sessionID)
}

// RecentActivity is the admin-facing tail of the ledger.
func (s *UserService) RecentActivity(limit int) ([]model.ActivityEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.EventRepo.ListRecent(limit)
}

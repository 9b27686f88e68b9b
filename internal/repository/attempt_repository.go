package repository

import (
	"cyberrange_backend/internal/model"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) Create(attempt *model.AssessmentAttempt) error {
	return r.DB.Create(attempt).Error
}

func (r *AttemptRepository) FindByID(id string) (*model.AssessmentAttempt, error) {
	var a model.AssessmentAttempt
	if err := r.DB.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindUnfinished returns the user's in-progress attempt for an assessment,
// nil if none.
func (r *AttemptRepository) FindUnfinished(userID, assessmentID uint) (*model.AssessmentAttempt, error) {
	var a model.AssessmentAttempt
	err := r.DB.Where("user_id = ? AND assessment_id = ? AND state = ?",
		userID, assessmentID, model.AttemptInProgress).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) CountByUserAndAssessment(userID, assessmentID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.AssessmentAttempt{}).
		Where("user_id = ? AND assessment_id = ?", userID, assessmentID).
		Count(&count).Error
	return count, err
}

// UpdateAnswers persists the merged answer map, guarded on state so a write
// racing a finalize cannot mutate a terminal attempt.
func (r *AttemptRepository) UpdateAnswers(id string, answers, flagged json.RawMessage) (bool, error) {
	res := r.DB.Model(&model.AssessmentAttempt{}).
		Where("id = ? AND state = ?", id, model.AttemptInProgress).
		Updates(map[string]interface{}{
			"answers":           answers,
			"flagged_questions": flagged,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Transition is the compare-and-swap finalize: exactly one of a concurrent
// explicit submit and the expiry timer can move the attempt out of
// in_progress.
func (r *AttemptRepository) Transition(id string, from, to model.AttemptState, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = make(map[string]interface{}, 2)
	}
	updates["state"] = to
	res := r.DB.Model(&model.AssessmentAttempt{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateResult rewrites the stored result and denormalized score fields of a
// finalized attempt, used when a pending manual grade is resolved.
func (r *AttemptRepository) UpdateResult(id string, updates map[string]interface{}) error {
	return r.DB.Model(&model.AssessmentAttempt{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *AttemptRepository) ListOverdue(now time.Time) ([]model.AssessmentAttempt, error) {
	var attempts []model.AssessmentAttempt
	err := r.DB.Where("state = ? AND expires_at <= ?",
		model.AttemptInProgress, now).Find(&attempts).Error
	return attempts, err
}

func (r *AttemptRepository) ListByAssessment(assessmentID uint, page, limit int) ([]model.AssessmentAttempt, int64, error) {
	query := r.DB.Model(&model.AssessmentAttempt{}).Where("assessment_id = ?", assessmentID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var attempts []model.AssessmentAttempt
	err := query.Order("started_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&attempts).Error
	return attempts, total, err
}

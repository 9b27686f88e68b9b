package repository

import (
	"cyberrange_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type LabSessionRepository struct {
	DB *gorm.DB
}

func NewLabSessionRepository(db *gorm.DB) *LabSessionRepository {
	return &LabSessionRepository{DB: db}
}

func (r *LabSessionRepository) Create(session *model.LabSession) error {
	return r.DB.Create(session).Error
}

func (r *LabSessionRepository) FindByID(id string) (*model.LabSession, error) {
	var s model.LabSession
	if err := r.DB.Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindLive returns the user's non-terminal session for a lab, nil if none.
func (r *LabSessionRepository) FindLive(userID, labID uint) (*model.LabSession, error) {
	var s model.LabSession
	err := r.DB.Where("user_id = ? AND lab_id = ? AND state IN ?",
		userID, labID, model.NonTerminalSessionStates).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Transition is the compare-and-swap state update: it succeeds only if the
// row is still in `from`, so racing terminal transitions resolve to exactly
// one winner. Extra column updates ride along atomically.
func (r *LabSessionRepository) Transition(id string, from, to model.SessionState, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = make(map[string]interface{}, 2)
	}
	updates["state"] = to
	res := r.DB.Model(&model.LabSession{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListOverdue returns non-terminal sessions whose deadline has passed; the
// sweeper finalizes these when their armed timer was lost (e.g. restart).
func (r *LabSessionRepository) ListOverdue(now time.Time) ([]model.LabSession, error) {
	var sessions []model.LabSession
	err := r.DB.Where("state IN ? AND expires_at <= ?",
		model.NonTerminalSessionStates, now).Find(&sessions).Error
	return sessions, err
}

func (r *LabSessionRepository) UpdateLastSeen(id string, t time.Time) error {
	return r.DB.Model(&model.LabSession{}).Where("id = ?", id).
		Update("last_seen_at", t).Error
}

func (r *LabSessionRepository) ListByUser(userID uint, page, limit int) ([]model.LabSession, int64, error) {
	query := r.DB.Model(&model.LabSession{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []model.LabSession
	err := query.Order("started_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&sessions).Error
	return sessions, total, err
}

func (r *LabSessionRepository) CountLive() (int64, error) {
	var count int64
	err := r.DB.Model(&model.LabSession{}).
		Where("state IN ?", model.NonTerminalSessionStates).Count(&count).Error
	return count, err
}

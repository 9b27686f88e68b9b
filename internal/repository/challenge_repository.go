package repository

import (
	"cyberrange_backend/internal/model"
	"errors"

	"gorm.io/gorm"
)

type ChallengeRepository struct {
	DB *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{DB: db}
}

func (r *ChallengeRepository) Create(c *model.Challenge) error {
	return r.DB.Create(c).Error
}

func (r *ChallengeRepository) Update(c *model.Challenge) error {
	return r.DB.Save(c).Error
}

func (r *ChallengeRepository) Delete(id uint) error {
	return r.DB.Delete(&model.Challenge{}, id).Error
}

func (r *ChallengeRepository) FindByID(id uint) (*model.Challenge, error) {
	var c model.Challenge
	if err := r.DB.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ChallengeRepository) List(page, limit int, publishedOnly bool, category string) ([]model.Challenge, int64, error) {
	query := r.DB.Model(&model.Challenge{})
	if publishedOnly {
		query = query.Where("is_published = ?", true)
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var cs []model.Challenge
	err := query.Order("points ASC, id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&cs).Error
	return cs, total, err
}

// CreateSolve inserts the solve record if absent. The unique
// (user_id, challenge_id) index makes this an atomic check-and-set: the
// second of two concurrent inserts gets a duplicate-key error and
// created=false.
func (r *ChallengeRepository) CreateSolve(solve *model.ChallengeSolve) (created bool, err error) {
	if err := r.DB.Create(solve).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *ChallengeRepository) FindSolve(userID, challengeID uint) (*model.ChallengeSolve, error) {
	var s model.ChallengeSolve
	err := r.DB.Where("user_id = ? AND challenge_id = ?", userID, challengeID).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ChallengeRepository) ListSolvesByUser(userID uint) ([]model.ChallengeSolve, error) {
	var solves []model.ChallengeSolve
	err := r.DB.Where("user_id = ?", userID).Order("solved_at DESC").Find(&solves).Error
	return solves, err
}

// LeaderboardRow is the DB fallback when redis is unavailable.
type LeaderboardRow struct {
	UserID uint `json:"userId"`
	Points int  `json:"points"`
	Solves int  `json:"solves"`
}

func (r *ChallengeRepository) Leaderboard(limit int) ([]LeaderboardRow, error) {
	var rows []LeaderboardRow
	err := r.DB.Model(&model.ChallengeSolve{}).
		Select("user_id, SUM(points_awarded) AS points, COUNT(*) AS solves").
		Group("user_id").
		Order("points DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

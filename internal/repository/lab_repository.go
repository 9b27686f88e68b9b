package repository

import (
	"cyberrange_backend/internal/model"

	"gorm.io/gorm"
)

type LabRepository struct {
	DB *gorm.DB
}

func NewLabRepository(db *gorm.DB) *LabRepository {
	return &LabRepository{DB: db}
}

func (r *LabRepository) Create(lab *model.Lab) error {
	return r.DB.Create(lab).Error
}

func (r *LabRepository) Update(lab *model.Lab) error {
	return r.DB.Save(lab).Error
}

func (r *LabRepository) Delete(id uint) error {
	return r.DB.Delete(&model.Lab{}, id).Error
}

func (r *LabRepository) FindByID(id uint) (*model.Lab, error) {
	var lab model.Lab
	if err := r.DB.First(&lab, id).Error; err != nil {
		return nil, err
	}
	return &lab, nil
}

func (r *LabRepository) List(page, limit int, publishedOnly bool, category string) ([]model.Lab, int64, error) {
	query := r.DB.Model(&model.Lab{})
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

	var labs []model.Lab
	err := query.Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&labs).Error
	return labs, total, err
}

package model

import "time"

// Lab is the configuration of a hands-on lab activity: which image backs it
// and how long a session may live. Budgets are minutes; zero falls back to
// the engine default.
// swagger:model Lab
type Lab struct {
	BaseModel
	Title         string     `gorm:"size:255;not null" json:"title"`
	Description   string     `gorm:"type:text" json:"description"`
	Category      string     `gorm:"size:100;index" json:"category"` // web, crypto, forensics, network, ...
	Difficulty    string     `gorm:"size:20;default:'medium'" json:"difficulty"`
	Image         string     `gorm:"size:255;not null" json:"image"` // container image for the provisioner
	BudgetMinutes int        `gorm:"default:0" json:"budgetMinutes"`
	IsPublished   bool       `gorm:"default:false" json:"isPublished"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
}

func (Lab) TableName() string {
	return "labs"
}

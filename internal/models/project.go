package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project is owned by the external project CRUD. Name and URL are refreshed
// from scan completion events and read for display in emails.
type Project struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is embedded by every UUID keyed model. Rows are soft deleted: DeletedAt
// hides them from normal queries while keeping them for audit. None of the
// fields are dataset content.
type Base struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key" json:"id" versioning:"-"`
	CreatedAt time.Time      `json:"created" versioning:"-"`
	UpdatedAt time.Time      `json:"modified" versioning:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"removed,omitempty" versioning:"-"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// GetID returns the primary key.
func (b *Base) GetID() uuid.UUID {
	return b.ID
}

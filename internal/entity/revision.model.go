package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DatasetRevision is an immutable snapshot of a dataset taken when one of its
// revision counters changed. Rows are append only.
type DatasetRevision struct {
	ID           uint             `gorm:"primaryKey;autoIncrement" json:"-"`
	DatasetID    uuid.UUID        `gorm:"type:uuid;not null;index:idx_revision_dataset_reason" json:"dataset_id"`
	Kind         string           `gorm:"type:varchar(10);not null" json:"kind"`
	Major        int              `gorm:"not null" json:"published_revision"`
	Minor        int              `gorm:"not null" json:"draft_revision"`
	ChangeReason string           `gorm:"type:varchar(100);not null;index:idx_revision_dataset_reason" json:"change_reason"`
	Snapshot     datatypes.JSON   `json:"snapshot"`
	Changes      []RevisionChange `gorm:"foreignKey:RevisionID;constraint:OnDelete:CASCADE" json:"changes,omitempty"`
	CreatedAt    time.Time        `json:"created"`
}

// RevisionChange records a single field difference between two revisions.
type RevisionChange struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	RevisionID uint   `gorm:"not null;index" json:"-"`
	FieldName  string `gorm:"type:varchar(255)" json:"field_name"`
	OldValue   string `gorm:"type:text" json:"old_value"`
	NewValue   string `gorm:"type:text" json:"new_value"`
}

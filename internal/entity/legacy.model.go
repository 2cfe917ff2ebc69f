package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LegacyDataset holds the raw V2 payload of a migrated dataset. Its ID is the
// V2 identifier, which is also the ID of the converted Dataset.
type LegacyDataset struct {
	ID                      uuid.UUID                               `gorm:"type:uuid;primary_key" json:"id"`
	DatasetJSON             datatypes.JSON                          `json:"dataset_json"`
	MigrationErrors         datatypes.JSONType[map[string][]string] `json:"migration_errors"`
	InvalidLegacyValues     datatypes.JSONMap                       `json:"invalid_legacy_values,omitempty"`
	LastSuccessfulMigration *time.Time                              `json:"last_successful_migration"`
	CreatedAt               time.Time                               `json:"created"`
	UpdatedAt               time.Time                               `json:"modified"`
	DeletedAt               gorm.DeletedAt                          `gorm:"index" json:"-"`
}

func (l *LegacyDataset) HasMigrationErrors() bool {
	return len(l.MigrationErrors.Data()) > 0
}

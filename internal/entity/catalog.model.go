package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DataCatalog struct {
	ID                       string            `gorm:"type:varchar(255);primary_key" json:"id"`
	Title                    datatypes.JSONMap `json:"title"`
	DatasetVersioningEnabled bool              `json:"dataset_versioning_enabled"`
	Harvested                bool              `json:"harvested"`
	CreatedAt                time.Time         `json:"created"`
	UpdatedAt                time.Time         `json:"modified"`
	DeletedAt                gorm.DeletedAt    `gorm:"index" json:"-"`
}

func (DataCatalog) IsReferenceData() bool { return true }

// Concept is a reference data entry (language, theme, field of science or license).
type Concept struct {
	Base
	Type      string            `gorm:"type:varchar(50);not null;uniqueIndex:idx_concept_type_url" json:"-"`
	URL       string            `gorm:"type:varchar(512);not null;uniqueIndex:idx_concept_type_url" json:"url"`
	InScheme  string            `gorm:"type:varchar(512)" json:"in_scheme,omitempty"`
	PrefLabel datatypes.JSONMap `json:"pref_label,omitempty"`
}

const (
	ConceptLanguage       = "language"
	ConceptTheme          = "theme"
	ConceptFieldOfScience = "field_of_science"
	ConceptLicense        = "license"
)

func (Concept) IsReferenceData() bool { return true }

type AccessRights struct {
	Base
	Description datatypes.JSONMap `json:"description,omitempty"`
	AccessType  string            `gorm:"type:varchar(255)" json:"access_type,omitempty"`
	LicenseID   *uuid.UUID        `gorm:"type:uuid" json:"-"`
	License     *Concept          `gorm:"foreignKey:LicenseID" json:"license,omitempty"`
}

type MetadataProvider struct {
	Base
	User         string `gorm:"type:varchar(255);not null" json:"user"`
	Organization string `gorm:"type:varchar(512);not null" json:"organization"`
}

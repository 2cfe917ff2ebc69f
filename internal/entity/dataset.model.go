package entity

import (
	"time"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/copier"
	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StateDraft     = "draft"
	StatePublished = "published"
)

const (
	NotCumulative    = 0
	CumulativeActive = 1
	CumulativeClosed = 2
)

// DraftPrefix marks the persistent identifier of a draft created from a published dataset.
const DraftPrefix = "draft:"

// Dataset is a collection of data available for access or download.
//
// Fields tagged `versioning:"-"` do not count as content when deciding
// whether a save produces a new revision.
type Dataset struct {
	Base
	PersistentIdentifier *string                      `gorm:"type:varchar(255);index" json:"persistent_identifier"`
	Issued               *time.Time                   `json:"issued"`
	Title                datatypes.JSONMap            `json:"title"`
	Description          datatypes.JSONMap            `json:"description,omitempty"`
	Keyword              datatypes.JSONType[[]string] `json:"keyword"`
	State                string                       `gorm:"type:varchar(10);not null;index" json:"state" versioning:"-"`
	PublishedRevision    int                          `gorm:"not null" json:"published_revision" versioning:"-"`
	DraftRevision        int                          `gorm:"not null" json:"draft_revision" versioning:"-"`
	CumulativeState      int                          `gorm:"not null" json:"cumulative_state"`
	CumulationStarted    *time.Time                   `json:"cumulation_started,omitempty"`
	CumulationEnded      *time.Time                   `json:"cumulation_ended,omitempty"`
	IsDeprecated         bool                         `json:"is_deprecated"`
	IsLegacy             bool                         `json:"-" versioning:"-"`
	SystemCreator        string                       `gorm:"type:varchar(255)" json:"-" versioning:"-"`

	DataCatalogID   *string           `gorm:"type:varchar(255);index" json:"data_catalog"`
	DataCatalog     *DataCatalog      `gorm:"foreignKey:DataCatalogID" json:"-" versioning:"-"`
	MetadataOwnerID *uuid.UUID        `gorm:"type:uuid" json:"-" versioning:"-"`
	MetadataOwner   *MetadataProvider `gorm:"foreignKey:MetadataOwnerID" json:"metadata_owner,omitempty"`
	AccessRightsID  *uuid.UUID        `gorm:"type:uuid" json:"-" versioning:"-"`
	AccessRights    *AccessRights     `gorm:"foreignKey:AccessRightsID" json:"access_rights,omitempty"`
	Actors          []DatasetActor    `gorm:"foreignKey:DatasetID" json:"actors"`
	Provenance      []Provenance      `gorm:"foreignKey:DatasetID" json:"provenance"`
	Language        []Concept         `gorm:"many2many:dataset_languages" json:"language"`
	Theme           []Concept         `gorm:"many2many:dataset_themes" json:"theme"`
	FieldOfScience  []Concept         `gorm:"many2many:dataset_fields_of_science" json:"field_of_science"`
	FileSet         *FileSet          `gorm:"foreignKey:DatasetID" json:"fileset,omitempty" versioning:"-"`
	OtherVersions   []*Dataset        `gorm:"many2many:dataset_other_versions;joinForeignKey:DatasetID;joinReferences:OtherVersionID" json:"-" versioning:"-"`
	OtherVersionIDs []uuid.UUID       `gorm:"-" json:"other_versions" versioning:"-"`
	DraftOfID       *uuid.UUID        `gorm:"type:uuid;index" json:"draft_of" versioning:"-"`
	NextDraftID     *uuid.UUID        `gorm:"-" json:"next_draft" versioning:"-"`
}

func (d *Dataset) IsPublished() bool {
	return d.State == StatePublished
}

// IsDraftOfPublished reports whether d is a draft that will be merged into an existing dataset.
func (d *Dataset) IsDraftOfPublished() bool {
	return d.DraftOfID != nil
}

func (d *Dataset) Keywords() []string {
	return d.Keyword.Data()
}

func (d *Dataset) SetKeywords(keywords []string) {
	d.Keyword = datatypes.NewJSONType(keywords)
}

func (d *Dataset) RecordID() uuid.UUID {
	return d.ID
}

// VersioningEnabled requires DataCatalog to be loaded.
func (d *Dataset) VersioningEnabled() bool {
	if d.IsLegacy || d.DataCatalog == nil {
		return false
	}
	return d.DataCatalog.DatasetVersioningEnabled
}

func (d *Dataset) RevisionState() versioning.State {
	kind := versioning.Draft
	if d.IsPublished() {
		kind = versioning.Published
	}
	return versioning.State{
		Kind:       kind,
		Published:  d.PublishedRevision,
		Draft:      d.DraftRevision,
		Cumulative: d.CumulativeState,
	}
}

func (d *Dataset) SetRevision(published, draft int) {
	d.PublishedRevision = published
	d.DraftRevision = draft
}

// Publish starts a new published revision. The persistent identifier must be
// set beforehand.
func (d *Dataset) Publish(now time.Time) error {
	if d.PersistentIdentifier == nil || *d.PersistentIdentifier == "" {
		return apperr.Field("persistent_identifier", "Dataset has to have persistent identifier when publishing")
	}
	d.PublishedRevision++
	d.DraftRevision = 0
	if d.Issued == nil {
		issued := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		d.Issued = &issued
	}
	return nil
}

func (Dataset) CopyConfig() copier.Config {
	return copier.Config{
		CopiedRelations: []string{"AccessRights", "Actors", "Provenance", "FileSet"},
		ParentRelations: []string{"DataCatalog", "MetadataOwner", "Language", "Theme", "FieldOfScience"},
	}
}

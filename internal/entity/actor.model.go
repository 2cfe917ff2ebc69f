package entity

import (
	"github.com/EarthModule/fairdata-metax-v3/internal/copier"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Organization struct {
	Base
	URL                string            `gorm:"type:varchar(512);index" json:"url,omitempty"`
	Code               string            `gorm:"type:varchar(255)" json:"code,omitempty"`
	InScheme           string            `gorm:"type:varchar(512)" json:"in_scheme,omitempty"`
	PrefLabel          datatypes.JSONMap `json:"pref_label"`
	Homepage           string            `gorm:"type:varchar(512)" json:"homepage,omitempty"`
	Email              string            `gorm:"type:varchar(255)" json:"email,omitempty"`
	ExternalIdentifier string            `gorm:"type:varchar(512)" json:"external_identifier,omitempty"`
	ParentID           *uuid.UUID        `gorm:"type:uuid" json:"-"`
	Parent             *Organization     `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	ReferenceData      bool              `gorm:"column:is_reference_data" json:"is_reference_data"`
}

func (o *Organization) IsReferenceData() bool { return o.ReferenceData }

func (Organization) CopyConfig() copier.Config {
	return copier.Config{CopiedRelations: []string{"Parent"}}
}

type Person struct {
	Base
	Name               string `gorm:"type:varchar(512)" json:"name"`
	Email              string `gorm:"type:varchar(255)" json:"email,omitempty"`
	ExternalIdentifier string `gorm:"type:varchar(512)" json:"external_identifier,omitempty"`
}

func (Person) CopyConfig() copier.Config { return copier.Config{} }

const (
	RoleCreator      = "creator"
	RoleContributor  = "contributor"
	RolePublisher    = "publisher"
	RoleCurator      = "curator"
	RoleRightsHolder = "rights_holder"
	RoleProvenance   = "provenance"
)

// DatasetActor binds a person and/or organization to a dataset in one or more roles.
type DatasetActor struct {
	Base
	DatasetID      uuid.UUID                    `gorm:"type:uuid;index;not null" json:"-"`
	Roles          datatypes.JSONType[[]string] `json:"roles"`
	PersonID       *uuid.UUID                   `gorm:"type:uuid" json:"-"`
	Person         *Person                      `gorm:"foreignKey:PersonID" json:"person,omitempty"`
	OrganizationID *uuid.UUID                   `gorm:"type:uuid" json:"-"`
	Organization   *Organization                `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

func (a *DatasetActor) HasRole(role string) bool {
	for _, r := range a.Roles.Data() {
		if r == role {
			return true
		}
	}
	return false
}

func (DatasetActor) CopyConfig() copier.Config {
	return copier.Config{CopiedRelations: []string{"Person", "Organization"}}
}

type Provenance struct {
	Base
	DatasetID          uuid.UUID         `gorm:"type:uuid;index;not null" json:"-"`
	Title              datatypes.JSONMap `json:"title,omitempty"`
	Description        datatypes.JSONMap `json:"description,omitempty"`
	OutcomeDescription datatypes.JSONMap `json:"outcome_description,omitempty"`
	IsAssociatedWith   []DatasetActor    `gorm:"many2many:provenance_actors" json:"is_associated_with"`
}

func (Provenance) CopyConfig() copier.Config {
	return copier.Config{CopiedRelations: []string{"IsAssociatedWith"}}
}

func (AccessRights) CopyConfig() copier.Config {
	return copier.Config{ParentRelations: []string{"License"}}
}

func (MetadataProvider) CopyConfig() copier.Config { return copier.Config{} }

package dataset

import (
	"time"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Input is the writable representation of a dataset. Nil fields are left
// untouched by partial updates and cleared by full updates.
type Input struct {
	PersistentIdentifier *string             `json:"persistent_identifier"`
	Title                map[string]string   `json:"title"`
	Description          map[string]string   `json:"description"`
	Keyword              []string            `json:"keyword"`
	Issued               *string             `json:"issued"`
	State                *string             `json:"state"`
	CumulativeState      *int                `json:"cumulative_state"`
	IsDeprecated         *bool               `json:"is_deprecated"`
	DataCatalog          *string             `json:"data_catalog"`
	MetadataOwner        *MetadataOwnerInput `json:"metadata_owner"`
	AccessRights         *AccessRightsInput  `json:"access_rights"`
	Actors               []ActorInput        `json:"actors"`
	Provenance           []ProvenanceInput   `json:"provenance"`
	Language             []ConceptInput      `json:"language"`
	Theme                []ConceptInput      `json:"theme"`
	FieldOfScience       []ConceptInput      `json:"field_of_science"`
	FileSet              *FileSetInput       `json:"fileset"`
}

type MetadataOwnerInput struct {
	User         string `json:"user"`
	Organization string `json:"organization"`
}

type ConceptInput struct {
	URL       string            `json:"url"`
	InScheme  string            `json:"in_scheme,omitempty"`
	PrefLabel map[string]string `json:"pref_label,omitempty"`
}

type AccessRightsInput struct {
	Description map[string]string `json:"description,omitempty"`
	AccessType  string            `json:"access_type,omitempty"`
	License     *ConceptInput     `json:"license,omitempty"`
}

type PersonInput struct {
	Name               string `json:"name"`
	Email              string `json:"email,omitempty"`
	ExternalIdentifier string `json:"external_identifier,omitempty"`
}

// OrganizationInput refers to an existing organization by ID or reference
// URL, or describes a new one.
type OrganizationInput struct {
	ID                 *uuid.UUID         `json:"id,omitempty"`
	URL                string             `json:"url,omitempty"`
	PrefLabel          map[string]string  `json:"pref_label,omitempty"`
	Code               string             `json:"code,omitempty"`
	Email              string             `json:"email,omitempty"`
	Homepage           string             `json:"homepage,omitempty"`
	ExternalIdentifier string             `json:"external_identifier,omitempty"`
	Parent             *OrganizationInput `json:"parent,omitempty"`
}

type ActorInput struct {
	Roles        []string           `json:"roles"`
	Person       *PersonInput       `json:"person,omitempty"`
	Organization *OrganizationInput `json:"organization,omitempty"`
}

type ProvenanceInput struct {
	Title              map[string]string `json:"title,omitempty"`
	Description        map[string]string `json:"description,omitempty"`
	OutcomeDescription map[string]string `json:"outcome_description,omitempty"`
	IsAssociatedWith   []ActorInput      `json:"is_associated_with,omitempty"`
}

// changes records which owned relations apply rebuilt in memory and persist
// has to write.
type changes struct {
	accessRights    bool
	oldAccessRights *uuid.UUID
	actors          bool
	concepts        bool
	fileset         *FileSetInput
}

var validRoles = map[string]bool{
	entity.RoleCreator:      true,
	entity.RoleContributor:  true,
	entity.RolePublisher:    true,
	entity.RoleCurator:      true,
	entity.RoleRightsHolder: true,
	entity.RoleProvenance:   true,
}

func jsonMap(values map[string]string) datatypes.JSONMap {
	if values == nil {
		return nil
	}
	m := make(datatypes.JSONMap, len(values))
	for k, v := range values {
		m[k] = v
	}
	return m
}

func stringMap(values datatypes.JSONMap) map[string]string {
	if values == nil {
		return nil
	}
	m := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	return m
}

// apply writes in onto ds. Persons, organizations, concepts and metadata
// owners are created right away in tx; rows owned by the dataset are only
// built in memory and written by persist.
func (s *Service) apply(tx *gorm.DB, ds *entity.Dataset, in Input, partial bool, isNew bool) (changes, error) {
	var ch changes
	set := func(present bool) bool { return !partial || present }
	fieldErrs := apperr.FieldErrors{}

	if set(in.PersistentIdentifier != nil) {
		ds.PersistentIdentifier = in.PersistentIdentifier
	}
	if set(in.Title != nil) {
		if len(in.Title) == 0 {
			fieldErrs["title"] = "This field is required."
		}
		ds.Title = jsonMap(in.Title)
	}
	if set(in.Description != nil) {
		ds.Description = jsonMap(in.Description)
	}
	if set(in.Keyword != nil) {
		ds.SetKeywords(in.Keyword)
	}
	if set(in.Issued != nil) {
		// A published dataset keeps its issue date when it is omitted.
		if !ds.IsPublished() {
			ds.Issued = nil
		}
		if in.Issued != nil {
			issued, err := time.Parse("2006-01-02", *in.Issued)
			if err != nil {
				fieldErrs["issued"] = "Date has wrong format. Use YYYY-MM-DD."
			} else {
				ds.Issued = &issued
			}
		}
	}
	if set(in.IsDeprecated != nil) {
		ds.IsDeprecated = in.IsDeprecated != nil && *in.IsDeprecated
	}
	if in.CumulativeState != nil {
		if msg := applyCumulativeState(ds, *in.CumulativeState, s.now()); msg != "" {
			fieldErrs["cumulative_state"] = msg
		}
	}

	if in.DataCatalog != nil {
		var catalog entity.DataCatalog
		if err := tx.First(&catalog, "id = ?", *in.DataCatalog).Error; err != nil {
			fieldErrs["data_catalog"] = "Data catalog does not exist."
		} else {
			ds.DataCatalogID = &catalog.ID
			ds.DataCatalog = &catalog
		}
	} else if !partial && !isNew {
		ds.DataCatalogID = nil
		ds.DataCatalog = nil
	}

	for _, concepts := range [][]ConceptInput{in.Language, in.Theme, in.FieldOfScience} {
		for _, concept := range concepts {
			if concept.URL == "" {
				fieldErrs["url"] = "Concept url is required."
			}
		}
	}
	for _, actor := range append(append([]ActorInput{}, in.Actors...), provenanceActors(in.Provenance)...) {
		if err := validateActor(actor); err != "" {
			fieldErrs["actors"] = err
		}
	}
	if len(fieldErrs) > 0 {
		return ch, apperr.Validation.Wrap(fieldErrs)
	}

	if in.MetadataOwner != nil {
		owner, err := getOrCreateOwner(tx, *in.MetadataOwner)
		if err != nil {
			return ch, err
		}
		ds.MetadataOwnerID = &owner.ID
		ds.MetadataOwner = owner
	}

	if set(in.AccessRights != nil) {
		ch.accessRights = true
		ch.oldAccessRights = ds.AccessRightsID
		ds.AccessRights = nil
		if in.AccessRights != nil {
			access, err := buildAccessRights(tx, *in.AccessRights)
			if err != nil {
				return ch, err
			}
			ds.AccessRights = access
		}
	}

	if set(in.Actors != nil) || set(in.Provenance != nil) {
		actorsIn, provenanceIn := in.Actors, in.Provenance
		if partial && in.Actors == nil {
			actorsIn = actorInputs(ds.Actors)
		}
		if partial && in.Provenance == nil {
			provenanceIn = provenanceInputs(ds.Provenance)
		}
		actors, provenance, err := s.buildActors(tx, actorsIn, provenanceIn)
		if err != nil {
			return ch, err
		}
		ds.Actors, ds.Provenance = actors, provenance
		ch.actors = true
	}

	if set(in.Language != nil) || set(in.Theme != nil) || set(in.FieldOfScience != nil) {
		var err error
		if set(in.Language != nil) {
			if ds.Language, err = getOrCreateConcepts(tx, entity.ConceptLanguage, in.Language); err != nil {
				return ch, err
			}
		}
		if set(in.Theme != nil) {
			if ds.Theme, err = getOrCreateConcepts(tx, entity.ConceptTheme, in.Theme); err != nil {
				return ch, err
			}
		}
		if set(in.FieldOfScience != nil) {
			if ds.FieldOfScience, err = getOrCreateConcepts(tx, entity.ConceptFieldOfScience, in.FieldOfScience); err != nil {
				return ch, err
			}
		}
		ch.concepts = true
	}

	ch.fileset = in.FileSet
	return ch, nil
}

// applyCumulativeState moves the cumulation state and returns a message
// when the transition is not allowed.
func applyCumulativeState(ds *entity.Dataset, state int, now time.Time) string {
	if state < entity.NotCumulative || state > entity.CumulativeClosed {
		return "Invalid cumulative state."
	}
	if state == ds.CumulativeState {
		return ""
	}
	if ds.CumulativeState == entity.CumulativeClosed {
		return "Cumulation has been closed."
	}
	switch state {
	case entity.CumulativeActive:
		ds.CumulationStarted = &now
	case entity.CumulativeClosed:
		if ds.CumulativeState != entity.CumulativeActive {
			return "Only active cumulation can be closed."
		}
		ds.CumulationEnded = &now
	}
	ds.CumulativeState = state
	return ""
}

func validateActor(actor ActorInput) string {
	if actor.Person == nil && actor.Organization == nil {
		return "Actor needs a person or an organization."
	}
	if actor.Person != nil && actor.Person.Name == "" {
		return "Person name is required."
	}
	for _, role := range actor.Roles {
		if !validRoles[role] {
			return "Invalid role " + role + "."
		}
	}
	return ""
}

func provenanceActors(provenance []ProvenanceInput) []ActorInput {
	var actors []ActorInput
	for _, p := range provenance {
		actors = append(actors, p.IsAssociatedWith...)
	}
	return actors
}

func getOrCreateOwner(tx *gorm.DB, in MetadataOwnerInput) (*entity.MetadataProvider, error) {
	if in.User == "" {
		return nil, apperr.Field("metadata_owner", "Metadata owner user is required.")
	}
	if in.Organization == "" {
		in.Organization = in.User
	}
	owner := entity.MetadataProvider{}
	err := tx.Where(entity.MetadataProvider{User: in.User, Organization: in.Organization}).
		FirstOrCreate(&owner).Error
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

func buildAccessRights(tx *gorm.DB, in AccessRightsInput) (*entity.AccessRights, error) {
	access := &entity.AccessRights{
		Description: jsonMap(in.Description),
		AccessType:  in.AccessType,
	}
	if in.License != nil {
		licenses, err := getOrCreateConcepts(tx, entity.ConceptLicense, []ConceptInput{*in.License})
		if err != nil {
			return nil, err
		}
		access.License = &licenses[0]
		access.LicenseID = &licenses[0].ID
	}
	return access, nil
}

// getOrCreateConcepts resolves reference concepts by URL, creating entries
// that are not known yet.
func getOrCreateConcepts(tx *gorm.DB, conceptType string, in []ConceptInput) ([]entity.Concept, error) {
	concepts := make([]entity.Concept, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		if c.URL == "" {
			return nil, apperr.Field(conceptType, "Concept url is required.")
		}
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true

		concept := entity.Concept{}
		err := tx.Where(entity.Concept{Type: conceptType, URL: c.URL}).
			Attrs(entity.Concept{InScheme: c.InScheme, PrefLabel: jsonMap(c.PrefLabel)}).
			FirstOrCreate(&concept).Error
		if err != nil {
			return nil, err
		}
		concepts = append(concepts, concept)
	}
	return concepts, nil
}

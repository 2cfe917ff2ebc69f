// Package legacy converts datasets from the V2 format and drives their bulk
// migration from files or a running V2 instance.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EarthModule/fairdata-metax-v3/internal/actors"
	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/dataset"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errConversion rolls back a conversion that recorded migration errors.
var errConversion = errors.New("conversion failed")

type Converter struct {
	datasets *dataset.Service
	log      *zap.Logger
	now      func() time.Time
}

func NewConverter(datasets *dataset.Service, log *zap.Logger) *Converter {
	return &Converter{datasets: datasets, log: log, now: time.Now}
}

// WithClock replaces the time source used for migration timestamps.
func (c *Converter) WithClock(now func() time.Time) *Converter {
	c.now = now
	return c
}

// conversion collects the problems found in one payload. Errors prevent the
// dataset from being saved, invalid values are dropped and kept for review.
type conversion struct {
	errors  map[string][]string
	invalid datatypes.JSONMap
}

func newConversion() *conversion {
	return &conversion{errors: map[string][]string{}, invalid: datatypes.JSONMap{}}
}

func (c *conversion) fail(field, msg string) {
	c.errors[field] = append(c.errors[field], msg)
}

func (c *conversion) ignore(field string, value interface{}, msg string) {
	c.invalid[field] = map[string]interface{}{"value": value, "error": msg}
}

// Convert updates the dataset of row from its V2 payload in tx. Problems in
// the payload are recorded on row instead of being returned; the returned
// error is reserved for failures of the database.
func (c *Converter) Convert(tx *gorm.DB, row *entity.LegacyDataset) error {
	conv := newConversion()

	var v2 v2Dataset
	if err := json.Unmarshal(row.DatasetJSON, &v2); err != nil {
		conv.fail("dataset_json", err.Error())
	} else if v2.Identifier != row.ID.String() {
		conv.fail("identifier", "Identifier does not match the migrated dataset.")
	}

	if len(conv.errors) == 0 {
		err := tx.Transaction(func(tx *gorm.DB) error {
			rec, err := c.record(tx, row.ID, v2, conv)
			if err != nil {
				return err
			}
			if len(conv.errors) > 0 {
				return errConversion
			}
			_, err = c.datasets.SaveLegacy(tx, rec)
			return err
		})
		if fields, ok := apperr.Fields(err); ok {
			for field, msg := range fields {
				conv.fail(field, msg)
			}
		} else if err != nil && !errors.Is(err, errConversion) {
			return err
		}
	}

	row.MigrationErrors = datatypes.NewJSONType(conv.errors)
	row.InvalidLegacyValues = nil
	if len(conv.invalid) > 0 {
		row.InvalidLegacyValues = conv.invalid
	}
	if len(conv.errors) == 0 {
		now := c.now()
		row.LastSuccessfulMigration = &now
	}
	return nil
}

// Upsert stores a V2 payload and converts it, creating the legacy dataset on
// first sight.
func (c *Converter) Upsert(ctx context.Context, payload json.RawMessage) (*entity.LegacyDataset, bool, error) {
	rec, err := ParseRecord(payload)
	if err != nil {
		return nil, false, apperr.Field("dataset_json", err.Error())
	}
	id, err := uuid.Parse(rec.Identifier)
	if err != nil {
		return nil, false, apperr.Field("identifier", "Invalid identifier '"+rec.Identifier+"'.")
	}

	var row *entity.LegacyDataset
	var created bool
	err = c.datasets.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if row, created, err = getOrCreate(tx, id, payload); err != nil {
			return err
		}
		row.DatasetJSON = datatypes.JSON(payload)
		if err := c.Convert(tx, row); err != nil {
			return err
		}
		return tx.Save(row).Error
	})
	if err != nil {
		return nil, false, err
	}

	c.datasets.Refresh(ctx, id)
	return row, created, nil
}

func getOrCreate(tx *gorm.DB, id uuid.UUID, payload json.RawMessage) (*entity.LegacyDataset, bool, error) {
	row := &entity.LegacyDataset{}
	err := tx.Unscoped().Where("id = ?", id).First(row).Error
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	row = &entity.LegacyDataset{ID: id, DatasetJSON: datatypes.JSON(payload)}
	if err := tx.Create(row).Error; err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (c *Converter) record(tx *gorm.DB, id uuid.UUID, v2 v2Dataset, conv *conversion) (dataset.LegacyRecord, error) {
	rec := dataset.LegacyRecord{ID: id, Removed: v2.Removed}
	in := &rec.Input

	rd := v2.ResearchDataset
	if rd == nil {
		conv.fail("research_dataset", "This field is required.")
		return rec, nil
	}

	if v2.DataCatalog == nil || v2.DataCatalog.Identifier == "" {
		conv.fail("data_catalog", "This field is required.")
	} else {
		if err := ensureCatalog(tx, v2.DataCatalog.Identifier); err != nil {
			return rec, err
		}
		in.DataCatalog = &v2.DataCatalog.Identifier
	}

	state := v2.State
	if state == "" {
		state = entity.StatePublished
	}
	in.State = &state

	owner := dataset.MetadataOwnerInput{User: v2.MetadataOwnerUser, Organization: v2.MetadataOwnerOrg}
	if owner.User == "" {
		owner.User = v2.MetadataProviderUser
	}
	if owner.Organization == "" {
		owner.Organization = v2.MetadataProviderOrg
	}
	if owner.User == "" {
		conv.fail("metadata_owner_user", "This field is required.")
	} else {
		in.MetadataOwner = &owner
	}

	if v2.DateCreated != "" {
		if created, err := parseTimestamp(v2.DateCreated); err != nil {
			conv.ignore("date_created", v2.DateCreated, "Invalid timestamp.")
		} else {
			rec.Created = created
		}
	}

	if rd.PreferredIdentifier != "" {
		in.PersistentIdentifier = &rd.PreferredIdentifier
	}
	in.Title = rd.Title
	in.Description = rd.Description
	in.Keyword = rd.Keyword
	if rd.Issued != "" {
		if issued, err := parseTimestamp(rd.Issued); err != nil {
			conv.ignore("research_dataset.issued", rd.Issued, "Invalid date.")
		} else {
			date := issued.Format("2006-01-02")
			in.Issued = &date
		}
	}
	cumulative := v2.CumulativeState
	in.CumulativeState = &cumulative
	deprecated := v2.Deprecated
	in.IsDeprecated = &deprecated

	if rd.AccessRights != nil {
		in.AccessRights = accessRights(rd.AccessRights, conv)
	}

	actorsIn, err := c.actors(tx, rd, conv)
	if err != nil {
		return rec, err
	}
	in.Actors = actorsIn

	in.Provenance = []dataset.ProvenanceInput{}
	for i, p := range rd.Provenance {
		provenance := dataset.ProvenanceInput{
			Title:              p.Title,
			Description:        p.Description,
			OutcomeDescription: p.OutcomeDescription,
		}
		for j, a := range p.WasAssociatedWith {
			field := fmt.Sprintf("research_dataset.provenance[%d].was_associated_with[%d]", i, j)
			actor, ok, err := c.actor(tx, field, a, conv)
			if err != nil {
				return rec, err
			}
			if ok {
				provenance.IsAssociatedWith = append(provenance.IsAssociatedWith, actor)
			}
		}
		in.Provenance = append(in.Provenance, provenance)
	}

	in.Language = concepts("research_dataset.language", rd.Language, conv)
	in.Theme = concepts("research_dataset.theme", rd.Theme, conv)
	in.FieldOfScience = concepts("research_dataset.field_of_science", rd.FieldOfScience, conv)
	return rec, nil
}

func ensureCatalog(tx *gorm.DB, id string) error {
	catalog := entity.DataCatalog{}
	return tx.Where("id = ?", id).
		Attrs(entity.DataCatalog{ID: id, Title: datatypes.JSONMap{"und": id}}).
		FirstOrCreate(&catalog).Error
}

func accessRights(v2 *v2AccessRights, conv *conversion) *dataset.AccessRightsInput {
	access := &dataset.AccessRightsInput{Description: v2.Description}
	if v2.AccessType != nil {
		access.AccessType = v2.AccessType.Identifier
	}
	for i, license := range v2.License {
		field := fmt.Sprintf("research_dataset.access_rights.license[%d]", i)
		switch {
		case license.Identifier == "":
			conv.ignore(field, license, "License has no identifier.")
		case access.License != nil:
			conv.ignore(field, license, "Only one license is supported.")
		default:
			access.License = &dataset.ConceptInput{URL: license.Identifier, PrefLabel: license.label()}
		}
	}
	return access
}

func concepts(field string, v2 []v2Concept, conv *conversion) []dataset.ConceptInput {
	out := []dataset.ConceptInput{}
	for i, c := range v2 {
		if c.Identifier == "" {
			conv.ignore(fmt.Sprintf("%s[%d]", field, i), c, "Concept has no identifier.")
			continue
		}
		out = append(out, dataset.ConceptInput{URL: c.Identifier, InScheme: c.InScheme, PrefLabel: c.label()})
	}
	return out
}

// actors converts the role lists of rd. An actor listed under several roles
// becomes a single actor with all of them.
func (c *Converter) actors(tx *gorm.DB, rd *researchDataset, conv *conversion) ([]dataset.ActorInput, error) {
	out := []dataset.ActorInput{}
	var keys []string

	add := func(field string, a v2Actor, role string) error {
		actor, ok, err := c.actor(tx, field, a, conv)
		if err != nil || !ok {
			return err
		}
		key := actorKey(actor)
		for i := range keys {
			if keys[i] == key {
				out[i].Roles = append(out[i].Roles, role)
				return nil
			}
		}
		actor.Roles = []string{role}
		keys = append(keys, key)
		out = append(out, actor)
		return nil
	}

	lists := []struct {
		field  string
		role   string
		actors []v2Actor
	}{
		{"creator", entity.RoleCreator, rd.Creator},
		{"contributor", entity.RoleContributor, rd.Contributor},
		{"curator", entity.RoleCurator, rd.Curator},
		{"rights_holder", entity.RoleRightsHolder, rd.RightsHolder},
	}
	if rd.Publisher != nil {
		lists = append(lists, struct {
			field  string
			role   string
			actors []v2Actor
		}{"publisher", entity.RolePublisher, []v2Actor{*rd.Publisher}})
	}

	for _, list := range lists {
		for i, a := range list.actors {
			if err := add(fmt.Sprintf("research_dataset.%s[%d]", list.field, i), a, list.role); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (c *Converter) actor(tx *gorm.DB, field string, a v2Actor, conv *conversion) (dataset.ActorInput, bool, error) {
	switch a.Type {
	case "Person":
		name := a.name()
		if name == "" {
			conv.ignore(field, a, "Person has no name.")
			return dataset.ActorInput{}, false, nil
		}
		actor := dataset.ActorInput{Person: &dataset.PersonInput{
			Name:               name,
			Email:              a.Email,
			ExternalIdentifier: a.Identifier,
		}}
		if a.MemberOf != nil {
			org, ok, err := c.organization(tx, field+".member_of", *a.MemberOf, conv)
			if err != nil {
				return actor, false, err
			}
			if ok {
				actor.Organization = org
			}
		}
		return actor, true, nil
	case "Organization":
		org, ok, err := c.organization(tx, field, a, conv)
		if err != nil || !ok {
			return dataset.ActorInput{}, false, err
		}
		return dataset.ActorInput{Organization: org}, true, nil
	default:
		conv.ignore(field, a, "Unknown actor type '"+a.Type+"'.")
		return dataset.ActorInput{}, false, nil
	}
}

func (c *Converter) organization(tx *gorm.DB, field string, a v2Actor, conv *conversion) (*dataset.OrganizationInput, bool, error) {
	legacyOrg, ok := legacyOrganization(a)
	if !ok {
		conv.ignore(field, a, "Organization has no name.")
		return nil, false, nil
	}
	org, err := actors.GetOrCreateOrganization(tx, c.log, legacyOrg)
	if err != nil {
		return nil, false, err
	}
	return &dataset.OrganizationInput{ID: &org.ID}, true, nil
}

func legacyOrganization(a v2Actor) (actors.LegacyOrganization, bool) {
	names := a.names()
	if len(names) == 0 {
		return actors.LegacyOrganization{}, false
	}
	org := actors.LegacyOrganization{
		Name:       names,
		Identifier: a.Identifier,
		Email:      a.Email,
		Homepage:   a.Homepage,
	}
	if a.IsPartOf != nil {
		if parent, ok := legacyOrganization(*a.IsPartOf); ok {
			org.IsPartOf = &parent
		}
	}
	return org, true
}

func actorKey(a dataset.ActorInput) string {
	var parts []string
	if a.Person != nil {
		parts = append(parts, "person", a.Person.Name, a.Person.Email, a.Person.ExternalIdentifier)
	}
	if a.Organization != nil && a.Organization.ID != nil {
		parts = append(parts, "organization", a.Organization.ID.String())
	}
	return strings.Join(parts, "|")
}

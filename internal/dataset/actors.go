package dataset

import (
	"reflect"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// buildActors creates the persons and organizations referenced by the
// actors and provenance entries and returns the unsaved dataset actors.
// Provenance actors that describe an existing actor share its row and gain
// the provenance role.
func (s *Service) buildActors(tx *gorm.DB, actorsIn []ActorInput, provenanceIn []ProvenanceInput) ([]entity.DatasetActor, []entity.Provenance, error) {
	var actors []entity.DatasetActor
	var inputs []ActorInput

	add := func(in ActorInput) (int, error) {
		actor := entity.DatasetActor{}
		actor.ID = uuid.New()
		actor.Roles = datatypes.NewJSONType(uniqueRoles(in.Roles))

		if in.Person != nil {
			person := &entity.Person{
				Name:               in.Person.Name,
				Email:              in.Person.Email,
				ExternalIdentifier: in.Person.ExternalIdentifier,
			}
			if err := tx.Create(person).Error; err != nil {
				return 0, err
			}
			actor.PersonID = &person.ID
			actor.Person = person
		}
		if in.Organization != nil {
			org, err := s.resolveOrganization(tx, *in.Organization)
			if err != nil {
				return 0, err
			}
			actor.OrganizationID = &org.ID
			actor.Organization = org
		}

		actors = append(actors, actor)
		inputs = append(inputs, in)
		return len(actors) - 1, nil
	}

	for _, in := range actorsIn {
		if _, err := add(in); err != nil {
			return nil, nil, err
		}
	}

	provenance := make([]entity.Provenance, 0, len(provenanceIn))
	for _, in := range provenanceIn {
		p := entity.Provenance{
			Title:              jsonMap(in.Title),
			Description:        jsonMap(in.Description),
			OutcomeDescription: jsonMap(in.OutcomeDescription),
		}
		p.ID = uuid.New()

		for _, actorIn := range in.IsAssociatedWith {
			idx := -1
			for i := range inputs {
				if sameActor(inputs[i], actorIn) {
					idx = i
					break
				}
			}
			if idx < 0 {
				var err error
				if idx, err = add(ActorInput{Person: actorIn.Person, Organization: actorIn.Organization}); err != nil {
					return nil, nil, err
				}
			}
			if !actors[idx].HasRole(entity.RoleProvenance) {
				actors[idx].Roles = datatypes.NewJSONType(append(actors[idx].Roles.Data(), entity.RoleProvenance))
			}
			p.IsAssociatedWith = append(p.IsAssociatedWith, actors[idx])
		}
		provenance = append(provenance, p)
	}

	// Provenance entries hold copies, refresh them with the final roles.
	for i := range provenance {
		for j, associated := range provenance[i].IsAssociatedWith {
			for _, actor := range actors {
				if actor.ID == associated.ID {
					provenance[i].IsAssociatedWith[j] = actor
				}
			}
		}
	}
	return actors, provenance, nil
}

func uniqueRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := map[string]bool{}
	for _, r := range roles {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// sameActor compares the person and organization parts of two actors,
// ignoring roles.
func sameActor(a, b ActorInput) bool {
	if (a.Person == nil) != (b.Person == nil) || (a.Organization == nil) != (b.Organization == nil) {
		return false
	}
	if a.Person != nil && *a.Person != *b.Person {
		return false
	}
	if a.Organization != nil {
		return sameOrganization(*a.Organization, *b.Organization)
	}
	return true
}

func sameOrganization(a, b OrganizationInput) bool {
	if a.ID != nil || b.ID != nil {
		return a.ID != nil && b.ID != nil && *a.ID == *b.ID
	}
	if a.URL != "" || b.URL != "" {
		return a.URL == b.URL
	}
	return reflect.DeepEqual(a, b)
}

func (s *Service) resolveOrganization(tx *gorm.DB, in OrganizationInput) (*entity.Organization, error) {
	if in.ID != nil {
		org := &entity.Organization{}
		if err := tx.Preload("Parent").First(org, "id = ?", *in.ID).Error; err != nil {
			return nil, apperr.Field("organization", "Organization "+in.ID.String()+" does not exist.")
		}
		return org, nil
	}

	if in.URL != "" {
		org := &entity.Organization{}
		err := tx.Preload("Parent").
			Where("url = ? AND is_reference_data = ?", in.URL, true).
			First(org).Error
		if err == nil {
			return org, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	if len(in.PrefLabel) == 0 {
		return nil, apperr.Field("organization", "Organization pref_label is required.")
	}
	org := &entity.Organization{
		URL:                in.URL,
		Code:               in.Code,
		PrefLabel:          jsonMap(in.PrefLabel),
		Email:              in.Email,
		Homepage:           in.Homepage,
		ExternalIdentifier: in.ExternalIdentifier,
	}
	if in.Parent != nil {
		parent, err := s.resolveOrganization(tx, *in.Parent)
		if err != nil {
			return nil, err
		}
		org.ParentID = &parent.ID
	}
	if err := tx.Create(org).Error; err != nil {
		return nil, err
	}
	if in.Parent != nil {
		if err := tx.Preload("Parent").First(org, "id = ?", org.ID).Error; err != nil {
			return nil, err
		}
	}
	return org, nil
}

// actorInputs converts stored actors back to input so a partial update of
// provenance can rebuild the shared actor rows.
func actorInputs(actors []entity.DatasetActor) []ActorInput {
	inputs := make([]ActorInput, 0, len(actors))
	for _, a := range actors {
		inputs = append(inputs, actorInput(a))
	}
	return inputs
}

func actorInput(a entity.DatasetActor) ActorInput {
	in := ActorInput{Roles: a.Roles.Data()}
	if a.Person != nil {
		in.Person = &PersonInput{
			Name:               a.Person.Name,
			Email:              a.Person.Email,
			ExternalIdentifier: a.Person.ExternalIdentifier,
		}
	}
	if a.OrganizationID != nil {
		id := *a.OrganizationID
		in.Organization = &OrganizationInput{ID: &id}
	}
	return in
}

func provenanceInputs(provenance []entity.Provenance) []ProvenanceInput {
	inputs := make([]ProvenanceInput, 0, len(provenance))
	for _, p := range provenance {
		in := ProvenanceInput{
			Title:              stringMap(p.Title),
			Description:        stringMap(p.Description),
			OutcomeDescription: stringMap(p.OutcomeDescription),
		}
		for _, a := range p.IsAssociatedWith {
			actor := actorInput(a)
			actor.Roles = nil
			in.IsAssociatedWith = append(in.IsAssociatedWith, actor)
		}
		inputs = append(inputs, in)
	}
	return inputs
}

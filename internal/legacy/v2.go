package legacy

import (
	"encoding/json"
	"sort"
	"time"
)

// V2 dataset payload. Only the fields the conversion reads are declared.
type v2Dataset struct {
	Identifier           string           `json:"identifier"`
	State                string           `json:"state"`
	DateCreated          string           `json:"date_created"`
	DateModified         string           `json:"date_modified"`
	DataCatalog          *v2Ref           `json:"data_catalog"`
	MetadataOwnerUser    string           `json:"metadata_owner_user"`
	MetadataOwnerOrg     string           `json:"metadata_owner_org"`
	MetadataProviderUser string           `json:"metadata_provider_user"`
	MetadataProviderOrg  string           `json:"metadata_provider_org"`
	CumulativeState      int              `json:"cumulative_state"`
	Deprecated           bool             `json:"deprecated"`
	Removed              bool             `json:"removed"`
	ResearchDataset      *researchDataset `json:"research_dataset"`
}

type v2Ref struct {
	Identifier string `json:"identifier"`
}

type researchDataset struct {
	PreferredIdentifier string            `json:"preferred_identifier"`
	Title               map[string]string `json:"title"`
	Description         map[string]string `json:"description"`
	Keyword             []string          `json:"keyword"`
	Issued              string            `json:"issued"`
	AccessRights        *v2AccessRights   `json:"access_rights"`
	Creator             []v2Actor         `json:"creator"`
	Contributor         []v2Actor         `json:"contributor"`
	Curator             []v2Actor         `json:"curator"`
	RightsHolder        []v2Actor         `json:"rights_holder"`
	Publisher           *v2Actor          `json:"publisher"`
	Provenance          []v2Provenance    `json:"provenance"`
	Language            []v2Concept       `json:"language"`
	Theme               []v2Concept       `json:"theme"`
	FieldOfScience      []v2Concept       `json:"field_of_science"`
}

type v2Concept struct {
	Identifier string            `json:"identifier"`
	PrefLabel  map[string]string `json:"pref_label,omitempty"`
	Title      map[string]string `json:"title,omitempty"`
	InScheme   string            `json:"in_scheme,omitempty"`
}

func (c v2Concept) label() map[string]string {
	if len(c.PrefLabel) > 0 {
		return c.PrefLabel
	}
	return c.Title
}

type v2AccessRights struct {
	AccessType  *v2Concept        `json:"access_type"`
	License     []v2Concept       `json:"license"`
	Description map[string]string `json:"description"`
}

type v2Actor struct {
	Type       string                 `json:"@type"`
	Name       json.RawMessage        `json:"name"`
	Email      string                 `json:"email,omitempty"`
	Identifier string                 `json:"identifier,omitempty"`
	Homepage   map[string]interface{} `json:"homepage,omitempty"`
	MemberOf   *v2Actor               `json:"member_of,omitempty"`
	IsPartOf   *v2Actor               `json:"is_part_of,omitempty"`
}

// names returns the actor name as a language map. Persons have plain string
// names, which are stored under "und".
func (a v2Actor) names() map[string]string {
	var plain string
	if err := json.Unmarshal(a.Name, &plain); err == nil {
		if plain == "" {
			return nil
		}
		return map[string]string{"und": plain}
	}
	var localized map[string]string
	if err := json.Unmarshal(a.Name, &localized); err == nil {
		return localized
	}
	return nil
}

// name returns a single name, preferring English for localized names.
func (a v2Actor) name() string {
	names := a.names()
	for _, lang := range []string{"und", "en", "fi"} {
		if n := names[lang]; n != "" {
			return n
		}
	}
	langs := make([]string, 0, len(names))
	for lang := range names {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if names[lang] != "" {
			return names[lang]
		}
	}
	return ""
}

type v2Provenance struct {
	Title              map[string]string `json:"title"`
	Description        map[string]string `json:"description"`
	OutcomeDescription map[string]string `json:"outcome_description"`
	WasAssociatedWith  []v2Actor         `json:"was_associated_with"`
}

// parseTimestamp accepts the timestamp layouts found in V2 payloads.
func parseTimestamp(value string) (time.Time, error) {
	var err error
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		var t time.Time
		if t, err = time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

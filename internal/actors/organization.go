// Package actors resolves organizations and people referenced by datasets.
package actors

import (
	"fmt"
	"strings"

	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrganizationScheme is assigned to organizations created from legacy data.
const OrganizationScheme = "http://uri.suomi.fi/codelist/fairdata/organization"

// ChooseBetween picks which of two duplicate organizations to keep. The
// checks run in order and the first one that prefers a wins: a has no parent
// while b does, a has a scheme while b does not, then the same for code and
// URL, and finally a has more localized labels. Otherwise b is chosen.
func ChooseBetween(a, b *entity.Organization) *entity.Organization {
	switch {
	case a.ParentID == nil && b.ParentID != nil:
		return a
	case a.InScheme != "" && b.InScheme == "":
		return a
	case a.Code != "" && b.Code == "":
		return a
	case a.URL != "" && b.URL == "":
		return a
	case len(a.PrefLabel) > len(b.PrefLabel):
		return a
	default:
		return b
	}
}

// LegacyOrganization is an organization as it appears in V2 dataset JSON.
type LegacyOrganization struct {
	Name       map[string]string      `json:"name"`
	Identifier string                 `json:"identifier,omitempty"`
	Email      string                 `json:"email,omitempty"`
	Homepage   map[string]interface{} `json:"homepage,omitempty"`
	IsPartOf   *LegacyOrganization    `json:"is_part_of,omitempty"`
}

func (o LegacyOrganization) homepage() string {
	if id, ok := o.Homepage["identifier"].(string); ok {
		return id
	}
	return ""
}

// GetOrCreateOrganization finds the organization matching a legacy
// organization by URL and labels, creating it when there is none. When
// several match, duplicates are resolved with ChooseBetween.
func GetOrCreateOrganization(tx *gorm.DB, log *zap.Logger, legacy LegacyOrganization) (*entity.Organization, error) {
	if len(legacy.Name) == 0 {
		return nil, fmt.Errorf("organization has no name")
	}

	var candidates []entity.Organization
	query := tx.Order("created_at")
	if legacy.Identifier == "" {
		query = query.Where("url IS NULL OR url = ''")
	} else {
		query = query.Where("url = ?", legacy.Identifier)
	}
	if err := query.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}

	var matches []*entity.Organization
	for i := range candidates {
		if labelsContain(candidates[i].PrefLabel, legacy.Name) {
			matches = append(matches, &candidates[i])
		}
	}

	switch len(matches) {
	case 0:
	case 1:
		return matches[0], nil
	default:
		best := matches[0]
		labels := make([]string, 0, len(matches))
		for _, org := range matches {
			best = ChooseBetween(org, best)
			labels = append(labels, fmt.Sprint(map[string]interface{}(org.PrefLabel)))
		}
		log.Error("Multiple organizations matched legacy organization",
			zap.Any("chose", map[string]interface{}(best.PrefLabel)),
			zap.Strings("from", labels))
		return best, nil
	}

	org := &entity.Organization{
		URL:       legacy.Identifier,
		PrefLabel: datatypes.JSONMap{},
		Homepage:  legacy.homepage(),
		Email:     legacy.Email,
		InScheme:  OrganizationScheme,
	}
	for lang, label := range legacy.Name {
		org.PrefLabel[lang] = label
	}
	if legacy.IsPartOf != nil {
		parent, err := GetOrCreateOrganization(tx, log, *legacy.IsPartOf)
		if err != nil {
			return nil, err
		}
		org.ParentID = &parent.ID
	}
	if err := tx.Create(org).Error; err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, nil
}

// labelsContain reports whether every value in names is one of the label values.
func labelsContain(labels datatypes.JSONMap, names map[string]string) bool {
	values := map[string]bool{}
	for _, v := range labels {
		if s, ok := v.(string); ok {
			values[strings.TrimSpace(s)] = true
		}
	}

	for _, name := range names {
		if !values[strings.TrimSpace(name)] {
			return false
		}
	}
	return true
}

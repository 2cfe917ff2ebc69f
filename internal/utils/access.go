package utils

import (
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
)

// User is the caller of a catalog operation. The zero value is anonymous.
type User struct {
	ID    string
	Admin bool
}

func (u User) Authenticated() bool { return u.ID != "" }

func UserIsMetadataOwner(user User, dataset *entity.Dataset) bool {
	if !user.Authenticated() {
		return false
	}
	if dataset.SystemCreator == user.ID {
		return true
	}
	return dataset.MetadataOwner != nil && dataset.MetadataOwner.User == user.ID
}

// UserCanSeeDataset reports whether user may read dataset. Published
// datasets are public, drafts only to their owners.
func UserCanSeeDataset(user User, dataset *entity.Dataset) bool {
	if dataset.State == entity.StatePublished && dataset.DraftOfID == nil {
		return true
	}
	return user.Admin || UserIsMetadataOwner(user, dataset)
}

func UserCanEditDataset(user User, dataset *entity.Dataset) bool {
	return user.Admin || UserIsMetadataOwner(user, dataset)
}

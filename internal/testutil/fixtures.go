package testutil

import (
	"testing"

	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Graph is a dataset created by SeedDataset together with its related rows.
type Graph struct {
	Dataset       *entity.Dataset
	License       *entity.Concept
	Language      *entity.Concept
	Owner         *entity.MetadataProvider
	ReferenceOrg  *entity.Organization
	Org           *entity.Organization
	ParentOrg     *entity.Organization
	Person        *entity.Person
	Creator       *entity.DatasetActor
	Publisher     *entity.DatasetActor
	Provenance    *entity.Provenance
	Storage       *entity.FileStorage
	Files         []entity.File
	FileSet       *entity.FileSet
	FileMetadata  *entity.FileSetFileMetadata
	DirectoryMeta *entity.FileSetDirectoryMetadata
}

// SeedDataset creates a dataset in catalogID with every relation populated.
func SeedDataset(t *testing.T, db *gorm.DB, catalogID string, state string, pid *string) *Graph {
	t.Helper()
	g := &Graph{}

	create := func(v interface{}) {
		t.Helper()
		require.NoError(t, db.Omit(clause.Associations).Create(v).Error)
	}

	g.License = &entity.Concept{Type: entity.ConceptLicense, URL: "http://uri.suomi.fi/codelist/fairdata/license/code/CC-BY-4.0-" + uuid.NewString()}
	create(g.License)
	g.Language = &entity.Concept{Type: entity.ConceptLanguage, URL: "http://lexvo.org/id/iso639-3/fin-" + uuid.NewString()}
	create(g.Language)
	g.Owner = &entity.MetadataProvider{User: "owner", Organization: "org"}
	create(g.Owner)

	g.ReferenceOrg = &entity.Organization{URL: "http://uri.suomi.fi/codelist/fairdata/organization/code/" + uuid.NewString(), PrefLabel: datatypes.JSONMap{"en": "University"}, ReferenceData: true}
	create(g.ReferenceOrg)
	g.ParentOrg = &entity.Organization{PrefLabel: datatypes.JSONMap{"en": "Faculty"}}
	create(g.ParentOrg)
	g.Org = &entity.Organization{PrefLabel: datatypes.JSONMap{"en": "Department"}, ParentID: &g.ParentOrg.ID, Email: "dept@example.com"}
	create(g.Org)
	g.Person = &entity.Person{Name: "Teppo Testaaja", Email: "teppo@example.com"}
	create(g.Person)

	access := &entity.AccessRights{AccessType: "open", Description: datatypes.JSONMap{"en": "Open"}, LicenseID: &g.License.ID}
	create(access)

	dataset := &entity.Dataset{
		PersistentIdentifier: pid,
		Title:                datatypes.JSONMap{"en": "Test dataset", "fi": "Testiaineisto"},
		Description:          datatypes.JSONMap{"en": "Description"},
		State:                state,
		DataCatalogID:        &catalogID,
		MetadataOwnerID:      &g.Owner.ID,
		AccessRightsID:       &access.ID,
		SystemCreator:        "owner",
	}
	dataset.SetKeywords([]string{"alpha", "beta"})
	if state == entity.StatePublished {
		dataset.PublishedRevision = 1
	}
	create(dataset)
	require.NoError(t, db.Model(dataset).Association("Language").Append(g.Language))

	g.Creator = &entity.DatasetActor{DatasetID: dataset.ID, Roles: datatypes.NewJSONType([]string{entity.RoleCreator}), PersonID: &g.Person.ID, OrganizationID: &g.Org.ID}
	create(g.Creator)
	g.Publisher = &entity.DatasetActor{DatasetID: dataset.ID, Roles: datatypes.NewJSONType([]string{entity.RolePublisher}), OrganizationID: &g.ReferenceOrg.ID}
	create(g.Publisher)

	g.Provenance = &entity.Provenance{DatasetID: dataset.ID, Title: datatypes.JSONMap{"en": "Collected"}}
	create(g.Provenance)
	require.NoError(t, db.Table("provenance_actors").Create(map[string]interface{}{
		"provenance_id":    g.Provenance.ID,
		"dataset_actor_id": g.Creator.ID,
	}).Error)

	g.Storage = &entity.FileStorage{StorageService: "ida", Project: "project-" + uuid.NewString()}
	create(g.Storage)
	for _, path := range []string{"/data/a.csv", "/data/b.csv"} {
		file := entity.File{StorageID: g.Storage.ID, Pathname: path, Size: 100}
		create(&file)
		g.Files = append(g.Files, file)
	}
	g.FileSet = &entity.FileSet{DatasetID: dataset.ID, StorageID: g.Storage.ID}
	create(g.FileSet)
	for i := range g.Files {
		require.NoError(t, db.Table("fileset_files").Create(map[string]interface{}{
			"file_set_id": g.FileSet.ID,
			"file_id":     g.Files[i].ID,
		}).Error)
	}
	g.FileMetadata = &entity.FileSetFileMetadata{FileSetID: g.FileSet.ID, FileID: g.Files[0].ID, Title: "File A"}
	create(g.FileMetadata)
	g.DirectoryMeta = &entity.FileSetDirectoryMetadata{FileSetID: g.FileSet.ID, Pathname: "/data/", Title: "Data"}
	create(g.DirectoryMeta)

	g.Dataset = dataset
	return g
}

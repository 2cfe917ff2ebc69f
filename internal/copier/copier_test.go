package copier_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/copier"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/testutil"
)

type unknownRelation struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string
}

func (unknownRelation) CopyConfig() copier.Config {
	return copier.Config{CopiedRelations: []string{"Missing"}}
}

type child struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ParentID uuid.UUID `gorm:"type:uuid"`
}

type sharedChildren struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Children []child   `gorm:"foreignKey:ParentID"`
}

func (sharedChildren) CopyConfig() copier.Config {
	return copier.Config{ParentRelations: []string{"Children"}}
}

func engine(t *testing.T, db *gorm.DB) *copier.Engine {
	t.Helper()
	e, err := copier.New(db,
		&entity.Dataset{}, &entity.AccessRights{}, &entity.DatasetActor{}, &entity.Person{},
		&entity.Organization{}, &entity.Provenance{}, &entity.FileSet{},
		&entity.FileSetFileMetadata{}, &entity.FileSetDirectoryMetadata{},
	)
	require.NoError(t, err)
	return e
}

func TestInvalidConfig(t *testing.T) {
	db := testutil.NewTestDB(t)

	_, err := copier.New(db, &unknownRelation{})
	require.Error(t, err)
	assert.True(t, apperr.Config.Has(err))

	_, err = copier.New(db, &sharedChildren{})
	require.Error(t, err)
	assert.True(t, apperr.Config.Has(err))
}

func TestInvalidOverride(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.Catalog(t, db, "urn:catalog", true)
	g := testutil.SeedDataset(t, db, "urn:catalog", entity.StateDraft, nil)

	_, err := engine(t, db).Copy(db, g.Dataset, map[string]interface{}{"NoSuchField": 1}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Config.Has(err))
}

func load(t *testing.T, db *gorm.DB, id uuid.UUID) *entity.Dataset {
	t.Helper()
	var dataset entity.Dataset
	require.NoError(t, db.
		Preload("AccessRights.License").
		Preload("MetadataOwner").
		Preload("Actors.Person").
		Preload("Actors.Organization.Parent").
		Preload("Provenance.IsAssociatedWith").
		Preload("Language").
		Preload("FileSet.Files").
		Preload("FileSet.FileMetadata").
		Preload("FileSet.DirectoryMetadata").
		Preload("OtherVersions").
		First(&dataset, "id = ?", id).Error)
	return &dataset
}

func TestCopyDataset(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.Catalog(t, db, "urn:catalog", true)
	g := testutil.SeedDataset(t, db, "urn:catalog", entity.StatePublished, testutil.StringPtr("pid-1"))

	original := load(t, db, g.Dataset.ID)
	copied, err := copier.CopyOf(engine(t, db), db, original, map[string]interface{}{
		"State":                entity.StateDraft,
		"PersistentIdentifier": nil,
		"PublishedRevision":    0,
	})
	require.NoError(t, err)
	require.NotEqual(t, original.ID, copied.ID)
	assert.Nil(t, copied.PersistentIdentifier)
	assert.Equal(t, entity.StateDraft, copied.State)

	cp := load(t, db, copied.ID)
	assert.Empty(t, cmp.Diff(original.Title, cp.Title))
	assert.Empty(t, cmp.Diff(original.Keywords(), cp.Keywords()))
	assert.Equal(t, 0, cp.PublishedRevision)

	// Parents are shared.
	assert.Equal(t, *original.DataCatalogID, *cp.DataCatalogID)
	assert.Equal(t, original.MetadataOwner.ID, cp.MetadataOwner.ID)
	require.Len(t, cp.Language, 1)
	assert.Equal(t, g.Language.ID, cp.Language[0].ID)
	assert.Equal(t, g.License.ID, cp.AccessRights.License.ID)
	assert.Empty(t, cp.OtherVersions)

	// Owned rows are copied.
	assert.NotEqual(t, original.AccessRights.ID, cp.AccessRights.ID)
	assert.Equal(t, "open", cp.AccessRights.AccessType)
	require.Len(t, cp.Actors, 2)
	for _, actor := range cp.Actors {
		assert.NotEqual(t, g.Creator.ID, actor.ID)
		assert.NotEqual(t, g.Publisher.ID, actor.ID)
		switch {
		case actor.HasRole(entity.RoleCreator):
			require.NotNil(t, actor.Person)
			assert.NotEqual(t, g.Person.ID, actor.Person.ID)
			assert.Equal(t, g.Person.Name, actor.Person.Name)
			require.NotNil(t, actor.Organization)
			assert.NotEqual(t, g.Org.ID, actor.Organization.ID)
			require.NotNil(t, actor.Organization.Parent)
			assert.NotEqual(t, g.ParentOrg.ID, actor.Organization.Parent.ID)
		case actor.HasRole(entity.RolePublisher):
			require.NotNil(t, actor.Organization)
			assert.Equal(t, g.ReferenceOrg.ID, actor.Organization.ID)
		default:
			t.Fatalf("unexpected actor roles %v", actor.Roles.Data())
		}
	}

	// The provenance actor is the copied creator, not a third copy.
	require.Len(t, cp.Provenance, 1)
	assert.NotEqual(t, g.Provenance.ID, cp.Provenance[0].ID)
	require.Len(t, cp.Provenance[0].IsAssociatedWith, 1)
	var creatorCopy uuid.UUID
	for _, actor := range cp.Actors {
		if actor.HasRole(entity.RoleCreator) {
			creatorCopy = actor.ID
		}
	}
	assert.Equal(t, creatorCopy, cp.Provenance[0].IsAssociatedWith[0].ID)

	require.NotNil(t, cp.FileSet)
	assert.NotEqual(t, g.FileSet.ID, cp.FileSet.ID)
	assert.Len(t, cp.FileSet.Files, 2)
	require.Len(t, cp.FileSet.FileMetadata, 1)
	assert.NotEqual(t, g.FileMetadata.ID, cp.FileSet.FileMetadata[0].ID)
	assert.Equal(t, g.Files[0].ID, cp.FileSet.FileMetadata[0].FileID)
	require.Len(t, cp.FileSet.DirectoryMetadata, 1)

	// The original is untouched.
	again := load(t, db, original.ID)
	assert.Len(t, again.Actors, 2)
	assert.Equal(t, g.Creator.ID, again.Provenance[0].IsAssociatedWith[0].ID)
	assert.Equal(t, g.FileSet.ID, again.FileSet.ID)

	var people, actors, links int64
	require.NoError(t, db.Model(&entity.Person{}).Count(&people).Error)
	assert.EqualValues(t, 2, people)
	require.NoError(t, db.Model(&entity.DatasetActor{}).Count(&actors).Error)
	assert.EqualValues(t, 4, actors)
	require.NoError(t, db.Table("provenance_actors").
		Where("dataset_actor_id = ?", creatorCopy).Count(&links).Error)
	assert.EqualValues(t, 1, links)
}

func TestCopyProvenanceWithSharedActor(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.Catalog(t, db, "urn:catalog", true)
	g := testutil.SeedDataset(t, db, "urn:catalog", entity.StateDraft, nil)

	var provenance entity.Provenance
	require.NoError(t, db.Preload("IsAssociatedWith").First(&provenance, "id = ?", g.Provenance.ID).Error)

	// The actor is already copied as part of the dataset actors.
	e := engine(t, db)
	memo := copier.Memo{}
	var actor entity.DatasetActor
	require.NoError(t, db.First(&actor, "id = ?", g.Creator.ID).Error)
	actorCopy, err := e.Copy(db, &actor, nil, memo)
	require.NoError(t, err)

	copied, err := e.Copy(db, &provenance, nil, memo)
	require.NoError(t, err)
	cp := copied.(*entity.Provenance)
	assert.NotEqual(t, g.Provenance.ID, cp.ID)
	require.Len(t, cp.IsAssociatedWith, 1)
	assert.Equal(t, actorCopy.(*entity.DatasetActor).ID, cp.IsAssociatedWith[0].ID)

	var actors int64
	require.NoError(t, db.Model(&entity.DatasetActor{}).Count(&actors).Error)
	assert.EqualValues(t, 3, actors)
}

func TestCopyRollsBack(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.Catalog(t, db, "urn:catalog", true)
	g := testutil.SeedDataset(t, db, "urn:catalog", entity.StateDraft, nil)
	original := load(t, db, g.Dataset.ID)

	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_provenance", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Name == "Provenance" {
			_ = tx.AddError(errors.New("provenance storage failed"))
		}
	}))

	_, err := engine(t, db).Copy(db, original, nil, nil)
	require.Error(t, err)

	var datasets, actors int64
	require.NoError(t, db.Model(&entity.Dataset{}).Count(&datasets).Error)
	require.NoError(t, db.Model(&entity.DatasetActor{}).Count(&actors).Error)
	assert.EqualValues(t, 1, datasets)
	assert.EqualValues(t, 2, actors)
}

package search

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"

	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
)

func TestDatasetToDocument(t *testing.T) {
	pid := "doi:10.1/abc"
	catalog := "urn:nbn:fi:att:data-catalog-ida"
	issued := time.Date(2023, 5, 4, 0, 0, 0, 0, time.UTC)

	ds := &entity.Dataset{
		PersistentIdentifier: &pid,
		DataCatalogID:        &catalog,
		Issued:               &issued,
		Title:                datatypes.JSONMap{"fi": "Otsikko", "en": "Title"},
		State:                entity.StatePublished,
		Actors: []entity.DatasetActor{
			{Person: &entity.Person{Name: "Teppo"}},
			{Organization: &entity.Organization{PrefLabel: datatypes.JSONMap{"en": "Org"}}},
		},
	}
	ds.ID = uuid.New()
	ds.SetKeywords([]string{"a", "b"})

	doc := DatasetToDocument(ds)
	assert.Equal(t, ds.ID.String(), doc["id"])
	assert.Equal(t, "Title Otsikko", doc["title"])
	assert.Equal(t, pid, doc["persistent_identifier"])
	assert.Equal(t, catalog, doc["data_catalog"])
	assert.Equal(t, "2023-05-04", doc["issued"])
	assert.Equal(t, []string{"a", "b"}, doc["keyword"])
	assert.Equal(t, []string{"Teppo", "Org"}, doc["actors"])
}

func TestNop(t *testing.T) {
	var idx Indexer = Nop{}
	assert.NoError(t, idx.IndexDataset(&entity.Dataset{}))
	res, err := idx.Search("anything", 10, 0)
	assert.NoError(t, err)
	assert.Empty(t, res.Hits)
}

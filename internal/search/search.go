// Package search keeps the public dataset index in Meilisearch.
package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"github.com/meilisearch/meilisearch-go"
	"github.com/zeebo/errs"
)

// Error is the error class for search backend failures.
var Error = errs.Class("search")

const IndexName = "datasets"

// Indexer maintains the dataset index and queries it.
type Indexer interface {
	IndexDataset(dataset *entity.Dataset) error
	RemoveDataset(id uuid.UUID) error
	Search(query string, limit, offset int64) (*Result, error)
}

type Result struct {
	Hits  []interface{} `json:"results"`
	Count int64         `json:"count"`
}

// DatasetToDocument flattens the searchable parts of a dataset.
func DatasetToDocument(dataset *entity.Dataset) map[string]interface{} {
	doc := map[string]interface{}{
		"id":          dataset.ID.String(),
		"title":       localized(dataset.Title),
		"description": localized(dataset.Description),
		"keyword":     dataset.Keywords(),
		"state":       dataset.State,
	}
	if dataset.PersistentIdentifier != nil {
		doc["persistent_identifier"] = *dataset.PersistentIdentifier
	}
	if dataset.DataCatalogID != nil {
		doc["data_catalog"] = *dataset.DataCatalogID
	}
	if dataset.Issued != nil {
		doc["issued"] = dataset.Issued.Format("2006-01-02")
	}

	var actors []string
	for _, actor := range dataset.Actors {
		if actor.Person != nil {
			actors = append(actors, actor.Person.Name)
		}
		if actor.Organization != nil {
			actors = append(actors, localized(actor.Organization.PrefLabel))
		}
	}
	doc["actors"] = actors
	return doc
}

// localized joins the translations of a localized value in language order.
func localized(values map[string]interface{}) string {
	langs := make([]string, 0, len(values))
	for lang := range values {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	parts := make([]string, 0, len(langs))
	for _, lang := range langs {
		parts = append(parts, fmt.Sprint(values[lang]))
	}
	return strings.Join(parts, " ")
}

type Meilisearch struct {
	client *meilisearch.Client
}

// NewMeilisearch creates the dataset index when it does not exist yet and
// configures its filterable attributes.
func NewMeilisearch(host, apiKey string) (*Meilisearch, error) {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	_, err := client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        IndexName,
		PrimaryKey: "id",
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return nil, Error.New("failed to create index: %v", err)
	}

	task, err := client.Index(IndexName).UpdateFilterableAttributes(&[]string{
		"data_catalog",
		"state",
	})
	if err != nil {
		return nil, Error.New("failed to update filterable attributes: %v", err)
	}
	if _, err := client.WaitForTask(task.TaskUID); err != nil {
		return nil, Error.New("failed to wait for filterable attributes update: %v", err)
	}

	return &Meilisearch{client: client}, nil
}

func (m *Meilisearch) IndexDataset(dataset *entity.Dataset) error {
	docs := []map[string]interface{}{DatasetToDocument(dataset)}
	if _, err := m.client.Index(IndexName).AddDocuments(docs, "id"); err != nil {
		return Error.New("failed to index dataset %s: %v", dataset.ID, err)
	}
	return nil
}

func (m *Meilisearch) RemoveDataset(id uuid.UUID) error {
	if _, err := m.client.Index(IndexName).DeleteDocument(id.String()); err != nil {
		return Error.New("failed to remove dataset %s: %v", id, err)
	}
	return nil
}

func (m *Meilisearch) Search(query string, limit, offset int64) (*Result, error) {
	res, err := m.client.Index(IndexName).Search(query, &meilisearch.SearchRequest{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, Error.New("failed to perform search: %v", err)
	}
	return &Result{Hits: res.Hits, Count: res.EstimatedTotalHits}, nil
}

// Nop is used when no search backend is configured.
type Nop struct{}

func (Nop) IndexDataset(*entity.Dataset) error { return nil }
func (Nop) RemoveDataset(uuid.UUID) error      { return nil }

func (Nop) Search(string, int64, int64) (*Result, error) {
	return &Result{Hits: []interface{}{}}, nil
}

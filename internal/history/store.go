// Package history stores and queries dataset revision snapshots.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Filter int

const (
	AllKinds Filter = iota
	PublishedOnly
	DraftOnly
)

// Store is an append only log of dataset snapshots.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Exists(tx *gorm.DB, datasetID uuid.UUID, key versioning.Key) (bool, error) {
	var count int64
	err := tx.Model(&entity.DatasetRevision{}).
		Where("dataset_id = ? AND change_reason = ?", datasetID, key.String()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up revision %s: %w", key, err)
	}
	return count > 0, nil
}

func (s *Store) Capture(tx *gorm.DB, datasetID uuid.UUID, key versioning.Key, snapshot any, changes []versioning.FieldChange) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	revision := entity.DatasetRevision{
		DatasetID:    datasetID,
		Kind:         string(key.Kind),
		Major:        key.Major,
		Minor:        key.Minor,
		ChangeReason: key.String(),
		Snapshot:     datatypes.JSON(data),
	}
	for _, change := range changes {
		revision.Changes = append(revision.Changes, entity.RevisionChange{
			FieldName: change.Field,
			OldValue:  change.Old,
			NewValue:  change.New,
		})
	}

	if err := tx.Create(&revision).Error; err != nil {
		return fmt.Errorf("failed to store revision %s: %w", key, err)
	}
	return nil
}

// GetRevision returns the most recent snapshot tagged with name, or nil.
func (s *Store) GetRevision(ctx context.Context, datasetID uuid.UUID, name string) (*entity.DatasetRevision, error) {
	var revision entity.DatasetRevision
	err := s.ordered(ctx, datasetID).
		Preload("Changes").
		Where("change_reason = ?", name).
		First(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revision %s: %w", name, err)
	}
	return &revision, nil
}

// GetPublished returns the snapshot of published revision n, or nil.
func (s *Store) GetPublished(ctx context.Context, datasetID uuid.UUID, n int) (*entity.DatasetRevision, error) {
	return s.GetRevision(ctx, datasetID, versioning.PublishedKey(n).String())
}

// LatestPublished returns the most recent published snapshot, or nil.
func (s *Store) LatestPublished(ctx context.Context, datasetID uuid.UUID) (*entity.DatasetRevision, error) {
	var revision entity.DatasetRevision
	err := s.filtered(ctx, datasetID, PublishedOnly).First(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest published revision: %w", err)
	}
	return &revision, nil
}

// AllRevisions returns the snapshots matching filter, most recent first.
func (s *Store) AllRevisions(ctx context.Context, datasetID uuid.UUID, filter Filter) ([]entity.DatasetRevision, error) {
	var revisions []entity.DatasetRevision
	if err := s.filtered(ctx, datasetID, filter).Find(&revisions).Error; err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revisions, nil
}

// Each calls fn for every snapshot matching filter, most recent first,
// loading batchSize rows at a time. Returning an error from fn stops the
// iteration.
func (s *Store) Each(ctx context.Context, datasetID uuid.UUID, filter Filter, batchSize int, fn func(*entity.DatasetRevision) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	var lastID uint
	for {
		query := s.filtered(ctx, datasetID, filter).Limit(batchSize)
		if lastID != 0 {
			query = query.Where("id < ?", lastID)
		}

		var batch []entity.DatasetRevision
		if err := query.Find(&batch).Error; err != nil {
			return fmt.Errorf("failed to list revisions: %w", err)
		}
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

// Instance decodes the dataset stored in a snapshot.
func Instance(revision *entity.DatasetRevision) (*entity.Dataset, error) {
	var dataset entity.Dataset
	if err := json.Unmarshal(revision.Snapshot, &dataset); err != nil {
		return nil, fmt.Errorf("failed to decode revision %s: %w", revision.ChangeReason, err)
	}
	return &dataset, nil
}

func (s *Store) ordered(ctx context.Context, datasetID uuid.UUID) *gorm.DB {
	return s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("id DESC")
}

func (s *Store) filtered(ctx context.Context, datasetID uuid.UUID, filter Filter) *gorm.DB {
	query := s.ordered(ctx, datasetID)
	switch filter {
	case PublishedOnly:
		query = query.Where("kind = ?", string(versioning.Published))
	case DraftOnly:
		query = query.Where("kind = ?", string(versioning.Draft))
	}
	return query
}

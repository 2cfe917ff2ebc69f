package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LegacyRecord is a dataset converted from the V2 format. Unlike regular
// input it may set the state of an existing dataset and its creation time.
type LegacyRecord struct {
	ID      uuid.UUID
	Input   Input
	Created time.Time
	Removed bool
}

// SaveLegacy creates or replaces the dataset of a migrated legacy record in
// tx. Legacy datasets keep their V2 identifier and skip revision snapshots.
func (s *Service) SaveLegacy(tx *gorm.DB, rec LegacyRecord) (*entity.Dataset, error) {
	in := rec.Input
	state := entity.StatePublished
	if in.State != nil {
		state = *in.State
	}
	if state != entity.StateDraft && state != entity.StatePublished {
		return nil, apperr.Field("state", "Invalid state "+state+".")
	}
	in.State = nil

	ds, err := load(tx, rec.ID, true, true)
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	switch {
	case isNew:
		ds = &entity.Dataset{}
		ds.ID = rec.ID
		if !rec.Created.IsZero() {
			ds.CreatedAt = rec.Created
		}
	case err != nil:
		return nil, err
	case ds.DeletedAt.Valid:
		err := tx.Unscoped().Model(&entity.Dataset{}).Where("id = ?", rec.ID).Update("deleted_at", nil).Error
		if err != nil {
			return nil, err
		}
		ds.DeletedAt = gorm.DeletedAt{}
	}

	var tracker *versioning.Tracker
	if !isNew {
		tracker = versioning.Track(ds)
	}
	ds.IsLegacy = true
	ds.State = state

	ch, err := s.apply(tx, ds, in, false, isNew)
	if err != nil {
		return nil, err
	}
	_, err = s.versions.Save(tx, ds, tracker, versioning.Options{}, func(tx *gorm.DB) error {
		return s.persist(tx, ds, ch, isNew)
	})
	if err != nil {
		return nil, err
	}

	if rec.Removed {
		if err := tx.Delete(&entity.Dataset{}, "id = ?", rec.ID).Error; err != nil {
			return nil, err
		}
	}

	s.log.Debug("Saved legacy dataset", zap.Stringer("id", rec.ID), zap.Bool("created", isNew))
	return ds, nil
}

// Refresh drops cached copies of the datasets and updates their search
// index entries. Writers that commit outside the service call it afterwards.
func (s *Service) Refresh(ctx context.Context, ids ...uuid.UUID) {
	s.invalidate(ids...)
	for _, id := range ids {
		ds, err := load(s.db.WithContext(ctx), id, false, false)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.search.RemoveDataset(id); err != nil {
				s.log.Error("Failed to update search index", zap.Stringer("id", id), zap.Error(err))
			}
			continue
		}
		if err != nil {
			s.log.Error("Failed to load dataset", zap.Stringer("id", id), zap.Error(err))
			continue
		}
		s.reindex(ds)
	}
}

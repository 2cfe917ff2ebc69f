package dataset

import (
	"context"
	"errors"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/copier"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/history"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Publish publishes a draft. A draft of a published dataset is merged into
// the original, which is returned, and the draft is removed.
func (s *Service) Publish(ctx context.Context, user utils.User, id uuid.UUID) (*entity.Dataset, error) {
	publishedID := id
	var draftID *uuid.UUID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ds, err := load(tx, id, true, false)
		if err != nil {
			return err
		}
		if !utils.UserCanEditDataset(user, ds) {
			return apperr.Forbidden.New("You do not have permission to publish this dataset.")
		}

		if ds.IsDraftOfPublished() {
			publishedID, draftID = *ds.DraftOfID, &ds.ID
			return s.merge(tx, ds)
		}
		if ds.IsPublished() {
			return apperr.Field("state", "Dataset is already published.")
		}

		tracker := versioning.Track(ds)
		ds.State = entity.StatePublished
		_, err = s.versions.Save(tx, ds, tracker, versioning.Options{}, func(tx *gorm.DB) error {
			return tx.Omit(clause.Associations).Save(ds).Error
		})
		return err
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound.New("Dataset %s not found.", id)
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(publishedID)
	if draftID != nil {
		s.log.Info("Merged draft into dataset", zap.Stringer("draft", *draftID), zap.Stringer("id", publishedID))
		s.invalidate(*draftID)
		if err := s.search.RemoveDataset(*draftID); err != nil {
			s.log.Error("Failed to remove draft from search index", zap.Stringer("id", *draftID), zap.Error(err))
		}
	} else {
		s.log.Info("Published dataset", zap.Stringer("id", publishedID))
	}
	return s.reload(ctx, publishedID)
}

// merge moves the content of draft into the published dataset it was
// created from and hard deletes draft.
func (s *Service) merge(tx *gorm.DB, draft *entity.Dataset) error {
	original, err := load(tx, *draft.DraftOfID, true, false)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Field("draft_of", "Original dataset no longer exists.")
	}
	if err != nil {
		return err
	}
	tracker := versioning.Track(original)
	oldAccessRights := original.AccessRightsID

	if err := purgeActors(tx, original.ID); err != nil {
		return err
	}
	if err := purgeFileSet(tx, original.ID); err != nil {
		return err
	}
	for _, model := range []interface{}{&entity.DatasetActor{}, &entity.Provenance{}, &entity.FileSet{}} {
		if err := tx.Model(model).Where("dataset_id = ?", draft.ID).Update("dataset_id", original.ID).Error; err != nil {
			return err
		}
	}

	original.Title = draft.Title
	original.Description = draft.Description
	original.Keyword = draft.Keyword
	if draft.Issued != nil {
		original.Issued = draft.Issued
	}
	original.CumulativeState = draft.CumulativeState
	original.CumulationStarted = draft.CumulationStarted
	original.CumulationEnded = draft.CumulationEnded
	original.IsDeprecated = draft.IsDeprecated
	original.MetadataOwnerID, original.MetadataOwner = draft.MetadataOwnerID, draft.MetadataOwner
	original.AccessRightsID, original.AccessRights = draft.AccessRightsID, draft.AccessRights
	original.Language = draft.Language
	original.Theme = draft.Theme
	original.FieldOfScience = draft.FieldOfScience

	original.Actors = draft.Actors
	for i := range original.Actors {
		original.Actors[i].DatasetID = original.ID
	}
	original.Provenance = draft.Provenance
	for i := range original.Provenance {
		original.Provenance[i].DatasetID = original.ID
		for j := range original.Provenance[i].IsAssociatedWith {
			original.Provenance[i].IsAssociatedWith[j].DatasetID = original.ID
		}
	}
	original.FileSet = draft.FileSet
	if original.FileSet != nil {
		original.FileSet.DatasetID = original.ID
	}
	original.State = entity.StatePublished

	_, err = s.versions.Save(tx, original, tracker, versioning.Options{Force: true}, func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(original).Error; err != nil {
			return err
		}
		for _, c := range conceptTables {
			if err := replaceConcepts(tx, c.table, original.ID, c.field(original)); err != nil {
				return err
			}
		}
		if err := purge(tx, draft); err != nil {
			return err
		}
		if oldAccessRights != nil && (original.AccessRightsID == nil || *oldAccessRights != *original.AccessRightsID) {
			return tx.Unscoped().Delete(&entity.AccessRights{}, "id = ?", *oldAccessRights).Error
		}
		return nil
	})
	return err
}

// CreateDraft copies a published dataset into a draft that can later be
// published over it.
func (s *Service) CreateDraft(ctx context.Context, user utils.User, id uuid.UUID) (*entity.Dataset, error) {
	var draftID uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := load(tx, id, true, false)
		if err != nil {
			return err
		}
		if !utils.UserCanEditDataset(user, original) {
			return apperr.Forbidden.New("You do not have permission to edit this dataset.")
		}
		if !original.IsPublished() {
			return apperr.Field("state", "Dataset needs to be published before creating a new draft.")
		}
		if original.NextDraftID != nil {
			return apperr.Field("next_draft", "Dataset already has a draft.")
		}

		pid := entity.DraftPrefix + original.ID.String()
		if original.PersistentIdentifier != nil {
			pid = entity.DraftPrefix + *original.PersistentIdentifier
		}
		draft, err := copier.CopyOf(s.copier, tx, original, map[string]interface{}{
			"State":                entity.StateDraft,
			"PersistentIdentifier": &pid,
			"PublishedRevision":    0,
			"DraftRevision":        0,
			"DraftOfID":            &original.ID,
		})
		if err != nil {
			return err
		}
		draftID = draft.ID
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound.New("Dataset %s not found.", id)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("Created draft of dataset", zap.Stringer("id", id), zap.Stringer("draft", draftID))
	s.invalidate(id)
	return s.reload(ctx, draftID)
}

// CreateNewVersion copies a published dataset into a new draft dataset that
// is linked to every version of the original.
func (s *Service) CreateNewVersion(ctx context.Context, user utils.User, id uuid.UUID) (*entity.Dataset, error) {
	var versionID uuid.UUID
	var siblings []uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := load(tx, id, true, false)
		if err != nil {
			return err
		}
		if !utils.UserCanEditDataset(user, original) {
			return apperr.Forbidden.New("You do not have permission to edit this dataset.")
		}
		if !original.IsPublished() {
			return apperr.Field("state", "Dataset needs to be published before creating a new version.")
		}

		version, err := copier.CopyOf(s.copier, tx, original, map[string]interface{}{
			"State":                entity.StateDraft,
			"PersistentIdentifier": (*string)(nil),
			"PublishedRevision":    0,
			"DraftRevision":        0,
			"SystemCreator":        user.ID,
		})
		if err != nil {
			return err
		}
		versionID = version.ID

		siblings = append(original.OtherVersionIDs, original.ID)
		return linkVersions(tx, version.ID, siblings)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound.New("Dataset %s not found.", id)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("Created new version of dataset", zap.Stringer("id", id), zap.Stringer("version", versionID))
	// Every linked version now lists the new one.
	s.invalidate(siblings...)
	return s.reload(ctx, versionID)
}

// linkVersions links id with each of others in both directions.
func linkVersions(tx *gorm.DB, id uuid.UUID, others []uuid.UUID) error {
	for _, other := range others {
		if other == id {
			continue
		}
		for _, pair := range [][2]uuid.UUID{{id, other}, {other, id}} {
			row := map[string]interface{}{"dataset_id": pair[0], "other_version_id": pair[1]}
			err := tx.Table("dataset_other_versions").Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Revisions returns the stored snapshots of a dataset, most recent first.
func (s *Service) Revisions(ctx context.Context, user utils.User, id uuid.UUID, filter history.Filter) ([]*entity.Dataset, error) {
	if _, err := s.Get(ctx, user, id, false); err != nil {
		return nil, err
	}

	var revisions []*entity.Dataset
	err := s.history.Each(ctx, id, filter, 0, func(rev *entity.DatasetRevision) error {
		instance, err := history.Instance(rev)
		if err != nil {
			return err
		}
		revisions = append(revisions, instance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revisions, nil
}

// Revision returns a single snapshot by name, e.g. "published-2" or
// "draft-1.3".
func (s *Service) Revision(ctx context.Context, user utils.User, id uuid.UUID, name string) (*entity.Dataset, error) {
	if _, err := versioning.ParseKey(name); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, user, id, false); err != nil {
		return nil, err
	}

	rev, err := s.history.GetRevision(ctx, id, name)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, apperr.NotFound.New("Revision %s of dataset %s not found.", name, id)
	}
	return history.Instance(rev)
}

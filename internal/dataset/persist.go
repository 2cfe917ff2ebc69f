package dataset

import (
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var conceptTables = []struct {
	table string
	field func(*entity.Dataset) []entity.Concept
}{
	{"dataset_languages", func(d *entity.Dataset) []entity.Concept { return d.Language }},
	{"dataset_themes", func(d *entity.Dataset) []entity.Concept { return d.Theme }},
	{"dataset_fields_of_science", func(d *entity.Dataset) []entity.Concept { return d.FieldOfScience }},
}

// persist writes the dataset row and the relations apply rebuilt.
func (s *Service) persist(tx *gorm.DB, ds *entity.Dataset, ch changes, isNew bool) error {
	if ch.accessRights {
		ds.AccessRightsID = nil
		if ds.AccessRights != nil {
			if err := tx.Omit(clause.Associations).Create(ds.AccessRights).Error; err != nil {
				return err
			}
			ds.AccessRightsID = &ds.AccessRights.ID
		}
	}

	if isNew {
		if err := tx.Omit(clause.Associations).Create(ds).Error; err != nil {
			return err
		}
	} else if err := tx.Omit(clause.Associations).Save(ds).Error; err != nil {
		return err
	}

	if ch.accessRights && ch.oldAccessRights != nil {
		if err := tx.Unscoped().Delete(&entity.AccessRights{}, "id = ?", *ch.oldAccessRights).Error; err != nil {
			return err
		}
	}

	if ch.actors {
		if err := purgeActors(tx, ds.ID); err != nil {
			return err
		}
		if err := createActors(tx, ds); err != nil {
			return err
		}
	}

	if ch.concepts {
		for _, c := range conceptTables {
			if err := replaceConcepts(tx, c.table, ds.ID, c.field(ds)); err != nil {
				return err
			}
		}
	}

	if ch.fileset != nil {
		if err := s.applyFileSet(tx, ds, *ch.fileset); err != nil {
			return err
		}
	}
	return nil
}

func createActors(tx *gorm.DB, ds *entity.Dataset) error {
	for i := range ds.Actors {
		ds.Actors[i].DatasetID = ds.ID
		if err := tx.Omit(clause.Associations).Create(&ds.Actors[i]).Error; err != nil {
			return err
		}
	}
	for i := range ds.Provenance {
		p := &ds.Provenance[i]
		p.DatasetID = ds.ID
		if err := tx.Omit(clause.Associations).Create(p).Error; err != nil {
			return err
		}
		for j := range p.IsAssociatedWith {
			p.IsAssociatedWith[j].DatasetID = ds.ID
			row := map[string]interface{}{"provenance_id": p.ID, "dataset_actor_id": p.IsAssociatedWith[j].ID}
			if err := tx.Table("provenance_actors").Create(row).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// purgeActors hard deletes the actors, provenance and persons owned by a
// dataset. Organizations may be shared and are kept.
func purgeActors(tx *gorm.DB, datasetID uuid.UUID) error {
	provenance := tx.Unscoped().Model(&entity.Provenance{}).Select("id").Where("dataset_id = ?", datasetID)
	if err := tx.Exec("DELETE FROM provenance_actors WHERE provenance_id IN (?)", provenance).Error; err != nil {
		return err
	}

	persons := tx.Unscoped().Model(&entity.DatasetActor{}).Select("person_id").
		Where("dataset_id = ? AND person_id IS NOT NULL", datasetID)
	var personIDs []uuid.UUID
	if err := persons.Pluck("person_id", &personIDs).Error; err != nil {
		return err
	}

	if err := tx.Unscoped().Where("dataset_id = ?", datasetID).Delete(&entity.Provenance{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("dataset_id = ?", datasetID).Delete(&entity.DatasetActor{}).Error; err != nil {
		return err
	}
	if len(personIDs) > 0 {
		if err := tx.Unscoped().Where("id IN ?", personIDs).Delete(&entity.Person{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func replaceConcepts(tx *gorm.DB, table string, datasetID uuid.UUID, concepts []entity.Concept) error {
	if err := tx.Exec("DELETE FROM "+table+" WHERE dataset_id = ?", datasetID).Error; err != nil {
		return err
	}
	for _, c := range concepts {
		row := map[string]interface{}{"dataset_id": datasetID, "concept_id": c.ID}
		if err := tx.Table(table).Create(row).Error; err != nil {
			return err
		}
	}
	return nil
}

func purgeFileSet(tx *gorm.DB, datasetID uuid.UUID) error {
	var ids []uuid.UUID
	if err := tx.Unscoped().Model(&entity.FileSet{}).Where("dataset_id = ?", datasetID).Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Exec("DELETE FROM fileset_files WHERE file_set_id IN ?", ids).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("file_set_id IN ?", ids).Delete(&entity.FileSetFileMetadata{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("file_set_id IN ?", ids).Delete(&entity.FileSetDirectoryMetadata{}).Error; err != nil {
		return err
	}
	return tx.Unscoped().Where("id IN ?", ids).Delete(&entity.FileSet{}).Error
}

// purge hard deletes a dataset row together with everything it owns.
// Revision history is kept.
func purge(tx *gorm.DB, ds *entity.Dataset) error {
	if err := purgeActors(tx, ds.ID); err != nil {
		return err
	}
	if err := purgeFileSet(tx, ds.ID); err != nil {
		return err
	}
	for _, c := range conceptTables {
		if err := replaceConcepts(tx, c.table, ds.ID, nil); err != nil {
			return err
		}
	}
	if err := tx.Exec("DELETE FROM dataset_other_versions WHERE dataset_id = ? OR other_version_id = ?", ds.ID, ds.ID).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Delete(&entity.Dataset{}, "id = ?", ds.ID).Error; err != nil {
		return err
	}
	if ds.AccessRightsID != nil {
		var shared int64
		if err := tx.Unscoped().Model(&entity.Dataset{}).Where("access_rights_id = ?", *ds.AccessRightsID).Count(&shared).Error; err != nil {
			return err
		}
		if shared == 0 {
			return tx.Unscoped().Delete(&entity.AccessRights{}, "id = ?", *ds.AccessRightsID).Error
		}
	}
	return nil
}

// load reads a dataset with the relations exposed by the API. With lock the
// row is locked for the rest of tx.
func load(tx *gorm.DB, id uuid.UUID, lock bool, unscoped bool) (*entity.Dataset, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if unscoped {
		q = q.Unscoped()
	}

	ds := &entity.Dataset{}
	err := q.Preload("DataCatalog").
		Preload("MetadataOwner").
		Preload("AccessRights.License").
		Preload("Actors", orderByCreated).
		Preload("Actors.Person").
		Preload("Actors.Organization.Parent").
		Preload("Provenance", orderByCreated).
		Preload("Provenance.IsAssociatedWith", orderByCreated).
		Preload("Provenance.IsAssociatedWith.Person").
		Preload("Provenance.IsAssociatedWith.Organization.Parent").
		Preload("Language").
		Preload("Theme").
		Preload("FieldOfScience").
		Preload("FileSet.Storage").
		Preload("FileSet.FileMetadata").
		Preload("FileSet.DirectoryMetadata").
		First(ds, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	var next entity.Dataset
	err = tx.Select("id").Where("draft_of_id = ?", ds.ID).Limit(1).Find(&next).Error
	if err != nil {
		return nil, err
	}
	if next.ID != uuid.Nil {
		ds.NextDraftID = &next.ID
	}

	err = tx.Table("dataset_other_versions").
		Joins("JOIN datasets ON datasets.id = dataset_other_versions.other_version_id AND datasets.deleted_at IS NULL").
		Where("dataset_other_versions.dataset_id = ?", ds.ID).
		Order("datasets.created_at").
		Pluck("dataset_other_versions.other_version_id", &ds.OtherVersionIDs).Error
	if err != nil {
		return nil, err
	}

	if ds.FileSet != nil {
		if err := fileSetTotals(tx, ds.FileSet); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func orderByCreated(db *gorm.DB) *gorm.DB {
	return db.Order("created_at, id")
}

package dataset

import (
	"strings"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// FileSetInput attaches files of one storage project to a dataset. Actions
// are applied in order, directory actions before file actions.
type FileSetInput struct {
	StorageService   string            `json:"storage_service"`
	Project          string            `json:"project"`
	DirectoryActions []DirectoryAction `json:"directory_actions,omitempty"`
	FileActions      []FileAction      `json:"file_actions,omitempty"`
}

type ItemMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type DirectoryAction struct {
	Pathname        string        `json:"pathname"`
	Action          string        `json:"action"`
	DatasetMetadata *ItemMetadata `json:"dataset_metadata,omitempty"`
}

type FileAction struct {
	ID              uuid.UUID     `json:"id"`
	Action          string        `json:"action"`
	DatasetMetadata *ItemMetadata `json:"dataset_metadata,omitempty"`
}

func (in FileSetInput) hasFileChanges() bool {
	for _, a := range in.DirectoryActions {
		if a.Action != ActionUpdate {
			return true
		}
	}
	for _, a := range in.FileActions {
		if a.Action != ActionUpdate {
			return true
		}
	}
	return false
}

func directoryPath(pathname string) string {
	if !strings.HasSuffix(pathname, "/") {
		pathname += "/"
	}
	if !strings.HasPrefix(pathname, "/") {
		pathname = "/" + pathname
	}
	return pathname
}

func validAction(action string) bool {
	return action == ActionAdd || action == ActionUpdate || action == ActionRemove
}

// applyFileSet runs the file and directory actions of in against the
// dataset file set, creating the file set on first use.
func (s *Service) applyFileSet(tx *gorm.DB, ds *entity.Dataset, in FileSetInput) error {
	if in.StorageService == "" {
		return apperr.Field("fileset", "storage_service is required.")
	}

	storage := entity.FileStorage{}
	err := tx.Where(entity.FileStorage{StorageService: in.StorageService, Project: in.Project}).First(&storage).Error
	if err == gorm.ErrRecordNotFound {
		return apperr.Field("fileset", "Unknown storage project "+in.StorageService+":"+in.Project+".")
	}
	if err != nil {
		return err
	}

	fs := &entity.FileSet{}
	err = tx.Where("dataset_id = ?", ds.ID).First(fs).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		fs = &entity.FileSet{DatasetID: ds.ID, StorageID: storage.ID}
		if err := tx.Omit(clause.Associations).Create(fs).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	case fs.StorageID != storage.ID:
		return apperr.Field("fileset", "Dataset files are already in a different storage project.")
	}

	for _, action := range in.DirectoryActions {
		if !validAction(action.Action) {
			return apperr.Field("directory_actions", "Invalid action "+action.Action+".")
		}
		dir := directoryPath(action.Pathname)

		var fileIDs []uuid.UUID
		if action.Action != ActionUpdate {
			err := tx.Model(&entity.File{}).
				Where("storage_id = ? AND pathname LIKE ? ESCAPE '\\'", storage.ID, escapeLike(dir)+"%").
				Pluck("id", &fileIDs).Error
			if err != nil {
				return err
			}
		}

		switch action.Action {
		case ActionAdd:
			added, err := addFiles(tx, fs.ID, fileIDs)
			if err != nil {
				return err
			}
			fs.AddedFilesCount += added
		case ActionRemove:
			removed, err := removeFiles(tx, fs.ID, fileIDs)
			if err != nil {
				return err
			}
			fs.RemovedFilesCount += removed
			err = tx.Unscoped().
				Where("file_set_id = ? AND pathname LIKE ? ESCAPE '\\'", fs.ID, escapeLike(dir)+"%").
				Delete(&entity.FileSetDirectoryMetadata{}).Error
			if err != nil {
				return err
			}
			continue
		}

		if action.DatasetMetadata != nil {
			meta := entity.FileSetDirectoryMetadata{FileSetID: fs.ID, Pathname: dir}
			if err := upsertMetadata(tx, &meta, "pathname", *action.DatasetMetadata); err != nil {
				return err
			}
		}
	}

	for _, action := range in.FileActions {
		if !validAction(action.Action) {
			return apperr.Field("file_actions", "Invalid action "+action.Action+".")
		}

		var file entity.File
		if err := tx.Where("id = ? AND storage_id = ?", action.ID, storage.ID).First(&file).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.Field("file_actions", "File "+action.ID.String()+" not found in storage project.")
			}
			return err
		}

		switch action.Action {
		case ActionAdd:
			added, err := addFiles(tx, fs.ID, []uuid.UUID{file.ID})
			if err != nil {
				return err
			}
			fs.AddedFilesCount += added
		case ActionRemove:
			removed, err := removeFiles(tx, fs.ID, []uuid.UUID{file.ID})
			if err != nil {
				return err
			}
			fs.RemovedFilesCount += removed
			continue
		}

		if action.DatasetMetadata != nil {
			meta := entity.FileSetFileMetadata{FileSetID: fs.ID, FileID: file.ID}
			if err := upsertMetadata(tx, &meta, "file_id", *action.DatasetMetadata); err != nil {
				return err
			}
		}
	}

	err = tx.Preload("Storage").Preload("FileMetadata").Preload("DirectoryMetadata").First(fs, "id = ?", fs.ID).Error
	if err != nil {
		return err
	}
	if err := fileSetTotals(tx, fs); err != nil {
		return err
	}
	ds.FileSet = fs
	return nil
}

func addFiles(tx *gorm.DB, fileSetID uuid.UUID, fileIDs []uuid.UUID) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	var existing []uuid.UUID
	err := tx.Table("fileset_files").Where("file_set_id = ? AND file_id IN ?", fileSetID, fileIDs).Pluck("file_id", &existing).Error
	if err != nil {
		return 0, err
	}
	present := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		present[id] = true
	}

	var added int64
	for _, id := range fileIDs {
		if present[id] {
			continue
		}
		row := map[string]interface{}{"file_set_id": fileSetID, "file_id": id}
		if err := tx.Table("fileset_files").Create(row).Error; err != nil {
			return 0, err
		}
		added++
	}
	return added, nil
}

func removeFiles(tx *gorm.DB, fileSetID uuid.UUID, fileIDs []uuid.UUID) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	res := tx.Exec("DELETE FROM fileset_files WHERE file_set_id = ? AND file_id IN ?", fileSetID, fileIDs)
	if res.Error != nil {
		return 0, res.Error
	}
	err := tx.Unscoped().Where("file_set_id = ? AND file_id IN ?", fileSetID, fileIDs).Delete(&entity.FileSetFileMetadata{}).Error
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// upsertMetadata updates the title and description of the row identified by
// the file set and key column of meta, creating it when missing.
func upsertMetadata(tx *gorm.DB, meta interface{}, keyColumn string, in ItemMetadata) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_set_id"}, {Name: keyColumn}},
		DoUpdates: clause.Assignments(map[string]interface{}{"title": in.Title, "description": in.Description}),
	}).Create(withMetadata(meta, in)).Error
}

func withMetadata(meta interface{}, in ItemMetadata) interface{} {
	switch m := meta.(type) {
	case *entity.FileSetFileMetadata:
		m.Title, m.Description = in.Title, in.Description
	case *entity.FileSetDirectoryMetadata:
		m.Title, m.Description = in.Title, in.Description
	}
	return meta
}

func fileSetTotals(tx *gorm.DB, fs *entity.FileSet) error {
	var totals struct {
		Count int64
		Size  int64
	}
	err := tx.Table("fileset_files").
		Select("COUNT(files.id) AS count, COALESCE(SUM(files.size), 0) AS size").
		Joins("JOIN files ON files.id = fileset_files.file_id").
		Where("fileset_files.file_set_id = ?", fs.ID).
		Scan(&totals).Error
	if err != nil {
		return err
	}
	fs.TotalFilesCount = totals.Count
	fs.TotalFilesSize = totals.Size
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

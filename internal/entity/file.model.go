package entity

import (
	"github.com/EarthModule/fairdata-metax-v3/internal/copier"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type FileStorage struct {
	Base
	StorageService string `gorm:"type:varchar(64);not null;uniqueIndex:idx_storage_service_project" json:"storage_service"`
	Project        string `gorm:"type:varchar(200);uniqueIndex:idx_storage_service_project" json:"project,omitempty"`
}

func (FileStorage) IsReferenceData() bool { return true }

type File struct {
	Base
	StorageID uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_file_storage_pathname" json:"-"`
	Storage   *FileStorage `gorm:"foreignKey:StorageID" json:"-"`
	Pathname  string       `gorm:"type:varchar(1024);not null;uniqueIndex:idx_file_storage_pathname" json:"pathname"`
	Size      int64        `json:"size"`
	Checksum  string       `gorm:"type:varchar(200)" json:"checksum,omitempty"`
}

func (File) IsReferenceData() bool { return true }

// FileSet is the set of files attached to a single dataset.
type FileSet struct {
	Base
	DatasetID         uuid.UUID                  `gorm:"type:uuid;not null;uniqueIndex" json:"-"`
	StorageID         uuid.UUID                  `gorm:"type:uuid;not null" json:"-"`
	Storage           *FileStorage               `gorm:"foreignKey:StorageID" json:"storage,omitempty"`
	Files             []File                     `gorm:"many2many:fileset_files" json:"-"`
	FileMetadata      []FileSetFileMetadata      `gorm:"foreignKey:FileSetID" json:"file_metadata,omitempty"`
	DirectoryMetadata []FileSetDirectoryMetadata `gorm:"foreignKey:FileSetID" json:"directory_metadata,omitempty"`

	AddedFilesCount   int64 `gorm:"-" json:"added_files_count"`
	RemovedFilesCount int64 `gorm:"-" json:"removed_files_count"`
	TotalFilesCount   int64 `gorm:"-" json:"total_files_count"`
	TotalFilesSize    int64 `gorm:"-" json:"total_files_size"`
}

func (FileSet) CopyConfig() copier.Config {
	return copier.Config{
		CopiedRelations: []string{"FileMetadata", "DirectoryMetadata"},
		ParentRelations: []string{"Storage", "Files"},
	}
}

type FileSetFileMetadata struct {
	Base
	FileSetID   uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_fileset_file" json:"-"`
	FileID      uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_fileset_file" json:"file_id"`
	Title       string            `gorm:"type:varchar(512)" json:"title,omitempty"`
	Description string            `gorm:"type:text" json:"description,omitempty"`
	Extra       datatypes.JSONMap `json:"extra,omitempty"`
}

func (FileSetFileMetadata) CopyConfig() copier.Config { return copier.Config{} }

type FileSetDirectoryMetadata struct {
	Base
	FileSetID   uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_fileset_directory" json:"-"`
	Pathname    string            `gorm:"type:varchar(1024);not null;uniqueIndex:idx_fileset_directory" json:"pathname"`
	Title       string            `gorm:"type:varchar(512)" json:"title,omitempty"`
	Description string            `gorm:"type:text" json:"description,omitempty"`
	Extra       datatypes.JSONMap `json:"extra,omitempty"`
}

func (FileSetDirectoryMetadata) CopyConfig() copier.Config { return copier.Config{} }

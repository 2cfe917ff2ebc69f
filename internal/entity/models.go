package entity

// All returns every model managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&DataCatalog{},
		&Concept{},
		&AccessRights{},
		&MetadataProvider{},
		&Organization{},
		&Person{},
		&Dataset{},
		&DatasetActor{},
		&Provenance{},
		&FileStorage{},
		&File{},
		&FileSet{},
		&FileSetFileMetadata{},
		&FileSetDirectoryMetadata{},
		&DatasetRevision{},
		&RevisionChange{},
		&LegacyDataset{},
	}
}

// Package dataset implements the dataset lifecycle: creation, updates,
// drafts of published datasets, new versions and deletion.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/EarthModule/fairdata-metax-v3/internal/appcontext"
	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/cache"
	"github.com/EarthModule/fairdata-metax-v3/internal/copier"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/history"
	"github.com/EarthModule/fairdata-metax-v3/internal/search"
	"github.com/EarthModule/fairdata-metax-v3/internal/services"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	versions *versioning.Controller
	history  *history.Store
	copier   *copier.Engine
	cache    cache.Cache
	search   search.Indexer
	mailer   services.Mailer
	baseURL  string
	now      func() time.Time
}

// NewService wires the dataset service from the application context. A nil
// cache, index or mailer disables that integration.
func NewService(ctx *appcontext.Context) (*Service, error) {
	engine, err := copier.New(ctx.DB,
		&entity.Dataset{}, &entity.AccessRights{}, &entity.DatasetActor{}, &entity.Person{},
		&entity.Organization{}, &entity.Provenance{}, &entity.FileSet{},
		&entity.FileSetFileMetadata{}, &entity.FileSetDirectoryMetadata{},
	)
	if err != nil {
		return nil, err
	}

	store := history.NewStore(ctx.DB)
	s := &Service{
		db:       ctx.DB,
		log:      ctx.Logger,
		versions: versioning.NewController(store, ctx.Logger),
		history:  store,
		copier:   engine,
		cache:    ctx.Cache,
		search:   ctx.Search,
		mailer:   ctx.Mailer,
		baseURL:  ctx.BaseURL,
		now:      time.Now,
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.search == nil {
		s.search = search.Nop{}
	}
	return s, nil
}

// WithClock replaces the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.versions.WithClock(now)
	return s
}

// DB returns the database the service writes to.
func (s *Service) DB() *gorm.DB {
	return s.db
}

// Versions exposes the versioning controller so other writers of datasets
// share the same revision bookkeeping.
func (s *Service) Versions() *versioning.Controller {
	return s.versions
}

type ListOptions struct {
	DataCatalog    string
	State          string
	IncludeRemoved bool
	Limit          int
	Offset         int
}

// Create stores a new dataset owned by user. Datasets are drafts unless the
// input asks for a published state.
func (s *Service) Create(ctx context.Context, user utils.User, in Input) (*entity.Dataset, error) {
	state := entity.StateDraft
	if in.State != nil {
		state = *in.State
	}
	if state != entity.StateDraft && state != entity.StatePublished {
		return nil, apperr.Field("state", "Invalid state "+state+".")
	}
	if in.MetadataOwner == nil && user.Authenticated() {
		in.MetadataOwner = &MetadataOwnerInput{User: user.ID, Organization: user.ID}
	}

	ds := &entity.Dataset{State: state, SystemCreator: user.ID}
	ds.ID = uuid.New()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ch, err := s.apply(tx, ds, in, false, true)
		if err != nil {
			return err
		}
		opts := versioning.Options{}
		_, err = s.versions.Save(tx, ds, nil, opts, func(tx *gorm.DB) error {
			return s.persist(tx, ds, ch, true)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Created dataset", zap.Stringer("id", ds.ID), zap.String("state", ds.State))
	return s.reload(ctx, ds.ID)
}

// Update replaces (partial false) or patches (partial true) a dataset.
func (s *Service) Update(ctx context.Context, user utils.User, id uuid.UUID, in Input, partial bool) (*entity.Dataset, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ds, err := load(tx, id, true, false)
		if err != nil {
			return err
		}
		if !utils.UserCanEditDataset(user, ds) {
			return apperr.Forbidden.New("You do not have permission to edit this dataset.")
		}
		if in.State != nil && *in.State != ds.State {
			return apperr.Field("state", "Value cannot be changed directly for an existing dataset.")
		}

		tracker := versioning.Track(ds)
		ch, err := s.apply(tx, ds, in, partial, false)
		if err != nil {
			return err
		}
		opts := versioning.Options{Force: ch.fileset != nil && ch.fileset.hasFileChanges()}
		_, err = s.versions.Save(tx, ds, tracker, opts, func(tx *gorm.DB) error {
			return s.persist(tx, ds, ch, false)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(id)
	return s.reload(ctx, id)
}

// Get returns a dataset visible to user. Published datasets are served from
// the cache when possible.
func (s *Service) Get(ctx context.Context, user utils.User, id uuid.UUID, includeRemoved bool) (*entity.Dataset, error) {
	key := cache.DatasetKey(id)
	if !includeRemoved {
		if data, ok, err := s.cache.Get(key); err != nil {
			s.log.Warn("Failed to read dataset from cache", zap.Stringer("id", id), zap.Error(err))
		} else if ok {
			var ds entity.Dataset
			if err := json.Unmarshal(data, &ds); err == nil {
				return &ds, nil
			}
		}
	}

	ds, err := load(s.db.WithContext(ctx), id, false, includeRemoved)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound.New("Dataset %s not found.", id)
	}
	if err != nil {
		return nil, err
	}
	if !utils.UserCanSeeDataset(user, ds) {
		return nil, apperr.NotFound.New("Dataset %s not found.", id)
	}

	if !includeRemoved && ds.IsPublished() && !ds.IsDraftOfPublished() {
		if data, err := json.Marshal(ds); err == nil {
			if err := s.cache.Set(key, data); err != nil {
				s.log.Warn("Failed to cache dataset", zap.Stringer("id", id), zap.Error(err))
			}
		}
	}
	return ds, nil
}

// List returns published datasets and the drafts visible to user, newest
// first, together with the total count.
func (s *Service) List(ctx context.Context, user utils.User, opts ListOptions) ([]*entity.Dataset, int64, error) {
	q := s.db.WithContext(ctx).Model(&entity.Dataset{})
	if opts.IncludeRemoved {
		q = q.Unscoped()
	}
	if opts.DataCatalog != "" {
		q = q.Where("data_catalog_id = ?", opts.DataCatalog)
	}
	if opts.State != "" {
		q = q.Where("state = ?", opts.State)
	}
	if !user.Admin {
		visible := "state = ? AND draft_of_id IS NULL"
		if user.Authenticated() {
			owned := s.db.Model(&entity.MetadataProvider{}).Select("id").Where(&entity.MetadataProvider{User: user.ID})
			q = q.Where(s.db.Where(visible, entity.StatePublished).
				Or("system_creator = ?", user.ID).
				Or("metadata_owner_id IN (?)", owned))
		} else {
			q = q.Where(visible, entity.StatePublished)
		}
	}

	q = q.Session(&gorm.Session{})

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	var ids []uuid.UUID
	err := q.Order("created_at DESC, id").Limit(opts.Limit).Offset(opts.Offset).Pluck("id", &ids).Error
	if err != nil {
		return nil, 0, err
	}

	datasets := make([]*entity.Dataset, 0, len(ids))
	for _, id := range ids {
		ds, err := load(s.db.WithContext(ctx), id, false, opts.IncludeRemoved)
		if err != nil {
			return nil, 0, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, count, nil
}

// Delete soft deletes a dataset, or hard deletes it when flush is set or the
// dataset is a draft of a published dataset. Pending drafts of the dataset
// are removed with it.
func (s *Service) Delete(ctx context.Context, user utils.User, id uuid.UUID, flush bool) error {
	if flush && !user.Admin {
		return apperr.Forbidden.New("Only administrators can flush datasets.")
	}

	stale := []uuid.UUID{id}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ds, err := load(tx, id, true, flush)
		if err != nil {
			return err
		}
		if !utils.UserCanEditDataset(user, ds) {
			return apperr.Forbidden.New("You do not have permission to delete this dataset.")
		}
		stale = append(stale, ds.OtherVersionIDs...)

		if ds.NextDraftID != nil {
			draft, err := load(tx, *ds.NextDraftID, true, false)
			if err != nil {
				return err
			}
			if err := purge(tx, draft); err != nil {
				return err
			}
		}

		if flush || ds.IsDraftOfPublished() {
			return purge(tx, ds)
		}
		if err := tx.Delete(ds).Error; err != nil {
			return err
		}
		if ds.AccessRightsID != nil {
			return tx.Delete(&entity.AccessRights{}, "id = ?", *ds.AccessRightsID).Error
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound.New("Dataset %s not found.", id)
	}
	if err != nil {
		return err
	}

	s.log.Info("Deleted dataset", zap.Stringer("id", id), zap.Bool("flush", flush))
	s.invalidate(stale...)
	if err := s.search.RemoveDataset(id); err != nil {
		s.log.Error("Failed to remove dataset from search index", zap.Stringer("id", id), zap.Error(err))
	}
	return nil
}

// reload reads a dataset after a committed write and refreshes its search
// document.
func (s *Service) reload(ctx context.Context, id uuid.UUID) (*entity.Dataset, error) {
	ds, err := load(s.db.WithContext(ctx), id, false, false)
	if err != nil {
		return nil, err
	}
	s.reindex(ds)
	return ds, nil
}

func (s *Service) reindex(ds *entity.Dataset) {
	var err error
	if ds.IsPublished() && !ds.IsDraftOfPublished() {
		err = s.search.IndexDataset(ds)
	} else {
		err = s.search.RemoveDataset(ds.ID)
	}
	if err != nil {
		s.log.Error("Failed to update search index", zap.Stringer("id", ds.ID), zap.Error(err))
	}
}

func (s *Service) invalidate(ids ...uuid.UUID) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cache.DatasetKey(id))
	}
	if err := s.cache.Delete(keys...); err != nil {
		s.log.Warn("Failed to invalidate cached datasets", zap.Error(err))
	}
}

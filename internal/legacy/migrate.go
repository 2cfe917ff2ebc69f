package legacy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/dataset"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultPageSize = 100

// errStop ends a run once the update limit is reached.
var errStop = errors.New("update limit reached")

// Options select which datasets a run migrates and how failures are handled.
type Options struct {
	Identifiers []string
	Catalogs    []string
	All         bool

	// AllowFail records failing datasets and continues with the next one.
	AllowFail bool
	// ForceUpdate converts datasets again even when nothing changed.
	ForceUpdate bool
	// StopAfter ends the run after this many updates. Zero means no limit.
	StopAfter int

	File     string
	Instance string
	PageSize int
	// Verbosity above 1 prints a status line for unchanged datasets too.
	Verbosity int
}

// Validate checks that exactly one selection mode is set.
func (o Options) Validate() error {
	modes := 0
	for _, set := range []bool{len(o.Identifiers) > 0, len(o.Catalogs) > 0, o.All} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return apperr.Config.New("Exactly one of --identifiers, --catalogs and --all is required.")
	}
	if o.StopAfter < 0 {
		return apperr.Config.New("--stop-after cannot be negative.")
	}
	return nil
}

func (o Options) pageSize() int {
	if o.PageSize <= 0 {
		return DefaultPageSize
	}
	return o.PageSize
}

type Summary struct {
	// Processed counts datasets with a valid identifier.
	Processed int
	// Updated counts datasets that were converted again.
	Updated int
	// Succeeded counts updates that finished without migration errors.
	Succeeded int
	// Unfetched counts datasets the source could not return. They are listed
	// in Failed but were never updated, so FailedCount leaves them out.
	Unfetched int

	Migrated        []string
	Failed          []string
	SkippedCatalogs []string
	Interrupted     bool
}

// FailedCount is the number of updates that did not succeed.
func (s Summary) FailedCount() int {
	return s.Updated - s.Succeeded
}

func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Processed %d datasets\n", s.Processed)
	fmt.Fprintf(w, "- %d datasets updated succesfully\n", s.Succeeded)
	fmt.Fprintf(w, "- %d datasets failed\n", s.FailedCount())
	if s.Unfetched > 0 {
		fmt.Fprintf(w, "- %d datasets could not be fetched\n", s.Unfetched)
	}
}

// MigrationError aborts a run when a dataset fails and failures are not allowed.
type MigrationError struct {
	Identifier string
	Errors     map[string][]string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("dataset %s failed to migrate: %v", e.Identifier, e.Errors)
}

// Migrator copies V2 datasets into legacy datasets, converting each one in
// its own transaction.
type Migrator struct {
	db        *gorm.DB
	log       *zap.Logger
	converter *Converter
	datasets  *dataset.Service
	out       io.Writer
	errOut    io.Writer
}

// NewMigrator returns a migrator that prints status lines to out and
// per-dataset errors to errOut.
func NewMigrator(datasets *dataset.Service, converter *Converter, log *zap.Logger, out, errOut io.Writer) *Migrator {
	return &Migrator{
		db:        datasets.DB(),
		log:       log,
		converter: converter,
		datasets:  datasets,
		out:       out,
		errOut:    errOut,
	}
}

// run holds the state of a single migration run.
type run struct {
	*Migrator
	opts    Options
	summary Summary
	// existing holds the legacy datasets of the current page, read directly
	// from the database.
	existing map[uuid.UUID]*entity.LegacyDataset
}

// Run migrates the datasets src yields for opts. The summary is returned
// even when the run fails or ctx is cancelled.
func (m *Migrator) Run(ctx context.Context, src Source, opts Options) (Summary, error) {
	if err := opts.Validate(); err != nil {
		return Summary{}, err
	}

	r := &run{Migrator: m, opts: opts}
	err := src.Fetch(ctx, opts, r)
	switch {
	case errors.Is(err, errStop):
		m.log.Info("Stopping after update limit", zap.Int("stop_after", opts.StopAfter))
		err = nil
	case errors.Is(err, context.Canceled):
		m.log.Warn("Migration interrupted")
		r.summary.Interrupted = true
		err = nil
	}
	return r.summary, err
}

func (r *run) limitReached() bool {
	return r.opts.StopAfter != 0 && r.summary.Updated >= r.opts.StopAfter
}

func (r *run) CatalogSkipped(catalog string, err error) {
	fmt.Fprintf(r.errOut, "Invalid catalog identifier: %s\n", catalog)
	r.log.Warn("Skipping catalog", zap.String("catalog", catalog), zap.Error(err))
	r.summary.SkippedCatalogs = append(r.summary.SkippedCatalogs, catalog)
}

func (r *run) Batch(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.limitReached() {
		return errStop
	}
	if err := r.preload(ctx, records); err != nil {
		return err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.limitReached() {
			return errStop
		}
		if err := r.migrate(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// preload reads the legacy datasets of a page in one query.
func (r *run) preload(ctx context.Context, records []Record) error {
	ids := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		if id, err := uuid.Parse(rec.Identifier); err == nil {
			ids = append(ids, id)
		}
	}

	r.existing = make(map[uuid.UUID]*entity.LegacyDataset, len(ids))
	if len(ids) == 0 {
		return nil
	}
	var rows []*entity.LegacyDataset
	if err := r.db.WithContext(ctx).Unscoped().Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load migrated datasets: %w", err)
	}
	for _, row := range rows {
		r.existing[row.ID] = row
	}
	return nil
}

func (r *run) migrate(ctx context.Context, rec Record) error {
	id, err := uuid.Parse(rec.Identifier)
	if err != nil {
		fmt.Fprintf(r.errOut, "Invalid identifier '%s', ignoring\n", rec.Identifier)
		r.log.Warn("Invalid identifier", zap.String("identifier", rec.Identifier))
		metrics.LegacyMigrations.WithLabelValues("invalid").Inc()
		return nil
	}
	r.summary.Processed++

	var reason string
	var row *entity.LegacyDataset
	err = rec.Err
	if err == nil {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row = r.existing[id]
			created := false
			if row == nil {
				var err error
				if row, created, err = getOrCreate(tx, id, rec.Raw); err != nil {
					return err
				}
			}

			reason = updateReason(row, rec, created, r.opts.ForceUpdate)
			if reason == "" {
				return nil
			}
			r.summary.Updated++
			row.DatasetJSON = datatypes.JSON(rec.Raw)
			if err := r.converter.Convert(tx, row); err != nil {
				return err
			}
			return tx.Save(row).Error
		})
	}
	delete(r.existing, id)

	if err != nil {
		if !r.opts.AllowFail {
			r.log.Error("Failed while processing dataset", zap.Stringer("id", id), zap.Error(err))
			return err
		}
		fmt.Fprintf(r.errOut, "%v\nException migrating dataset %s\n\n", err, id)
		r.summary.Failed = append(r.summary.Failed, id.String())
		if rec.Err != nil {
			r.summary.Unfetched++
		}
		metrics.LegacyMigrations.WithLabelValues("failed").Inc()
		return nil
	}

	errs := row.MigrationErrors.Data()
	if reason != "" && len(errs) == 0 {
		r.summary.Succeeded++
	}
	r.printStatus(id, reason)
	if reason != "" {
		r.printErrors(id, errs)
		r.datasets.Refresh(ctx, id)
	}

	switch {
	case len(errs) > 0:
		metrics.LegacyMigrations.WithLabelValues("failed").Inc()
		if !r.opts.AllowFail {
			return &MigrationError{Identifier: id.String(), Errors: errs}
		}
		r.summary.Failed = append(r.summary.Failed, id.String())
	case reason != "":
		metrics.LegacyMigrations.WithLabelValues(reason).Inc()
		r.summary.Migrated = append(r.summary.Migrated, id.String())
	default:
		metrics.LegacyMigrations.WithLabelValues("unchanged").Inc()
		r.summary.Migrated = append(r.summary.Migrated, id.String())
	}
	return nil
}

// updateReason tells why a dataset is converted again, or returns "" when
// the stored conversion is current.
func updateReason(row *entity.LegacyDataset, rec Record, created, force bool) string {
	if created {
		return "created"
	}
	if row.HasMigrationErrors() || row.LastSuccessfulMigration == nil {
		return "migration-errors"
	}
	if modified, err := parseTimestamp(rec.Modified); err == nil && modified.After(*row.LastSuccessfulMigration) {
		return "modified"
	}
	if force {
		return "force"
	}
	return ""
}

func (r *run) printStatus(id uuid.UUID, reason string) {
	if reason == "" && r.opts.Verbosity <= 1 {
		return
	}
	failed := ""
	if r.opts.AllowFail {
		failed = fmt.Sprintf(", %d failed", r.summary.FailedCount())
	}
	fmt.Fprintf(r.out, "%d (%d updated%s): identifier=%s, update_reason=%q\n",
		r.summary.Processed, r.summary.Succeeded, failed, id, reason)
}

func (r *run) printErrors(id uuid.UUID, errs map[string][]string) {
	if len(errs) == 0 {
		return
	}
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	fmt.Fprintf(r.errOut, "Errors for dataset %s:\n", id)
	for _, field := range fields {
		fmt.Fprintf(r.errOut, "- %s\n", field)
		for _, msg := range errs[field] {
			fmt.Fprintf(r.errOut, "   %s\n", msg)
		}
	}
	fmt.Fprintln(r.errOut)
}

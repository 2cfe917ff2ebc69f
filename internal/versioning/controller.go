// Package versioning decides how saves of versioned records move their
// published and draft revision counters.
package versioning

import (
	"time"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Versionable is implemented by records whose saves are gated by the Controller.
type Versionable interface {
	RecordID() uuid.UUID
	// VersioningEnabled reports whether revision bookkeeping applies at all.
	VersioningEnabled() bool
	RevisionState() State
	SetRevision(published, draft int)
	// Publish validates the record, increments the published revision,
	// resets the draft revision and fills in publication defaults.
	Publish(now time.Time) error
}

// History stores revision snapshots.
type History interface {
	Exists(tx *gorm.DB, recordID uuid.UUID, key Key) (bool, error)
	Capture(tx *gorm.DB, recordID uuid.UUID, key Key, snapshot any, changes []FieldChange) error
}

type Options struct {
	// Force treats the save as a content change even when no tracked field differs.
	Force bool
}

type Result struct {
	Key      Key
	Captured bool
	Changes  []FieldChange
}

type Controller struct {
	history History
	log     *zap.Logger
	now     func() time.Time
}

func NewController(history History, log *zap.Logger) *Controller {
	return &Controller{history: history, log: log, now: time.Now}
}

// WithClock replaces the time source used for publication dates.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Save applies the revision rules to v, calls persist and captures a snapshot
// when a revision counter moved. tracker is nil for records that have not been
// persisted yet.
//
// The caller is expected to hold a row lock on v inside tx so concurrent
// saves cannot observe the same previous revision.
func (c *Controller) Save(tx *gorm.DB, v Versionable, tracker *Tracker, opts Options, persist func(tx *gorm.DB) error) (Result, error) {
	if tracker == nil {
		tracker = NewTracker()
	}
	current := v.RevisionState()

	if !v.VersioningEnabled() {
		if current.Kind == Published && current.Published == 0 {
			v.SetRevision(1, current.Draft)
		}
		return Result{}, persist(tx)
	}

	if err := c.denyCumulativeFlip(tx, v, tracker, current); err != nil {
		return Result{}, err
	}

	changes := tracker.Changes(v)
	changed := opts.Force || len(changes) > 0

	var result Result
	switch {
	case shouldIncreasePublished(tracker, current, changed):
		if err := v.Publish(c.now()); err != nil {
			return Result{}, err
		}
		state := v.RevisionState()
		result = Result{Key: PublishedKey(state.Published), Captured: true}
	case shouldIncreaseDraft(tracker, current, changed):
		v.SetRevision(current.Published, current.Draft+1)
		result = Result{Key: DraftKey(current.Published, current.Draft+1), Captured: true}
	}

	if err := persist(tx); err != nil {
		return Result{}, err
	}
	if !result.Captured {
		return result, nil
	}

	result.Changes = changes
	if err := c.history.Capture(tx, v.RecordID(), result.Key, v, changes); err != nil {
		return Result{}, err
	}
	metrics.Revisions.WithLabelValues(string(result.Key.Kind)).Inc()
	c.log.Debug("Captured revision", zap.Stringer("id", v.RecordID()), zap.Stringer("revision", result.Key))
	return result, nil
}

func (c *Controller) denyCumulativeFlip(tx *gorm.DB, v Versionable, tracker *Tracker, current State) error {
	if tracker.IsNew() {
		return nil
	}
	previous := tracker.Previous()
	if previous.Cumulative != 0 || current.Cumulative == 0 {
		return nil
	}

	published, err := c.history.Exists(tx, v.RecordID(), PublishedKey(1))
	if err != nil {
		return err
	}
	if published {
		return apperr.Field("cumulative_state", "Cannot change cumulative state from NOT_CUMULATIVE to ACTIVE")
	}
	return nil
}

func shouldIncreasePublished(tracker *Tracker, current State, changed bool) bool {
	if current.Kind != Published {
		return false
	}
	if current.Published == 0 {
		return true
	}
	if tracker.IsNew() {
		return false
	}

	switch tracker.Previous().Kind {
	case Draft:
		return true
	case Published:
		return changed
	}
	return false
}

func shouldIncreaseDraft(tracker *Tracker, current State, changed bool) bool {
	if current.Kind != Draft || tracker.IsNew() {
		return false
	}
	return tracker.Previous().Kind == Published || changed
}

package versioning_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
)

type record struct {
	ID         uuid.UUID       `versioning:"-"`
	Title      string          `json:"title"`
	PID        string          `json:"pid"`
	Cumulative int             `json:"cumulative_state"`
	Kind       versioning.Kind `versioning:"-"`
	Published  int             `versioning:"-"`
	Draft      int             `versioning:"-"`
	Versioned  bool            `versioning:"-"`
	Issued     *time.Time      `versioning:"-"`
}

func (r *record) RecordID() uuid.UUID     { return r.ID }
func (r *record) VersioningEnabled() bool { return r.Versioned }
func (r *record) SetRevision(p, d int)    { r.Published, r.Draft = p, d }
func (r *record) RevisionState() versioning.State {
	return versioning.State{Kind: r.Kind, Published: r.Published, Draft: r.Draft, Cumulative: r.Cumulative}
}

func (r *record) Publish(now time.Time) error {
	if r.PID == "" {
		return apperr.Field("persistent_identifier", "Dataset has to have persistent identifier when publishing")
	}
	r.Published++
	r.Draft = 0
	if r.Issued == nil {
		r.Issued = &now
	}
	return nil
}

type memoryHistory struct {
	keys   []versioning.Key
	byItem map[uuid.UUID][]versioning.Key
}

func (h *memoryHistory) Exists(_ *gorm.DB, id uuid.UUID, key versioning.Key) (bool, error) {
	for _, k := range h.byItem[id] {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (h *memoryHistory) Capture(_ *gorm.DB, id uuid.UUID, key versioning.Key, _ any, _ []versioning.FieldChange) error {
	h.keys = append(h.keys, key)
	h.byItem[id] = append(h.byItem[id], key)
	return nil
}

func newController(t *testing.T) (*versioning.Controller, *memoryHistory) {
	history := &memoryHistory{byItem: map[uuid.UUID][]versioning.Key{}}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return versioning.NewController(history, zaptest.NewLogger(t)).WithClock(func() time.Time { return now }), history
}

func save(t *testing.T, c *versioning.Controller, r *record, tracker *versioning.Tracker, opts versioning.Options) (versioning.Result, int, error) {
	t.Helper()
	persisted := 0
	result, err := c.Save(nil, r, tracker, opts, func(*gorm.DB) error {
		persisted++
		return nil
	})
	return result, persisted, err
}

func TestCreatePublished(t *testing.T) {
	c, history := newController(t)
	r := &record{ID: uuid.New(), Title: "t", PID: "pid-1", Kind: versioning.Published, Versioned: true}

	result, persisted, err := save(t, c, r, nil, versioning.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, persisted)
	assert.Equal(t, "published-1", result.Key.String())
	assert.Equal(t, 1, r.Published)
	assert.NotNil(t, r.Issued)
	assert.Equal(t, []versioning.Key{versioning.PublishedKey(1)}, history.keys)
}

func TestPublishWithoutPersistentIdentifier(t *testing.T) {
	c, history := newController(t)
	r := &record{ID: uuid.New(), Title: "t", Kind: versioning.Draft, Versioned: true}
	tracker := versioning.Track(r)

	r.Kind = versioning.Published
	_, persisted, err := save(t, c, r, tracker, versioning.Options{})
	require.Error(t, err)
	require.True(t, apperr.Validation.Has(err))

	fields, ok := apperr.Fields(err)
	require.True(t, ok)
	assert.Equal(t, "Dataset has to have persistent identifier when publishing", fields["persistent_identifier"])
	assert.Equal(t, 0, persisted)
	assert.Equal(t, 0, r.Published)
	assert.Empty(t, history.keys)
}

func TestDraftToPublished(t *testing.T) {
	c, _ := newController(t)
	r := &record{ID: uuid.New(), PID: "pid", Kind: versioning.Draft, Draft: 3, Versioned: true}
	tracker := versioning.Track(r)

	r.Kind = versioning.Published
	result, _, err := save(t, c, r, tracker, versioning.Options{})
	require.NoError(t, err)
	assert.Equal(t, versioning.PublishedKey(1), result.Key)
	assert.Equal(t, 1, r.Published)
	assert.Equal(t, 0, r.Draft)
}

func TestRepeatedSavesDoNotIncrement(t *testing.T) {
	c, history := newController(t)
	published := &record{ID: uuid.New(), PID: "pid", Kind: versioning.Published, Published: 2, Versioned: true}
	draft := &record{ID: uuid.New(), Kind: versioning.Draft, Draft: 1, Versioned: true}

	for _, r := range []*record{published, draft} {
		result, persisted, err := save(t, c, r, versioning.Track(r), versioning.Options{})
		require.NoError(t, err)
		assert.False(t, result.Captured)
		assert.Equal(t, 1, persisted)
	}
	assert.Equal(t, 2, published.Published)
	assert.Equal(t, 1, draft.Draft)
	assert.Empty(t, history.keys)
}

func TestPublishedContentChange(t *testing.T) {
	c, _ := newController(t)
	r := &record{ID: uuid.New(), Title: "old", PID: "pid", Kind: versioning.Published, Published: 2, Versioned: true}
	tracker := versioning.Track(r)

	r.Title = "new"
	result, _, err := save(t, c, r, tracker, versioning.Options{})
	require.NoError(t, err)
	assert.Equal(t, "published-3", result.Key.String())
	require.Len(t, result.Changes, 1)
	assert.Equal(t, versioning.FieldChange{Field: "title", Old: `"old"`, New: `"new"`}, result.Changes[0])
}

func TestForcedPublish(t *testing.T) {
	c, _ := newController(t)
	r := &record{ID: uuid.New(), PID: "pid", Kind: versioning.Published, Published: 4, Versioned: true}

	result, _, err := save(t, c, r, versioning.Track(r), versioning.Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "published-5", result.Key.String())
}

func TestDraftRevisions(t *testing.T) {
	c, _ := newController(t)

	editing := &record{ID: uuid.New(), Title: "a", Kind: versioning.Draft, Versioned: true}
	tracker := versioning.Track(editing)
	editing.Title = "b"
	result, _, err := save(t, c, editing, tracker, versioning.Options{})
	require.NoError(t, err)
	assert.Equal(t, "draft-0.1", result.Key.String())

	unpublished := &record{ID: uuid.New(), PID: "pid", Kind: versioning.Published, Published: 1, Versioned: true}
	tracker = versioning.Track(unpublished)
	unpublished.Kind = versioning.Draft
	result, _, err = save(t, c, unpublished, tracker, versioning.Options{})
	require.NoError(t, err)
	assert.Equal(t, "draft-1.1", result.Key.String())
}

func TestNewDraftHasNoRevision(t *testing.T) {
	c, history := newController(t)
	r := &record{ID: uuid.New(), Kind: versioning.Draft, Versioned: true}

	result, persisted, err := save(t, c, r, nil, versioning.Options{})
	require.NoError(t, err)
	assert.False(t, result.Captured)
	assert.Equal(t, 1, persisted)
	assert.Empty(t, history.keys)
}

func TestDenyCumulativeFlip(t *testing.T) {
	c, history := newController(t)
	r := &record{ID: uuid.New(), PID: "pid", Kind: versioning.Published, Published: 1, Versioned: true}
	require.NoError(t, history.Capture(nil, r.ID, versioning.PublishedKey(1), r, nil))

	tracker := versioning.Track(r)
	r.Cumulative = 1
	_, persisted, err := save(t, c, r, tracker, versioning.Options{})
	require.Error(t, err)
	assert.True(t, apperr.Validation.Has(err))
	assert.Equal(t, 0, persisted)

	unpublished := &record{ID: uuid.New(), Kind: versioning.Draft, Versioned: true}
	tracker = versioning.Track(unpublished)
	unpublished.Cumulative = 1
	_, _, err = save(t, c, unpublished, tracker, versioning.Options{})
	require.NoError(t, err)
}

func TestUnversionedSave(t *testing.T) {
	c, history := newController(t)
	r := &record{ID: uuid.New(), Kind: versioning.Published}

	result, persisted, err := save(t, c, r, nil, versioning.Options{})
	require.NoError(t, err)
	assert.False(t, result.Captured)
	assert.Equal(t, 1, persisted)
	assert.Equal(t, 1, r.Published)
	assert.Nil(t, r.Issued)
	assert.Empty(t, history.keys)
}

func TestPersistErrorSkipsCapture(t *testing.T) {
	c, history := newController(t)
	r := &record{ID: uuid.New(), PID: "pid", Kind: versioning.Published, Versioned: true}

	_, err := c.Save(nil, r, nil, versioning.Options{}, func(*gorm.DB) error {
		return errors.New("disk full")
	})
	require.Error(t, err)
	assert.Empty(t, history.keys)
}

package history_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/history"
	"github.com/EarthModule/fairdata-metax-v3/internal/testutil"
	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	store := history.NewStore(db)

	id := uuid.New()
	dataset := &entity.Dataset{Title: map[string]interface{}{"en": "first"}, State: entity.StatePublished}
	dataset.ID = id

	keys := []versioning.Key{
		versioning.PublishedKey(1),
		versioning.DraftKey(1, 1),
		versioning.PublishedKey(2),
		versioning.DraftKey(2, 1),
	}
	for i, key := range keys {
		dataset.PublishedRevision = key.Major
		dataset.Title = map[string]interface{}{"en": key.String()}
		var changes []versioning.FieldChange
		if i > 0 {
			changes = []versioning.FieldChange{{Field: "title", Old: "a", New: "b"}}
		}
		require.NoError(t, store.Capture(db, id, key, dataset, changes))
	}
	require.NoError(t, store.Capture(db, uuid.New(), versioning.PublishedKey(1), dataset, nil))

	exists, err := store.Exists(db, id, versioning.PublishedKey(2))
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = store.Exists(db, id, versioning.PublishedKey(3))
	require.NoError(t, err)
	assert.False(t, exists)

	revision, err := store.GetPublished(ctx, id, 2)
	require.NoError(t, err)
	require.NotNil(t, revision)
	assert.Equal(t, "published-2", revision.ChangeReason)
	require.Len(t, revision.Changes, 1)
	assert.Equal(t, "title", revision.Changes[0].FieldName)

	instance, err := history.Instance(revision)
	require.NoError(t, err)
	assert.Equal(t, id, instance.ID)
	assert.Equal(t, "published-2", instance.Title["en"])

	revision, err = store.GetRevision(ctx, id, "draft-1.1")
	require.NoError(t, err)
	require.NotNil(t, revision)
	assert.Equal(t, 1, revision.Minor)

	revision, err = store.GetRevision(ctx, id, "published-9")
	require.NoError(t, err)
	assert.Nil(t, revision)

	latest, err := store.LatestPublished(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "published-2", latest.ChangeReason)

	reasons := func(filter history.Filter) []string {
		revisions, err := store.AllRevisions(ctx, id, filter)
		require.NoError(t, err)
		var out []string
		for _, r := range revisions {
			out = append(out, r.ChangeReason)
		}
		return out
	}
	assert.Equal(t, []string{"draft-2.1", "published-2", "draft-1.1", "published-1"}, reasons(history.AllKinds))
	assert.Equal(t, []string{"published-2", "published-1"}, reasons(history.PublishedOnly))
	assert.Equal(t, []string{"draft-2.1", "draft-1.1"}, reasons(history.DraftOnly))

	var iterated []string
	require.NoError(t, store.Each(ctx, id, history.AllKinds, 3, func(r *entity.DatasetRevision) error {
		iterated = append(iterated, r.ChangeReason)
		return nil
	}))
	assert.Equal(t, reasons(history.AllKinds), iterated)

	stop := errors.New("stop")
	count := 0
	err = store.Each(ctx, id, history.AllKinds, 2, func(*entity.DatasetRevision) error {
		count++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

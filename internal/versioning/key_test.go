package versioning_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EarthModule/fairdata-metax-v3/internal/versioning"
)

func TestParseKey(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want versioning.Key
	}{
		{"published-1", versioning.PublishedKey(1)},
		{"published-12", versioning.PublishedKey(12)},
		{"draft-0.1", versioning.DraftKey(0, 1)},
		{"draft-3.10", versioning.DraftKey(3, 10)},
	} {
		got, err := versioning.ParseKey(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}

	for _, in := range []string{"", "published", "published-x", "published-1.2", "draft-1", "draft-1.x", "other-1", "published--1"} {
		_, err := versioning.ParseKey(in)
		assert.Error(t, err, in)
	}
}

func TestTrackerChangesUseJSONNames(t *testing.T) {
	r := &record{Title: "a", PID: "p"}
	tracker := versioning.Track(r)

	assert.Empty(t, tracker.Changes(r))
	r.PID = "q"
	r.Published = 5

	changes := tracker.Changes(r)
	require.Len(t, changes, 1)
	assert.Equal(t, "pid", changes[0].Field)
	assert.True(t, tracker.HasChanged(r, "pid"))
	assert.False(t, tracker.HasChanged(r, "title"))
	assert.Empty(t, versioning.NewTracker().Changes(r))
}

type row struct {
	ID      uuid.UUID `json:"id" versioning:"-"`
	OwnerID uuid.UUID `json:"-"`
	Name    string    `json:"name"`
	Labels  map[string]string
}

type nested struct {
	record
	Rows []row `json:"rows"`
	Main *row  `json:"main"`
}

func TestTrackerComparesRelationContent(t *testing.T) {
	n := &nested{
		Rows: []row{{ID: uuid.New(), OwnerID: uuid.New(), Name: "a"}},
		Main: &row{ID: uuid.New(), Name: "m", Labels: map[string]string{}},
	}
	tracker := versioning.Track(n)

	// Rebuilt rows with new identities.
	n.Rows = []row{{ID: uuid.New(), Name: "a"}}
	n.Main = &row{ID: uuid.New(), Name: "m"}
	assert.Empty(t, tracker.Changes(n))

	n.Rows = append(n.Rows, row{Name: "b"})
	changes := tracker.Changes(n)
	require.Len(t, changes, 1)
	assert.Equal(t, "rows", changes[0].Field)
	assert.Equal(t, `[{"Labels":null,"name":"a"}]`, changes[0].Old)
}

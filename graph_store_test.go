package main

import (
	"context"
	"testing"
	"time"

	"github.com/orian/configdesk/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraphStore(t *testing.T, opts ...RepositoryOption) *GraphStore {
	t.Helper()
	opts = append([]RepositoryOption{WithClock(newStepClock().Now)}, opts...)
	return NewGraphStore(newTestConnector(t), opts...)
}

func TestGraphStoreCreateLoadSave(t *testing.T) {
	ctx := context.Background()
	graphs := newTestGraphStore(t)

	assert.ErrorIs(t, graphs.Create(ctx, ""), models.ErrInvalidID)
	require.NoError(t, graphs.Create(ctx, "cfg"))

	doc, g, err := graphs.Load(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, "cfg", doc.GetString(models.FieldID))
	assert.Equal(t, emptyGraphPayload, doc.GetString(models.FieldGraph))
	assert.Empty(t, g.Nodes)

	AddEntity(g, EntityInput{Name: "A"})
	require.NoError(t, graphs.Save(ctx, doc, g))
	_, g, err = graphs.Load(ctx, "cfg")
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)

	_, _, err = graphs.Load(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	ghost := models.Document{models.FieldOID: "ghost", models.FieldID: "missing"}
	assert.ErrorIs(t, graphs.Save(ctx, ghost, g), models.ErrNotFound)
	assert.ErrorIs(t, graphs.Save(ctx, models.Document{}, g), models.ErrInvalidID)
}

func TestGraphStoreEditsTheDocumentItLoaded(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	graphs := newTestGraphStore(t, WithClock(func() time.Time { return fixed }))

	first, err := graphs.InsertOne(ctx, models.Document{models.FieldID: "cfg", models.FieldGraph: emptyGraphPayload})
	require.NoError(t, err)
	second, err := graphs.InsertOne(ctx, models.Document{models.FieldID: "cfg", models.FieldGraph: emptyGraphPayload})
	require.NoError(t, err)

	doc, _, err := graphs.Load(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, second.InsertedIDs[0], doc.GetString(models.FieldOID))

	edited, err := editGraph(ctx, graphs, "cfg", func(g *models.Graph) error {
		AddEntity(g, EntityInput{Name: "A"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, second.InsertedIDs[0], edited.GetString(models.FieldOID))

	untouched, err := graphs.Find(ctx, models.Eq(models.FieldOID, first.InsertedIDs[0]))
	require.NoError(t, err)
	require.Len(t, untouched, 1)
	assert.Equal(t, emptyGraphPayload, untouched[0].GetString(models.FieldGraph))

	rec, err := graphs.Commit(ctx, "cfg", "", "")
	require.NoError(t, err)
	g, err := committedGraph(rec)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
}

func TestGraphStoreReplace(t *testing.T) {
	ctx := context.Background()
	graphs := newTestGraphStore(t)

	require.NoError(t, graphs.Create(ctx, "cfg"))
	_, err := graphs.InsertOne(ctx, models.Document{models.FieldID: "cfg", models.FieldGraph: "{}"})
	require.NoError(t, err)

	_, err = graphs.Replace(ctx, "cfg", `{"nodes":[{"id":"n1","name":"A"}],"zoom":2}`)
	require.NoError(t, err)

	docs, err := graphs.Find(ctx, models.Eq(models.FieldID, "cfg"))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, g, err := graphs.Load(ctx, "cfg")
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, []string{"zoom"}, g.ExtraKeys())

	_, err = graphs.Replace(ctx, "", "{}")
	assert.ErrorIs(t, err, models.ErrInvalidID)
}

func TestGraphStoreVersions(t *testing.T) {
	ctx := context.Background()
	graphs := newTestGraphStore(t)
	require.NoError(t, graphs.Create(ctx, "cfg"))

	commits := []struct {
		tag  string
		name string
	}{
		{"draft", "A"},
		{"", "B"},
		{"Draft", "C"},
	}
	for _, c := range commits {
		_, err := editGraph(ctx, graphs, "cfg", func(g *models.Graph) error {
			AddEntity(g, EntityInput{Name: c.name})
			return nil
		})
		require.NoError(t, err)
		_, err = graphs.Commit(ctx, "cfg", c.tag, "commit "+c.name)
		require.NoError(t, err)
	}

	history, err := graphs.History(ctx, "cfg")
	require.NoError(t, err)
	require.Len(t, history, 3)
	var order []int64
	for _, h := range history {
		n, _ := h.GetInt(models.FieldNVer)
		order = append(order, n)
	}
	assert.Equal(t, []int64{3, 2, 1}, order)

	v2, err := graphs.Version(ctx, "cfg", 2)
	require.NoError(t, err)
	assert.Equal(t, "commit B", v2.GetString(models.FieldComment))
	g, err := models.ParseGraph(v2.GetString(models.FieldGraph))
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)

	_, err = graphs.Version(ctx, "cfg", 9)
	assert.ErrorIs(t, err, models.ErrNotFound)

	tests := []struct {
		ref   string
		wantN []int64
	}{
		{ref: "1", wantN: []int64{1}},
		{ref: "3", wantN: []int64{3}},
		{ref: "draft", wantN: []int64{3, 1}},
		{ref: "DRAFT", wantN: []int64{3, 1}},
		{ref: "ga", wantN: nil},
		{ref: "7", wantN: nil},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			docs, err := graphs.VersionsByRef(ctx, "cfg", tt.ref)
			require.NoError(t, err)
			var got []int64
			for _, d := range docs {
				n, _ := d.GetInt(models.FieldNVer)
				got = append(got, n)
			}
			assert.Equal(t, tt.wantN, got)
		})
	}

	none, err := graphs.History(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGraphStoreSummary(t *testing.T) {
	ctx := context.Background()
	graphs := newTestGraphStore(t)
	require.NoError(t, graphs.Create(ctx, "cfg"))

	s, err := graphs.Summary(ctx, "cfg")
	require.NoError(t, err)
	assert.False(t, s.LastModify.IsZero())
	assert.Nil(t, s.LastCommit)
	assert.Equal(t, "", s.LastTag)

	_, err = graphs.Commit(ctx, "cfg", "ga", "first")
	require.NoError(t, err)
	last, err := graphs.Commit(ctx, "cfg", "", "second")
	require.NoError(t, err)

	s, err = graphs.Summary(ctx, "cfg")
	require.NoError(t, err)
	require.NotNil(t, s.LastCommit)
	assert.Equal(t, last.LastModify, *s.LastCommit)
	assert.Equal(t, "second", s.Comment)
	assert.Equal(t, "GA", s.LastTag)

	// The trail outlives the live graph.
	_, err = graphs.Remove(ctx, "cfg")
	require.NoError(t, err)
	s, err = graphs.Summary(ctx, "cfg")
	require.NoError(t, err)
	assert.True(t, s.LastModify.IsZero())
	assert.NotNil(t, s.LastCommit)
}

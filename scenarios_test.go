package main

import (
	"context"
	"testing"
	"time"

	"github.com/orian/configdesk/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScenarioStore(t *testing.T) *SQLScenarioStore {
	t.Helper()
	store := NewScenarioStore(newTestConnector(t))
	store.now = newStepClock().Now
	return store
}

func TestScenarioCreateGet(t *testing.T) {
	ctx := context.Background()
	store := newTestScenarioStore(t)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	created, err := store.Create(ctx, &models.Scenario{
		Name:      "S2 ground segment",
		OwnerID:   "u1",
		StartDate: &start,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.IncreaseTime)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.ModifiedAt)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Nil(t, got.EndDate)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestScenarioListUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestScenarioStore(t)

	a, err := store.Create(ctx, &models.Scenario{ID: "a", Name: "A"})
	require.NoError(t, err)
	_, err = store.Create(ctx, &models.Scenario{ID: "b", Name: "B", IncreaseTime: 5})
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, 5, list[0].IncreaseTime)

	a.Description = "updated"
	a.Locked = true
	updated, err := store.Update(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)
	assert.True(t, updated.Locked)
	assert.True(t, updated.ModifiedAt.After(a.ModifiedAt))
	assert.Equal(t, a.CreatedAt, updated.CreatedAt)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", list[0].ID)

	_, err = store.Update(ctx, &models.Scenario{ID: "missing", Name: "x"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.ErrorIs(t, store.Delete(ctx, "a"), models.ErrNotFound)

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

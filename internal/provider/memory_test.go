package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernhill/plansync/internal/plan"
)

func TestMemoryCreateAssignsSequentialKeys(t *testing.T) {
	mp := NewMemoryProvider("TST")
	ctx := context.Background()

	first, err := mp.CreateItem(ctx, CreateInput{Title: "one", Type: plan.TypeTask})
	require.NoError(t, err)
	second, err := mp.CreateItem(ctx, CreateInput{Title: "two", Type: plan.TypeTask})
	require.NoError(t, err)

	assert.Equal(t, "TST-1", first.Key)
	assert.Equal(t, "TST-2", second.Key)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, mp.Len())
}

func TestMemorySearchFiltersByLabels(t *testing.T) {
	mp := NewMemoryProvider("TST")
	ctx := context.Background()

	_, err := mp.CreateItem(ctx, CreateInput{Title: "ours", Labels: []string{"plansync", "plansync:task"}})
	require.NoError(t, err)
	_, err = mp.CreateItem(ctx, CreateInput{Title: "theirs", Labels: []string{"support"}})
	require.NoError(t, err)

	items, err := mp.SearchItems(ctx, SearchFilters{Labels: []string{"plansync"}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ours", items[0].Title)
}

func TestMemoryDeleteRejectsParentsWithChildren(t *testing.T) {
	mp := NewMemoryProvider("TST")
	ctx := context.Background()

	parent, err := mp.CreateItem(ctx, CreateInput{Title: "story", Type: plan.TypeStory})
	require.NoError(t, err)
	child, err := mp.CreateItem(ctx, CreateInput{Title: "task", Type: plan.TypeTask, ParentID: parent.ID})
	require.NoError(t, err)

	err = mp.DeleteItem(ctx, parent.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still has children")

	require.NoError(t, mp.DeleteItem(ctx, child.ID))
	require.NoError(t, mp.DeleteItem(ctx, parent.ID))
	assert.Equal(t, 0, mp.Len())
}

func TestMemoryReconcileRelationsEnforcesCapabilities(t *testing.T) {
	mp := NewMemoryProvider("TST")
	ctx := context.Background()

	item, err := mp.CreateItem(ctx, CreateInput{Title: "task", Type: plan.TypeTask})
	require.NoError(t, err)
	blocker, err := mp.CreateItem(ctx, CreateInput{Title: "other", Type: plan.TypeTask})
	require.NoError(t, err)

	mp.SetCapabilities(Capabilities{Hierarchy: false, BlockingLinks: false})

	err = mp.ReconcileRelations(ctx, item.ID, blocker.ID, nil)
	require.Error(t, err)
	var capErr *CapabilityError
	assert.ErrorAs(t, err, &capErr)

	err = mp.ReconcileRelations(ctx, item.ID, "", []string{blocker.ID})
	require.Error(t, err)

	// clearing relations is always allowed
	assert.NoError(t, mp.ReconcileRelations(ctx, item.ID, "", nil))
}

func TestMemoryCreateHookFailureIsPartial(t *testing.T) {
	mp := NewMemoryProvider("TST")
	mp.CreateHook = func(Item) error { return assert.AnError }

	_, err := mp.CreateItem(context.Background(), CreateInput{Title: "task"})
	require.Error(t, err)

	var partial *PartialCreateError
	require.ErrorAs(t, err, &partial)
	assert.False(t, partial.Retryable)
	assert.Equal(t, []string{"create"}, partial.CompletedSteps)
	assert.Equal(t, 1, mp.Len(), "the item exists despite the failed follow-up")
}

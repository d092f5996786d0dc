package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernhill/plansync/internal/errors"
	"github.com/fernhill/plansync/internal/metadata"
	"github.com/fernhill/plansync/internal/plan"
	"github.com/fernhill/plansync/internal/provider"
)

// syncPlan is a two-epic plan with a dependency chain crossing story and
// epic boundaries, so relation reconciliation exercises both rollup levels.
func syncPlan() *plan.Plan {
	return &plan.Plan{
		Name: "rollout",
		Items: []plan.Item{
			{ID: "E1", Type: plan.TypeEpic, Title: "Ingest", SubItemIDs: []string{"S1"}},
			{ID: "E2", Type: plan.TypeEpic, Title: "Serve", SubItemIDs: []string{"S2"}},
			{ID: "S1", Type: plan.TypeStory, Title: "Parse", ParentID: "E1", SubItemIDs: []string{"T1", "T2"}},
			{ID: "S2", Type: plan.TypeStory, Title: "API", ParentID: "E2", SubItemIDs: []string{"T3"}},
			{ID: "T1", Type: plan.TypeTask, Title: "Lexer", ParentID: "S1"},
			{ID: "T2", Type: plan.TypeTask, Title: "Parser", ParentID: "S1", DependsOn: []string{"T1"}},
			{ID: "T3", Type: plan.TypeTask, Title: "Handler", ParentID: "S2", DependsOn: []string{"T2"}},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *provider.MemoryProvider) {
	t.Helper()
	mp := provider.NewMemoryProvider("TST")
	eng, err := New(Options{Provider: mp, MaxConcurrent: 4})
	require.NoError(t, err)
	return eng, mp
}

// remoteByPlanID fetches the provider's items indexed by the plan-item id in
// their metadata block
func remoteByPlanID(t *testing.T, mp *provider.MemoryProvider) map[string]provider.Item {
	t.Helper()
	items, err := mp.SearchItems(context.Background(), provider.SearchFilters{})
	require.NoError(t, err)

	byID := make(map[string]provider.Item, len(items))
	for _, item := range items {
		block := metadata.Parse(item.Body)
		if block.ItemID != "" {
			byID[block.ItemID] = item
		}
	}
	return byID
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{DryRun: true})
	assert.NoError(t, err, "dry run needs no provider")
}

func TestSyncCreatesAndLinks(t *testing.T) {
	eng, mp := newTestEngine(t)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	result, err := eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created[plan.TypeEpic])
	assert.Equal(t, 2, result.Created[plan.TypeStory])
	assert.Equal(t, 3, result.Created[plan.TypeTask])
	assert.Equal(t, 7, mp.Len())
	assert.Len(t, result.Map.Entries, 7)
	assert.Equal(t, planID, result.Map.PlanID)
	assert.Equal(t, "memory", result.Map.Target)

	remote := remoteByPlanID(t, mp)
	require.Len(t, remote, 7)

	// hierarchy
	assert.Equal(t, remote["E1"].ID, remote["S1"].ParentID)
	assert.Equal(t, remote["E2"].ID, remote["S2"].ParentID)
	assert.Equal(t, remote["S1"].ID, remote["T1"].ParentID)
	assert.Equal(t, remote["S1"].ID, remote["T2"].ParentID)
	assert.Equal(t, remote["S2"].ID, remote["T3"].ParentID)

	// declared dependencies
	assert.Equal(t, []string{remote["T1"].ID}, remote["T2"].BlockedBy)
	assert.Equal(t, []string{remote["T2"].ID}, remote["T3"].BlockedBy)

	// rolled-up dependencies: T3 on T2 lifts to S2 on S1, and again to E2 on E1
	assert.Equal(t, []string{remote["S1"].ID}, remote["S2"].BlockedBy)
	assert.Equal(t, []string{remote["E1"].ID}, remote["E2"].BlockedBy)

	// ownership labels
	assert.ElementsMatch(t, []string{"plansync", "plansync:task"}, remote["T1"].Labels)
	assert.ElementsMatch(t, []string{"plansync", "plansync:epic"}, remote["E1"].Labels)
}

func TestSyncIdempotent(t *testing.T) {
	eng, mp := newTestEngine(t)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)
	require.Equal(t, 7, mp.Len())

	// A fresh engine over the same provider must rediscover everything and
	// change nothing
	eng2, err := New(Options{Provider: mp, MaxConcurrent: 4})
	require.NoError(t, err)
	result, err := eng2.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.CreatedTotal())
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 7, mp.Len())
	assert.Len(t, result.Map.Entries, 7, "rediscovered entries populate the map")
}

func TestSyncContentDriftTriggersUpdate(t *testing.T) {
	eng, mp := newTestEngine(t)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	// The item ids are stable within a plan id, so editing a title re-syncs
	// in place rather than recreating
	p.Items[4].Title = "Lexer v2"
	result, err := eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.CreatedTotal())
	assert.GreaterOrEqual(t, result.Updated, 1)
	remote := remoteByPlanID(t, mp)
	assert.Equal(t, "Lexer v2", remote["T1"].Title)
}

func TestSyncRelationDriftRepaired(t *testing.T) {
	eng, mp := newTestEngine(t)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	// Someone removed T3's blocked-by link out of band
	remote := remoteByPlanID(t, mp)
	require.NoError(t, mp.ReconcileRelations(context.Background(), remote["T3"].ID, remote["S2"].ID, nil))

	// A run that creates and updates nothing still reconciles every edge
	result, err := eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CreatedTotal())
	assert.Equal(t, 0, result.Updated)

	remote = remoteByPlanID(t, mp)
	assert.Equal(t, []string{remote["T2"].ID}, remote["T3"].BlockedBy)
}

func TestSyncConcurrencyBound(t *testing.T) {
	const bound = 2

	var mu sync.Mutex
	inFlight, peak := 0, 0
	mp := provider.NewMemoryProvider("TST")
	mp.CreateHook = func(provider.Item) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	p := &plan.Plan{Items: []plan.Item{
		{ID: "E1", Type: plan.TypeEpic, Title: "Epic", SubItemIDs: []string{"S1"}},
		{ID: "S1", Type: plan.TypeStory, Title: "Story", ParentID: "E1",
			SubItemIDs: []string{"T1", "T2", "T3", "T4", "T5"}},
		{ID: "T1", Type: plan.TypeTask, Title: "t1", ParentID: "S1"},
		{ID: "T2", Type: plan.TypeTask, Title: "t2", ParentID: "S1"},
		{ID: "T3", Type: plan.TypeTask, Title: "t3", ParentID: "S1"},
		{ID: "T4", Type: plan.TypeTask, Title: "t4", ParentID: "S1"},
		{ID: "T5", Type: plan.TypeTask, Title: "t5", ParentID: "S1"},
	}}

	eng, err := New(Options{Provider: mp, MaxConcurrent: bound})
	require.NoError(t, err)
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, bound, "creates must respect the concurrency bound")
	assert.Equal(t, 7, mp.Len())
}

func TestSyncPartialCreateResumes(t *testing.T) {
	mp := provider.NewMemoryProvider("TST")
	mp.CreateHook = func(item provider.Item) error {
		if item.Title == "Parser" {
			return fmt.Errorf("label attach failed")
		}
		return nil
	}

	eng, err := New(Options{Provider: mp, MaxConcurrent: 4})
	require.NoError(t, err)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), p, planID)
	require.Error(t, err)

	var psErr *errors.PlansyncError
	require.ErrorAs(t, err, &psErr)
	assert.Equal(t, errors.ErrCodeSyncPartialCreate, psErr.Code)

	var partial *provider.PartialCreateError
	require.ErrorAs(t, err, &partial, "original partial-create detail stays in the chain")
	assert.False(t, partial.Retryable)
	assert.NotEmpty(t, partial.Created.ID, "the item exists remotely despite the failure")

	// Next run adopts the half-created item through discovery instead of
	// creating a duplicate
	mp.CreateHook = nil
	eng2, err := New(Options{Provider: mp, MaxConcurrent: 4})
	require.NoError(t, err)
	result, err := eng2.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	assert.Equal(t, 7, mp.Len())
	assert.Len(t, result.Map.Entries, 7)

	count := 0
	for itemID := range remoteByPlanID(t, mp) {
		if itemID == "T2" {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one remote item for the interrupted id")
}

func TestSyncDryRun(t *testing.T) {
	eng, err := New(Options{DryRun: true})
	require.NoError(t, err)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	result, err := eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 7, result.CreatedTotal())
	assert.Equal(t, "dry-run", result.Map.Target)
	require.Len(t, result.Map.Entries, 7)

	// Keys are assigned in sorted plan-item-id order
	assert.Equal(t, "DRY-1", result.Map.Entries["E1"].Key)
	assert.Equal(t, "DRY-2", result.Map.Entries["E2"].Key)
	assert.Equal(t, "DRY-7", result.Map.Entries["T3"].Key)

	// Identities are a pure function of plan id and item id
	eng2, err := New(Options{DryRun: true})
	require.NoError(t, err)
	result2, err := eng2.Sync(context.Background(), p, planID)
	require.NoError(t, err)
	assert.Equal(t, result.Map.Entries, result2.Map.Entries)
}

func TestSyncDryRunTouchesNoProvider(t *testing.T) {
	mp := provider.NewMemoryProvider("TST")
	mp.CreateHook = func(provider.Item) error {
		t.Error("dry run must not create items")
		return nil
	}

	eng, err := New(Options{Provider: mp, DryRun: true})
	require.NoError(t, err)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), p, planID)
	require.NoError(t, err)
	assert.Equal(t, 0, mp.Len())
}

func TestSyncUnresolvedReference(t *testing.T) {
	p := syncPlan()
	p.Items[6].DependsOn = append(p.Items[6].DependsOn, "T9")
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	t.Run("strict fails", func(t *testing.T) {
		eng, _ := newTestEngine(t)
		_, err := eng.Sync(context.Background(), p, planID)
		require.Error(t, err)
		var psErr *errors.PlansyncError
		require.ErrorAs(t, err, &psErr)
		assert.Equal(t, errors.ErrCodeSyncUnresolvedRef, psErr.Code)
	})

	t.Run("partial skips the edge", func(t *testing.T) {
		mp := provider.NewMemoryProvider("TST")
		eng, err := New(Options{Provider: mp, Mode: plan.Partial})
		require.NoError(t, err)

		result, err := eng.Sync(context.Background(), p, planID)
		require.NoError(t, err)
		assert.Equal(t, 7, result.CreatedTotal())

		remote := remoteByPlanID(t, mp)
		assert.Equal(t, []string{remote["T2"].ID}, remote["T3"].BlockedBy,
			"resolvable blocker kept, unresolvable one skipped")
	})
}

func TestSyncCapabilityLimitedProvider(t *testing.T) {
	mp := provider.NewMemoryProvider("TST")
	mp.SetCapabilities(provider.Capabilities{Hierarchy: false, BlockingLinks: true})

	eng, err := New(Options{Provider: mp, MaxConcurrent: 4})
	require.NoError(t, err)
	p := syncPlan()
	planID, err := plan.Hash(p)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), p, planID)
	require.NoError(t, err, "missing hierarchy support degrades, not fails")

	remote := remoteByPlanID(t, mp)
	assert.Equal(t, []string{remote["T2"].ID}, remote["T3"].BlockedBy,
		"blocking links still reconciled")
	assert.Empty(t, remote["T3"].ParentID, "no parent link attempted")
}

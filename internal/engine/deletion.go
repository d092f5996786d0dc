package engine

import (
	"context"
	"sort"

	"github.com/fernhill/plansync/internal/provider"
	"github.com/fernhill/plansync/internal/telemetry"
)

// DeletionOrder produces a safe leaf-first deletion order for a set of
// remote items: a parent is never ordered before its children. Parent links
// outside the input set are ignored.
//
// The drain is Kahn-style over a "prerequisite = my children" graph. Ties
// are broken deterministically by (type rank with task < story < epic, key,
// id) so repeated runs produce identical orderings. Items left undrained by
// a cycle or dangling link are appended at the end in the same order; the
// planner always returns every input item exactly once.
func DeletionOrder(items []provider.Item) []provider.Item {
	byID := make(map[string]provider.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	// remaining children per item, counting only children inside the set
	childCount := make(map[string]int, len(items))
	for _, item := range items {
		childCount[item.ID] = 0
	}
	for _, item := range items {
		if item.ParentID == "" {
			continue
		}
		if _, ok := byID[item.ParentID]; ok {
			childCount[item.ParentID]++
		}
	}

	less := func(a, b provider.Item) bool {
		if a.Type.Rank() != b.Type.Rank() {
			return a.Type.Rank() < b.Type.Rank()
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.ID < b.ID
	}

	var ready []provider.Item
	for _, item := range items {
		if childCount[item.ID] == 0 {
			ready = append(ready, item)
		}
	}

	order := make([]provider.Item, 0, len(items))
	drained := make(map[string]bool, len(items))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]

		order = append(order, next)
		drained[next.ID] = true

		if next.ParentID == "" {
			continue
		}
		if parent, ok := byID[next.ParentID]; ok {
			childCount[parent.ID]--
			if childCount[parent.ID] == 0 {
				ready = append(ready, parent)
			}
		}
	}

	// Cycles or dangling references: append whatever is left rather than
	// failing, in the same deterministic order
	var leftover []provider.Item
	for _, item := range items {
		if !drained[item.ID] {
			leftover = append(leftover, item)
		}
	}
	sort.Slice(leftover, func(i, j int) bool { return less(leftover[i], leftover[j]) })
	order = append(order, leftover...)

	return order
}

// deleteInPasses deletes the items in relaxed passes: each pass attempts the
// full remaining set in planner order and collects per-item failures, then
// the next pass retries only the failed subset. This tolerates a remote
// "still has children" race. A pass that deletes nothing stops the loop and
// surfaces that pass's first error.
func (e *Engine) deleteInPasses(ctx context.Context, items []provider.Item) (int, error) {
	remaining := items
	deleted := 0

	for len(remaining) > 0 {
		var failed []provider.Item
		var firstErr error

		for _, item := range DeletionOrder(remaining) {
			if err := e.deleteOne(ctx, item); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				failed = append(failed, item)
				continue
			}
			deleted++
		}

		if len(failed) == len(remaining) {
			return deleted, firstErr
		}
		remaining = failed
	}

	return deleted, nil
}

func (e *Engine) deleteOne(ctx context.Context, item provider.Item) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	if err := e.provider.DeleteItem(ctx, item.ID); err != nil {
		return err
	}
	telemetry.RecordItemDeleted(ctx)
	e.logger.InfoContext(ctx, "deleted item", "key", item.Key, "id", item.ID)
	return nil
}

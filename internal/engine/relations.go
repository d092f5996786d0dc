package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fernhill/plansync/internal/errors"
	"github.com/fernhill/plansync/internal/plan"
	"github.com/fernhill/plansync/internal/provider"
	"github.com/fernhill/plansync/internal/telemetry"
)

// itemRelations is the desired relation state of one plan item
type itemRelations struct {
	parentID string   // plan id of the parent, "" for none
	blockers []string // plan ids blocking this item, sorted
}

// setRelations reconciles hierarchy and blocked-by links. Desired edges are
// the declared ones plus the story- and epic-level rollups; when this run
// touched only a subset of items, edges with no touched endpoint are
// dropped, but a run that touched nothing keeps every edge so relation-only
// drift is still corrected. Each item owning at least one kept edge gets a
// single reconcile call carrying its full desired parent and blocker set.
func (e *Engine) setRelations(ctx context.Context, p *plan.Plan) error {
	desired, owners, err := e.computeRelations(p)
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return nil
	}
	if e.dryRun {
		e.logger.InfoContext(ctx, "dry run: relations computed, not applied", "items", len(owners))
		return nil
	}

	caps := e.provider.Capabilities()
	if !caps.Hierarchy {
		e.logger.Warn("provider does not support hierarchy, parent links skipped",
			"provider", e.provider.Name())
	}
	if !caps.BlockingLinks {
		e.logger.Warn("provider does not support blocking links, dependencies skipped",
			"provider", e.provider.Name())
	}
	if !caps.Hierarchy && !caps.BlockingLinks {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, itemID := range owners {
		itemID := itemID
		rel := desired[itemID]
		g.Go(func() error {
			return e.reconcileOne(gctx, itemID, rel, caps)
		})
	}
	return g.Wait()
}

func (e *Engine) reconcileOne(ctx context.Context, itemID string, rel itemRelations, caps provider.Capabilities) error {
	e.mu.Lock()
	entry, ok := e.syncMap.Entries[itemID]
	parentRemote := ""
	if rel.parentID != "" {
		if parentEntry, found := e.syncMap.Entries[rel.parentID]; found {
			parentRemote = parentEntry.ID
		}
	}
	var blockerRemotes []string
	for _, blocker := range rel.blockers {
		if blockerEntry, found := e.syncMap.Entries[blocker]; found {
			blockerRemotes = append(blockerRemotes, blockerEntry.ID)
		}
	}
	e.mu.Unlock()

	if !ok {
		// Item never resolved this run (partial-mode slice), nothing to do
		return nil
	}
	if !caps.Hierarchy {
		parentRemote = ""
	}
	if !caps.BlockingLinks {
		blockerRemotes = nil
	}
	sort.Strings(blockerRemotes)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	err := e.provider.ReconcileRelations(ctx, entry.ID, parentRemote, blockerRemotes)
	e.sem.Release(1)
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderAPI,
			fmt.Sprintf("failed to reconcile relations for %s (%s)", itemID, entry.Key), err)
	}

	telemetry.RecordRelationsReconciled(ctx)
	e.logger.DebugContext(ctx, "reconciled relations",
		"item", itemID, "parent", rel.parentID, "blockers", len(rel.blockers))
	return nil
}

// computeRelations derives the full desired relation state and the list of
// items that should receive a reconcile call, in deterministic order
func (e *Engine) computeRelations(p *plan.Plan) (map[string]itemRelations, []string, error) {
	parentOf := p.ParentOf()

	// Direct declared edges, self-references dropped, unresolved targets
	// handled per the resolution policy
	var direct []plan.Edge
	for _, item := range p.Items {
		for _, depID := range item.DependsOn {
			if depID == item.ID {
				continue
			}
			if err := e.checkResolvable(item.ID, "dependency", depID); err != nil {
				return nil, nil, err
			}
			if _, ok := e.index[depID]; !ok {
				continue
			}
			direct = append(direct, plan.Edge{Blocked: item.ID, Blocker: depID})
		}
	}

	// Level-wise rollups: task edges lift to story pairs, and story edges
	// (declared or lifted) lift again to epic pairs. The second application
	// over lifted edges is the third-order rollup.
	levelEdges := func(edges []plan.Edge, t plan.ItemType) []plan.Edge {
		var out []plan.Edge
		for _, edge := range edges {
			a, okA := e.index[edge.Blocked]
			b, okB := e.index[edge.Blocker]
			if okA && okB && a.Type == t && b.Type == t {
				out = append(out, edge)
			}
		}
		return out
	}
	storyRollup := plan.Rollup(levelEdges(direct, plan.TypeTask), parentOf)
	epicInput := append(levelEdges(direct, plan.TypeStory), storyRollup...)
	epicRollup := plan.Rollup(epicInput, parentOf)

	// Parent edges participate in the touched filter like any other edge
	type flatEdge struct {
		owner string // endpoint that receives the reconcile call
		other string
	}
	var all []flatEdge
	for _, item := range p.Items {
		if item.ParentID == "" {
			continue
		}
		if _, ok := e.index[item.ParentID]; !ok {
			// already warned or rejected during upsert context building
			continue
		}
		all = append(all, flatEdge{owner: item.ID, other: item.ParentID})
	}
	depEdges := append(append(append([]plan.Edge{}, direct...), storyRollup...), epicRollup...)
	for _, edge := range depEdges {
		all = append(all, flatEdge{owner: edge.Blocked, other: edge.Blocker})
	}

	// Desired state per item: declared parent plus every deduped blocker
	desired := make(map[string]itemRelations)
	ensure := func(id string) itemRelations {
		rel, ok := desired[id]
		if !ok {
			rel = itemRelations{}
			if item, found := e.index[id]; found && item.ParentID != "" {
				if _, resolvable := e.index[item.ParentID]; resolvable {
					rel.parentID = item.ParentID
				}
			}
		}
		return rel
	}
	seen := make(map[string]map[string]bool)
	for _, edge := range depEdges {
		rel := ensure(edge.Blocked)
		if seen[edge.Blocked] == nil {
			seen[edge.Blocked] = make(map[string]bool)
		}
		if !seen[edge.Blocked][edge.Blocker] {
			seen[edge.Blocked][edge.Blocker] = true
			rel.blockers = append(rel.blockers, edge.Blocker)
		}
		desired[edge.Blocked] = rel
	}
	for _, item := range p.Items {
		if item.ParentID != "" {
			if _, ok := desired[item.ID]; !ok {
				desired[item.ID] = ensure(item.ID)
			}
		}
	}
	for id, rel := range desired {
		sort.Strings(rel.blockers)
		desired[id] = rel
	}

	// Touched filter: with a partial run, only edges with a touched
	// endpoint trigger a call; a no-op run keeps everything
	e.mu.Lock()
	touched := make(map[string]bool, len(e.touched))
	for id := range e.touched {
		touched[id] = true
	}
	e.mu.Unlock()

	ownerSet := make(map[string]bool)
	for _, edge := range all {
		if len(touched) > 0 && !touched[edge.owner] && !touched[edge.other] {
			continue
		}
		ownerSet[edge.owner] = true
	}

	owners := make([]string, 0, len(ownerSet))
	for id := range ownerSet {
		owners = append(owners, id)
	}
	sort.Strings(owners)
	return desired, owners, nil
}

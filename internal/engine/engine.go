// Package engine drives the reconciliation of a declarative plan against a
// remote issue tracker. A sync run moves through four strictly ordered
// phases: discover existing items, upsert missing ones level by level,
// enrich bodies against a complete cross-reference context, and reconcile
// hierarchy and blocked-by relations. A failure in any phase aborts the
// later phases; completed work is never rolled back.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fernhill/plansync/internal/errors"
	"github.com/fernhill/plansync/internal/log"
	"github.com/fernhill/plansync/internal/metadata"
	"github.com/fernhill/plansync/internal/plan"
	"github.com/fernhill/plansync/internal/provider"
	"github.com/fernhill/plansync/internal/render"
	"github.com/fernhill/plansync/internal/telemetry"
)

// Defaults for engine options
const (
	DefaultLabel         = "plansync"
	DefaultMaxConcurrent = 4
)

// Renderer produces an item body from a plan item and its cross-reference
// context. The engine treats it as a black box beyond diffing its output.
type Renderer func(plan.Item, render.Context) string

// Options configures an Engine
type Options struct {
	// Provider is the remote tracker the plan is reconciled against. It may
	// be nil only in dry-run mode.
	Provider provider.Provider

	// MaxConcurrent bounds in-flight provider-mutating calls across all
	// phases of a run
	MaxConcurrent int

	// Mode controls how references to items missing from the plan are
	// treated: fatal in strict mode, logged and skipped in partial mode
	Mode plan.Mode

	// DryRun simulates the run: zero remote calls, deterministic
	// placeholder identities
	DryRun bool

	// Label is the marker label identifying items owned by this tool
	Label string

	// Renderer overrides body rendering; render.Body when nil
	Renderer Renderer

	Logger *log.Logger
}

// Result is the outcome of a sync run, immutable once returned
type Result struct {
	Map     *Map
	Created map[plan.ItemType]int
	Updated int
	DryRun  bool
}

// CreatedTotal sums the per-type creation counters
func (r *Result) CreatedTotal() int {
	total := 0
	for _, n := range r.Created {
		total += n
	}
	return total
}

// Engine orchestrates the sync pipeline. An Engine is good for any number
// of sequential Sync calls; a single call fans work out internally.
type Engine struct {
	provider provider.Provider
	logger   *log.Logger
	sem      *semaphore.Weighted
	mode     plan.Mode
	dryRun   bool
	label    string
	renderer Renderer

	// per-run state, guarded by mu where written concurrently
	mu        sync.Mutex
	syncMap   *Map
	remote    map[string]provider.Item
	touched   map[string]bool
	created   map[plan.ItemType]int
	updated   int
	index     map[string]*plan.Item
	dryRunSeq map[string]int
}

// New creates an Engine from options
func New(opts Options) (*Engine, error) {
	if opts.Provider == nil && !opts.DryRun {
		return nil, errors.New(errors.ErrCodeProviderNotFound, "sync engine requires a provider")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.Renderer == nil {
		opts.Renderer = render.Body
	}
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger()
	}
	return &Engine{
		provider: opts.Provider,
		logger:   opts.Logger,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		mode:     opts.Mode,
		dryRun:   opts.DryRun,
		label:    opts.Label,
		renderer: opts.Renderer,
	}, nil
}

// Sync reconciles the plan against the tracker and returns the resulting
// sync map and counters. The caller is expected to have validated the plan
// and computed planID with plan.Hash.
func (e *Engine) Sync(ctx context.Context, p *plan.Plan, planID string) (*Result, error) {
	e.reset(p, planID)

	if !e.dryRun {
		if err := e.discover(ctx, planID); err != nil {
			return nil, err
		}
	}

	if err := e.upsert(ctx, p, planID); err != nil {
		return nil, err
	}

	if !e.dryRun {
		if err := e.enrich(ctx, p, planID); err != nil {
			return nil, err
		}
	}

	if err := e.setRelations(ctx, p); err != nil {
		return nil, err
	}

	result := &Result{
		Map:     e.syncMap,
		Created: e.created,
		Updated: e.updated,
		DryRun:  e.dryRun,
	}
	e.logger.InfoContext(ctx, "sync complete",
		"plan_id", planID,
		"created", result.CreatedTotal(),
		"updated", result.Updated,
		"dry_run", e.dryRun)
	return result, nil
}

// reset prepares per-run state
func (e *Engine) reset(p *plan.Plan, planID string) {
	target := "dry-run"
	boardURL := ""
	if e.provider != nil {
		target = e.provider.Name()
		if !e.dryRun {
			boardURL = e.provider.BoardURL()
		}
	}

	e.syncMap = NewMap(planID, target, boardURL)
	e.remote = make(map[string]provider.Item)
	e.touched = make(map[string]bool)
	e.created = make(map[plan.ItemType]int)
	e.updated = 0
	e.index = p.ByID()

	if e.dryRun {
		ids := make([]string, 0, len(p.Items))
		for _, item := range p.Items {
			ids = append(ids, item.ID)
		}
		sort.Strings(ids)
		e.dryRunSeq = make(map[string]int, len(ids))
		for i, id := range ids {
			e.dryRunSeq[id] = i + 1
		}
	}
}

// discover searches the tracker for items this tool created for this exact
// plan id and seeds the existing-item table from their metadata blocks.
// Items whose metadata block is missing, unterminated, or for a different
// plan are ignored; a plan id appearing outside the block does not count.
func (e *Engine) discover(ctx context.Context, planID string) error {
	items, err := e.provider.SearchItems(ctx, provider.SearchFilters{Labels: []string{e.label}})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSyncDiscover, "discovery search failed", err)
	}

	found := 0
	for _, item := range items {
		block := metadata.Parse(item.Body)
		if block.PlanID != planID || block.ItemID == "" {
			continue
		}
		if item.Type == "" && block.Type != "" {
			item.Type = plan.ItemType(block.Type)
		}
		e.remote[block.ItemID] = item
		e.syncMap.Entries[block.ItemID] = Entry{
			ID:       item.ID,
			Key:      item.Key,
			URL:      item.URL,
			ItemType: item.Type,
		}
		found++
	}

	e.logger.DebugContext(ctx, "discovery complete", "candidates", len(items), "matched", found)
	return nil
}

// upsert creates every plan item missing from the tracker. Types are
// processed strictly in epic, story, task order so a child's parent is
// resolved before the child is created; items within one type are created
// concurrently under the shared bound.
func (e *Engine) upsert(ctx context.Context, p *plan.Plan, planID string) error {
	for _, itemType := range plan.TypeOrder {
		items := p.ItemsOfType(itemType)
		if len(items) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, item := range items {
			item := item
			g.Go(func() error {
				return e.upsertOne(gctx, planID, item)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) upsertOne(ctx context.Context, planID string, item plan.Item) error {
	e.mu.Lock()
	_, exists := e.remote[item.ID]
	e.mu.Unlock()
	if exists {
		// Already discovered: the entry was copied during discovery, no
		// remote call is needed
		return nil
	}

	if e.dryRun {
		entry := e.placeholder(planID, item)
		e.mu.Lock()
		e.syncMap.Entries[item.ID] = entry
		e.created[item.Type]++
		e.touched[item.ID] = true
		e.mu.Unlock()
		return nil
	}

	rctx, parentRemoteID, err := e.renderContext(planID, item)
	if err != nil {
		return err
	}
	body := e.renderer(item, rctx)

	input := provider.CreateInput{
		Title:    item.Title,
		Body:     body,
		Type:     item.Type,
		Labels:   e.labelsFor(item.Type),
		Estimate: item.Estimate,
		ParentID: parentRemoteID,
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	createdItem, err := e.provider.CreateItem(ctx, input)
	e.sem.Release(1)
	if err != nil {
		var partial *provider.PartialCreateError
		if stderrors.As(err, &partial) {
			// Re-wrap with the created identity front and center: the item
			// exists remotely and the next run's discovery will adopt it
			return errors.Wrap(errors.ErrCodeSyncPartialCreate,
				fmt.Sprintf("item %s was created as %s but left incomplete, re-run to resume",
					item.ID, partial.Created.Key), err)
		}
		return errors.Wrap(errors.ErrCodeProviderAPI,
			fmt.Sprintf("failed to create item %s", item.ID), err)
	}

	e.mu.Lock()
	e.syncMap.Entries[item.ID] = Entry{
		ID:       createdItem.ID,
		Key:      createdItem.Key,
		URL:      createdItem.URL,
		ItemType: item.Type,
	}
	e.remote[item.ID] = createdItem
	e.created[item.Type]++
	e.touched[item.ID] = true
	e.mu.Unlock()

	telemetry.RecordItemCreated(ctx, string(item.Type))
	e.logger.InfoContext(ctx, "created item", "item", item.ID, "key", createdItem.Key)
	return nil
}

// enrich re-renders every item body against the now-complete reference
// context and updates items that actually differ. A type change alone
// forces an update even when nothing else changed, to guard against a plan
// id being reused for a different declared type.
func (e *Engine) enrich(ctx context.Context, p *plan.Plan, planID string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range p.Items {
		item := item
		g.Go(func() error {
			return e.enrichOne(gctx, planID, item)
		})
	}
	return g.Wait()
}

func (e *Engine) enrichOne(ctx context.Context, planID string, item plan.Item) error {
	e.mu.Lock()
	entry, haveEntry := e.syncMap.Entries[item.ID]
	current, haveRemote := e.remote[item.ID]
	e.mu.Unlock()
	if !haveEntry || !haveRemote {
		// Not synced this run (unresolved slice in partial mode)
		return nil
	}

	rctx, _, err := e.renderContext(planID, item)
	if err != nil {
		return err
	}

	want := provider.UpdateInput{
		Title:    item.Title,
		Body:     e.renderer(item, rctx),
		Type:     item.Type,
		Labels:   e.labelsFor(item.Type),
		Estimate: item.Estimate,
	}
	if !differs(current, want) {
		return nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	updated, err := e.provider.UpdateItem(ctx, entry.ID, want)
	e.sem.Release(1)
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderAPI,
			fmt.Sprintf("failed to update item %s (%s)", item.ID, entry.Key), err)
	}

	e.mu.Lock()
	e.remote[item.ID] = updated
	e.updated++
	e.touched[item.ID] = true
	e.mu.Unlock()

	telemetry.RecordItemUpdated(ctx, string(item.Type))
	e.logger.InfoContext(ctx, "updated item", "item", item.ID, "key", entry.Key)
	return nil
}

// differs reports whether the remote item deviates from the desired state
func differs(current provider.Item, want provider.UpdateInput) bool {
	if current.Type != "" && current.Type != want.Type {
		return true
	}
	if current.Title != want.Title || current.Body != want.Body {
		return true
	}
	if want.Estimate != "" && current.Estimate != want.Estimate {
		return true
	}
	return !sameStringSet(current.Labels, want.Labels)
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}

// renderContext snapshots the sync map as of this moment and builds the
// cross-reference context for rendering one item. References to ids absent
// from the plan are fatal in strict mode and skipped with a warning in
// partial mode. The remote id of the item's parent is returned alongside.
func (e *Engine) renderContext(planID string, item plan.Item) (render.Context, string, error) {
	e.mu.Lock()
	entries := make(map[string]Entry, len(e.syncMap.Entries))
	for id, entry := range e.syncMap.Entries {
		entries[id] = entry
	}
	e.mu.Unlock()

	rctx := render.Context{
		PlanID:         planID,
		DependencyKeys: make(map[string]string),
		ChildKeys:      make(map[string]string),
	}

	parentRemoteID := ""
	if item.ParentID != "" {
		if err := e.checkResolvable(item.ID, "parent", item.ParentID); err != nil {
			return render.Context{}, "", err
		}
		if entry, ok := entries[item.ParentID]; ok {
			rctx.ParentKey = entry.Key
			parentRemoteID = entry.ID
		}
	}
	for _, depID := range item.DependsOn {
		if err := e.checkResolvable(item.ID, "dependency", depID); err != nil {
			return render.Context{}, "", err
		}
		if entry, ok := entries[depID]; ok {
			rctx.DependencyKeys[depID] = entry.Key
		}
	}
	for _, subID := range item.SubItemIDs {
		if err := e.checkResolvable(item.ID, "sub-item", subID); err != nil {
			return render.Context{}, "", err
		}
		if entry, ok := entries[subID]; ok {
			rctx.ChildKeys[subID] = entry.Key
		}
	}

	return rctx, parentRemoteID, nil
}

// checkResolvable applies the reference resolution policy for an id that
// must exist in the plan
func (e *Engine) checkResolvable(from, kind, target string) error {
	if _, ok := e.index[target]; ok {
		return nil
	}
	if e.mode == plan.Strict {
		return errors.New(errors.ErrCodeSyncUnresolvedRef,
			fmt.Sprintf("item %s references unknown %s %q", from, kind, target))
	}
	e.logger.Warn("skipping unresolved reference", "item", from, "kind", kind, "target", target)
	return nil
}

// labelsFor returns the labels stamped onto every item of a type
func (e *Engine) labelsFor(t plan.ItemType) []string {
	return []string{e.label, fmt.Sprintf("%s:%s", e.label, t)}
}

// placeholder builds the deterministic identity a dry run assigns instead
// of creating anything remotely
func (e *Engine) placeholder(planID string, item plan.Item) Entry {
	seq := e.dryRunSeq[item.ID]
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("plansync:%s:%s", planID, item.ID)))
	key := fmt.Sprintf("DRY-%d", seq)
	return Entry{
		ID:       id.String(),
		Key:      key,
		URL:      fmt.Sprintf("dry-run://%s", key),
		ItemType: item.Type,
	}
}

// Purge finds every tracker item belonging to the given plan id and deletes
// it, children before parents. It returns the number of items deleted.
func (e *Engine) Purge(ctx context.Context, planID string) (int, error) {
	if e.dryRun {
		return 0, errors.New(errors.ErrCodeSyncDeletion, "purge is not available in dry-run mode")
	}

	items, err := e.provider.SearchItems(ctx, provider.SearchFilters{Labels: []string{e.label}})
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeSyncDiscover, "discovery search failed", err)
	}

	var doomed []provider.Item
	for _, item := range items {
		block := metadata.Parse(item.Body)
		if block.PlanID != planID || block.ItemID == "" {
			continue
		}
		doomed = append(doomed, item)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	deleted, err := e.deleteInPasses(ctx, doomed)
	if err != nil {
		return deleted, errors.Wrap(errors.ErrCodeSyncDeletion,
			fmt.Sprintf("deleted %d of %d items", deleted, len(doomed)), err)
	}
	return deleted, nil
}

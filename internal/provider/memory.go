package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryProvider is an in-memory Provider used by tests and local runs. It
// mimics tracker behavior closely enough to exercise the engine: keys are
// assigned sequentially, deletion of an item with children is rejected, and
// relation reconciliation applies deltas.
type MemoryProvider struct {
	mu        sync.Mutex
	items     map[string]Item
	nextSeq   int
	keyPrefix string
	caps      Capabilities

	// CreateHook, when set, runs after an item is stored but before
	// CreateItem returns. Tests use it to inject partial-create failures.
	CreateHook func(item Item) error
}

// NewMemoryProvider creates an empty in-memory provider with full
// capabilities
func NewMemoryProvider(keyPrefix string) *MemoryProvider {
	if keyPrefix == "" {
		keyPrefix = "MEM"
	}
	return &MemoryProvider{
		items:     make(map[string]Item),
		keyPrefix: keyPrefix,
		caps:      Capabilities{Hierarchy: true, BlockingLinks: true},
	}
}

// SetCapabilities overrides the advertised capabilities, for tests that
// exercise capability-limited trackers
func (m *MemoryProvider) SetCapabilities(caps Capabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps = caps
}

// Name implements Provider
func (m *MemoryProvider) Name() string { return "memory" }

// Capabilities implements Provider
func (m *MemoryProvider) Capabilities() Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// BoardURL implements Provider
func (m *MemoryProvider) BoardURL() string {
	return fmt.Sprintf("memory://%s", strings.ToLower(m.keyPrefix))
}

// SearchItems implements Provider. Items match when they carry every
// requested label.
func (m *MemoryProvider) SearchItems(_ context.Context, filters SearchFilters) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []Item
	for _, item := range m.items {
		if hasAllLabels(item.Labels, filters.Labels) {
			matches = append(matches, item)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Key < matches[j].Key })
	return matches, nil
}

// CreateItem implements Provider
func (m *MemoryProvider) CreateItem(_ context.Context, input CreateInput) (Item, error) {
	m.mu.Lock()
	m.nextSeq++
	item := Item{
		ID:       fmt.Sprintf("mem-%04d", m.nextSeq),
		Key:      fmt.Sprintf("%s-%d", m.keyPrefix, m.nextSeq),
		Title:    input.Title,
		Body:     input.Body,
		Type:     input.Type,
		Labels:   append([]string(nil), input.Labels...),
		Estimate: input.Estimate,
		ParentID: input.ParentID,
	}
	item.URL = fmt.Sprintf("memory://%s/%s", strings.ToLower(m.keyPrefix), item.Key)
	m.items[item.ID] = item
	hook := m.CreateHook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(item); err != nil {
			return Item{}, &PartialCreateError{
				Created:        item,
				CompletedSteps: []string{"create"},
				Cause:          err,
			}
		}
	}
	return item, nil
}

// UpdateItem implements Provider
func (m *MemoryProvider) UpdateItem(_ context.Context, id string, input UpdateInput) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item not found: %s", id)
	}
	item.Title = input.Title
	item.Body = input.Body
	item.Type = input.Type
	item.Labels = append([]string(nil), input.Labels...)
	item.Estimate = input.Estimate
	m.items[id] = item
	return item, nil
}

// GetItem implements Provider
func (m *MemoryProvider) GetItem(_ context.Context, id string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item not found: %s", id)
	}
	return item, nil
}

// DeleteItem implements Provider. Deletion is rejected while other items
// still name this one as their parent, matching real tracker behavior.
func (m *MemoryProvider) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("item not found: %s", id)
	}
	for _, other := range m.items {
		if other.ParentID == id {
			return fmt.Errorf("item %s still has children", id)
		}
	}
	delete(m.items, id)
	return nil
}

// ReconcileRelations implements Provider
func (m *MemoryProvider) ReconcileRelations(_ context.Context, id string, parentID string, blockerIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if parentID != "" && !m.caps.Hierarchy {
		return &CapabilityError{Provider: m.Name(), Capability: "hierarchy"}
	}
	if len(blockerIDs) > 0 && !m.caps.BlockingLinks {
		return &CapabilityError{Provider: m.Name(), Capability: "blocking links"}
	}

	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item not found: %s", id)
	}

	item.ParentID = parentID
	item.BlockedBy = append([]string(nil), blockerIDs...)
	sort.Strings(item.BlockedBy)
	m.items[id] = item
	return nil
}

// Len returns the number of stored items
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func hasAllLabels(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

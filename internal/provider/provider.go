// Package provider defines the capability contract the sync engine drives a
// remote issue tracker through, plus the built-in implementations.
package provider

import (
	"context"
)

// Provider is the abstract remote-tracker surface consumed by the sync
// engine. Implementations must be safe for concurrent use: the engine issues
// bounded batches of calls in parallel.
type Provider interface {
	// Name identifies the provider (e.g. "linear", "memory")
	Name() string

	// Capabilities reports what the backing system supports
	Capabilities() Capabilities

	// BoardURL returns the browser link to the board or project the
	// provider writes into, for inclusion in the persisted sync map
	BoardURL() string

	// SearchItems returns the items matching the filters
	SearchItems(ctx context.Context, filters SearchFilters) ([]Item, error)

	// CreateItem creates a new item. It may fail with a PartialCreateError
	// carrying the already-created identity when the item was created but a
	// follow-up step failed.
	CreateItem(ctx context.Context, input CreateInput) (Item, error)

	// UpdateItem overwrites the mutable fields of an existing item
	UpdateItem(ctx context.Context, id string, input UpdateInput) (Item, error)

	// GetItem fetches a single item by its remote id
	GetItem(ctx context.Context, id string) (Item, error)

	// DeleteItem removes an item. Providers may reject deletion of items
	// that still have children.
	DeleteItem(ctx context.Context, id string) error

	// ReconcileRelations diffs the item's current parent and blocked-by
	// links against the desired state and applies only the delta
	ReconcileRelations(ctx context.Context, id string, parentID string, blockerIDs []string) error
}

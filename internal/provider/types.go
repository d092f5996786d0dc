package provider

import (
	"github.com/fernhill/plansync/internal/plan"
)

// Item is the remote tracker entity corresponding to a plan item. It is a
// plain data struct: relation changes go through the owning Provider rather
// than through methods holding a hidden provider back-reference.
type Item struct {
	// ID is the provider's opaque identifier
	ID string

	// Key is the human-readable issue key (e.g. "ENG-412")
	Key string

	// URL is the browser link to the item
	URL string

	Title    string
	Body     string
	Type     plan.ItemType
	Labels   []string
	Estimate string

	// ParentID is the remote id of the item's parent, if any
	ParentID string

	// BlockedBy lists remote ids of items blocking this one
	BlockedBy []string
}

// SearchFilters narrows a SearchItems call
type SearchFilters struct {
	// Labels restricts results to items carrying all of these labels
	Labels []string

	// Query is an optional free-text filter
	Query string
}

// CreateInput is the payload for CreateItem
type CreateInput struct {
	Title    string
	Body     string
	Type     plan.ItemType
	Labels   []string
	Estimate string

	// ParentID optionally attaches the new item under an existing one
	ParentID string
}

// UpdateInput is the payload for UpdateItem. Zero-valued fields still
// overwrite: the engine only issues updates after diffing, so every field is
// intentional.
type UpdateInput struct {
	Title    string
	Body     string
	Type     plan.ItemType
	Labels   []string
	Estimate string
}

// Capabilities describes what the backing tracker supports. Relation calls
// against an unsupported capability fail with a CapabilityError.
type Capabilities struct {
	// Hierarchy indicates the tracker supports parent/child links
	Hierarchy bool

	// BlockingLinks indicates the tracker supports blocked-by relations
	BlockingLinks bool
}

package plan

// ItemType identifies the hierarchy level of a plan item
type ItemType string

const (
	// TypeEpic is the top hierarchy level; epics have no parent
	TypeEpic ItemType = "epic"
	// TypeStory is the middle hierarchy level; a story's parent is an epic
	TypeStory ItemType = "story"
	// TypeTask is the leaf hierarchy level; a task's parent is a story
	TypeTask ItemType = "task"
)

// TypeOrder lists item types from top to leaf. Upsert processes types in
// this order so a child's parent always exists before the child is created.
var TypeOrder = []ItemType{TypeEpic, TypeStory, TypeTask}

// Valid reports whether the item type is one of epic, story, task
func (t ItemType) Valid() bool {
	switch t {
	case TypeEpic, TypeStory, TypeTask:
		return true
	default:
		return false
	}
}

// Rank returns the deletion-order rank: leaves first (task < story < epic)
func (t ItemType) Rank() int {
	switch t {
	case TypeTask:
		return 0
	case TypeStory:
		return 1
	case TypeEpic:
		return 2
	default:
		return 3
	}
}

// ParentType returns the required type of this type's parent and whether a
// parent is required at all
func (t ItemType) ParentType() (ItemType, bool) {
	switch t {
	case TypeStory:
		return TypeEpic, true
	case TypeTask:
		return TypeStory, true
	default:
		return "", false
	}
}

// Item is a single node in the plan hierarchy
type Item struct {
	ID    string   `yaml:"id" json:"id"`
	Type  ItemType `yaml:"type" json:"type"`
	Title string   `yaml:"title" json:"title"`
	Goal  string   `yaml:"goal,omitempty" json:"goal,omitempty"`

	ParentID   string   `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	SubItemIDs []string `yaml:"sub_item_ids,omitempty" json:"sub_item_ids,omitempty"`
	DependsOn  []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Descriptive fields rendered into the item body, opaque to the engine
	Scope        string `yaml:"scope,omitempty" json:"scope,omitempty"`
	Estimate     string `yaml:"estimate,omitempty" json:"estimate,omitempty"`
	Verification string `yaml:"verification,omitempty" json:"verification,omitempty"`
	SpecRef      string `yaml:"spec_ref,omitempty" json:"spec_ref,omitempty"`
}

// Plan is an ordered collection of items. Order is carried for display only;
// hashing and validation are order-independent.
type Plan struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Items []Item `yaml:"items" json:"items"`
}

// ByID builds an id → item lookup. Duplicate ids keep the first occurrence;
// the validator reports duplicates separately.
func (p *Plan) ByID() map[string]*Item {
	index := make(map[string]*Item, len(p.Items))
	for i := range p.Items {
		item := &p.Items[i]
		if _, ok := index[item.ID]; !ok {
			index[item.ID] = item
		}
	}
	return index
}

// ItemsOfType returns all items of the given type in plan order
func (p *Plan) ItemsOfType(t ItemType) []Item {
	var items []Item
	for _, item := range p.Items {
		if item.Type == t {
			items = append(items, item)
		}
	}
	return items
}

// ParentOf builds an item-id → parent-id lookup from declared parent edges
func (p *Plan) ParentOf() map[string]string {
	parents := make(map[string]string, len(p.Items))
	for _, item := range p.Items {
		if item.ParentID != "" {
			parents[item.ID] = item.ParentID
		}
	}
	return parents
}

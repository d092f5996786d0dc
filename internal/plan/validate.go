package plan

import (
	"fmt"
	"strings"

	"github.com/fernhill/plansync/internal/errors"
)

// Mode selects how unresolved references are treated during validation
type Mode int

const (
	// Strict fails validation on any parent_id or depends_on entry that does
	// not resolve to an item in the plan
	Strict Mode = iota
	// Partial lets unresolved references pass with a warning, for plans that
	// are synced in slices. Shape, type, and duplicate-id constraints are
	// enforced unconditionally in both modes.
	Partial
)

// String returns the string representation of the mode
func (m Mode) String() string {
	if m == Partial {
		return "partial"
	}
	return "strict"
}

// Validate checks the plan's referential and shape integrity. It returns the
// warnings produced in partial mode (unresolved references that were
// skipped); in strict mode any such reference is an error instead.
func Validate(p *Plan, mode Mode) ([]string, error) {
	if len(p.Items) == 0 {
		return nil, errors.NewPlanInvalidError("plan must have at least one item")
	}

	// First pass: shape and duplicate ids
	seen := make(map[string]bool, len(p.Items))
	for i, item := range p.Items {
		if err := validateShape(item); err != nil {
			return nil, errors.Wrap(errors.ErrCodePlanInvalid,
				fmt.Sprintf("item at index %d (%s) is invalid", i, item.ID), err)
		}
		if seen[item.ID] {
			return nil, errors.New(errors.ErrCodePlanDuplicateID,
				fmt.Sprintf("duplicate item id %q at index %d", item.ID, i))
		}
		seen[item.ID] = true
	}

	// Second pass: reference resolution and hierarchy constraints
	index := p.ByID()
	var warnings []string
	unresolved := func(kind, from, to string) error {
		if mode == Strict {
			return errors.New(errors.ErrCodePlanUnresolved,
				fmt.Sprintf("item %s references unknown %s %q", from, kind, to))
		}
		warnings = append(warnings,
			fmt.Sprintf("item %s references unknown %s %q, skipping", from, kind, to))
		return nil
	}

	for _, item := range p.Items {
		if item.ParentID != "" {
			parent, ok := index[item.ParentID]
			if !ok {
				if err := unresolved("parent", item.ID, item.ParentID); err != nil {
					return nil, err
				}
			} else {
				wantType, _ := item.Type.ParentType()
				if parent.Type != wantType {
					return nil, errors.New(errors.ErrCodePlanBadParent,
						fmt.Sprintf("item %s (%s) has parent %s of type %s, want %s",
							item.ID, item.Type, parent.ID, parent.Type, wantType))
				}
				if !contains(parent.SubItemIDs, item.ID) {
					return nil, errors.New(errors.ErrCodePlanInvalid,
						fmt.Sprintf("item %s names parent %s, but %s does not list it as a sub-item",
							item.ID, parent.ID, parent.ID))
				}
			}
		}

		for _, subID := range item.SubItemIDs {
			sub, ok := index[subID]
			if !ok {
				if err := unresolved("sub-item", item.ID, subID); err != nil {
					return nil, err
				}
				continue
			}
			if sub.ParentID != item.ID {
				return nil, errors.New(errors.ErrCodePlanInvalid,
					fmt.Sprintf("item %s lists sub-item %s, but %s names parent %q",
						item.ID, subID, subID, sub.ParentID))
			}
		}

		for _, depID := range item.DependsOn {
			if _, ok := index[depID]; !ok {
				if err := unresolved("dependency", item.ID, depID); err != nil {
					return nil, err
				}
			}
		}
	}

	return warnings, nil
}

// validateShape checks the constraints local to a single item
func validateShape(item Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("item id cannot be empty")
	}
	if !item.Type.Valid() {
		return fmt.Errorf("invalid item type %q, want one of epic, story, task", item.Type)
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}

	wantParent, required := item.Type.ParentType()
	if !required && item.ParentID != "" {
		return fmt.Errorf("%s cannot have a parent, got parent_id %q", item.Type, item.ParentID)
	}
	if required && item.ParentID == "" {
		return fmt.Errorf("%s must name a parent %s", item.Type, wantParent)
	}
	if item.ParentID == item.ID {
		return fmt.Errorf("item cannot be its own parent")
	}

	return nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// Package render turns a plan item and its cross-reference context into a
// markdown item body. Rendering is a pure function of its inputs; the engine
// only ever diffs the output.
package render

import (
	"fmt"
	"strings"

	"github.com/fernhill/plansync/internal/metadata"
	"github.com/fernhill/plansync/internal/plan"
)

// Context carries the cross-item references available at render time. Keys
// map plan-item ids to remote issue keys; an id missing from a map renders
// as the bare plan id.
type Context struct {
	PlanID         string
	ParentKey      string
	DependencyKeys map[string]string
	ChildKeys      map[string]string
}

// Body renders the markdown body for a plan item
func Body(item plan.Item, ctx Context) string {
	var b strings.Builder

	block := metadata.Block{
		PlanID:   ctx.PlanID,
		ItemID:   item.ID,
		Type:     string(item.Type),
		ParentID: item.ParentID,
	}
	b.WriteString(block.Render())
	b.WriteString("\n\n")

	if item.Goal != "" {
		b.WriteString("## Goal\n\n")
		b.WriteString(item.Goal)
		b.WriteString("\n\n")
	}
	if item.Scope != "" {
		b.WriteString("## Scope\n\n")
		b.WriteString(item.Scope)
		b.WriteString("\n\n")
	}
	if item.Verification != "" {
		b.WriteString("## Verification\n\n")
		b.WriteString(item.Verification)
		b.WriteString("\n\n")
	}

	var facts []string
	if item.ParentID != "" {
		facts = append(facts, fmt.Sprintf("**Parent:** %s", reference(item.ParentID, ctx.ParentKey)))
	}
	if len(item.DependsOn) > 0 {
		refs := make([]string, 0, len(item.DependsOn))
		for _, depID := range item.DependsOn {
			refs = append(refs, reference(depID, ctx.DependencyKeys[depID]))
		}
		facts = append(facts, fmt.Sprintf("**Depends on:** %s", strings.Join(refs, ", ")))
	}
	if len(item.SubItemIDs) > 0 {
		refs := make([]string, 0, len(item.SubItemIDs))
		for _, subID := range item.SubItemIDs {
			refs = append(refs, reference(subID, ctx.ChildKeys[subID]))
		}
		facts = append(facts, fmt.Sprintf("**Sub-items:** %s", strings.Join(refs, ", ")))
	}
	if item.Estimate != "" {
		facts = append(facts, fmt.Sprintf("**Estimate:** %s", item.Estimate))
	}
	if item.SpecRef != "" {
		facts = append(facts, fmt.Sprintf("**Spec:** %s", item.SpecRef))
	}
	if len(facts) > 0 {
		b.WriteString(strings.Join(facts, "\n"))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// reference formats a cross-item reference, preferring the resolved remote
// key over the bare plan id
func reference(itemID, key string) string {
	if key != "" {
		return fmt.Sprintf("%s (`%s`)", key, itemID)
	}
	return fmt.Sprintf("`%s`", itemID)
}

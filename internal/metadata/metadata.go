// Package metadata renders and parses the machine-readable block embedded in
// every remote item body. The block carries the plan id and plan-item id that
// let a later run recognize items it already created.
package metadata

import (
	"fmt"
	"strings"
)

// Markers delimiting the metadata block inside an item body. Key-value lines
// outside the markers are never parsed.
const (
	BeginMarker = "<!-- plansync:begin -->"
	EndMarker   = "<!-- plansync:end -->"
)

// Keys used inside the metadata block
const (
	keyPlanID   = "PLAN_ID"
	keyItemID   = "ITEM_ID"
	keyType     = "TYPE"
	keyParentID = "PARENT_ID"
)

// Block is the parsed metadata header of a remote item
type Block struct {
	PlanID   string
	ItemID   string
	Type     string
	ParentID string
}

// Empty reports whether the block carries no identity at all
func (b Block) Empty() bool {
	return b.PlanID == "" && b.ItemID == ""
}

// Render produces the delimited block for embedding at the top of a body
func (b Block) Render() string {
	var sb strings.Builder
	sb.WriteString(BeginMarker)
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s: %s\n", keyPlanID, b.PlanID))
	sb.WriteString(fmt.Sprintf("%s: %s\n", keyItemID, b.ItemID))
	if b.Type != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", keyType, b.Type))
	}
	if b.ParentID != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", keyParentID, b.ParentID))
	}
	sb.WriteString(EndMarker)
	return sb.String()
}

// Parse extracts the metadata block from an item body. A body without a
// begin marker, or with a block missing its end marker, parses to the zero
// Block. Only key-value lines between the markers count; a plan id appearing
// elsewhere in the body is ignored.
func Parse(body string) Block {
	lines := strings.Split(body, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == BeginMarker {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return Block{}
	}

	end := -1
	for i := start; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == EndMarker {
			end = i
			break
		}
	}
	if end < 0 {
		// Unterminated block: treat as absent rather than guessing
		return Block{}
	}

	var b Block
	for _, line := range lines[start:end] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case keyPlanID:
			b.PlanID = value
		case keyItemID:
			b.ItemID = value
		case keyType:
			b.Type = value
		case keyParentID:
			b.ParentID = value
		}
	}
	return b
}

package plan

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// PlanIDLength is the number of hex characters in a plan id
const PlanIDLength = 12

// Canonicalize returns a canonical JSON representation of a plan with stable
// ordering for consistent hashing. Items are sorted by id, optional fields
// are omitted when empty, and set-valued fields are sorted, so two plans
// that differ only in ordering or in empty-vs-absent containers canonicalize
// to identical bytes.
func Canonicalize(p *Plan) ([]byte, error) {
	items := make([]map[string]interface{}, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, canonicalItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i]["id"].(string) < items[j]["id"].(string)
	})

	data := map[string]interface{}{
		"items": items,
	}
	if p.Name != "" {
		data["name"] = p.Name
	}

	// Marshal with sorted keys
	return json.Marshal(sortKeys(data))
}

// Hash computes the plan id: a blake3 digest of the canonical form,
// truncated to PlanIDLength hex characters
func Hash(p *Plan) (string, error) {
	canonical, err := Canonicalize(p)
	if err != nil {
		return "", fmt.Errorf("canonicalize plan: %w", err)
	}

	hasher := blake3.New()
	if _, err := hasher.Write(canonical); err != nil {
		return "", fmt.Errorf("hash plan: %w", err)
	}

	return fmt.Sprintf("%x", hasher.Sum(nil))[:PlanIDLength], nil
}

func canonicalItem(item Item) map[string]interface{} {
	data := map[string]interface{}{
		"id":    item.ID,
		"type":  string(item.Type),
		"title": item.Title,
	}

	setOptional := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}
	setOptional("goal", item.Goal)
	setOptional("parent_id", item.ParentID)
	setOptional("scope", item.Scope)
	setOptional("estimate", item.Estimate)
	setOptional("verification", item.Verification)
	setOptional("spec_ref", item.SpecRef)

	// Sub-items and dependencies are sets: sort, and treat empty as absent
	if len(item.SubItemIDs) > 0 {
		data["sub_item_ids"] = sortedCopy(item.SubItemIDs)
	}
	if len(item.DependsOn) > 0 {
		data["depends_on"] = sortedCopy(item.DependsOn)
	}

	return data
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

// sortKeys recursively sorts map keys for stable JSON output
func sortKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sorted := make(map[string]interface{}, len(val))
		for _, k := range keys {
			sorted[k] = sortKeys(val[k])
		}
		return sorted

	case []interface{}:
		for i, item := range val {
			val[i] = sortKeys(item)
		}
		return val

	case []map[string]interface{}:
		for i, item := range val {
			val[i] = sortKeys(item).(map[string]interface{})
		}
		return val

	default:
		return v
	}
}

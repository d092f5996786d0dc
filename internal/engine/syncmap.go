package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fernhill/plansync/internal/errors"
	"github.com/fernhill/plansync/internal/plan"
)

// Entry maps one plan item to its remote identity
type Entry struct {
	ID       string        `json:"id"`
	Key      string        `json:"key"`
	URL      string        `json:"url"`
	ItemType plan.ItemType `json:"item_type"`
}

// Map is the persisted mapping from plan-item ids to remote identities. A
// fresh Map is created per sync run, merged with the entries discovery
// found, and persisted by the caller after the engine returns.
type Map struct {
	PlanID   string           `json:"plan_id"`
	Target   string           `json:"target"`
	BoardURL string           `json:"board_url"`
	Entries  map[string]Entry `json:"entries"`
}

// NewMap creates an empty sync map for one plan and target
func NewMap(planID, target, boardURL string) *Map {
	return &Map{
		PlanID:   planID,
		Target:   target,
		BoardURL: boardURL,
		Entries:  make(map[string]Entry),
	}
}

// SaveMap writes a sync map to disk as JSON
func SaveMap(m *Map, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed,
			fmt.Sprintf("failed to create directory: %s", dir), err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal sync map", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed,
			fmt.Sprintf("failed to write sync map: %s", path), err)
	}

	return nil
}

// LoadMap reads a sync map from disk
func LoadMap(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed,
			fmt.Sprintf("failed to read sync map: %s", path), err)
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "JSON", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}
	return &m, nil
}

// DryRunPath derives the path a dry-run sync map is written to, so a dry
// run never overwrites the authoritative map
func DryRunPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".dry-run" + ext
}

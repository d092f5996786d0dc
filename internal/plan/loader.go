package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fernhill/plansync/internal/errors"
)

// Load reads a plan from a YAML file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewPlanNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed,
			fmt.Sprintf("failed to read plan file: %s", path), err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}

	return &p, nil
}

// Save writes a plan to a YAML file
func Save(p *Plan, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed,
			fmt.Sprintf("failed to create directory: %s", dir), err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal plan", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed,
			fmt.Sprintf("failed to write plan file: %s", path), err)
	}

	return nil
}

package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/felixgeelhaar/batchguard/internal/fsutil"
)

// Load reads a plan artifact and validates it
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate plan: %w", err)
	}

	return &p, nil
}

// Save writes a plan artifact atomically
func Save(p *Plan, path string) error {
	if err := fsutil.WriteJSON(path, p); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return nil
}

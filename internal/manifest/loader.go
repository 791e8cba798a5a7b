package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

type document struct {
	Tasks []Record `yaml:"tasks"`
}

// Load reads and validates a manifest file (YAML or JSON)
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewManifestNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read manifest %s", path), err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest bytes. Both a mapping with a top-level "tasks" key
// and a bare sequence of task records are accepted.
func Parse(data []byte) (*Manifest, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(errors.ErrCodeManifestInvalid, "parse manifest", err)
	}

	var records []Record
	if len(root.Content) > 0 {
		body := root.Content[0]
		switch body.Kind {
		case yaml.SequenceNode:
			if err := body.Decode(&records); err != nil {
				return nil, errors.Wrap(errors.ErrCodeManifestInvalid, "decode task list", err)
			}
		case yaml.MappingNode:
			var doc document
			if err := body.Decode(&doc); err != nil {
				return nil, errors.Wrap(errors.ErrCodeManifestInvalid, "decode manifest", err)
			}
			records = doc.Tasks
		default:
			return nil, errors.NewManifestError(errors.ErrCodeManifestInvalid,
				"manifest must be a list of tasks or a mapping with a 'tasks' key")
		}
	}

	return New(records)
}

// Marshal encodes the normalized manifest as YAML
func Marshal(m *Manifest) ([]byte, error) {
	doc := document{Tasks: make([]Record, 0, m.Len())}
	for _, t := range m.tasks {
		doc.Tasks = append(doc.Tasks, t.Record())
	}
	return yaml.Marshal(doc)
}

package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Batch is the content of one inbox file: items to add to a group.
//
//	{"group_id": "g1", "items": [{"name": "milk"}, {"name": "bread", "icon": "🍞"}]}
type Batch struct {
	GroupID string      `json:"group_id" yaml:"group_id"`
	Items   []BatchItem `json:"items" yaml:"items"`
}

// BatchItem is one entry of a Batch. Icon and category are derived from
// the name when omitted.
type BatchItem struct {
	Name     string `json:"name" yaml:"name"`
	Icon     string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// UnmarshalYAML also accepts a bare string as an item name.
func (b *BatchItem) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		b.Name = node.Value
		return nil
	}
	type plain BatchItem
	return node.Decode((*plain)(b))
}

// IsBatchFile reports whether path has an extension the inbox accepts.
func IsBatchFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// ReadBatch parses a JSON or YAML batch file.
func ReadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}

	var b Batch
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &b)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &b)
	default:
		return nil, fmt.Errorf("unsupported batch file: %s", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if b.GroupID == "" {
		return nil, fmt.Errorf("%s: group_id is required", filepath.Base(path))
	}
	return &b, nil
}

// writeBatch replaces path with b in the file's own format.
func writeBatch(path string, b *Batch) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(b, "", "  ")
	default:
		data, err = yaml.Marshal(b)
	}
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return os.Rename(tmp, path)
}

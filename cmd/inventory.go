// cmd/inventory.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadInventory merges an inventory file (YAML or JSON) with key=value pairs.
// Pairs win over file entries with the same key.
func loadInventory(pairs []string, file string) (map[string]any, error) {
	inventory := make(map[string]any)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("could not read inventory file %s: %w", file, err)
		}
		// JSON documents are valid YAML
		if err := yaml.Unmarshal(data, &inventory); err != nil {
			return nil, fmt.Errorf("could not parse inventory file %s: %w", file, err)
		}
		if inventory == nil {
			inventory = make(map[string]any)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid inventory entry %q, expected key=value", pair)
		}
		inventory[key] = value
	}
	return inventory, nil
}

// cmd/get_test.go
package cmd

import (
	"testing"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

func TestQueryExperience(t *testing.T) {
	exp := &experience.Experience{
		ID:      "job-1",
		StoryID: "story-1",
		Output: map[string]any{
			"mp4": "https://cdn.example.com/job-1.mp4",
			"jpg": "https://cdn.example.com/job-1.jpg",
		},
		Inventory: map[string]any{"name": "x", "age": 31},
	}

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"top level string", "$.id", "job-1", false},
		{"nested string", "$.output.mp4", "https://cdn.example.com/job-1.mp4", false},
		{"number", "$.inventory.age", "31", false},
		{"boolean", "$.rendering", "false", false},
		{"object", "$.inventory", `{"age":31,"name":"x"}`, false},
		{"missing key", "$.output.gif", "", true},
		{"not a path", "output", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := queryExperience(exp, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("queryExperience(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("queryExperience(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

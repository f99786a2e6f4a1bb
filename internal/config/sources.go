// Package config loads the sources file: the operator-edited YAML listing
// every origin to collect from. Each entry is synced into a source row at
// startup, so the database always reflects the file.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jdholdren/eddy/internal/eddy"
)

var knownTypes = map[string]bool{
	"rss":        true,
	"youtube":    true,
	"hackernews": true,
	"lobsters":   true,
}

// Spec is one entry in the sources file. Everything besides type and name is
// collector-specific and passed through as the source's config.
type Spec struct {
	Type string         `yaml:"type"`
	Name string         `yaml:"name"`
	Rest map[string]any `yaml:",inline"`
}

type File struct {
	Sources []Spec `yaml:"sources"`
}

func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("error reading sources file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("error parsing sources file: %w", err)
	}

	for i, s := range f.Sources {
		if s.Name == "" {
			return File{}, fmt.Errorf("source %d has no name", i)
		}
		if !knownTypes[s.Type] {
			return File{}, fmt.Errorf("source %q has unknown type %q", s.Name, s.Type)
		}
	}
	return f, nil
}

// Sync ensures a source row for every entry and returns the rows. Re-running
// with an edited file refreshes each source's config in place.
func (f File) Sync(ctx context.Context, repo eddy.SourceRepo) ([]eddy.Source, error) {
	out := make([]eddy.Source, 0, len(f.Sources))
	for _, s := range f.Sources {
		cfg := s.Rest
		if cfg == nil {
			cfg = map[string]any{}
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("error encoding config for %q: %w", s.Name, err)
		}

		src, err := repo.EnsureSource(ctx, s.Type, s.Name, string(raw))
		if err != nil {
			return nil, fmt.Errorf("error ensuring source %q: %w", s.Name, err)
		}
		out = append(out, src)
	}
	return out, nil
}

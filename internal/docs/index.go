// Package docs serves short API reference entries from a static YAML index.
package docs

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"memebot/pkg/textmatch"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultIndex []byte

// Entry is one documented identifier.
type Entry struct {
	Name    string `yaml:"name"`
	Summary string `yaml:"summary"`
	Body    string `yaml:"body"`
}

type indexFile struct {
	Entries []Entry `yaml:"entries"`
}

// Option mutates index configuration.
type Option func(*Index)

// WithMatcher replaces the matcher used for suggestions.
func WithMatcher(matcher *textmatch.Matcher) Option {
	return func(index *Index) {
		if matcher != nil {
			index.matcher = matcher
		}
	}
}

// Index answers documentation lookups.
type Index struct {
	entries map[string]Entry
	names   []string
	matcher *textmatch.Matcher
}

// Default returns the index bundled with the binary.
func Default(options ...Option) (*Index, error) {
	return Parse(defaultIndex, options...)
}

// Load reads an index from a YAML file.
func Load(path string, options ...Option) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load docs index %s: %w", path, err)
	}

	index, err := Parse(raw, options...)
	if err != nil {
		return nil, fmt.Errorf("load docs index %s: %w", path, err)
	}

	return index, nil
}

// Parse decodes `entries: [{name, summary, body}]`.
func Parse(raw []byte, options ...Option) (*Index, error) {
	var file indexFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse docs index: %w", err)
	}

	return New(file.Entries, options...)
}

// New builds an index. Names must be unique ignoring case.
func New(entries []Entry, options ...Option) (*Index, error) {
	index := &Index{
		entries: make(map[string]Entry, len(entries)),
		names:   make([]string, 0, len(entries)),
		matcher: textmatch.New(),
	}
	for _, option := range options {
		option(index)
	}

	for position, entry := range entries {
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.Name == "" {
			return nil, fmt.Errorf("docs entry %d: missing name", position)
		}
		key := strings.ToLower(entry.Name)
		if _, exists := index.entries[key]; exists {
			return nil, fmt.Errorf("docs entry %d: duplicate name %s", position, entry.Name)
		}
		index.entries[key] = entry
		index.names = append(index.names, entry.Name)
	}

	return index, nil
}

// Len returns the number of entries.
func (i *Index) Len() int {
	return len(i.names)
}

// Search returns the formatted entry for query. When there is no exact
// entry it suggests the closest name, and it returns "" when nothing is
// close enough so the caller stays silent.
func (i *Index) Search(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("search docs: %w", err)
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	if entry, ok := i.entries[strings.ToLower(query)]; ok {
		return format(entry), nil
	}
	if name, ok := i.matcher.Closest(query, i.names); ok {
		return fmt.Sprintf("No documentation for '%s'. Did you mean '%s'?", query, name), nil
	}

	return "", nil
}

func format(entry Entry) string {
	var builder strings.Builder
	builder.WriteString("# ")
	builder.WriteString(entry.Name)
	builder.WriteString("\n\n")
	builder.WriteString(strings.TrimSpace(entry.Summary))
	builder.WriteString("\n---\n")
	builder.WriteString(strings.TrimRight(entry.Body, "\n"))

	return builder.String()
}

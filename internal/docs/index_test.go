package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"memebot/pkg/textmatch"
)

const testIndex = `
entries:
  - name: Array#map
    summary: (from ruby core)
    body: |
      ary.map { |item| block }  -> new_ary
  - name: Hash#fetch
    summary: (from ruby core)
    body: |
      hsh.fetch(key)  -> obj
`

func TestIndexSearch(t *testing.T) {
	t.Parallel()

	index, err := Parse([]byte(testIndex))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "exact",
			query: "Array#map",
			want:  "# Array#map\n\n(from ruby core)\n---\nary.map { |item| block }  -> new_ary",
		},
		{
			name:  "case insensitive",
			query: "hash#FETCH",
			want:  "# Hash#fetch\n\n(from ruby core)\n---\nhsh.fetch(key)  -> obj",
		},
		{
			name:  "suggestion",
			query: "Array#mapp",
			want:  "No documentation for 'Array#mapp'. Did you mean 'Array#map'?",
		},
		{name: "unrelated word stays silent", query: "hello", want: ""},
		{name: "blank", query: "  ", want: ""},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := index.Search(context.Background(), testCase.query)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("search(%q) = %q, want %q", testCase.query, got, testCase.want)
			}
		})
	}
}

func TestIndexSearchStrictMatcher(t *testing.T) {
	t.Parallel()

	index, err := Parse([]byte(testIndex), WithMatcher(textmatch.New(textmatch.WithThreshold(0.99))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	got, err := index.Search(context.Background(), "Array#mapp")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got != "" {
		t.Fatalf("search = %q, want silence", got)
	}
}

func TestIndexValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []Entry
	}{
		{name: "missing name", entries: []Entry{{Summary: "x"}}},
		{name: "duplicate ignoring case", entries: []Entry{{Name: "Array#map"}, {Name: "array#MAP"}}},
	}
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := New(testCase.entries); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if _, err := Parse([]byte("entries: [")); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestLoadAndDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docs.yaml")
	if err := os.WriteFile(path, []byte(testIndex), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded len = %d, want 2", loaded.Len())
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}

	bundled, err := Default()
	if err != nil {
		t.Fatalf("default index failed: %v", err)
	}
	got, err := bundled.Search(context.Background(), "Array#map")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.HasPrefix(got, "# Array#map\n\n(from ruby core)\n---\nary.collect") {
		t.Fatalf("bundled Array#map = %q", got)
	}
}

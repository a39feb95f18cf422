// Package knowledge persists the question to answer pairs the bot remembers.
//
// Questions are compared case-insensitively after trimming surrounding
// whitespace and are stored verbatim. Listing preserves insertion order.
package knowledge

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound reports an update or delete of an unknown question.
	ErrNotFound = errors.New("knowledge: question not found")
	// ErrExists reports a create for a question that is already stored.
	ErrExists = errors.New("knowledge: question already exists")
	// ErrTransient reports a storage failure that may succeed when retried.
	ErrTransient = errors.New("knowledge: store unavailable")
)

// Entry is one remembered question and its answer.
type Entry struct {
	Question string `db:"question" yaml:"question"`
	Answer   string `db:"answer" yaml:"answer"`
}

// Store is the persistence contract shared by every backend.
type Store interface {
	Exists(ctx context.Context, question string) (bool, error)
	Read(ctx context.Context, question string) (string, bool, error)
	Create(ctx context.Context, question, answer string) error
	Update(ctx context.Context, question, answer string) error
	Destroy(ctx context.Context, question string) error
	All(ctx context.Context) ([]string, error)
	Entries(ctx context.Context) ([]Entry, error)
}

// Key returns the comparison key of a question.
func Key(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

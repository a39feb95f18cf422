package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryEntry struct {
	seq int64
	Entry
}

// Memory is a process-local Store. The zero value is not usable; call NewMemory.
type Memory struct {
	mu      sync.RWMutex
	nextSeq int64
	entries map[string]memoryEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Exists reports whether question is stored.
func (m *Memory) Exists(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[Key(question)]

	return ok, nil
}

// Read returns the answer for question.
func (m *Memory) Read(ctx context.Context, question string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("read: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[Key(question)]

	return entry.Answer, ok, nil
}

// Create stores a new pair.
func (m *Memory) Create(ctx context.Context, question, answer string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	key := Key(question)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return fmt.Errorf("create %q: %w", question, ErrExists)
	}
	m.nextSeq++
	m.entries[key] = memoryEntry{seq: m.nextSeq, Entry: Entry{Question: question, Answer: answer}}

	return nil
}

// Update replaces the answer of a stored question and keeps its position.
func (m *Memory) Update(ctx context.Context, question, answer string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	key := Key(question)
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("update %q: %w", question, ErrNotFound)
	}
	entry.Answer = answer
	m.entries[key] = entry

	return nil
}

// Destroy removes a stored question.
func (m *Memory) Destroy(ctx context.Context, question string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}

	key := Key(question)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return fmt.Errorf("destroy %q: %w", question, ErrNotFound)
	}
	delete(m.entries, key)

	return nil
}

// All lists stored questions in insertion order.
func (m *Memory) All(ctx context.Context) ([]string, error) {
	entries, err := m.Entries(ctx)
	if err != nil {
		return nil, err
	}

	questions := make([]string, 0, len(entries))
	for _, entry := range entries {
		questions = append(questions, entry.Question)
	}

	return questions, nil
}

// Entries lists stored pairs in insertion order.
func (m *Memory) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("entries: %w", err)
	}

	m.mu.RLock()
	ordered := make([]memoryEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		ordered = append(ordered, entry)
	}
	m.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	entries := make([]Entry, 0, len(ordered))
	for _, entry := range ordered {
		entries = append(entries, entry.Entry)
	}

	return entries, nil
}

var _ Store = (*Memory)(nil)

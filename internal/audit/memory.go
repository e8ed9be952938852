package audit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore is the reference in-memory store. Id assignment is serialized
// through an atomic counter so concurrent appends never repeat a value, and
// the entries slice is guarded for insertion order.
type MemoryStore struct {
	seq     atomic.Int64
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of the entry under the next sequence number.
func (s *MemoryStore) Append(ctx context.Context, entry *Entry) (int64, error) {
	id := s.seq.Add(1)
	stored := *entry
	stored.ID = id
	if len(entry.Details) > 0 {
		stored.Details = make(map[string]string, len(entry.Details))
		for k, v := range entry.Details {
			stored.Details[k] = v
		}
	}
	s.mu.Lock()
	s.entries = append(s.entries, stored)
	s.mu.Unlock()
	entry.ID = id
	return id, nil
}

// List returns matching entries; ascending id order unless f.Reverse.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
	}
	// Appends interleave with id assignment, so close-together entries can
	// land slightly out of order; restore id order before returning.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

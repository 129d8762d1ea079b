package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process development.
// A single mutex serializes appends across all scopes, which trivially
// satisfies the per-scope serialization requirement.
type MemoryStore struct {
	mu     sync.Mutex
	chains map[string][]*Record
}

// NewMemoryStore creates an empty in-memory audit store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string][]*Record),
	}
}

// Append assigns chain fields and stores the record
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head *ChainHead
	chain := s.chains[rec.OrgID]
	if len(chain) > 0 {
		last := chain[len(chain)-1]
		head = &ChainHead{ID: last.ID, Hash: last.Hash, Seq: last.Seq}
	}

	if err := finalize(rec, head); err != nil {
		return err
	}

	stored := *rec
	s.chains[rec.OrgID] = append(chain, &stored)
	return nil
}

// List returns records for a scope in ascending chain order
func (s *MemoryStore) List(ctx context.Context, orgID string, limit, offset int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[orgID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(chain) {
		return nil, nil
	}

	end := len(chain)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*Record, 0, end-offset)
	for _, rec := range chain[offset:end] {
		copied := *rec
		out = append(out, &copied)
	}
	return out, nil
}

// Search returns records matching the filter in ascending chain order
func (s *MemoryStore) Search(ctx context.Context, f Filter) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Record
	for scope, chain := range s.chains {
		if f.OrgID != "" && scope != f.OrgID {
			continue
		}
		for _, rec := range chain {
			if f.Action != "" && rec.Action != f.Action {
				continue
			}
			if f.Category != "" && rec.Category != f.Category {
				continue
			}
			if f.Start != nil && rec.Timestamp.Before(*f.Start) {
				continue
			}
			if f.End != nil && !rec.Timestamp.Before(*f.End) {
				continue
			}
			copied := *rec
			matched = append(matched, &copied)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OrgID != matched[j].OrgID {
			return matched[i].OrgID < matched[j].OrgID
		}
		return matched[i].Seq < matched[j].Seq
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Scopes returns all org scopes with at least one record
func (s *MemoryStore) Scopes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopes := make([]string, 0, len(s.chains))
	for scope := range s.chains {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Cleanup deletes records older than the cutoff
func (s *MemoryStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for scope, chain := range s.chains {
		kept := chain[:0]
		for _, rec := range chain {
			if rec.Timestamp.Before(before) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		s.chains[scope] = kept
	}
	return removed, nil
}

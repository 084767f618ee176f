package vectorindex

import (
	"context"
	"sort"
	"sync"

	"fiqh-rag/internal/rag/schema"
)

// MemoryStore keeps records in process and ranks them by brute-force cosine
// similarity.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.Metadata = schema.CopyMetadata(r.Metadata)
		r.Embedding = append([]float32(nil), r.Embedding...)
		s.records[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) DeleteByDocument(_ context.Context, documentUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.DocumentUID == documentUID {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Search(_ context.Context, query []float32, documentUIDs []string, k int) ([]schema.Document, error) {
	allowed := make(map[string]struct{}, len(documentUIDs))
	for _, id := range documentUIDs {
		allowed[id] = struct{}{}
	}

	s.mu.RLock()
	candidates := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if _, ok := allowed[r.DocumentUID]; ok {
			candidates = append(candidates, r)
		}
	}
	s.mu.RUnlock()

	return Rank(query, candidates, k), nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IDs lists stored record ids in sorted order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ABOUTME: Vector storage and similarity search interface plus an in-memory brute-force implementation
// ABOUTME: The hybrid store treats this component as optional; a nil Store means semantic search is disabled

package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// ScoredID is a single similarity search hit: the indexed record id and its
// cosine similarity against the query embedding.
type ScoredID struct {
	ID         int64
	Similarity float64
}

// NativeFilter is whatever the filter compiler produced as the portion of a
// filter tree this store can evaluate without falling back to in-process
// residual evaluation. MemoryStore has no real pushdown target, so it just
// evaluates the filter itself against each record's stored metadata.
type NativeFilter any

// Embedder turns text into a vector. Production deployments supply a real
// model client; tests use a deterministic hash-based embedder (see
// HashEmbedder) so similarity search is exercised without any network call.
type Embedder func(ctx context.Context, text string) ([]float64, error)

// Store indexes message content for similarity search. Kind returns a short
// identifier the way the teacher's optional-component constructors report
// what they were wired with.
type Store interface {
	Kind() string
	EnsureIndexes(ctx context.Context) error
	Index(ctx context.Context, id int64, embedding []float64, metadata map[string]any) error
	Search(ctx context.Context, embedding []float64, native NativeFilter, limit int) ([]ScoredID, error)
	Delete(ctx context.Context, id int64) error
	Close() error
}

// FilterEvaluator evaluates a NativeFilter against one record's metadata.
// internal/filter supplies the real implementation; MemoryStore takes it as
// a dependency rather than importing internal/filter directly, since the
// filter tree shape is that package's concern, not the vector store's.
type FilterEvaluator func(native NativeFilter, metadata map[string]any) (bool, error)

var _ Store = (*MemoryStore)(nil)

type record struct {
	embedding []float64
	metadata  map[string]any
}

// MemoryStore is a brute-force, in-process cosine-similarity index. It never
// calls out to an external service; deployments
// that need real ANN recall characteristics wire an external backend behind
// the same Store interface instead.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[int64]record
	evaluate    FilterEvaluator
	indexesOK   bool
	registered  map[string]bool
	strictOrder bool
}

// NewMemoryStore constructs an empty MemoryStore. evaluate may be nil if the
// caller never passes a non-nil NativeFilter to Search.
func NewMemoryStore(evaluate FilterEvaluator) *MemoryStore {
	return &MemoryStore{
		records:    make(map[int64]record),
		evaluate:   evaluate,
		registered: make(map[string]bool),
	}
}

func (m *MemoryStore) Kind() string { return "embedded" }

// EnsureIndexes registers the fields the hybrid store relies on for ranking
// and filtering. MemoryStore has no real index-creation cost; this exists so
// ordering regressions (Index called before EnsureIndexes) are caught in
// tests via StrictOrdering, the same way a real backend would reject writes
// against an index that doesn't exist yet.
func (m *MemoryStore) EnsureIndexes(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered["timestamp"] = true
	m.registered["confidence"] = true
	m.indexesOK = true
	return nil
}

// StrictOrdering enables a panic (never in production use, only in tests)
// if Index is called before EnsureIndexes. This exists to catch a wiring
// regression early rather than silently accepting unordered writes.
func (m *MemoryStore) StrictOrdering(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strictOrder = on
}

func (m *MemoryStore) Index(ctx context.Context, id int64, embedding []float64, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.strictOrder && !m.indexesOK {
		panic("vectorstore: Index called before EnsureIndexes")
	}
	cp := make([]float64, len(embedding))
	copy(cp, embedding)
	m.records[id] = record{embedding: cp, metadata: metadata}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Search returns the top-limit records by cosine similarity to embedding,
// restricted to those matching native (if non-nil). Results are sorted
// descending by similarity; ties break by ascending id for determinism.
func (m *MemoryStore) Search(ctx context.Context, embedding []float64, native NativeFilter, limit int) ([]ScoredID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]ScoredID, 0, len(m.records))
	for id, rec := range m.records {
		if native != nil {
			if m.evaluate == nil {
				return nil, fmt.Errorf("vectorstore: native filter given but no evaluator configured")
			}
			ok, err := m.evaluate(native, rec.metadata)
			if err != nil {
				return nil, fmt.Errorf("evaluating filter for record %d: %w", id, err)
			}
			if !ok {
				continue
			}
		}
		hits = append(hits, ScoredID{ID: id, Similarity: cosine(embedding, rec.embedding)})
	}

	sortByScoreThenID(hits)

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortByScoreThenID(hits []ScoredID) {
	// Simple insertion sort: search result sets are small (bounded by a
	// per-channel message count in practice), and this keeps the tie-break
	// rule (ascending id) trivially stable without pulling in sort.Slice's
	// indirection for what's usually a few dozen elements.
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && less(hits[j], hits[j-1]) {
			hits[j], hits[j-1] = hits[j-1], hits[j]
			j--
		}
	}
}

func less(a, b ScoredID) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.ID < b.ID
}

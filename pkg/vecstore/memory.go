package vecstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an in-memory Store implementation using brute-force cosine
// similarity. Intended for testing and small-scale use (< 1000 vectors).
//
// It is safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim    int
	points map[string]memPoint
}

type memPoint struct {
	vector  []float32
	payload map[string]any
}

var _ Store = (*Memory)(nil)

// NewMemory creates a new in-memory vector store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) EnsureCollection(_ context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("vecstore: collection %s exists with dim %d, want %d", name, c.dim, dim)
		}
		return nil
	}
	m.collections[name] = &memCollection{dim: dim, points: make(map[string]memPoint)}
	return nil
}

func (m *Memory) Upsert(_ context.Context, collection, id string, vector []float32, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("vecstore: unknown collection %s", collection)
	}
	if len(vector) != c.dim {
		return fmt.Errorf("vecstore: upsert %s: dim %d, want %d", collection, len(vector), c.dim)
	}
	vcp := make([]float32, len(vector))
	copy(vcp, vector)
	pcp := make(map[string]any, len(payload))
	for k, v := range payload {
		pcp[k] = v
	}
	c.points[id] = memPoint{vector: vcp, payload: pcp}
	return nil
}

func (m *Memory) Search(_ context.Context, collection string, query []float32, params SearchParams) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok || params.Limit <= 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(c.points))
	for id, p := range c.points {
		if !payloadMatches(p.payload, params.Must) {
			continue
		}
		score := CosineSimilarity(query, p.vector)
		if score < params.MinScore {
			continue
		}
		matches = append(matches, Match{ID: id, Score: score, Payload: p.payload})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > params.Limit {
		matches = matches[:params.Limit]
	}
	return matches, nil
}

func payloadMatches(payload map[string]any, must map[string]string) bool {
	for k, want := range must {
		got, ok := payload[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[collection]; ok {
		delete(c.points, id)
	}
	return nil
}

func (m *Memory) Health(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// CosineSimilarity computes the cosine similarity between two vectors,
// clamped to [0, 1]. Returns 0 for mismatched dimensions or zero norms.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < 0 {
		sim = 0
	}
	return float32(sim)
}

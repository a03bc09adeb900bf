// Package memory is an in-process vector store using brute-force cosine
// similarity. It backs tests and single-node development setups.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/mohammad-safakhou/svat/internal/vectorstore"
	"github.com/mohammad-safakhou/svat/models"
)

type entry struct {
	id     string
	unit   models.Unit
	vector []float32
}

// Storage is safe for concurrent use.
type Storage struct {
	mu          sync.RWMutex
	collections map[string][]entry
	seq         int
	// Down simulates an unreachable store when set.
	Down bool
}

var _ vectorstore.Store = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{collections: make(map[string][]entry)}
}

var errDown = errors.New("memory vector store is down")

func (s *Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Down {
		return errDown
	}
	return ctx.Err()
}

func (s *Storage) HasFingerprint(_ context.Context, collection, fp string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasLocked(collection, fp), nil
}

func (s *Storage) hasLocked(collection, fp string) bool {
	for _, e := range s.collections[collection] {
		if e.unit.Fingerprint() == fp {
			return true
		}
	}
	return false
}

func (s *Storage) Fingerprints(_ context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, e := range s.collections[collection] {
		fp := e.unit.Fingerprint()
		if _, ok := seen[fp]; ok || fp == "" {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	return out, nil
}

func (s *Storage) InsertIfAbsent(_ context.Context, collection, fp string, units []models.Unit, vectors [][]float32) (int, error) {
	if len(units) != len(vectors) {
		return 0, errors.New("units and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Down {
		return 0, errDown
	}
	if s.hasLocked(collection, fp) {
		return 0, nil
	}
	for i, u := range units {
		s.seq++
		s.collections[collection] = append(s.collections[collection], entry{
			id:     strconv.Itoa(s.seq),
			unit:   u,
			vector: vectors[i],
		})
	}
	return len(units), nil
}

func (s *Storage) Search(_ context.Context, collection string, query []float32, k int) ([]models.ScoredUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 3
	}
	entries := s.collections[collection]
	results := make([]models.ScoredUnit, 0, len(entries))
	for _, e := range entries {
		results = append(results, models.ScoredUnit{ID: e.id, Unit: e.unit, Score: cosine(e.vector, query)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *Storage) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection]), nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

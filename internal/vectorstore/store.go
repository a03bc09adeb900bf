// Package vectorstore defines the collection-partitioned embedding store.
package vectorstore

import (
	"context"

	"github.com/mohammad-safakhou/svat/models"
)

// Store persists embedded units per collection and answers similarity
// queries. Collections are disjoint; nothing is shared between them.
type Store interface {
	Ping(ctx context.Context) error
	// HasFingerprint reports whether any unit in collection carries fp.
	HasFingerprint(ctx context.Context, collection, fp string) (bool, error)
	// Fingerprints lists the distinct fingerprints stored in collection.
	Fingerprints(ctx context.Context, collection string) ([]string, error)
	// InsertIfAbsent stores units unless collection already holds fp. The
	// check and the write are atomic; it returns the number of rows written.
	InsertIfAbsent(ctx context.Context, collection, fp string, units []models.Unit, vectors [][]float32) (int, error)
	// Search returns up to k units ordered by cosine similarity.
	Search(ctx context.Context, collection string, query []float32, k int) ([]models.ScoredUnit, error)
	// Count returns the number of units stored in collection.
	Count(ctx context.Context, collection string) (int, error)
}

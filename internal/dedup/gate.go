// Package dedup guards vector store writes so a document's content is
// embedded at most once per collection.
package dedup

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	embedpkg "github.com/mohammad-safakhou/svat/internal/embedding"
	"github.com/mohammad-safakhou/svat/internal/telemetry"
	"github.com/mohammad-safakhou/svat/internal/vectorstore"
	"github.com/mohammad-safakhou/svat/models"
)

// ErrNoValidContent is returned when every unit of a document is empty.
var ErrNoValidContent = apperr.New(apperr.ErrValidation, "no valid content found in documents for embedding")

// Gate checks a collection for a document fingerprint before embedding and
// writing its units.
type Gate struct {
	Store    vectorstore.Store
	Embedder embedding.Embedder
	Locker   Locker
	Logger   *log.Logger
}

// Outcome describes one Write call.
type Outcome struct {
	Collection  string
	Fingerprint string
	Stored      int
	// Skipped is true when the collection already held the fingerprint.
	Skipped bool
}

func NewGate(store vectorstore.Store, emb embedding.Embedder, locker Locker, logger *log.Logger) *Gate {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[DEDUP] ", log.LstdFlags)
	}
	return &Gate{Store: store, Embedder: emb, Locker: locker, Logger: logger}
}

// ShouldInsert reports whether fp is absent from collection.
func (g *Gate) ShouldInsert(ctx context.Context, collection, fp string) (bool, error) {
	exists, err := g.Store.HasFingerprint(ctx, collection, fp)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Write drops empty units, then embeds and stores the rest unless the
// collection already contains their fingerprint. A skipped write is not an
// error.
func (g *Gate) Write(ctx context.Context, collection string, units []models.Unit) (Outcome, error) {
	valid := make([]models.Unit, 0, len(units))
	for _, u := range units {
		if strings.TrimSpace(u.Content) != "" {
			valid = append(valid, u)
		}
	}
	if len(valid) == 0 {
		return Outcome{Collection: collection}, ErrNoValidContent
	}
	fp := valid[0].Fingerprint()
	if fp == "" {
		return Outcome{Collection: collection}, apperr.New(apperr.ErrValidation, "units for collection %s carry no fingerprint", collection)
	}
	out := Outcome{Collection: collection, Fingerprint: fp}

	unlock, err := g.Locker.Lock(ctx, collection)
	if err != nil {
		return out, fmt.Errorf("lock collection %s: %w", collection, err)
	}
	defer unlock()

	ok, err := g.ShouldInsert(ctx, collection, fp)
	if err != nil {
		return out, fmt.Errorf("check collection %s: %w", collection, err)
	}
	if !ok {
		g.Logger.Printf("collection %s already holds %s, skipping %d units", collection, short(fp), len(valid))
		telemetry.DedupSkips.Inc()
		out.Skipped = true
		return out, nil
	}

	texts := make([]string, len(valid))
	for i, u := range valid {
		texts[i] = u.Content
	}
	vectors, err := g.Embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return out, apperr.Wrap(apperr.ErrExtraction, err, "embed units")
	}
	n, err := g.Store.InsertIfAbsent(ctx, collection, fp, valid, embedpkg.ToFloat32(vectors))
	if err != nil {
		return out, fmt.Errorf("store units in %s: %w", collection, err)
	}
	if n == 0 {
		// another writer won between the check and the insert
		out.Skipped = true
		telemetry.DedupSkips.Inc()
		return out, nil
	}
	out.Stored = n
	telemetry.UnitsStored.Add(float64(n))
	g.Logger.Printf("stored %d units in %s for %s", n, collection, short(fp))
	return out, nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// Package backend groups the model-backed capabilities ingestion depends on,
// so another backend can replace the default extractor and chain builder.
package backend

import (
	"context"

	"github.com/mohammad-safakhou/svat/internal/extract"
	"github.com/mohammad-safakhou/svat/internal/rag"
	"github.com/mohammad-safakhou/svat/models"
)

// Chain answers questions over one collection.
type Chain interface {
	Ask(ctx context.Context, question string) (*rag.Answer, error)
}

// Backend extracts structured records from files and builds chains over
// stored collections.
type Backend interface {
	Extract(ctx context.Context, path, ext string, opts models.ModelOptions) (*extract.Document, error)
	BuildChain(ctx context.Context, collection string, opts models.ChainOptions) (Chain, error)
}

// Default is the pdftotext/tesseract extractor paired with the vector
// retrieval chain builder.
type Default struct {
	Extractor *extract.Extractor
	Builder   *rag.Builder
}

var _ Backend = (*Default)(nil)

func New(extractor *extract.Extractor, builder *rag.Builder) *Default {
	return &Default{Extractor: extractor, Builder: builder}
}

func (d *Default) Extract(ctx context.Context, path, ext string, opts models.ModelOptions) (*extract.Document, error) {
	return d.Extractor.Extract(ctx, path, ext, opts)
}

func (d *Default) BuildChain(ctx context.Context, collection string, opts models.ChainOptions) (Chain, error) {
	c, err := d.Builder.BuildChain(ctx, collection, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

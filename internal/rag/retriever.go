package rag

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	svatembed "github.com/mohammad-safakhou/svat/internal/embedding"
	"github.com/mohammad-safakhou/svat/internal/vectorstore"
)

// VectorRetriever searches one collection of the vector store.
type VectorRetriever struct {
	Store      vectorstore.Store
	Embedder   embedding.Embedder
	Collection string
	TopK       int
}

var _ retriever.Retriever = (*VectorRetriever)(nil)

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.TopK
	if topK <= 0 {
		topK = 3
	}
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if o.TopK != nil {
		topK = *o.TopK
	}

	vecs, err := r.Embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	hits, err := r.Store.Search(ctx, r.Collection, svatembed.ToFloat32(vecs)[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.Collection, err)
	}

	docs := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		meta := make(map[string]any, len(h.Unit.Metadata))
		for k, v := range h.Unit.Metadata {
			meta[k] = v
		}
		doc := &schema.Document{ID: h.ID, Content: h.Unit.Content, MetaData: meta}
		docs = append(docs, doc.WithScore(h.Score))
	}
	return docs, nil
}

func (r *VectorRetriever) GetType() string { return "VectorRetriever" }

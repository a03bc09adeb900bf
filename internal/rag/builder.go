package rag

import (
	"context"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/llm"
	"github.com/mohammad-safakhou/svat/internal/vectorstore"
	"github.com/mohammad-safakhou/svat/models"
)

// Builder constructs chains over existing collections.
type Builder struct {
	Store    vectorstore.Store
	Embedder embedding.Embedder
	Models   llm.Factory
	TopK     int
}

func NewBuilder(store vectorstore.Store, emb embedding.Embedder, factory llm.Factory, topK int) *Builder {
	return &Builder{Store: store, Embedder: emb, Models: factory, TopK: topK}
}

// BuildChain binds a chain to collection. It fails when the store is
// unreachable or the collection holds nothing.
func (b *Builder) BuildChain(ctx context.Context, collection string, opts models.ChainOptions) (*Chain, error) {
	if collection == "" {
		return nil, apperr.New(apperr.ErrValidation, "collection name is required")
	}
	if err := b.Store.Ping(ctx); err != nil {
		return nil, apperr.Wrap(apperr.ErrUnavailable, err, "vector store")
	}
	n, err := b.Store.Count(ctx, collection)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnavailable, err, "count %s", collection)
	}
	if n == 0 {
		return nil, apperr.New(apperr.ErrValidation, "collection %s does not exist", collection)
	}
	m, err := b.Models.NewChatModel(ctx, opts.Model)
	if err != nil {
		return nil, err
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = b.TopK
	}
	r := &VectorRetriever{Store: b.Store, Embedder: b.Embedder, Collection: collection, TopK: topK}
	return NewChain(collection, r, m), nil
}

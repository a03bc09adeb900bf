// Package rag answers questions about one collection by retrieving its most
// similar units and handing them to a chat model.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/mohammad-safakhou/svat/models"
)

const systemPrompt = `You are a security assistant answering questions about an uploaded vulnerability report.
Answer only from the context excerpts. If the context does not contain the answer, say you don't know.
Be concise and cite CVE or CWE identifiers when they appear in the context.`

const userPromptTemplate = `Context:
{documents}

Question: {query}`

// Answer is the reply to one question together with the documents used.
type Answer struct {
	Text      string
	Documents []*schema.Document
}

// Sources converts the retrieved documents into cited excerpts.
func (a *Answer) Sources() []models.Source {
	out := make([]models.Source, 0, len(a.Documents))
	for _, d := range a.Documents {
		out = append(out, models.Source{Content: d.Content, Page: models.PageOf(d.MetaData)})
	}
	return out
}

// Chain is a retrieval chain bound to one collection.
type Chain struct {
	Collection string
	Retriever  retriever.Retriever
	Model      model.BaseChatModel
	Template   prompt.ChatTemplate
}

func NewChain(collection string, r retriever.Retriever, m model.BaseChatModel) *Chain {
	return &Chain{
		Collection: collection,
		Retriever:  r,
		Model:      m,
		Template: prompt.FromMessages(schema.FString,
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(userPromptTemplate),
		),
	}
}

// Ask retrieves context for question and generates an answer.
func (c *Chain) Ask(ctx context.Context, question string) (*Answer, error) {
	docs, err := c.Retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	msgs, err := c.Template.Format(ctx, map[string]any{
		"documents": formatDocuments(docs),
		"query":     question,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	msg, err := c.Model.Generate(ctx, msgs)
	if err != nil {
		return nil, err
	}
	ans := &Answer{Documents: docs}
	if msg != nil {
		ans.Text = strings.TrimSpace(msg.Content)
	}
	return ans, nil
}

func formatDocuments(docs []*schema.Document) string {
	if len(docs) == 0 {
		return "(no matching excerpts)"
	}
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] (page %d) %s\n", i+1, models.PageOf(d.MetaData)+1, d.Content)
	}
	return b.String()
}

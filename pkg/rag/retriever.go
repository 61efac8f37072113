// Package rag retrieves contextual policy documents for a run. The core
// pipeline only depends on the Retriever interface; deployments without a
// document store run with the null retriever.
package rag

import "context"

// Document is one retrieved context snippet.
type Document struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Retriever finds documents relevant to a question.
type Retriever interface {
	// Retrieve returns up to limit documents ranked by relevance.
	Retrieve(ctx context.Context, question string, limit int) ([]Document, error)
}

// NullRetriever returns no documents. The rag stage completes with an
// empty context set, which downstream stages treat as "no supporting
// documents".
type NullRetriever struct{}

// NewNullRetriever creates the no-op retriever.
func NewNullRetriever() *NullRetriever { return &NullRetriever{} }

// Retrieve implements Retriever.
func (*NullRetriever) Retrieve(context.Context, string, int) ([]Document, error) {
	return nil, nil
}

// StaticRetriever serves a fixed corpus filtered by naive term overlap.
// Useful for development and tests.
type StaticRetriever struct {
	docs []Document
}

// NewStaticRetriever creates a retriever over a fixed corpus.
func NewStaticRetriever(docs []Document) *StaticRetriever {
	return &StaticRetriever{docs: docs}
}

// Retrieve implements Retriever.
func (r *StaticRetriever) Retrieve(_ context.Context, question string, limit int) ([]Document, error) {
	scored := rankByOverlap(r.docs, question)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

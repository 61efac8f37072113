package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corpus() []Document {
	return []Document{
		{ID: "doc-wage", Title: "Minimum wage review", Content: "Effects of the minimum wage on construction employment."},
		{ID: "doc-visa", Title: "Visa quota policy", Content: "Quota allocation for skilled worker visas."},
		{ID: "doc-wage-2", Title: "Wage growth outlook", Content: "Wage trajectories across sectors."},
		{ID: "doc-noise", Title: "Unrelated", Content: "Annual report formatting guidelines."},
	}
}

func TestStaticRetrieverRanksByOverlap(t *testing.T) {
	r := NewStaticRetriever(corpus())

	docs, err := r.Retrieve(context.Background(), "How would a minimum wage change affect construction?", 10)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	assert.Equal(t, "doc-wage", docs[0].ID, "document matching the most terms ranks first")
	for _, d := range docs {
		assert.NotEqual(t, "doc-noise", d.ID, "documents with no term overlap are dropped")
		assert.Greater(t, d.Score, 0.0)
	}
	for i := 1; i < len(docs); i++ {
		assert.GreaterOrEqual(t, docs[i-1].Score, docs[i].Score)
	}
}

func TestStaticRetrieverHonorsLimit(t *testing.T) {
	r := NewStaticRetriever(corpus())

	docs, err := r.Retrieve(context.Background(), "wage policy outlook", 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStaticRetrieverEmptyQuestion(t *testing.T) {
	r := NewStaticRetriever(corpus())

	// Tokens shorter than three characters are ignored.
	docs, err := r.Retrieve(context.Background(), "a of to", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRankTieBreaksByID(t *testing.T) {
	docs := []Document{
		{ID: "b", Content: "wage data"},
		{ID: "a", Content: "wage data"},
	}
	ranked := rankByOverlap(docs, "wage data tables")
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].ID)
	assert.Equal(t, "b", ranked[1].ID)
}

func TestNullRetriever(t *testing.T) {
	docs, err := NewNullRetriever().Retrieve(context.Background(), "anything", 5)
	assert.NoError(t, err)
	assert.Nil(t, docs)
}

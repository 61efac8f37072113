package rag

import (
	"sort"
	"strings"
)

// rankByOverlap scores documents by the share of question terms present in
// the document text. Ties break by document ID so results are stable.
func rankByOverlap(docs []Document, question string) []Document {
	terms := tokenize(question)
	if len(terms) == 0 {
		return nil
	}

	var out []Document
	for _, doc := range docs {
		text := strings.ToLower(doc.Title + " " + doc.Content)
		hits := 0
		for term := range terms {
			if strings.Contains(text, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		doc.Score = float64(hits) / float64(len(terms))
		out = append(out, doc)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func tokenize(s string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) >= 3 {
			terms[w] = true
		}
	}
	return terms
}

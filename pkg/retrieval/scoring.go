package retrieval

import "sort"

// Default blend between the two search legs. Semantic similarity dominates;
// keyword rank mostly rescues exact-term matches (names, formulas) that
// embeddings blur.
const (
	DefaultSemanticWeight = 0.7
	DefaultKeywordWeight  = 0.3
)

// MergeHybrid combines the results of a semantic search leg and a keyword
// search leg into a single ranking.
//
// Each leg's scores are min-max normalised to [0, 1] independently, then a
// chunk's combined score is semanticWeight*semScore + keywordWeight*kwScore.
// A chunk appearing in only one leg contributes zero from the other. The
// result is sorted by descending combined score (ties by ascending ID) and
// truncated to topK.
func MergeHybrid(semantic, keyword []Chunk, semanticWeight, keywordWeight float64, topK int) []Chunk {
	if topK <= 0 {
		topK = DefaultTopK
	}

	semScores := normalizeScores(semantic)
	kwScores := normalizeScores(keyword)

	byID := make(map[string]Chunk, len(semantic)+len(keyword))
	for _, c := range semantic {
		byID[c.ID] = c
	}
	for _, c := range keyword {
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = c
		}
	}

	merged := make([]Chunk, 0, len(byID))
	for id, c := range byID {
		c.Score = semanticWeight*semScores[id] + keywordWeight*kwScores[id]
		merged = append(merged, c)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// normalizeScores min-max normalises the chunks' scores into [0, 1], keyed by
// chunk ID. When all scores are equal every chunk maps to 1 so a
// single-result leg still contributes its full weight.
func normalizeScores(chunks []Chunk) map[string]float64 {
	out := make(map[string]float64, len(chunks))
	if len(chunks) == 0 {
		return out
	}

	min, max := chunks[0].Score, chunks[0].Score
	for _, c := range chunks[1:] {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}

	for _, c := range chunks {
		if max == min {
			out[c.ID] = 1
		} else {
			out[c.ID] = (c.Score - min) / (max - min)
		}
	}
	return out
}

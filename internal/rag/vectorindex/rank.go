package vectorindex

import (
	"math"
	"sort"

	"fiqh-rag/internal/rag/schema"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector. Extra dimensions of the longer vector are ignored.
func Cosine(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Rank scores candidates against query and returns the best k as documents.
// Ties are broken by record id so results are stable.
func Rank(query []float32, candidates []Record, k int) []schema.Document {
	type scored struct {
		rec   *Record
		score float32
	}
	all := make([]scored, len(candidates))
	for i := range candidates {
		all[i] = scored{rec: &candidates[i], score: Cosine(query, candidates[i].Embedding)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].rec.ID < all[j].rec.ID
	})
	if k < len(all) {
		all = all[:k]
	}

	out := make([]schema.Document, 0, len(all))
	for _, s := range all {
		md := schema.CopyMetadata(s.rec.Metadata)
		md[schema.MetaDocumentUID] = s.rec.DocumentUID
		if s.rec.ConversationUID != "" {
			md[schema.MetaConversationUID] = s.rec.ConversationUID
		}
		if s.rec.Source != "" {
			md[schema.MetaSource] = s.rec.Source
		}
		out = append(out, schema.Document{
			ID:       s.rec.ID,
			Text:     s.rec.Content,
			Metadata: md,
			Score:    s.score,
		})
	}
	return out
}

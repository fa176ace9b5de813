package lexical

import (
	"math"
	"sort"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

type posting struct {
	doc int
	tf  int
}

type docInfo struct {
	chunkID   string
	docID     string
	sourceURL string
	length    int
}

// Index is an in-memory BM25 index. It is immutable after Build and safe for
// concurrent readers.
type Index struct {
	k1       float64
	b        float64
	docs     []docInfo
	postings map[string][]posting
	avgLen   float64
}

// Build indexes every chunk of the store in load order.
func Build(store ports.ChunkStore) *Index {
	idx := &Index{
		k1:       defaultK1,
		b:        defaultB,
		postings: make(map[string][]posting, 1024),
	}
	ids := store.IDs()
	idx.docs = make([]docInfo, 0, len(ids))
	totalLen := 0
	for _, id := range ids {
		rec, ok := store.Get(id)
		if !ok {
			continue
		}
		tokens := tokenize(rec.Text)
		docNum := len(idx.docs)
		idx.docs = append(idx.docs, docInfo{
			chunkID:   rec.ChunkID,
			docID:     rec.DocumentKey(),
			sourceURL: rec.SourceURL,
			length:    len(tokens),
		})
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term, n := range tf {
			idx.postings[term] = append(idx.postings[term], posting{doc: docNum, tf: n})
		}
	}
	if len(idx.docs) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(idx.docs))
	}
	return idx
}

func (idx *Index) Len() int {
	return len(idx.docs)
}

func (idx *Index) idf(df int) float64 {
	n := float64(len(idx.docs))
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

// Search returns at most k candidates ordered by BM25 score descending with
// ascending chunk id as the tie-break. Only chunks sharing at least one query
// term are returned.
func (idx *Index) Search(query string, k int) []domain.RetrievalCandidate {
	if k <= 0 || len(idx.docs) == 0 {
		return []domain.RetrievalCandidate{}
	}
	terms := uniqueTerms(tokenize(query))
	if len(terms) == 0 {
		return []domain.RetrievalCandidate{}
	}

	scores := make(map[int]float64, 64)
	matched := make(map[int]int, 64)
	avgLen := idx.avgLen
	if avgLen == 0 {
		avgLen = 1
	}
	for _, term := range terms {
		list := idx.postings[term]
		if len(list) == 0 {
			continue
		}
		idf := idx.idf(len(list))
		for _, p := range list {
			tf := float64(p.tf)
			norm := idx.k1 * (1 - idx.b + idx.b*float64(idx.docs[p.doc].length)/avgLen)
			scores[p.doc] += idf * (tf * (idx.k1 + 1)) / (tf + norm)
			matched[p.doc]++
		}
	}

	out := make([]domain.RetrievalCandidate, 0, len(scores))
	for doc, score := range scores {
		info := idx.docs[doc]
		out = append(out, domain.RetrievalCandidate{
			ChunkID:      info.chunkID,
			DocID:        info.docID,
			SourceURL:    info.sourceURL,
			LexicalScore: score,
			Coverage:     coverage(matched[doc], len(terms)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LexicalScore == out[j].LexicalScore {
			return out[i].ChunkID < out[j].ChunkID
		}
		return out[i].LexicalScore > out[j].LexicalScore
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// coverage is the fraction of distinct query terms a chunk matched.
func coverage(matched, terms int) float64 {
	if terms == 0 {
		return 0
	}
	return float64(matched) / float64(terms)
}

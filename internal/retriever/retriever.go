package retriever

import (
	"context"
	"fmt"
	"sort"

	"docchat/internal/indexer"

	"github.com/blevesearch/bleve/v2"
)

// DefaultTopK is how many chunks a chat turn is grounded on.
const DefaultTopK = 20

// rrfK is the Reciprocal Rank Fusion damping constant.
const rrfK = 60.0

// Result is a retrieved chunk with its fused relevance score.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	Document   string  `json:"document"`
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Retriever searches one document index.
type Retriever struct {
	Index *indexer.Index
	// Hybrid fuses BM25 ranks with vector ranks; when false only vectors are used.
	Hybrid bool
}

// NewRetriever creates a hybrid Retriever over idx.
func NewRetriever(idx *indexer.Index) *Retriever {
	return &Retriever{Index: idx, Hybrid: true}
}

// Search embeds the query and returns at most topK chunks. Vector and BM25
// candidate lists (3*topK each) are merged with Reciprocal Rank Fusion.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	candidates := topK * 3

	emb, err := r.Index.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("query embedding error: %w", err)
	}
	if len(emb) == 0 {
		return nil, fmt.Errorf("query embedding error: empty response")
	}

	matches, err := r.Index.Store.SimilaritySearch(ctx, emb[0], candidates)
	if err != nil {
		return nil, err
	}

	vectorRanks := make([]string, len(matches))
	chunks := make(map[string]Result, len(matches))
	for i, m := range matches {
		vectorRanks[i] = m.ID
		chunks[m.ID] = Result{ChunkID: m.ID, Document: m.Document, PageNumber: m.PageNumber, Text: m.Text}
	}

	rankings := [][]string{vectorRanks}
	if r.Hybrid && r.Index.BM25Index != nil {
		req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
		req.Size = candidates
		bm25, err := r.Index.BM25Index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("BM25 search error: %w", err)
		}
		var bm25Ranks, missing []string
		for _, hit := range bm25.Hits {
			bm25Ranks = append(bm25Ranks, hit.ID)
			if _, ok := chunks[hit.ID]; !ok {
				missing = append(missing, hit.ID)
			}
		}
		rankings = append(rankings, bm25Ranks)

		if len(missing) > 0 {
			records, err := r.Index.Store.Get(ctx, missing)
			if err != nil {
				return nil, err
			}
			for id, rec := range records {
				chunks[id] = Result{ChunkID: id, Document: rec.Document, PageNumber: rec.PageNumber, Text: rec.Text}
			}
		}
	}

	var results []Result
	for _, f := range Fuse(rankings...) {
		if len(results) >= topK {
			break
		}
		res, ok := chunks[f.ID]
		if !ok {
			continue
		}
		res.Score = f.Score
		results = append(results, res)
	}
	return results, nil
}

// Fused is an ID with its Reciprocal Rank Fusion score.
type Fused struct {
	ID    string
	Score float64
}

// Fuse merges ranked ID lists (best first) by Reciprocal Rank Fusion:
// score(id) = sum over lists of 1/(60 + rank). Ties keep first-seen order.
func Fuse(rankings ...[]string) []Fused {
	scores := make(map[string]float64)
	var order []string
	for _, ranking := range rankings {
		for rank, id := range ranking {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / (rrfK + float64(rank+1))
		}
	}

	fused := make([]Fused, len(order))
	for i, id := range order {
		fused[i] = Fused{ID: id, Score: scores[id]}
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}

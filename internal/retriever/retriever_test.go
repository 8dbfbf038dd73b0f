package retriever

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"docchat/internal/extractor"
	"docchat/internal/indexer"
)

// keywordEmbedder maps text onto three topic axes.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		out[i] = []float32{
			float32(strings.Count(t, "revenue")) + 0.01,
			float32(strings.Count(t, "employee")) + 0.01,
			float32(strings.Count(t, "weather")) + 0.01,
		}
	}
	return out, nil
}

func buildIndex(t *testing.T) *indexer.Index {
	t.Helper()
	pages := []extractor.Page{
		{Document: "report.pdf", PageNumber: 1, Text: "Revenue grew to ten million. Revenue growth was strong."},
		{Document: "report.pdf", PageNumber: 2, Text: "The company hired fifty employee engineers. Each employee got training."},
		{Document: "report.pdf", PageNumber: 3, Text: "The weather was sunny during the offsite."},
	}
	idx, err := indexer.Build(context.Background(), filepath.Join(t.TempDir(), "idx"), keywordEmbedder{}, pages, indexer.Options{}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

// ========== Fuse ==========

func TestFuse_SingleList(t *testing.T) {
	got := Fuse([]string{"a", "b", "c"})
	if len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("Fuse = %+v, want a,b,c", got)
	}
	if want := 1.0 / 61; got[0].Score != want {
		t.Errorf("top score = %f, want %f", got[0].Score, want)
	}
}

func TestFuse_AgreementWins(t *testing.T) {
	got := Fuse([]string{"a", "b", "c"}, []string{"c", "b", "d"})
	if got[0].ID != "b" && got[0].ID != "c" {
		t.Errorf("expected an ID ranked in both lists first, got %s", got[0].ID)
	}
	for _, f := range got {
		if f.ID == "d" && f.Score >= got[0].Score {
			t.Errorf("single-list id d should not outrank fused ids")
		}
	}
	if len(got) != 4 {
		t.Errorf("expected 4 unique ids, got %d", len(got))
	}
}

func TestFuse_Empty(t *testing.T) {
	if got := Fuse(); len(got) != 0 {
		t.Errorf("expected empty result, got %+v", got)
	}
}

// ========== Search ==========

func TestSearch_FindsRelevantChunk(t *testing.T) {
	r := NewRetriever(buildIndex(t))

	results, err := r.Search(context.Background(), "How many employee hires?", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].PageNumber != 2 {
		t.Errorf("top result page = %d, want 2 (%q)", results[0].PageNumber, results[0].Text)
	}
	if results[0].Document != "report.pdf" || results[0].Score <= 0 {
		t.Errorf("result = %+v, want report.pdf with positive score", results[0])
	}
}

func TestSearch_VectorOnly(t *testing.T) {
	r := NewRetriever(buildIndex(t))
	r.Hybrid = false

	results, err := r.Search(context.Background(), "revenue", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].PageNumber != 1 {
		t.Errorf("top result page = %d, want 1", results[0].PageNumber)
	}
}

func TestSearch_DefaultTopKCapsAtCorpus(t *testing.T) {
	r := NewRetriever(buildIndex(t))
	results, err := r.Search(context.Background(), "weather", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected all 3 chunks, got %d", len(results))
	}
	seen := map[string]bool{}
	for _, res := range results {
		if seen[res.ChunkID] {
			t.Errorf("duplicate chunk %s", res.ChunkID)
		}
		seen[res.ChunkID] = true
	}
}

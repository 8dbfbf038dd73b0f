package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docchat/internal/extractor"
	"docchat/internal/vectorstore"

	"github.com/blevesearch/bleve/v2"
)

// ErrNoChunks is returned when a document produces nothing to embed.
var ErrNoChunks = errors.New("document produced no chunks")

const (
	manifestFile = "manifest.json"
	vectorsFile  = "vectors.db"
	bm25Dir      = "bm25.index"

	maxAttempts = 5
	maxBackoff  = 20 * time.Second
)

// retryBaseDelay is the first backoff between embedding attempts; it doubles per attempt.
var retryBaseDelay = 3 * time.Second

// Chunk is a piece of a document page to be embedded and indexed.
type Chunk struct {
	ID         string    `json:"id"`
	Document   string    `json:"document"`
	PageNumber int       `json:"page_number"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Options tunes chunking and embedding. Zero values take defaults.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Concurrency  int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// ProgressFunc is called during embedding with (totalChunks, chunksDone).
type ProgressFunc func(total, done int)

// Manifest describes a built index and is stored next to it.
type Manifest struct {
	Document       string    `json:"document"`
	Pages          int       `json:"pages"`
	Chunks         int       `json:"chunks"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Index is the on-disk index of one document: embeddings in SQLite and a
// BM25 index in bleve, both under Dir.
type Index struct {
	Dir       string
	Manifest  Manifest
	Store     *vectorstore.Store
	BM25Index bleve.Index
	Embedder  Embedder

	mu sync.Mutex // serialises writes from embedding workers
}

// ChunkPages splits every page into chunks of at most size characters.
// Chunk IDs are chunk_<n>, numbered across the whole document.
func ChunkPages(pages []extractor.Page, size, overlap int) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		for _, text := range SplitText(page.Text, size, overlap) {
			chunks = append(chunks, Chunk{
				ID:         fmt.Sprintf("chunk_%d", len(chunks)),
				Document:   page.Document,
				PageNumber: page.PageNumber,
				Text:       text,
			})
		}
	}
	return chunks
}

// Build replaces whatever is in dir with a fresh index of pages.
// On failure dir is removed so a half-built index is never reopened.
func Build(ctx context.Context, dir string, embedder Embedder, pages []extractor.Page, opts Options, progress ProgressFunc) (*Index, error) {
	opts = opts.withDefaults()

	chunks := ChunkPages(pages, opts.ChunkSize, opts.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	log.Printf("Chunking complete: %d chunks from %d pages", len(chunks), len(pages))

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear index dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	store, err := vectorstore.Open(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, err
	}
	bm25, err := bleve.New(filepath.Join(dir, bm25Dir), bleve.NewIndexMapping())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create BM25 index: %w", err)
	}

	idx := &Index{
		Dir:       dir,
		Store:     store,
		BM25Index: bm25,
		Embedder:  embedder,
		Manifest: Manifest{
			Document:       pages[0].Document,
			Pages:          len(pages),
			Chunks:         len(chunks),
			EmbeddingModel: modelName(embedder),
			CreatedAt:      time.Now(),
		},
	}

	fail := func(err error) (*Index, error) {
		_ = idx.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}

	if progress != nil {
		progress(len(chunks), 0)
	}
	if err := idx.embedAndIndex(ctx, chunks, opts, progress); err != nil {
		return fail(err)
	}
	if err := idx.writeManifest(); err != nil {
		return fail(err)
	}
	return idx, nil
}

// Open reopens an index previously written by Build.
func Open(dir string, embedder Embedder) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("no index in %s: %w", dir, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest in %s: %w", dir, err)
	}

	store, err := vectorstore.Open(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, err
	}
	bm25, err := bleve.Open(filepath.Join(dir, bm25Dir))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}

	if want := modelName(embedder); want != "" && m.EmbeddingModel != "" && want != m.EmbeddingModel {
		log.Printf("Warning: index %s was built with %s, querying with %s", dir, m.EmbeddingModel, want)
	}

	return &Index{
		Dir:       dir,
		Manifest:  m,
		Store:     store,
		BM25Index: bm25,
		Embedder:  embedder,
	}, nil
}

// Exists reports whether dir holds a completed index.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifestFile))
	return err == nil
}

// embedAndIndex embeds chunks in batches with bounded concurrency and retries,
// writing each finished batch to both the vector store and the BM25 index.
func (idx *Index) embedAndIndex(ctx context.Context, chunks []Chunk, opts Options, progress ProgressFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := len(chunks)
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	var done int
	var doneMu sync.Mutex

	setErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

batches:
	for start := 0; start < total; start += opts.BatchSize {
		end := min(start+opts.BatchSize, total)

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			setErr(ctx.Err())
			break batches
		}
		wg.Add(1)

		go func(batch []Chunk) {
			defer wg.Done()
			defer func() { <-sem }()

			inputs := make([]string, len(batch))
			for i, c := range batch {
				inputs[i] = c.Text
			}

			embeddings, err := idx.embedWithRetry(ctx, inputs)
			if err != nil {
				setErr(err)
				return
			}

			if err := idx.write(ctx, batch, embeddings); err != nil {
				setErr(err)
				return
			}

			doneMu.Lock()
			done += len(batch)
			if progress != nil {
				progress(total, done)
			}
			log.Printf("Embedded %d / %d chunks", done, total)
			doneMu.Unlock()
		}(chunks[start:end])
	}

	wg.Wait()
	return firstErr
}

func (idx *Index) embedWithRetry(ctx context.Context, inputs []string) ([][]float32, error) {
	var embeddings [][]float32
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		embeddings, err = idx.Embedder.Embed(ctx, inputs)
		if err == nil {
			return embeddings, nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		wait := min(retryBaseDelay*time.Duration(1<<uint(attempt)), maxBackoff)
		log.Printf("Embedding batch retry %d after %v: %v", attempt+1, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("embedding error on batch: %w", err)
}

func (idx *Index) write(ctx context.Context, batch []Chunk, embeddings [][]float32) error {
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
	}

	records := make([]vectorstore.Record, len(batch))
	for i, c := range batch {
		records[i] = vectorstore.Record{
			ID:         c.ID,
			Document:   c.Document,
			PageNumber: c.PageNumber,
			Text:       c.Text,
			Embedding:  embeddings[i],
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.Store.AddRecords(ctx, records); err != nil {
		return err
	}

	b := idx.BM25Index.NewBatch()
	for _, c := range batch {
		if err := b.Index(c.ID, map[string]interface{}{
			"text": c.Text,
			"doc":  c.Document,
			"page": c.PageNumber,
		}); err != nil {
			log.Printf("Failed to index BM25 for %s: %v", c.ID, err)
		}
	}
	return idx.BM25Index.Batch(b)
}

func (idx *Index) writeManifest() error {
	data, err := json.MarshalIndent(idx.Manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(idx.Dir, manifestFile), data, 0644)
}

// Close releases the vector store and the BM25 index.
func (idx *Index) Close() error {
	var errs []error
	if idx.Store != nil {
		errs = append(errs, idx.Store.Close())
	}
	if idx.BM25Index != nil {
		errs = append(errs, idx.BM25Index.Close())
	}
	return errors.Join(errs...)
}

func modelName(e Embedder) string {
	if m, ok := e.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

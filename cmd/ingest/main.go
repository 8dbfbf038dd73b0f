package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"docchat/internal/assistant"
	"docchat/internal/chat"
	"docchat/internal/config"
	"docchat/internal/extractor"
	"docchat/internal/indexer"
	"docchat/internal/retriever"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to YAML config")
	out := flag.String("out", "", "write a standalone index to dir instead of adding the file to the terminal chat")
	query := flag.String("query", "", "search the finished index and print the top matches")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ingest [-config f] [-out dir] [-query q] file.pdf|file.docx\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.OpenAI.APIKey == "" {
		log.Fatal("OPENAI_API_KEY environment variable is required")
	}
	if !extractor.AllowedFile(path) {
		log.Fatalf("Unsupported file %s: only PDF and DOCX are indexed", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	embedder := indexer.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel)
	start := time.Now()
	fmt.Printf("Processing %s...\n", path)

	var dir string
	if *out == "" {
		dir = ingestForChat(ctx, cfg, embedder, path)
	} else {
		dir = *out
		buildInto(ctx, cfg, embedder, path, dir)
	}
	fmt.Printf("Done in %v\n", time.Since(start).Round(time.Millisecond))

	if *query == "" {
		return
	}
	idx, err := indexer.Open(dir, embedder)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", dir, err)
	}
	defer idx.Close()

	ret := retriever.NewRetriever(idx)
	ret.Hybrid = cfg.HybridEnabled()
	results, err := ret.Search(ctx, *query, 5)
	if err != nil {
		log.Printf("Search failed: %v", err)
		return
	}
	for i, r := range results {
		preview := []rune(r.Text)
		if len(preview) > 160 {
			preview = append(preview[:160], '.', '.', '.')
		}
		fmt.Printf("%d. %s p.%d (%.4f)\n   %s\n", i+1, r.Document, r.PageNumber, r.Score, string(preview))
	}
}

// ingestForChat indexes path the way an upload from the terminal client
// would, so the next `chat` session starts with it active.
func ingestForChat(ctx context.Context, cfg *config.Config, embedder indexer.Embedder, path string) string {
	history, err := chat.NewHistoryStore(cfg.HistoryPath())
	if err != nil {
		log.Fatalf("Failed to open chat history: %v", err)
	}
	// No chat provider: ingest never answers questions.
	svc := assistant.New(history, embedder, nil, assistant.Options{
		UploadDir: cfg.UploadDir(),
		IndexDir:  cfg.IndexDir(),
		Indexing:  cfg.IndexerOptions(),
		Hybrid:    cfg.HybridEnabled(),
	})
	res, err := ingestLocal(ctx, svc, path)
	svc.Close()
	if err != nil {
		log.Fatalf("Failed to index %s: %v", path, err)
	}
	fmt.Printf("Indexed %s: %d pages, %d chunks; active in the terminal chat\n", res.Filename, res.Pages, res.Chunks)
	return filepath.Join(cfg.IndexDir(), localUser, res.Filename)
}

// buildInto writes a standalone index of path to dir.
func buildInto(ctx context.Context, cfg *config.Config, embedder indexer.Embedder, path, dir string) {
	pages, err := extractor.Extract(path)
	if err != nil {
		log.Fatalf("Failed to extract %s: %v", path, err)
	}
	fmt.Printf("Extracted %d pages from %s\n", len(pages), filepath.Base(path))

	progress := func(total, done int) {
		fmt.Printf("\rEmbedded %d/%d chunks", done, total)
	}
	idx, err := indexer.Build(ctx, dir, embedder, pages, cfg.IndexerOptions(), progress)
	fmt.Println()
	if err != nil {
		log.Fatalf("Failed to index %s: %v", path, err)
	}
	fmt.Printf("Indexed %d chunks into %s\n", idx.Manifest.Chunks, dir)
	if err := idx.Close(); err != nil {
		log.Printf("Warning: closing index: %v", err)
	}
}

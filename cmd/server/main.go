package main

import (
	"flag"
	"log"
	"net/http"

	"docchat/internal/assistant"
	"docchat/internal/chat"
	"docchat/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.OpenAI.APIKey == "" {
		log.Printf("Warning: no OpenAI API key configured; set OPENAI_API_KEY or save one in settings")
	}

	history, err := chat.NewHistoryStore(cfg.HistoryPath())
	if err != nil {
		log.Fatalf("Failed to init chat history: %v", err)
	}

	embedder, provider, err := buildModels(cfg)
	if err != nil {
		log.Fatalf("Failed to init models: %v", err)
	}
	svc := assistant.New(history, embedder, provider, assistantOptions(cfg))
	defer svc.Close()

	srv := newServer(cfg, svc)

	log.Printf("Chat model %s, embeddings %s, data in %s", cfg.OpenAI.ChatModel, cfg.OpenAI.EmbeddingModel, cfg.DataDir)
	log.Printf("docchat server starting on http://localhost%s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, srv.routes()); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"docchat/internal/assistant"
	"docchat/internal/chat"
	"docchat/internal/config"
	"docchat/internal/indexer"
	"docchat/internal/llm"
	"docchat/internal/tui"
)

const localUser = "local"

// localSession binds the assistant to the terminal user.
type localSession struct {
	ctx context.Context
	svc *assistant.Service
}

func (s localSession) Ask(question string) (*assistant.Reply, error) {
	return s.svc.Chat(s.ctx, localUser, question)
}

func (s localSession) Load(path string) (*assistant.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.svc.Upload(s.ctx, localUser, filepath.Base(path), f)
}

func (s localSession) NewChat() error {
	_, err := s.svc.NewChat(localUser)
	return err
}

func (s localSession) Status() assistant.Status { return s.svc.Status(localUser) }

func (s localSession) History() []chat.Message { return s.svc.CurrentMessages(localUser) }

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.OpenAI.APIKey == "" {
		fmt.Fprintln(os.Stderr, "OPENAI_API_KEY environment variable is required")
		os.Exit(1)
	}

	// Log lines would corrupt the terminal UI.
	_ = os.MkdirAll(cfg.DataDir, 0755)
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "chat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	history, err := chat.NewHistoryStore(cfg.HistoryPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		os.Exit(1)
	}
	embedder := indexer.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel)
	provider, err := llm.NewProvider(cfg.LLMConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "llm:", err)
		os.Exit(1)
	}

	svc := assistant.New(history, embedder, provider, assistant.Options{
		UploadDir: cfg.UploadDir(),
		IndexDir:  cfg.IndexDir(),
		Indexing:  cfg.IndexerOptions(),
		TopK:      cfg.Retrieval.TopK,
		Hybrid:    cfg.HybridEnabled(),
		CacheSize: cfg.Retrieval.CacheSize,
	})
	defer svc.Close()

	if _, err := svc.EnsureConversation(localUser); err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		os.Exit(1)
	}

	session := localSession{ctx: context.Background(), svc: svc}
	p := tea.NewProgram(tui.New(session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		os.Exit(1)
	}
}

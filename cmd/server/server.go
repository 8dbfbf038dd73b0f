package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"docchat/internal/assistant"
	"docchat/internal/config"
	"docchat/internal/indexer"
	"docchat/internal/llm"
)

const userCookie = "docchat_uid"

// Server holds all shared state.
type Server struct {
	mu        sync.RWMutex // guards cfg.OpenAI
	cfg       *config.Config
	assistant *assistant.Service
	staticDir string

	// newModels builds the embedder and chat provider for the current config.
	newModels func(cfg *config.Config) (indexer.Embedder, llm.Provider, error)
}

func newServer(cfg *config.Config, svc *assistant.Service) *Server {
	return &Server{
		cfg:       cfg,
		assistant: svc,
		staticDir: "static",
		newModels: buildModels,
	}
}

// buildModels creates the OpenAI embedder and chat provider for cfg.
func buildModels(cfg *config.Config) (indexer.Embedder, llm.Provider, error) {
	embedder := indexer.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel)
	provider, err := llm.NewProvider(cfg.LLMConfig())
	if err != nil {
		return nil, nil, err
	}
	return embedder, provider, nil
}

func assistantOptions(cfg *config.Config) assistant.Options {
	return assistant.Options{
		UploadDir: cfg.UploadDir(),
		IndexDir:  cfg.IndexDir(),
		Indexing:  cfg.IndexerOptions(),
		TopK:      cfg.Retrieval.TopK,
		Hybrid:    cfg.HybridEnabled(),
		CacheSize: cfg.Retrieval.CacheSize,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))

	// Documents & chat
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws/chat", s.handleChatSocket)
	mux.HandleFunc("GET /status", s.handleStatus)

	// Conversations
	mux.HandleFunc("GET /conversations", s.handleConversations)
	mux.HandleFunc("GET /conversation/{id}", s.handleConversationMessages)
	mux.HandleFunc("POST /conversation/{id}/switch", s.handleSwitchConversation)
	mux.HandleFunc("DELETE /conversation/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /new_chat", s.handleNewChat)
	mux.HandleFunc("GET /current_messages", s.handleCurrentMessages)

	// Settings
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSaveSettings)

	return corsMiddleware(userMiddleware(mux))
}

// ========== Middleware ==========

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

// userMiddleware identifies the browser by the docchat_uid cookie, issuing a
// new UUID when the cookie is missing or malformed.
func userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var uid string
		if c, err := r.Cookie(userCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				uid = c.Value
			}
		}
		if uid == "" {
			uid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     userCookie,
				Value:    uid,
				Path:     "/",
				Expires:  time.Now().AddDate(1, 0, 0),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userKey{}).(string)
	return uid
}

// ========== Helpers ==========

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": msg,
	})
}

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"docchat/internal/config"
)

// ========== Settings Endpoints ==========

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := map[string]interface{}{
		"openai_key":      config.MaskKey(s.cfg.OpenAI.APIKey),
		"base_url":        s.cfg.OpenAI.BaseURL,
		"chat_model":      s.cfg.OpenAI.ChatModel,
		"embedding_model": s.cfg.OpenAI.EmbeddingModel,
	}
	s.mu.RUnlock()
	jsonResp(w, resp)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpenAIKey      string `json:"openai_key"`
		ChatModel      string `json:"chat_model"`
		EmbeddingModel string `json:"embedding_model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	// A masked key echoed back by the UI means "unchanged".
	if req.OpenAIKey != "" && !strings.Contains(req.OpenAIKey, "...") && req.OpenAIKey != "****" {
		s.cfg.OpenAI.APIKey = req.OpenAIKey
	}
	if req.ChatModel != "" {
		s.cfg.OpenAI.ChatModel = req.ChatModel
	}
	if req.EmbeddingModel != "" {
		s.cfg.OpenAI.EmbeddingModel = req.EmbeddingModel
	}
	saved := config.Settings{
		OpenAIKey:      s.cfg.OpenAI.APIKey,
		ChatModel:      s.cfg.OpenAI.ChatModel,
		EmbeddingModel: s.cfg.OpenAI.EmbeddingModel,
	}
	embedder, provider, err := s.newModels(s.cfg)
	dataDir := s.cfg.DataDir
	s.mu.Unlock()

	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.assistant.Reconfigure(embedder, provider)

	if err := config.SaveSettings(dataDir, saved); err != nil {
		log.Printf("Failed to persist settings: %v", err)
	}

	log.Printf("Settings updated: chat=%s, embeddings=%s", saved.ChatModel, saved.EmbeddingModel)
	jsonResp(w, map[string]interface{}{"success": true})
}

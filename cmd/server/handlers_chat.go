package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"docchat/internal/assistant"
)

// ========== Page ==========

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	convID, err := s.assistant.EnsureConversation(userID(r))
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	page := filepath.Join(s.staticDir, "index.html")
	if _, err := os.Stat(page); err == nil {
		http.ServeFile(w, r, page)
		return
	}
	jsonResp(w, map[string]interface{}{
		"success":         true,
		"conversation_id": convID,
	})
}

// ========== Chat Endpoints ==========

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := s.assistant.Chat(r.Context(), userID(r), req.Message)
	if errors.Is(err, assistant.ErrEmptyQuestion) {
		jsonErr(w, "Please enter a message", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("Chat failed for user %s: %v", userID(r), err)
		jsonErr(w, "Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResp(w, map[string]interface{}{
		"success":      true,
		"response":     reply.Response,
		"has_document": reply.HasDocument,
		"current_file": reply.CurrentFile,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, s.assistant.Status(userID(r)))
}

package main

import (
	"errors"
	"net/http"

	"docchat/internal/chat"
)

// ========== Conversation Endpoints ==========

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, s.assistant.Conversations(userID(r)))
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, map[string]interface{}{
		"messages": s.assistant.ConversationMessages(userID(r), r.PathValue("id")),
	})
}

func (s *Server) handleSwitchConversation(w http.ResponseWriter, r *http.Request) {
	res, err := s.assistant.Switch(r.Context(), userID(r), r.PathValue("id"))
	if errors.Is(err, chat.ErrConversationNotFound) {
		jsonErr(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResp(w, map[string]interface{}{
		"success":       true,
		"messages":      res.Messages,
		"document_file": res.DocumentFile,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	err := s.assistant.Delete(userID(r), r.PathValue("id"))
	if errors.Is(err, chat.ErrConversationNotFound) {
		jsonErr(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, map[string]bool{"success": true})
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	id, err := s.assistant.NewChat(userID(r))
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, map[string]interface{}{
		"success":         true,
		"conversation_id": id,
	})
}

func (s *Server) handleCurrentMessages(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, map[string]interface{}{
		"messages": s.assistant.CurrentMessages(userID(r)),
	})
}

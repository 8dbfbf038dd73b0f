package main

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"docchat/internal/assistant"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// chatFrame is sent server -> client on /ws/chat.
type chatFrame struct {
	Type        string `json:"type"` // delta, done, error
	Content     string `json:"content,omitempty"`
	Response    string `json:"response,omitempty"`
	HasDocument bool   `json:"has_document,omitempty"`
	CurrentFile string `json:"current_file,omitempty"`
	Message     string `json:"message,omitempty"`
}

// handleChatSocket streams replies over a websocket. Each client frame
// {"message": "..."} yields delta frames followed by one done or error frame.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Websocket read for user %s: %v", uid, err)
			}
			return
		}

		reply, err := s.assistant.ChatStream(r.Context(), uid, req.Message, func(delta string) error {
			return conn.WriteJSON(chatFrame{Type: "delta", Content: delta})
		})
		if err != nil {
			msg := "Error: " + err.Error()
			if errors.Is(err, assistant.ErrEmptyQuestion) {
				msg = "Please enter a message"
			}
			if werr := conn.WriteJSON(chatFrame{Type: "error", Message: msg}); werr != nil {
				return
			}
			continue
		}

		done := chatFrame{
			Type:        "done",
			Response:    reply.Response,
			HasDocument: reply.HasDocument,
			CurrentFile: reply.CurrentFile,
		}
		if err := conn.WriteJSON(done); err != nil {
			return
		}
	}
}

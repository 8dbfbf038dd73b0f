package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrConversationNotFound is returned for unknown user/conversation pairs.
var ErrConversationNotFound = errors.New("conversation not found")

const (
	defaultTitle   = "New Chat"
	titleMaxLength = 30
)

// ==================== Types ====================

// Message is one question/answer turn.
type Message struct {
	Timestamp   string `json:"timestamp"` // "HH:MM"
	Message     string `json:"message"`
	Response    string `json:"response"`
	HasDocument bool   `json:"has_document"`
}

// Conversation is a titled list of turns, optionally tied to a document.
type Conversation struct {
	Title        string    `json:"title"`
	CreatedAt    Timestamp `json:"created_at"`
	Messages     []Message `json:"messages"`
	DocumentFile string    `json:"document_file"`
}

// UserSession holds all conversations of one user and which one is current.
type UserSession struct {
	Conversations       map[string]*Conversation `json:"conversations"`
	CurrentConversation string                   `json:"current_conversation"`
}

// ConversationSummary is the sidebar view of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    Timestamp `json:"created_at"`
	MessageCount int       `json:"message_count"`
	DocumentFile string    `json:"document_file"`
}

type histories struct {
	UserSessions map[string]*UserSession `json:"user_sessions"`
}

// ==================== HistoryStore ====================

// HistoryStore keeps every user's conversations in one JSON file.
// The whole file is rewritten after each change.
type HistoryStore struct {
	mu   sync.Mutex
	path string
	data histories

	now   func() time.Time
	newID func() string
}

// NewHistoryStore loads path, treating a missing or unreadable file as empty.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}

	s := &HistoryStore{
		path:  path,
		now:   time.Now,
		newID: uuid.NewString,
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &s.data); err != nil {
			log.Printf("Warning: could not parse %s, starting empty: %v", path, err)
			_ = os.WriteFile(path+".corrupt", data, 0644)
			s.data = histories{}
		}
	}
	if s.data.UserSessions == nil {
		s.data.UserSessions = make(map[string]*UserSession)
	}
	return s, nil
}

// save writes to a temp file and renames it over the real one.
func (s *HistoryStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to save chat histories: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to save chat histories: %w", err)
	}
	return nil
}

func (s *HistoryStore) user(userID string) *UserSession {
	u, ok := s.data.UserSessions[userID]
	if !ok {
		u = &UserSession{Conversations: make(map[string]*Conversation)}
		s.data.UserSessions[userID] = u
	}
	if u.Conversations == nil {
		u.Conversations = make(map[string]*Conversation)
	}
	return u
}

func (s *HistoryStore) lookup(userID, convID string) (*Conversation, bool) {
	u, ok := s.data.UserSessions[userID]
	if !ok || convID == "" {
		return nil, false
	}
	c, ok := u.Conversations[convID]
	return c, ok
}

// create adds an empty conversation and makes it current. Caller holds mu.
func (s *HistoryStore) create(userID string) string {
	id := s.newID()
	u := s.user(userID)
	u.Conversations[id] = &Conversation{
		Title:     defaultTitle,
		CreatedAt: Timestamp{s.now()},
		Messages:  []Message{},
	}
	u.CurrentConversation = id
	return id
}

// ensure returns the current conversation, creating one if needed. Caller holds mu.
func (s *HistoryStore) ensure(userID string) (string, bool) {
	if u, ok := s.data.UserSessions[userID]; ok {
		if _, ok := u.Conversations[u.CurrentConversation]; ok {
			return u.CurrentConversation, false
		}
	}
	return s.create(userID), true
}

// ==================== Conversation CRUD ====================

// CreateConversation starts a new conversation and makes it current.
func (s *HistoryStore) CreateConversation(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.create(userID)
	return id, s.save()
}

// EnsureConversation returns the user's current conversation, creating one
// when the user is new or the current one no longer exists.
func (s *HistoryStore) EnsureConversation(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, created := s.ensure(userID)
	if !created {
		return id, nil
	}
	return id, s.save()
}

// CurrentConversation returns the current conversation ID, or "" if none.
func (s *HistoryStore) CurrentConversation(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.UserSessions[userID]
	if !ok {
		return ""
	}
	if _, ok := u.Conversations[u.CurrentConversation]; !ok {
		return ""
	}
	return u.CurrentConversation
}

// Conversation returns a copy of one conversation.
func (s *HistoryStore) Conversation(userID, convID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookup(userID, convID)
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	return c.clone(), nil
}

// ListConversations returns the user's conversations, newest first.
func (s *HistoryStore) ListConversations(userID string) []ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data.UserSessions[userID]
	if !ok {
		return []ConversationSummary{}
	}
	out := make([]ConversationSummary, 0, len(u.Conversations))
	for id, c := range u.Conversations {
		out = append(out, ConversationSummary{
			ID:           id,
			Title:        c.Title,
			CreatedAt:    c.CreatedAt,
			MessageCount: len(c.Messages),
			DocumentFile: c.DocumentFile,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt.Time)
	})
	return out
}

// Switch makes convID the current conversation and returns a copy of it.
func (s *HistoryStore) Switch(userID, convID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookup(userID, convID)
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	s.data.UserSessions[userID].CurrentConversation = convID
	return c.clone(), s.save()
}

// Delete removes a conversation. If it was current, a fresh conversation
// becomes current and wasCurrent is true.
func (s *HistoryStore) Delete(userID, convID string) (wasCurrent bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(userID, convID); !ok {
		return false, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	u := s.data.UserSessions[userID]
	delete(u.Conversations, convID)

	if u.CurrentConversation == convID {
		wasCurrent = true
		s.create(userID)
	}
	return wasCurrent, s.save()
}

// SetDocument records which document a conversation is about.
func (s *HistoryStore) SetDocument(userID, convID, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookup(userID, convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	c.DocumentFile = file
	return s.save()
}

// ==================== Messages ====================

// AddMessage appends a turn to the user's current conversation (creating one
// if needed) and returns its ID. The first turn names the conversation; a turn
// answered from a document records that document on the conversation.
func (s *HistoryStore) AddMessage(userID, message, response string, hasDocument bool, documentFile string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := s.ensure(userID)
	c := s.data.UserSessions[userID].Conversations[id]

	if len(c.Messages) == 0 {
		c.Title = GenerateTitle(message)
	}
	c.Messages = append(c.Messages, Message{
		Timestamp:   s.now().Format("15:04"),
		Message:     message,
		Response:    response,
		HasDocument: hasDocument,
	})
	if hasDocument {
		c.DocumentFile = documentFile
	}
	return id, s.save()
}

// Messages returns the turns of convID, or of the current conversation when
// convID is empty. Unknown conversations yield an empty slice.
func (s *HistoryStore) Messages(userID, convID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convID == "" {
		if u, ok := s.data.UserSessions[userID]; ok {
			convID = u.CurrentConversation
		}
	}
	c, ok := s.lookup(userID, convID)
	if !ok {
		return []Message{}
	}
	return c.clone().Messages
}

// GenerateTitle derives a conversation title from its first message.
func GenerateTitle(message string) string {
	title := strings.TrimSpace(message)
	if r := []rune(title); len(r) > titleMaxLength {
		title = string(r[:titleMaxLength]) + "..."
	}
	return title
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = append([]Message{}, c.Messages...)
	return out
}

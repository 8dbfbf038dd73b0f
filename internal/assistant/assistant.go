// Package assistant answers questions for many users, each with their own
// conversations and, per user, at most one active document.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docchat/internal/chat"
	"docchat/internal/extractor"
	"docchat/internal/indexer"
	"docchat/internal/llm"
	"docchat/internal/retriever"
)

var (
	// ErrEmptyQuestion is returned for blank chat input.
	ErrEmptyQuestion = errors.New("please enter a message")
	// ErrNoDocument is returned when an upload or index operation names a
	// file that is not on disk.
	ErrNoDocument = errors.New("document not found")
)

// Options configures a Service. Zero values take defaults.
type Options struct {
	UploadDir string // uploads are stored under UploadDir/<user>/
	IndexDir  string // indexes are stored under IndexDir/<user>/<file>/
	Indexing  indexer.Options
	TopK      int
	Hybrid    bool
	CacheSize int

	// Extract overrides document loading; nil means extractor.Extract.
	Extract func(path string) ([]extractor.Page, error)
}

// Reply is the outcome of one chat turn.
type Reply struct {
	Response    string `json:"response"`
	HasDocument bool   `json:"has_document"`
	CurrentFile string `json:"current_file"`
}

// Status describes a user's active document.
type Status struct {
	HasDocument bool   `json:"has_document"`
	CurrentFile string `json:"current_file"`
}

// UploadResult describes a freshly indexed document.
type UploadResult struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Chunks   int    `json:"chunks"`
}

// ConversationList is the sidebar listing for a user.
type ConversationList struct {
	Conversations []chat.ConversationSummary `json:"conversations"`
	CurrentID     string                     `json:"current_conversation_id"`
}

// SwitchResult is what the client needs after changing conversation.
type SwitchResult struct {
	Messages     []chat.Message `json:"messages"`
	DocumentFile string         `json:"document_file"`
}

// document is a user's active document.
type document struct {
	File   string
	Upload string // path of the uploaded file
	Dir    string // index directory
}

// Service ties the chat history, the indexes and the LLM together.
type Service struct {
	history *chat.HistoryStore
	opts    Options
	cache   *indexCache
	extract func(path string) ([]extractor.Page, error)

	mu       sync.RWMutex
	embedder indexer.Embedder
	provider llm.Provider
	active   map[string]document // user ID -> active document
	dirLocks map[string]*sync.Mutex
}

// New creates a Service.
func New(history *chat.HistoryStore, embedder indexer.Embedder, provider llm.Provider, opts Options) *Service {
	if opts.UploadDir == "" {
		opts.UploadDir = filepath.Join("data", "uploads")
	}
	if opts.IndexDir == "" {
		opts.IndexDir = filepath.Join("data", "indexes")
	}
	if opts.TopK <= 0 {
		opts.TopK = retriever.DefaultTopK
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 5
	}
	if opts.Extract == nil {
		opts.Extract = extractor.Extract
	}
	return &Service{
		history:  history,
		opts:     opts,
		cache:    newIndexCache(opts.CacheSize),
		extract:  opts.Extract,
		embedder: embedder,
		provider: provider,
		active:   make(map[string]document),
		dirLocks: make(map[string]*sync.Mutex),
	}
}

// Reconfigure swaps the embedder and chat provider, e.g. after the API key
// changes. Open indexes are dropped so they are reopened with the new embedder.
func (s *Service) Reconfigure(embedder indexer.Embedder, provider llm.Provider) {
	s.mu.Lock()
	s.embedder = embedder
	s.provider = provider
	s.mu.Unlock()
	s.cache.purge()
}

// Close releases every cached index.
func (s *Service) Close() {
	s.cache.purge()
}

func (s *Service) models() (indexer.Embedder, llm.Provider) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedder, s.provider
}

// ========== Document Lifecycle ==========

// Upload stores the file for userID, indexes it and makes it the active
// document of the current conversation. The bytes are staged next to the
// user's uploads and only replace an existing file of the same name once its
// index is built, so on failure the previous upload, index and active
// document are all kept.
func (s *Service) Upload(ctx context.Context, userID, filename string, src io.Reader) (*UploadResult, error) {
	if !extractor.AllowedFile(filename) {
		return nil, fmt.Errorf("%w: %s", extractor.ErrUnsupportedFormat, filename)
	}
	name := SafeFilename(filename)
	doc := s.documentFor(userID, name)

	userDir := filepath.Dir(doc.Upload)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	incoming, err := os.MkdirTemp(userDir, ".incoming-")
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	defer os.RemoveAll(incoming)

	staged := filepath.Join(incoming, name)
	dst, err := os.Create(staged)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	return s.index(ctx, userID, doc, staged)
}

// Index (re)builds the index of an uploaded file and activates it.
func (s *Service) Index(ctx context.Context, userID, filename string) (*UploadResult, error) {
	doc := s.documentFor(userID, SafeFilename(filename))
	if !fileExists(doc.Upload) {
		return nil, fmt.Errorf("%w: %s", ErrNoDocument, doc.File)
	}
	return s.index(ctx, userID, doc, doc.Upload)
}

func (s *Service) index(ctx context.Context, userID string, doc document, src string) (*UploadResult, error) {
	entry, err := s.build(ctx, doc, src)
	if err != nil {
		return nil, err
	}
	res := &UploadResult{
		Filename: doc.File,
		Pages:    entry.idx.Manifest.Pages,
		Chunks:   entry.idx.Manifest.Chunks,
	}
	s.cache.release(entry)

	convID, err := s.history.EnsureConversation(userID)
	if err != nil {
		return nil, err
	}
	if err := s.history.SetDocument(userID, convID, doc.File); err != nil {
		return nil, err
	}
	s.setActive(userID, doc)

	log.Printf("Indexed %s for user %s: %d pages, %d chunks", doc.File, userID, res.Pages, res.Chunks)
	return res, nil
}

// stagingSuffix names the sibling directory an index is built in before it
// replaces doc.Dir.
const stagingSuffix = ".staging"

// build indexes src into a staging directory. Only once that succeeds is the
// cached index evicted, the staged index moved over doc.Dir and src moved
// over doc.Upload; until then the existing upload and index are untouched.
// The returned entry is acquired.
func (s *Service) build(ctx context.Context, doc document, src string) (*cachedIndex, error) {
	unlock := s.lockDir(doc.Dir)
	defer unlock()

	pages, err := s.extract(src)
	if err != nil {
		return nil, err
	}
	embedder, _ := s.models()
	progress := func(total, done int) {
		log.Printf("Embedding %s: %d/%d chunks", doc.File, done, total)
	}
	staging := doc.Dir + stagingSuffix
	built, err := indexer.Build(ctx, staging, embedder, pages, s.opts.Indexing, progress)
	if err != nil {
		return nil, err
	}
	if err := built.Close(); err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to finish index: %w", err)
	}

	s.cache.remove(doc.Dir)
	if err := os.RemoveAll(doc.Dir); err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to replace index: %w", err)
	}
	if err := os.Rename(staging, doc.Dir); err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to replace index: %w", err)
	}
	if src != doc.Upload {
		if err := os.Rename(src, doc.Upload); err != nil {
			_ = os.RemoveAll(doc.Dir)
			return nil, fmt.Errorf("failed to save upload: %w", err)
		}
	}

	idx, err := indexer.Open(doc.Dir, embedder)
	if err != nil {
		return nil, err
	}
	return s.cache.add(doc.Dir, s.wrap(idx)), nil
}

// load returns doc's index from the cache, from disk, or, when allowBuild is
// set, by building it from the upload. The returned entry is acquired.
func (s *Service) load(ctx context.Context, doc document, allowBuild bool) (*cachedIndex, error) {
	if e, ok := s.cache.acquire(doc.Dir); ok {
		return e, nil
	}

	unlock := s.lockDir(doc.Dir)
	if e, ok := s.cache.acquire(doc.Dir); ok {
		unlock()
		return e, nil
	}
	if indexer.Exists(doc.Dir) {
		defer unlock()
		embedder, _ := s.models()
		idx, err := indexer.Open(doc.Dir, embedder)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded index %s (%d chunks)", doc.Dir, idx.Manifest.Chunks)
		return s.cache.add(doc.Dir, s.wrap(idx)), nil
	}
	unlock()

	if !allowBuild {
		return nil, fmt.Errorf("%w: no index for %s", ErrNoDocument, doc.File)
	}
	return s.build(ctx, doc, doc.Upload)
}

func (s *Service) wrap(idx *indexer.Index) *cachedIndex {
	ret := retriever.NewRetriever(idx)
	ret.Hybrid = s.opts.Hybrid
	return &cachedIndex{idx: idx, ret: ret}
}

func (s *Service) lockDir(dir string) func() {
	s.mu.Lock()
	m, ok := s.dirLocks[dir]
	if !ok {
		m = &sync.Mutex{}
		s.dirLocks[dir] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// ========== Active Document State ==========

func (s *Service) documentFor(userID, file string) document {
	user := SafeFilename(userID)
	return document{
		File:   file,
		Upload: filepath.Join(s.opts.UploadDir, user, file),
		Dir:    filepath.Join(s.opts.IndexDir, user, file),
	}
}

func (s *Service) setActive(userID string, doc document) {
	s.mu.Lock()
	s.active[userID] = doc
	s.mu.Unlock()
}

func (s *Service) clearActive(userID string) {
	s.mu.Lock()
	delete(s.active, userID)
	s.mu.Unlock()
}

// activeDocument returns the user's active document. When none is set but the
// current conversation names a file that is still on disk, that file is
// re-activated; without allowBuild this only happens if its index exists.
func (s *Service) activeDocument(userID string, allowBuild bool) (document, bool) {
	s.mu.RLock()
	doc, ok := s.active[userID]
	s.mu.RUnlock()
	if ok {
		return doc, true
	}

	convID := s.history.CurrentConversation(userID)
	if convID == "" {
		return document{}, false
	}
	conv, err := s.history.Conversation(userID, convID)
	if err != nil || conv.DocumentFile == "" {
		return document{}, false
	}
	doc = s.documentFor(userID, conv.DocumentFile)
	if !fileExists(doc.Upload) {
		return document{}, false
	}
	if !allowBuild && !indexer.Exists(doc.Dir) {
		return document{}, false
	}
	s.setActive(userID, doc)
	return doc, true
}

// Status reports the user's active document.
func (s *Service) Status(userID string) Status {
	doc, ok := s.activeDocument(userID, false)
	return Status{HasDocument: ok, CurrentFile: doc.File}
}

// ========== Chat ==========

// Chat answers question from the active document if there is one, otherwise
// as general chat, and records the turn in the current conversation.
func (s *Service) Chat(ctx context.Context, userID, question string) (*Reply, error) {
	return s.answer(ctx, userID, question, nil)
}

// ChatStream is Chat with the reply delivered piecewise to onDelta.
func (s *Service) ChatStream(ctx context.Context, userID, question string, onDelta func(string) error) (*Reply, error) {
	if onDelta == nil {
		onDelta = func(string) error { return nil }
	}
	return s.answer(ctx, userID, question, onDelta)
}

func (s *Service) answer(ctx context.Context, userID, question string, onDelta func(string) error) (*Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	prompt := llm.GeneralPrompt(question)
	doc, hasDoc := s.activeDocument(userID, true)
	if hasDoc {
		results, err := s.search(ctx, doc, question)
		if err != nil {
			return nil, err
		}
		prompt = llm.DocumentPrompt(question, results)
	}

	_, provider := s.models()
	if provider == nil {
		return nil, errors.New("no chat provider configured")
	}
	var (
		response string
		err      error
	)
	if onDelta != nil {
		response, err = provider.Stream(ctx, prompt, onDelta)
	} else {
		response, err = provider.Complete(ctx, prompt)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.history.AddMessage(userID, question, response, hasDoc, doc.File); err != nil {
		log.Printf("Failed to save chat turn for user %s: %v", userID, err)
	}
	return &Reply{Response: response, HasDocument: hasDoc, CurrentFile: doc.File}, nil
}

func (s *Service) search(ctx context.Context, doc document, question string) ([]retriever.Result, error) {
	entry, err := s.load(ctx, doc, true)
	if err != nil {
		return nil, err
	}
	defer s.cache.release(entry)
	return entry.ret.Search(ctx, question, s.opts.TopK)
}

// ========== Conversations ==========

// Conversations lists the user's conversations, newest first.
func (s *Service) Conversations(userID string) ConversationList {
	return ConversationList{
		Conversations: s.history.ListConversations(userID),
		CurrentID:     s.history.CurrentConversation(userID),
	}
}

// EnsureConversation returns the current conversation, creating one for new users.
func (s *Service) EnsureConversation(userID string) (string, error) {
	return s.history.EnsureConversation(userID)
}

// ConversationMessages returns the turns of one conversation.
func (s *Service) ConversationMessages(userID, convID string) []chat.Message {
	return s.history.Messages(userID, convID)
}

// CurrentMessages returns the turns of the current conversation.
func (s *Service) CurrentMessages(userID string) []chat.Message {
	return s.history.Messages(userID, "")
}

// Switch makes convID current and activates its document if the file is
// still on disk; otherwise the active document is cleared.
func (s *Service) Switch(ctx context.Context, userID, convID string) (*SwitchResult, error) {
	conv, err := s.history.Switch(userID, convID)
	if err != nil {
		return nil, err
	}
	s.clearActive(userID)

	res := &SwitchResult{Messages: conv.Messages}
	if conv.DocumentFile == "" {
		return res, nil
	}
	doc := s.documentFor(userID, conv.DocumentFile)
	if !fileExists(doc.Upload) {
		log.Printf("Document %s for conversation %s is no longer on disk", doc.File, convID)
		return res, nil
	}
	entry, err := s.load(ctx, doc, true)
	if err != nil {
		log.Printf("Failed to load %s for conversation %s: %v", doc.File, convID, err)
		return res, nil
	}
	s.cache.release(entry)

	s.setActive(userID, doc)
	res.DocumentFile = doc.File
	return res, nil
}

// Delete removes a conversation. Deleting the current one starts a fresh
// conversation and clears the active document.
func (s *Service) Delete(userID, convID string) error {
	wasCurrent, err := s.history.Delete(userID, convID)
	if err != nil {
		return err
	}
	if wasCurrent {
		s.clearActive(userID)
	}
	return nil
}

// NewChat starts a new conversation without a document.
func (s *Service) NewChat(userID string) (string, error) {
	id, err := s.history.CreateConversation(userID)
	if err != nil {
		return "", err
	}
	s.clearActive(userID)
	return id, nil
}

// ========== Helpers ==========

// SafeFilename reduces name to its base and replaces characters outside
// [A-Za-z0-9._-] with underscores, so it can be used as a path element.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	ext := filepath.Ext(out)
	stem := strings.Trim(strings.TrimSuffix(out, ext), "._")
	if stem == "" {
		stem = "file"
	}
	return stem + ext
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

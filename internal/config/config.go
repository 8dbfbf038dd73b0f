package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docchat/internal/crypto"
	"docchat/internal/indexer"
	"docchat/internal/llm"
	"docchat/internal/retriever"
)

const (
	DefaultPath      = "config.yaml"
	defaultAddr      = ":5000"
	defaultDataDir   = "data"
	defaultCacheSize = 5
	defaultMaxUpload = 100 // MiB
	settingsFile     = "settings.json"
)

// OpenAIConfig configures the chat and embedding endpoints.
type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	ChatModel      string  `yaml:"chat_model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float32 `yaml:"temperature"`
}

// IndexingConfig controls chunking and embedding of uploaded documents.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"`
	BatchSize    int `yaml:"batch_size"`
	Concurrency  int `yaml:"concurrency"`
}

// RetrievalConfig controls search over an indexed document.
type RetrievalConfig struct {
	TopK      int   `yaml:"top_k"`
	Hybrid    *bool `yaml:"hybrid"`
	CacheSize int   `yaml:"cache_size"`
}

// Config is the root configuration.
type Config struct {
	Addr        string          `yaml:"addr"`
	DataDir     string          `yaml:"data_dir"`
	MaxUploadMB int64           `yaml:"max_upload_mb"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Indexing    IndexingConfig  `yaml:"indexing"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
}

// Load reads the YAML file at path (a missing file means defaults), applies
// .env and environment overrides, then any settings saved from the UI.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)

	saved, err := LoadSettings(cfg.DataDir)
	if err != nil {
		log.Printf("Warning: ignoring saved settings: %v", err)
	} else if saved != nil {
		saved.Apply(cfg)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	set(&cfg.OpenAI.ChatModel, "CHAT_MODEL")
	set(&cfg.OpenAI.EmbeddingModel, "EMBEDDING_MODEL")
	set(&cfg.DataDir, "DATA_DIR")
	set(&cfg.Addr, "ADDR")
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = defaultMaxUpload
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = llm.DefaultModel
	}
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = indexer.DefaultEmbeddingModel
	}
	if cfg.OpenAI.Temperature <= 0 {
		cfg.OpenAI.Temperature = llm.DefaultTemperature
	}
	if cfg.Indexing.ChunkSize <= 0 {
		cfg.Indexing.ChunkSize = indexer.DefaultChunkSize
	}
	if cfg.Indexing.ChunkOverlap == nil {
		overlap := indexer.DefaultChunkOverlap
		cfg.Indexing.ChunkOverlap = &overlap
	}
	if cfg.Indexing.BatchSize <= 0 {
		cfg.Indexing.BatchSize = 100
	}
	if cfg.Indexing.Concurrency <= 0 {
		cfg.Indexing.Concurrency = 4
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = retriever.DefaultTopK
	}
	if cfg.Retrieval.Hybrid == nil {
		on := true
		cfg.Retrieval.Hybrid = &on
	}
	if cfg.Retrieval.CacheSize <= 0 {
		cfg.Retrieval.CacheSize = defaultCacheSize
	}
}

// HybridEnabled reports whether BM25 results are fused into retrieval.
func (c *Config) HybridEnabled() bool {
	return c.Retrieval.Hybrid == nil || *c.Retrieval.Hybrid
}

// MaxUploadBytes is the multipart size limit for uploads.
func (c *Config) MaxUploadBytes() int64 { return c.MaxUploadMB << 20 }

func (c *Config) HistoryPath() string  { return filepath.Join(c.DataDir, "chat_histories.json") }
func (c *Config) UploadDir() string    { return filepath.Join(c.DataDir, "uploads") }
func (c *Config) IndexDir() string     { return filepath.Join(c.DataDir, "indexes") }
func (c *Config) SettingsPath() string { return filepath.Join(c.DataDir, settingsFile) }

// IndexerOptions converts the indexing section for indexer.Build.
func (c *Config) IndexerOptions() indexer.Options {
	overlap := indexer.DefaultChunkOverlap
	if c.Indexing.ChunkOverlap != nil {
		overlap = *c.Indexing.ChunkOverlap
	}
	return indexer.Options{
		ChunkSize:    c.Indexing.ChunkSize,
		ChunkOverlap: overlap,
		BatchSize:    c.Indexing.BatchSize,
		Concurrency:  c.Indexing.Concurrency,
	}
}

// LLMConfig converts the OpenAI section for llm.NewProvider.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Provider:    "openai",
		APIKey:      c.OpenAI.APIKey,
		BaseURL:     c.OpenAI.BaseURL,
		Model:       c.OpenAI.ChatModel,
		Temperature: c.OpenAI.Temperature,
	}
}

// ========== Saved Settings ==========

// Settings are the values editable from the web UI, stored in
// <data dir>/settings.json with the API key encrypted.
type Settings struct {
	OpenAIKey      string `json:"openai_key"`
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`
}

// Apply overrides cfg with the non-empty fields of s.
func (s *Settings) Apply(cfg *Config) {
	if s.OpenAIKey != "" {
		cfg.OpenAI.APIKey = s.OpenAIKey
	}
	if s.ChatModel != "" {
		cfg.OpenAI.ChatModel = s.ChatModel
	}
	if s.EmbeddingModel != "" {
		cfg.OpenAI.EmbeddingModel = s.EmbeddingModel
	}
}

// LoadSettings returns nil, nil when nothing has been saved yet.
func LoadSettings(dataDir string) (*Settings, error) {
	path := filepath.Join(dataDir, settingsFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	s.OpenAIKey = crypto.DecryptOrPlain(s.OpenAIKey)
	return &s, nil
}

// SaveSettings writes s with the API key encrypted. If encryption fails the
// key is written as plaintext and a warning is logged.
func SaveSettings(dataDir string, s Settings) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	toSave := s
	enc, err := crypto.Encrypt(s.OpenAIKey)
	if err != nil {
		log.Printf("Warning: failed to encrypt OpenAI key: %v", err)
	} else {
		toSave.OpenAIKey = enc
	}

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, settingsFile), data, 0600)
}

// MaskKey shows only the first and last four characters of a key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Defaults for the chat model.
const (
	DefaultModel       = openai.GPT4o
	DefaultTemperature = 0.5
)

// Provider generates a reply to a single prompt.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// Stream calls onDelta for each piece of the reply as it arrives and
	// returns the full reply. An error from onDelta aborts the stream.
	Stream(ctx context.Context, prompt string, onDelta func(string) error) (string, error)
}

// Config selects and configures a Provider.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// NewProvider creates the provider named in cfg. Only "openai" (the default)
// is supported; OpenAI-compatible servers are reached through BaseURL.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}
		return &OpenAIProvider{
			client:      openai.NewClientWithConfig(oc),
			model:       model,
			temperature: cfg.Temperature,
		}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// ==========================================
// OpenAI Provider
// ==========================================

type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
}

func (p *OpenAIProvider) request(prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: p.temperature,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(prompt))
	if err != nil {
		return "", fmt.Errorf("openai error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, prompt string, onDelta func(string) error) (string, error) {
	req := p.request(prompt)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai stream error: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("openai stream error: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

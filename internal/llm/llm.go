package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

// Provider selects the chat-completion backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	// ProviderNone disables AI grading; every subjective answer gets the
	// fallback score.
	ProviderNone Provider = "none"
)

// Config configures the AI grader.
type Config struct {
	Provider      Provider
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	FallbackScore float64
	PromptVariant string
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if c.Model == "" {
			return fmt.Errorf("ai.model is required for provider %q", c.Provider)
		}
	case ProviderNone:
	default:
		return fmt.Errorf("unknown ai.provider %q (want openai, anthropic or none)", c.Provider)
	}
	if c.FallbackScore < 0 || c.FallbackScore > 100 {
		return fmt.Errorf("ai.fallback-score %v out of range 0-100", c.FallbackScore)
	}
	if c.Timeout < 0 {
		return errors.New("ai.timeout must not be negative")
	}
	return nil
}

// Client wraps an OpenAI-compatible or Anthropic chat API.
type Client struct {
	provider  Provider
	openai    *openai.Client
	anthropic *anthropic.Client
	model     string
}

// New creates a chat client for the configured provider. It returns nil for
// ProviderNone.
func New(cfg Config) (*Client, error) {
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderOpenAI:
		config := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		return &Client{
			provider: ProviderOpenAI,
			openai:   openai.NewClientWithConfig(config),
			model:    cfg.Model,
		}, nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic API key is required")
		}
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		return &Client{
			provider:  ProviderAnthropic,
			anthropic: &client,
			model:     cfg.Model,
		}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// Complete sends one system + user exchange and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.provider == ProviderAnthropic {
		return c.completeAnthropic(ctx, system, user)
	}
	return c.completeOpenAI(ctx, system, user)
}

func (c *Client) completeOpenAI(ctx context.Context, system, user string) (string, error) {
	resp, err := c.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   16,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

func (c *Client) completeAnthropic(ctx context.Context, system, user string) (string, error) {
	msg, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 16,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(user)},
		}},
		Temperature: anthropic.Float(0.1),
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			slog.Debug("LLM response", "raw", block.Text)
			return block.Text, nil
		}
	}
	return "", errors.New("no text content in LLM response")
}

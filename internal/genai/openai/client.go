// Package openai implements genai.Model on OpenAI-compatible chat endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/JakeFAU/realtime-booklist/internal/fetch"
	"github.com/JakeFAU/realtime-booklist/internal/genai"
	"github.com/JakeFAU/realtime-booklist/internal/metrics"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

const defaultHost = "api.openai.com"

// Config holds the endpoint and model. BaseURL may be empty for api.openai.com.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// completer is the single SDK call used, split out for tests.
type completer func(ctx context.Context, key string, params openai.ChatCompletionNewParams) (string, error)

// Client wraps chat completions in the shared retry budget. SDK-level
// retries are disabled so only the budget governs attempts.
type Client struct {
	cfg      Config
	keys     studio.KeySource
	retrier  *fetch.Retrier
	complete completer
}

// New builds a Client.
func New(cfg Config, keys studio.KeySource, retrier *fetch.Retrier) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai model is required")
	}
	if keys == nil || retrier == nil {
		return nil, errors.New("openai key source and retrier are required")
	}
	c := &Client{cfg: cfg, keys: keys, retrier: retrier}
	c.complete = c.sdkComplete
	return c, nil
}

// Generate implements genai.Model.
func (c *Client) Generate(ctx context.Context, req genai.Request) (string, error) {
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", err
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.User))
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.Model),
		Messages: msgs,
	}

	var text string
	err = c.retrier.Do(ctx, "openai chat completion", func(ctx context.Context) error {
		out, err := c.complete(ctx, key, params)
		if err != nil {
			metrics.ObserveGeneration(c.host(), "error")
			return err
		}
		metrics.ObserveGeneration(c.host(), "ok")
		text = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	return text, nil
}

func (c *Client) host() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return defaultHost
}

func (c *Client) sdkComplete(ctx context.Context, key string, params openai.ChatCompletionNewParams) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	if c.cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

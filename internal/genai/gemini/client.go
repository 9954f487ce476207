// Package gemini calls the Gemini generateContent REST endpoint.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/genai"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

const textPath = "candidates.0.content.parts.0.text"

// Poster performs a retried JSON POST. fetch.Client satisfies it.
type Poster interface {
	PostJSON(ctx context.Context, endpoint string, payload any) (json.RawMessage, error)
}

// Config locates the model.
type Config struct {
	// Endpoint is the API base, e.g. https://generativelanguage.googleapis.com/v1beta.
	Endpoint string
	Model    string
}

// Client implements genai.Model against Gemini.
type Client struct {
	cfg    Config
	keys   studio.KeySource
	poster Poster
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, keys studio.KeySource, poster Poster, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("gemini endpoint is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	if keys == nil || poster == nil {
		return nil, fmt.Errorf("gemini key source and poster are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{cfg: cfg, keys: keys, poster: poster, logger: logger}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

// Generate sends one generateContent request and returns the first candidate
// text. A response without that text yields "" so the caller's extractor
// reports it as empty.
func (c *Client) Generate(ctx context.Context, req genai.Request) (string, error) {
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", err
	}
	body := generateRequest{
		Contents:         []content{{Parts: []part{{Text: req.User}}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	raw, err := c.poster.PostJSON(ctx, c.endpoint(key), body)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := gjson.GetBytes(raw, textPath)
	if !text.Exists() {
		c.logger.Warn("gemini response carried no candidate text",
			zap.String("finish_reason", gjson.GetBytes(raw, "candidates.0.finishReason").String()),
		)
		return "", nil
	}
	return text.String(), nil
}

func (c *Client) endpoint(key string) string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.Endpoint, url.PathEscape(c.cfg.Model), url.QueryEscape(key))
}

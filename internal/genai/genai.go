// Package genai is the seam between the production line and a generative
// language model.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Request is one generation call. System is optional.
type Request struct {
	System string
	User   string
}

// Model produces the raw text of a single generation. The text is expected
// to hold JSON but callers must not rely on it.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// StaticKey is a fixed credential, typically from configuration.
type StaticKey string

// APIKey returns the key or studio.ErrNoAPIKey when it is blank.
func (k StaticKey) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", studio.ErrNoAPIKey
	}
	return string(k), nil
}

// FirstKey consults sources in order and returns the first configured key.
type FirstKey []studio.KeySource

// APIKey implements studio.KeySource.
func (f FirstKey) APIKey(ctx context.Context) (string, error) {
	for _, src := range f {
		if src == nil {
			continue
		}
		key, err := src.APIKey(ctx)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && !errors.Is(err, studio.ErrNoAPIKey) {
			return "", fmt.Errorf("resolve api key: %w", err)
		}
	}
	return "", studio.ErrNoAPIKey
}


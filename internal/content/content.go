// Package content turns a subject into a structured post.
package content

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-booklist/internal/genai"
	"github.com/JakeFAU/realtime-booklist/internal/jsonx"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Palette holds the card accent colors.
var Palette = []string{
	"#1A1A1A", "#2E3B2E", "#3D2B1F", "#2B3D41",
	"#4A4A4A", "#5C2D2D", "#2C3E50", "#1F3A3D",
}

// SystemPrompt returns the fixed instruction for subject.
func SystemPrompt(subject string) string {
	return fmt.Sprintf(`针对《%s》撰写小红书笔记。JSON格式：{"title": "短标题", "fullContent": "正文", "quotes": ["摘录1", "摘录2", "摘录3"], "tags": ["标签"]}`, subject)
}

// UserPrompt returns the user turn for subject.
func UserPrompt(subject string) string {
	return "书名：" + subject
}

// Option customizes a Generator.
type Option func(*Generator)

// WithLimiter paces generation calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Generator) { g.limiter = l }
}

// WithPicker replaces the palette index chooser.
func WithPicker(pick func(n int) int) Option {
	return func(g *Generator) { g.pick = pick }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// Generator asks the model for one post per subject.
type Generator struct {
	model   genai.Model
	limiter *rate.Limiter
	pick    func(n int) int
	logger  *zap.Logger
}

// NewGenerator builds a Generator around model.
func NewGenerator(model genai.Model, opts ...Option) *Generator {
	g := &Generator{model: model, pick: rand.IntN, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces the post for subject. A response that holds no usable
// JSON degrades to empty content that still carries the color and subject.
func (g *Generator) Generate(ctx context.Context, subject string) (studio.GeneratedContent, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return studio.GeneratedContent{}, fmt.Errorf("wait for generation slot: %w", err)
		}
	}
	text, err := g.model.Generate(ctx, genai.Request{
		System: SystemPrompt(subject),
		User:   UserPrompt(subject),
	})
	if err != nil {
		return studio.GeneratedContent{}, fmt.Errorf("generate content for %q: %w", subject, err)
	}

	var out studio.GeneratedContent
	if err := jsonx.Extract(text).Decode(&out); err != nil {
		g.logger.Warn("content response not recoverable, using empty post",
			zap.String("subject", subject),
			zap.Error(err),
		)
		out = studio.GeneratedContent{}
	}
	out.Color = Palette[g.pick(len(Palette))]
	out.OriginalBook = subject
	return out, nil
}

// GenerateAll generates every subject concurrently and joins. The result is
// in input order. If any subject fails the whole batch fails with an error
// wrapping studio.ErrPipelineBlocked. onStart, when set, is called with the
// index of each subject as its request is issued.
func (g *Generator) GenerateAll(ctx context.Context, subjects []string, onStart func(i int)) ([]studio.GeneratedContent, error) {
	out := make([]studio.GeneratedContent, len(subjects))
	grp, gctx := errgroup.WithContext(ctx)
	for i, subject := range subjects {
		i, subject := i, subject
		grp.Go(func() error {
			if onStart != nil {
				onStart(i)
			}
			c, err := g.Generate(gctx, subject)
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", studio.ErrPipelineBlocked, err)
	}
	return out, nil
}

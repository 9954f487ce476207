package render

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Surface rasterizes one HTML document to PNG bytes.
type Surface interface {
	Capture(ctx context.Context, html string) ([]byte, error)
}

// Sleeper waits for layout to settle.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Timing holds the settle delays around captures.
type Timing struct {
	BeforeCover time.Duration
	BeforeQuote time.Duration
	AfterTarget time.Duration
}

// DefaultTiming is 800ms before the cover, 300ms before each quote and 500ms
// after each post.
func DefaultTiming() Timing {
	return Timing{
		BeforeCover: 800 * time.Millisecond,
		BeforeQuote: 300 * time.Millisecond,
		AfterTarget: 500 * time.Millisecond,
	}
}

// Images are the captures for one post, quotes in source order.
type Images struct {
	Cover  []byte
	Quotes [][]byte
}

// Count is the number of images captured.
func (i Images) Count() int {
	return 1 + len(i.Quotes)
}

// Renderer captures the cards of one post at a time under a Lease.
type Renderer struct {
	surface  Surface
	composer *Composer
	lease    *Lease
	sleeper  Sleeper
	timing   Timing
	logger   *zap.Logger
	onImage  func()
}

// NewRenderer wires a Renderer. lease may be shared with other renderers that
// use the same surface.
func NewRenderer(surface Surface, composer *Composer, lease *Lease, sleeper Sleeper, timing Timing, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lease == nil {
		lease = NewLease()
	}
	return &Renderer{
		surface:  surface,
		composer: composer,
		lease:    lease,
		sleeper:  sleeper,
		timing:   timing,
		logger:   logger,
	}
}

// OnImage registers a callback fired after each successful capture.
func (r *Renderer) OnImage(fn func()) {
	r.onImage = fn
}

// Render captures the cover and then every quote of c. The lease is held for
// the whole post.
func (r *Renderer) Render(ctx context.Context, c studio.GeneratedContent) (Images, error) {
	release, err := r.lease.Acquire(ctx)
	if err != nil {
		return Images{}, err
	}
	defer release()

	if err := r.sleep(ctx, r.timing.BeforeCover); err != nil {
		return Images{}, err
	}
	doc, err := r.composer.Cover(c.OriginalBook, c.Title, c.Color)
	if err != nil {
		return Images{}, err
	}
	cover, err := r.capture(ctx, doc, "cover")
	if err != nil {
		return Images{}, err
	}

	out := Images{Cover: cover, Quotes: make([][]byte, 0, len(c.Quotes))}
	for i, q := range c.Quotes {
		if err := r.sleep(ctx, r.timing.BeforeQuote); err != nil {
			return Images{}, err
		}
		doc, err := r.composer.Quote(q, c.Color)
		if err != nil {
			return Images{}, err
		}
		img, err := r.capture(ctx, doc, fmt.Sprintf("quote %d", i+1))
		if err != nil {
			return Images{}, err
		}
		out.Quotes = append(out.Quotes, img)
	}

	if err := r.sleep(ctx, r.timing.AfterTarget); err != nil {
		return Images{}, err
	}
	r.logger.Debug("post rendered",
		zap.String("subject", c.OriginalBook),
		zap.Int("images", out.Count()),
	)
	return out, nil
}

func (r *Renderer) capture(ctx context.Context, doc, what string) ([]byte, error) {
	img, err := r.surface.Capture(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", what, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("capture %s: empty image", what)
	}
	if r.onImage != nil {
		r.onImage()
	}
	return img, nil
}

func (r *Renderer) sleep(ctx context.Context, d time.Duration) error {
	if r.sleeper == nil || d <= 0 {
		return nil
	}
	if err := r.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	return nil
}

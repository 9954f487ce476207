package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromeConfig controls the headless browser.
type ChromeConfig struct {
	Canvas     Canvas
	PixelRatio float64
	Timeout    time.Duration
	ExecPath   string
}

// ChromeSurface renders cards in headless Chrome. One browser is started on
// first use; each capture runs in its own tab.
type ChromeSurface struct {
	cfg         ChromeConfig
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
}

// NewChrome prepares a ChromeSurface. No browser is launched until the first
// Capture.
func NewChrome(cfg ChromeConfig) (*ChromeSurface, error) {
	if cfg.Canvas.Width <= 0 || cfg.Canvas.Height <= 0 {
		return nil, fmt.Errorf("canvas must be positive, got %dx%d", cfg.Canvas.Width, cfg.Canvas.Height)
	}
	if cfg.PixelRatio <= 0 {
		cfg.PixelRatio = 1
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.Canvas.Width, cfg.Canvas.Height),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeSurface{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close shuts the browser down.
func (s *ChromeSurface) Close() {
	s.mu.Lock()
	if s.browserCancel != nil {
		s.browserCancel()
	}
	s.mu.Unlock()
	s.allocCancel()
}

// Capture loads html into a fresh tab, waits for web fonts and returns a PNG
// of the #card element.
func (s *ChromeSurface) Capture(ctx context.Context, html string) ([]byte, error) {
	browser, err := s.ensureBrowser()
	if err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browser)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, s.timeout())
	defer cancel()

	var (
		png   []byte
		ready bool
	)
	c := s.cfg.Canvas
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(c.Width), int64(c.Height), s.cfg.PixelRatio, false),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitVisible("#card", chromedp.ByQuery),
		chromedp.Evaluate(`document.fonts.ready.then(() => true)`, &ready, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
		chromedp.Screenshot("#card", &png, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chromedp capture: %w", ctx.Err())
		}
		return nil, fmt.Errorf("chromedp capture: %w", err)
	}
	return png, nil
}

func (s *ChromeSurface) ensureBrowser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		return s.browser, nil
	}
	browser, cancel := chromedp.NewContext(s.allocator)
	if err := chromedp.Run(browser); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	s.browser, s.browserCancel = browser, cancel
	return browser, nil
}

func (s *ChromeSurface) timeout() time.Duration {
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return 30 * time.Second
}

// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-booklist/internal/api"
	"github.com/JakeFAU/realtime-booklist/internal/archive"
	archivememory "github.com/JakeFAU/realtime-booklist/internal/archive/memory"
	"github.com/JakeFAU/realtime-booklist/internal/archive/postgres"
	"github.com/JakeFAU/realtime-booklist/internal/archive/sqlite"
	"github.com/JakeFAU/realtime-booklist/internal/clock/system"
	"github.com/JakeFAU/realtime-booklist/internal/config"
	"github.com/JakeFAU/realtime-booklist/internal/content"
	"github.com/JakeFAU/realtime-booklist/internal/export"
	"github.com/JakeFAU/realtime-booklist/internal/fetch"
	"github.com/JakeFAU/realtime-booklist/internal/genai"
	"github.com/JakeFAU/realtime-booklist/internal/genai/gemini"
	"github.com/JakeFAU/realtime-booklist/internal/genai/openai"
	"github.com/JakeFAU/realtime-booklist/internal/hash/sha256"
	"github.com/JakeFAU/realtime-booklist/internal/id/uuid"
	"github.com/JakeFAU/realtime-booklist/internal/keystore"
	"github.com/JakeFAU/realtime-booklist/internal/metrics"
	"github.com/JakeFAU/realtime-booklist/internal/pipeline"
	"github.com/JakeFAU/realtime-booklist/internal/progress"
	"github.com/JakeFAU/realtime-booklist/internal/progress/sinks"
	publishermemory "github.com/JakeFAU/realtime-booklist/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/realtime-booklist/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-booklist/internal/render"
	"github.com/JakeFAU/realtime-booklist/internal/schedule"
	"github.com/JakeFAU/realtime-booklist/internal/storage/gcs"
	"github.com/JakeFAU/realtime-booklist/internal/storage/local"
	storagememory "github.com/JakeFAU/realtime-booklist/internal/storage/memory"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
	"github.com/JakeFAU/realtime-booklist/internal/telemetry"
	"github.com/JakeFAU/realtime-booklist/internal/trends"
)

const closeTimeout = 10 * time.Second

// blobStore is a store the API can also stream downloads from.
type blobStore interface {
	studio.BlobStore
	studio.BlobReader
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	model    genai.Model
	surface  render.Surface
	clock    studio.Clock
	registry prometheus.Registerer
}

// WithModel replaces the configured generative backend.
func WithModel(m genai.Model) Option {
	return func(o *options) { o.model = m }
}

// WithSurface replaces the headless Chrome capture surface.
func WithSurface(s render.Surface) Option {
	return func(o *options) { o.surface = s }
}

// WithClock replaces the wall clock.
func WithClock(c studio.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRegistry registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup from a validated config.Config and handed to the
// commands that need it.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	keys       *keystore.File
	archive    *archive.Live
	blobs      blobStore
	deliverer  *export.Deliverer
	hub        *progress.Hub
	controller *pipeline.Controller
	tracer     *sdktrace.TracerProvider

	closers []func(context.Context) error
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the configuration the App was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetController returns the production line.
func (a *App) GetController() *pipeline.Controller {
	return a.controller
}

// GetArchive returns the archive with change subscriptions.
func (a *App) GetArchive() *archive.Live {
	return a.archive
}

// GetKeys returns the local credential store.
func (a *App) GetKeys() *keystore.File {
	return a.keys
}

// GetBlobs returns the store that receives exported archives.
func (a *App) GetBlobs() studio.BlobReader {
	return a.blobs
}

// NewServer builds the HTTP API over the App's services.
func (a *App) NewServer() *api.Server {
	return api.NewServer(api.Deps{
		Runner:    a.controller,
		Archive:   a.archive,
		Keys:      a.keys,
		Downloads: a.blobs,
		Locator:   a.deliverer,
	}, a.cfg, a.logger)
}

// NewScheduler builds the cron trigger for unattended runs.
func (a *App) NewScheduler() (*schedule.Runner, error) {
	return schedule.New(a.cfg.Schedule.Cron, a.controller, a.logger)
}

// NewApp creates and initializes the App from cfg. It fails fast if any
// service cannot be initialized and releases whatever was already opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	o := options{registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing application services...")

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	metrics.Init()
	ids := uuid.New()

	// 1. Tracing.
	a.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, a.tracer.Shutdown)

	// 2. Credentials. The stored key wins over the configured one.
	a.keys, err = keystore.Open(cfg.Keystore.Path, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore: %w", err)
	}
	keys := genai.FirstKey{a.keys, genai.StaticKey(cfg.GenAI.APIKey)}

	// 3. Archive.
	store, err := a.openArchive(ctx, ids, o.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}
	a.archive = archive.NewLive(store, logger.Named("archive"))

	// 4. Export.
	a.blobs, err = a.openBlobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize export storage: %w", err)
	}
	a.deliverer = export.NewDeliverer(a.blobs, cfg.Export.Prefix, sha256.New())

	// 5. Generative model, discovery and content.
	retrier := fetch.NewRetrier(fetch.Policy{Retries: cfg.Retry.Attempts, BaseDelay: cfg.RetryBaseDelay()}, o.clock, logger.Named("fetch")).
		WithRetryHook(func(op string, _ int, delay time.Duration, _ error) {
			metrics.ObserveRetry(op, delay)
		})
	model := o.model
	if model == nil {
		model, err = newModel(cfg, keys, retrier, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize genai: %w", err)
		}
	}
	sources := []trends.Source{trends.NewModelSource(model)}
	if cfg.Trends.FeedURL != "" {
		sources = append(sources, trends.NewFeedSource(cfg.Trends.FeedURL, cfg.Trends.FeedLimit))
	}
	genOpts := []content.Option{content.WithLogger(logger.Named("content"))}
	if cfg.GenAI.RequestsPerSecond > 0 {
		burst := max(int(cfg.GenAI.RequestsPerSecond), studio.MaxTargets)
		genOpts = append(genOpts, content.WithLimiter(rate.NewLimiter(rate.Limit(cfg.GenAI.RequestsPerSecond), burst)))
	}

	// 6. Rendering.
	canvas := render.Canvas{
		Width:      cfg.Render.Width,
		Height:     cfg.Render.Height,
		Background: cfg.Render.Background,
		FontFamily: cfg.Render.FontFamily,
		FontURL:    cfg.Render.FontURL,
	}
	surface := o.surface
	if surface == nil {
		chrome, err := render.NewChrome(render.ChromeConfig{
			Canvas:     canvas,
			PixelRatio: cfg.Render.PixelRatio,
			Timeout:    time.Duration(cfg.Render.TimeoutSec) * time.Second,
			ExecPath:   cfg.Render.ChromePath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize renderer: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			chrome.Close()
			return nil
		})
		surface = chrome
	}
	renderer := render.NewRenderer(surface, render.NewComposer(canvas), render.NewLease(), o.clock, render.Timing{
		BeforeCover: config.Ms(cfg.Render.SettleMs),
		BeforeQuote: config.Ms(cfg.Render.QuoteSettleMs),
		AfterTarget: config.Ms(cfg.Render.AfterMs),
	}, logger.Named("render"))

	// 7. Progress events.
	promSink, err := sinks.NewPrometheusSink(o.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")}, sinks.NewLogSink(logger.Named("events")), promSink)
	a.closers = append(a.closers, a.hub.Close)

	// 8. Completion notices.
	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}

	a.controller, err = pipeline.New(pipeline.Deps{
		Keys:       keys,
		Archive:    a.archive,
		Discoverer: trends.NewDiscoverer(logger.Named("trends"), sources...),
		Generator:  content.NewGenerator(model, genOpts...),
		Renderer:   renderer,
		Deliverer:  a.deliverer,
		Publisher:  publisher,
		Clock:      o.clock,
		IDs:        ids,
		Events:     a.hub,
		Logger:     logger.Named("pipeline"),
		Tracer:     a.tracer.Tracer(telemetry.TracerName),
		ResetDelay: cfg.ResetDelay(),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Application services initialized successfully.",
		zap.String("genai", cfg.GenAI.Provider),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("export", cfg.Export.Driver),
	)
	return a, nil
}

// WatchArchive keeps the archive gauge and subscribers current until ctx ends.
func (a *App) WatchArchive(ctx context.Context) {
	updates := a.archive.Subscribe(ctx)
	go a.archive.Poll(ctx, time.Duration(a.cfg.Archive.PollSeconds)*time.Second)
	for projects := range updates {
		metrics.SetArchiveSize(len(projects))
	}
}

func (a *App) openArchive(ctx context.Context, ids studio.IDGenerator, clock studio.Clock) (studio.ArchiveStore, error) {
	cfg := a.cfg.Archive
	if cfg.Driver == "memory" {
		a.logger.Info("Using in-memory archive. Completed subjects are forgotten on exit.")
		return archivememory.New(ids, clock.Now), nil
	}

	scope := archive.Scope{AppID: cfg.AppID, UserID: cfg.UserID}
	if scope.UserID == "" {
		uid, err := a.keys.UserID()
		if err != nil {
			return nil, fmt.Errorf("resolve user id: %w", err)
		}
		scope.UserID = uid
	}

	switch cfg.Driver {
	case "sqlite":
		a.logger.Info("Opening SQLite archive", zap.String("path", cfg.DSN))
		store, err := sqlite.Open(cfg.DSN, scope, ids)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case "postgres":
		a.logger.Info("Connecting to PostgreSQL archive...")
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table, Scope: scope}, ids)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver: %s", cfg.Driver)
	}
}

func (a *App) openBlobs(ctx context.Context) (blobStore, error) {
	cfg := a.cfg.Export
	switch cfg.Driver {
	case "local":
		a.logger.Info("Writing archives to local disk", zap.String("dir", cfg.Dir))
		return local.New(local.Config{BaseDir: cfg.Dir})
	case "gcs":
		a.logger.Info("Using GCS export storage", zap.String("bucket", cfg.GCSBucket))
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
	case "memory":
		a.logger.Info("Using in-memory export storage. Archives are discarded on exit.")
		return storagememory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown export driver: %s", cfg.Driver)
	}
}

func (a *App) openPublisher(ctx context.Context) (studio.Publisher, error) {
	cfg := a.cfg.PubSub
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		a.logger.Info("Pub/Sub not configured; completion notices stay in memory.")
		return publishermemory.New(), nil
	}
	a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", cfg.TopicName))
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.Open(client, cfg.TopicName)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	return pub, nil
}

func newModel(cfg config.Config, keys studio.KeySource, retrier *fetch.Retrier, logger *zap.Logger) (genai.Model, error) {
	switch cfg.GenAI.Provider {
	case "gemini":
		client := fetch.NewClient(&http.Client{Timeout: cfg.GenAITimeout()}, retrier)
		return gemini.New(gemini.Config{Endpoint: cfg.GenAI.Endpoint, Model: cfg.GenAI.Model}, keys, client, logger.Named("gemini"))
	case "openai":
		return openai.New(openai.Config{BaseURL: cfg.GenAI.Endpoint, Model: cfg.GenAI.Model, Timeout: cfg.GenAITimeout()}, keys, retrier)
	default:
		return nil, fmt.Errorf("unknown genai provider: %s", cfg.GenAI.Provider)
	}
}

// Close gracefully shuts down all services in reverse order of creation.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error closing application services", zap.Error(err))
	}
	// Syncing stderr/stdout commonly fails with EINVAL; the result is ignored.
	_ = a.logger.Sync()
}

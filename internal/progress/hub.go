package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes how the Hub queues run events and hands them to sinks.
// Zero values pick the defaults below.
type Config struct {
	// BufferSize is how many events may wait for the batching goroutine.
	BufferSize int
	// MaxBatchEvents hands a batch to the sinks as soon as it holds this many
	// events.
	MaxBatchEvents int
	// MaxBatchWait bounds how long a slot transition may sit in a partial
	// batch before the sinks see it.
	MaxBatchWait time.Duration
	// SinkTimeout caps each sink's Consume call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

// A single run emits a few dozen events: one start, one per stage change,
// one per slot transition and one finish.
const (
	defaultBufferSize     = 256
	defaultMaxBatchEvents = 32
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub is the controller's Emitter. Emit queues the event and returns at once;
// a background goroutine groups events into batches and delivers each batch
// to every sink in registration order. A stalled sink delays later batches
// but never the run that produced them.
type Hub struct {
	cfg         Config
	sinks       []Sink
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub applies defaults to cfg and starts delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = withDefaults(cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.loop()
	return h
}

func withDefaults(cfg Config) Config {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return cfg
}

// Emit queues a run event. Invalid events are discarded. When the queue is
// full the event is counted as dropped and a warning is logged at most once
// per dropLogInterval. Emit is a no-op on a nil or closed Hub.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid run event",
			zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	h.dropped.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		h.logger.Warn("run events dropped, sinks are behind",
			zap.Int64("dropped", h.dropped.Swap(0)))
	}
}

// Dropped reports events lost to a full queue since the last warning.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops accepting events, delivers whatever is queued, closes every
// sink and waits for that to finish or for ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// pending is the batch being assembled plus the timer that flushes it.
type pending struct {
	events []Event
	timer  *time.Timer
	armed  bool
}

func (p *pending) disarm() {
	if !p.armed {
		return
	}
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.armed = false
}

func (p *pending) arm(wait time.Duration) {
	p.disarm()
	p.timer.Reset(wait)
	p.armed = true
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	p := &pending{
		events: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer:  time.NewTimer(h.cfg.MaxBatchWait),
	}
	p.timer.Stop()
	for {
		select {
		case evt := <-h.events:
			h.add(p, evt)
		case <-p.timer.C:
			p.armed = false
			h.deliver(p)
		case <-h.stopCh:
			p.disarm()
			h.drain(p)
			h.closeSinks()
			return
		}
	}
}

// add appends evt and delivers once the batch is full. Otherwise it restarts
// the wait so a quiet run still reaches the sinks within MaxBatchWait.
func (h *Hub) add(p *pending, evt Event) {
	p.events = append(p.events, evt)
	if len(p.events) >= h.cfg.MaxBatchEvents {
		p.disarm()
		h.deliver(p)
		return
	}
	if h.cfg.MaxBatchWait > 0 {
		p.arm(h.cfg.MaxBatchWait)
	}
}

// drain empties the queue after Close.
func (h *Hub) drain(p *pending) {
	for {
		select {
		case evt := <-h.events:
			p.events = append(p.events, evt)
			if len(p.events) >= h.cfg.MaxBatchEvents {
				h.deliver(p)
			}
		default:
			h.deliver(p)
			return
		}
	}
}

// deliver hands the pending batch to each sink and resets it.
func (h *Hub) deliver(p *pending) {
	if len(p.events) == 0 {
		return
	}
	batch := append([]Event(nil), p.events...)
	p.events = p.events[:0]
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := h.sinkContext()
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink rejected batch",
				zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) sinkContext() (context.Context, context.CancelFunc) {
	if h.cfg.SinkTimeout <= 0 {
		return h.cfg.BaseContext, func() {}
	}
	return context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// rateLimiter lets one caller through per interval.
type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}

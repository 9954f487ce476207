// Package pipeline runs the production line: it selects up to two subjects,
// generates their posts concurrently, renders and packages them one at a time,
// delivers the archive and records the finished subjects. Presentation layers
// observe it through Subscribe instead of sharing its state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/export"
	"github.com/JakeFAU/realtime-booklist/internal/progress"
	"github.com/JakeFAU/realtime-booklist/internal/render"
	"github.com/JakeFAU/realtime-booklist/internal/slots"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
	"github.com/JakeFAU/realtime-booklist/internal/telemetry"
)

// CompletedEvent is the publisher event name for a successful run.
const CompletedEvent = "run.completed"

// Discoverer picks the subjects of a run.
type Discoverer interface {
	Fill(ctx context.Context, userSubject string, archived []string) []string
}

// ContentGenerator produces one post per subject, all or nothing.
type ContentGenerator interface {
	GenerateAll(ctx context.Context, subjects []string, onStart func(i int)) ([]studio.GeneratedContent, error)
}

// PostRenderer captures the cards of one post.
type PostRenderer interface {
	Render(ctx context.Context, c studio.GeneratedContent) (render.Images, error)
}

// ArtifactDeliverer stores the serialized archive.
type ArtifactDeliverer interface {
	Deliver(ctx context.Context, name string, data []byte) (export.Artifact, error)
}

// Deps are the collaborators of a Controller. Publisher, Events, Logger and
// Tracer are optional.
type Deps struct {
	Keys       studio.KeySource
	Archive    studio.ArchiveStore
	Discoverer Discoverer
	Generator  ContentGenerator
	Renderer   PostRenderer
	Deliverer  ArtifactDeliverer
	Publisher  studio.Publisher
	Clock      studio.Clock
	IDs        studio.IDGenerator
	Events     progress.Emitter
	Logger     *zap.Logger
	Tracer     trace.Tracer
	// ResetDelay keeps a finished run on screen before the slots clear.
	ResetDelay time.Duration
}

// Completion is the payload published after a successful run.
type Completion struct {
	RunID    string          `json:"runId"`
	Books    []string        `json:"books"`
	Artifact export.Artifact `json:"artifact"`
}

// Controller owns the pipeline state. At most one run executes at a time.
type Controller struct {
	deps  Deps
	board *slots.Board
	busy  atomic.Bool

	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// New validates deps and returns an idle Controller.
func New(deps Deps) (*Controller, error) {
	switch {
	case deps.Keys == nil:
		return nil, errors.New("pipeline: key source is required")
	case deps.Archive == nil:
		return nil, errors.New("pipeline: archive store is required")
	case deps.Discoverer == nil:
		return nil, errors.New("pipeline: discoverer is required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: content generator is required")
	case deps.Renderer == nil:
		return nil, errors.New("pipeline: renderer is required")
	case deps.Deliverer == nil:
		return nil, errors.New("pipeline: deliverer is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	c := &Controller{deps: deps, subs: make(map[int]chan State)}
	c.board = slots.NewBoard(func([]studio.Target) {
		c.update(func(s *State) { s.Slots = c.board.Snapshot() })
	})
	c.state = State{Stage: StageIdle, Slots: c.board.Snapshot(), RenderingIndex: -1}
	return c, nil
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Busy reports whether a run holds the line.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Subscribe yields the current state and then every change. Slow readers only
// see the latest state. The channel closes when ctx ends.
func (c *Controller) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- c.state.clone()
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// Start launches a run in the background and returns its id. It fails with
// studio.ErrBusy while another run holds the line. The run is not bound to
// ctx's cancellation.
func (c *Controller) Start(ctx context.Context, subject string) (string, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return "", studio.ErrBusy
	}
	runID, err := c.deps.IDs.NewID()
	if err != nil {
		c.busy.Store(false)
		return "", fmt.Errorf("generate run id: %w", err)
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.busy.Store(false)
		if _, err := c.run(runCtx, runID, subject); err != nil {
			c.deps.Logger.Warn("run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return runID, nil
}

// Run executes one run synchronously, including the post-run reset delay.
func (c *Controller) Run(ctx context.Context, subject string) (export.Artifact, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return export.Artifact{}, studio.ErrBusy
	}
	defer c.busy.Store(false)
	runID, err := c.deps.IDs.NewID()
	if err != nil {
		return export.Artifact{}, fmt.Errorf("generate run id: %w", err)
	}
	return c.run(ctx, runID, subject)
}

func (c *Controller) run(ctx context.Context, runID, subject string) (art export.Artifact, err error) {
	started := c.deps.Clock.Now()
	date := export.DateStamp(started)
	r := &runScope{c: c, id: runID, rid: runBytes(runID), logger: c.deps.Logger.With(zap.String("run_id", runID))}

	ctx, span := c.deps.Tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	c.board.Reset()
	c.update(func(s *State) {
		*s = State{
			RunID:          runID,
			Running:        true,
			Stage:          StageDiscovering,
			Message:        MsgScanning,
			Slots:          c.board.Snapshot(),
			RenderingIndex: -1,
		}
	})
	r.emit(progress.Event{Stage: progress.StageRunStart, Subject: subject})
	r.logger.Info("run started", zap.String("subject", subject))

	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.board.FailActive()
		c.update(func(s *State) {
			s.Running = false
			s.Stage = StageFailed
			s.Message = failureMessage(err)
			s.RenderingIndex = -1
			s.Error = err.Error()
		})
		r.emit(progress.Event{
			Stage:  progress.StageRunError,
			Reason: progress.Classify(err),
			Dur:    c.since(started),
			Note:   err.Error(),
		})
		r.logger.Warn("run aborted", zap.Error(err))
	}()

	if _, err := c.deps.Keys.APIKey(ctx); err != nil {
		if errors.Is(err, studio.ErrNoAPIKey) {
			return export.Artifact{}, err
		}
		return export.Artifact{}, fmt.Errorf("%w: %w", studio.ErrNoAPIKey, err)
	}

	targets := r.discover(ctx, subject)
	if len(targets) == 0 {
		return export.Artifact{}, studio.ErrNoTargets
	}
	for i, name := range targets {
		if err := c.board.Assign(i, name); err != nil {
			return export.Artifact{}, err
		}
		r.emitSlot(i, name, studio.StatusLoading)
	}

	buffer, err := r.generate(ctx, targets)
	if err != nil {
		return export.Artifact{}, err
	}

	bundle, err := r.renderAll(ctx, date, buffer)
	if err != nil {
		return export.Artifact{}, fmt.Errorf("%w: %w", studio.ErrExportFailure, err)
	}

	art, err = r.deliver(ctx, date, bundle)
	if err != nil {
		return export.Artifact{}, fmt.Errorf("%w: %w", studio.ErrExportFailure, err)
	}

	if err := r.record(ctx, buffer); err != nil {
		return export.Artifact{}, err
	}
	r.publish(ctx, targets, art)

	c.update(func(s *State) {
		s.Stage = StageDone
		s.Message = MsgDone
		s.RenderingIndex = -1
		s.Artifact = &art
	})
	r.emit(progress.Event{Stage: progress.StageRunDone, Count: int64(len(buffer)), Dur: c.since(started)})
	r.logger.Info("run completed", zap.String("archive", art.Name), zap.Int("targets", len(buffer)))

	if err := c.deps.Clock.Sleep(ctx, c.deps.ResetDelay); err != nil {
		r.logger.Debug("reset delay interrupted", zap.Error(err))
	}
	c.board.Reset()
	c.update(func(s *State) {
		s.Running = false
		s.Stage = StageIdle
		s.Message = ""
		s.Buffer = nil
	})
	return art, nil
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	for _, ch := range c.subs {
		sendLatest(ch, c.state.clone())
	}
}

func (c *Controller) since(t time.Time) time.Duration {
	d := c.deps.Clock.Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

func runBytes(id string) [16]byte {
	if parsed, err := uuid.Parse(id); err == nil {
		return progress.UUIDToBytes(parsed)
	}
	return progress.UUIDToBytes(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)))
}

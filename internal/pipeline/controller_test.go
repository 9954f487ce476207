package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	archivememory "github.com/JakeFAU/realtime-booklist/internal/archive/memory"
	"github.com/JakeFAU/realtime-booklist/internal/content"
	"github.com/JakeFAU/realtime-booklist/internal/export"
	"github.com/JakeFAU/realtime-booklist/internal/genai"
	"github.com/JakeFAU/realtime-booklist/internal/hash/sha256"
	"github.com/JakeFAU/realtime-booklist/internal/id/uuid"
	"github.com/JakeFAU/realtime-booklist/internal/progress"
	publishermemory "github.com/JakeFAU/realtime-booklist/internal/publisher/memory"
	"github.com/JakeFAU/realtime-booklist/internal/render"
	storagememory "github.com/JakeFAU/realtime-booklist/internal/storage/memory"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
	"github.com/JakeFAU/realtime-booklist/internal/trends"
)

var runDate = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// fakeModel answers the trend prompt with trendsText and content prompts with
// a fixed post per subject.
type fakeModel struct {
	trendsText string
	failFor    string
}

func (m *fakeModel) Generate(_ context.Context, req genai.Request) (string, error) {
	if req.User == trends.TrendPrompt {
		return m.trendsText, nil
	}
	subject := strings.TrimPrefix(req.User, "书名：")
	if subject == m.failFor {
		return "", fmt.Errorf("upstream 503: %w", studio.ErrNetworkExhausted)
	}
	return fmt.Sprintf("```json\n{\"title\":\"读%s\",\"fullContent\":\"正文 %s\",\"quotes\":[\"第一句\",\"第二句\",\"第三句\"],\"tags\":[\"书单\"]}\n```", subject, subject), nil
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// fakeSurface returns a tiny payload per capture and fails any document that
// mentions failOn.
type fakeSurface struct {
	failOn   string
	inflight atomic.Int32
	overlap  atomic.Bool
	captures atomic.Int32
}

func (s *fakeSurface) Capture(_ context.Context, html string) ([]byte, error) {
	if s.inflight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inflight.Add(-1)
	if s.failOn != "" && strings.Contains(html, s.failOn) {
		return nil, errors.New("surface lost")
	}
	n := s.captures.Add(1)
	return []byte(fmt.Sprintf("png-%d", n)), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type harness struct {
	ctrl      *Controller
	model     *fakeModel
	surface   *fakeSurface
	archive   *archivememory.Store
	blobs     *storagememory.BlobStore
	clock     *fakeClock
	events    *recordingEmitter
	publisher *publishermemory.Publisher
	spans     *tracetest.SpanRecorder
}

type harnessOption func(*Deps, *harness)

func withKey(key string) harnessOption {
	return func(d *Deps, _ *harness) { d.Keys = genai.StaticKey(key) }
}

func withRenderer(r PostRenderer) harnessOption {
	return func(d *Deps, _ *harness) { d.Renderer = r }
}

func newHarness(t *testing.T, model *fakeModel, surface *fakeSurface, opts ...harnessOption) *harness {
	t.Helper()
	ids := uuid.New()
	h := &harness{
		model:     model,
		surface:   surface,
		archive:   archivememory.New(ids, func() time.Time { return runDate }),
		blobs:     storagememory.NewBlobStore(),
		clock:     &fakeClock{now: runDate},
		events:    &recordingEmitter{},
		publisher: publishermemory.New(),
		spans:     tracetest.NewSpanRecorder(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	renderer := render.NewRenderer(surface, render.NewComposer(render.DefaultCanvas()), render.NewLease(), nil, render.Timing{}, nil)
	deps := Deps{
		Keys:       genai.StaticKey("test-key"),
		Archive:    h.archive,
		Discoverer: trends.NewDiscoverer(nil, trends.NewModelSource(model)),
		Generator:  content.NewGenerator(model, content.WithPicker(func(int) int { return 2 })),
		Renderer:   renderer,
		Deliverer:  export.NewDeliverer(h.blobs, "", sha256.New()),
		Publisher:  h.publisher,
		Clock:      h.clock,
		IDs:        ids,
		Events:     h.events,
		Tracer:     tp.Tracer("pipeline-test"),
		ResetDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&deps, h)
	}
	ctrl, err := New(deps)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func readZip(t *testing.T, blobs *storagememory.BlobStore, path string) map[string][]byte {
	t.Helper()
	rc, err := blobs.GetObject(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		fr, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(fr)
		require.NoError(t, err)
		require.NoError(t, fr.Close())
		out[f.Name] = body
	}
	return out
}

func archivedNames(t *testing.T, s studio.ArchiveStore) []string {
	t.Helper()
	projects, err := s.List(context.Background())
	require.NoError(t, err)
	names := studio.BookNames(projects)
	sort.Strings(names)
	return names
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"}]`}, &fakeSurface{})

	art, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)
	require.Equal(t, "20250314_热度书单.zip", art.Name)
	require.NotEmpty(t, art.SHA256)

	files := readZip(t, h.blobs, art.Path)
	require.Len(t, files, 10)
	for _, subject := range []string{"Atomic Habits", "Deep Work"} {
		folder := "20250314_" + subject + "/"
		assert.Contains(t, files, folder+"01_封面_"+subject+".png")
		assert.Contains(t, files, folder+"02_摘录_1.png")
		assert.Contains(t, files, folder+"03_摘录_2.png")
		assert.Contains(t, files, folder+"04_摘录_3.png")
		notes := folder + subject + "_文案.md"
		require.Contains(t, files, notes)
		assert.Equal(t, "# 读"+subject+"\n\n正文 "+subject, string(files[notes]))
	}

	assert.Equal(t, []string{"Atomic Habits", "Deep Work"}, archivedNames(t, h.archive))
	assert.False(t, h.surface.overlap.Load())

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, CompletedEvent, msgs[0].Event)
	completion, ok := msgs[0].Payload.(Completion)
	require.True(t, ok)
	assert.Equal(t, []string{"Atomic Habits", "Deep Work"}, completion.Books)

	state := h.ctrl.State()
	assert.False(t, state.Running)
	assert.Equal(t, StageIdle, state.Stage)
	assert.Empty(t, state.Buffer)
	require.NotNil(t, state.Artifact)
	assert.Equal(t, art.Name, state.Artifact.Name)
	for _, slot := range state.Slots {
		assert.Equal(t, studio.StatusWaiting, slot.Status)
		assert.Empty(t, slot.Name)
	}
	assert.Contains(t, h.clock.sleeps, 2*time.Second)
	assert.False(t, h.ctrl.Busy())
}

func TestRunPackagesSubjectWithPathSeparator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"AC/DC 传"}]`}, &fakeSurface{})

	art, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)

	files := readZip(t, h.blobs, art.Path)
	require.Len(t, files, 10)
	folder := "20250314_AC／DC 传/"
	assert.Contains(t, files, folder+"01_封面_AC／DC 传.png")
	assert.Contains(t, files, folder+"04_摘录_3.png")
	notes := folder + "AC／DC 传_文案.md"
	require.Contains(t, files, notes)
	assert.Equal(t, "# 读AC/DC 传\n\n正文 AC/DC 传", string(files[notes]))
	for name := range files {
		assert.Equal(t, 2, len(strings.Split(name, "/")), name)
	}

	assert.Equal(t, []string{"AC/DC 传", "Atomic Habits"}, archivedNames(t, h.archive))
}

func TestRunEmitsValidProgressAndSpans(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"}]`}, &fakeSurface{})
	_, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)

	stages := h.events.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	assert.Contains(t, stages, progress.StageTargets)
	assert.Contains(t, stages, progress.StageExport)
	for _, evt := range h.events.events {
		require.NoError(t, evt.Validate(), "stage %s", evt.Stage)
	}

	names := make([]string, 0)
	for _, span := range h.spans.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "pipeline.run")
	assert.Contains(t, names, "pipeline.discover")
	assert.Contains(t, names, "pipeline.generate")
	assert.Contains(t, names, "pipeline.export")
	assert.Contains(t, names, "pipeline.archive")
	renders := 0
	for _, n := range names {
		if n == "pipeline.render" {
			renders++
		}
	}
	assert.Equal(t, 2, renders)
}

// orderRenderer checks the slot board while each post renders.
type orderRenderer struct {
	ctrl     *Controller
	mu       sync.Mutex
	order    []string
	inflight atomic.Int32
	overlap  atomic.Bool
	maxBusy  int
}

func (r *orderRenderer) Render(_ context.Context, c studio.GeneratedContent) (render.Images, error) {
	if r.inflight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.inflight.Add(-1)

	rendering := 0
	for _, slot := range r.ctrl.State().Slots {
		if slot.Status == studio.StatusRendering {
			rendering++
		}
	}
	r.mu.Lock()
	r.order = append(r.order, c.OriginalBook)
	if rendering > r.maxBusy {
		r.maxBusy = rendering
	}
	r.mu.Unlock()
	return render.Images{Cover: []byte("cover"), Quotes: [][]byte{[]byte("q")}}, nil
}

func TestRunRendersSequentiallyInBufferOrder(t *testing.T) {
	t.Parallel()

	rr := &orderRenderer{}
	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"}]`}, &fakeSurface{}, withRenderer(rr))
	rr.ctrl = h.ctrl

	_, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)
	assert.Equal(t, []string{"Atomic Habits", "Deep Work"}, rr.order)
	assert.False(t, rr.overlap.Load())
	assert.Equal(t, 1, rr.maxBusy)
}

func TestRunExportFailureOnSecondTargetDiscardsEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"}]`}, &fakeSurface{failOn: "Deep Work"})

	_, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.ErrorIs(t, err, studio.ErrExportFailure)
	assert.Empty(t, h.blobs.Paths())
	assert.Empty(t, archivedNames(t, h.archive))
	assert.Empty(t, h.publisher.Messages())

	state := h.ctrl.State()
	assert.Equal(t, StageFailed, state.Stage)
	assert.Equal(t, MsgExport, state.Message)
	assert.False(t, state.Running)
	require.Len(t, state.Slots, 2)
	assert.Equal(t, studio.StatusDone, state.Slots[0].Status)
	assert.Equal(t, studio.StatusFailed, state.Slots[1].Status)
	assert.Contains(t, h.events.stages(), progress.StageRunError)
	assert.False(t, h.ctrl.Busy())
}

func TestRunGenerationFailureBlocksBeforeRendering(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"}]`, failFor: "Deep Work"}, &fakeSurface{})

	_, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.ErrorIs(t, err, studio.ErrPipelineBlocked)
	assert.Zero(t, h.surface.captures.Load())
	assert.Empty(t, h.blobs.Paths())
	assert.Empty(t, archivedNames(t, h.archive))

	state := h.ctrl.State()
	assert.Equal(t, MsgBlocked, state.Message)
	for _, slot := range state.Slots {
		assert.Equal(t, studio.StatusFailed, slot.Status)
	}
}

func TestRunWithoutKeyFailsImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"}]`}, &fakeSurface{}, withKey(""))

	_, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.ErrorIs(t, err, studio.ErrNoAPIKey)
	state := h.ctrl.State()
	assert.Equal(t, MsgNoKey, state.Message)
	for _, slot := range state.Slots {
		assert.Empty(t, slot.Name)
	}
}

func TestRunWithNoTargets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: "the service is busy"}, &fakeSurface{})

	_, err := h.ctrl.Run(context.Background(), "")
	require.ErrorIs(t, err, studio.ErrNoTargets)
	assert.Equal(t, MsgNoTargets, h.ctrl.State().Message)
}

func TestRunSkipsArchivedCandidates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"},{"title":"Range"}]`}, &fakeSurface{})
	_, err := h.archive.Append(context.Background(), "Deep Work")
	require.NoError(t, err)

	art, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)
	files := readZip(t, h.blobs, art.Path)
	assert.Contains(t, files, "20250314_Range/Range_文案.md")
	assert.NotContains(t, files, "20250314_Deep Work/Deep Work_文案.md")
	assert.Equal(t, []string{"Atomic Habits", "Deep Work", "Range"}, archivedNames(t, h.archive))
}

func TestRunWithDiscoveryFailureUsesUserSubjectOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: "not json at all"}, &fakeSurface{})

	art, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)
	files := readZip(t, h.blobs, art.Path)
	assert.Len(t, files, 5)
	assert.Equal(t, []string{"Atomic Habits"}, archivedNames(t, h.archive))
}

// blockingRenderer holds the line until release is closed.
type blockingRenderer struct {
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRenderer) Render(_ context.Context, _ studio.GeneratedContent) (render.Images, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return render.Images{Cover: []byte("cover")}, nil
}

func TestStartRejectsReentry(t *testing.T) {
	t.Parallel()

	br := &blockingRenderer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, &fakeModel{trendsText: `[]`}, &fakeSurface{}, withRenderer(br))

	runID, err := h.ctrl.Start(context.Background(), "Atomic Habits")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	<-br.entered

	_, err = h.ctrl.Start(context.Background(), "Deep Work")
	require.ErrorIs(t, err, studio.ErrBusy)
	_, err = h.ctrl.Run(context.Background(), "Deep Work")
	require.ErrorIs(t, err, studio.ErrBusy)
	assert.True(t, h.ctrl.State().Running)
	assert.Equal(t, runID, h.ctrl.State().RunID)

	close(br.release)
	require.Eventually(t, func() bool { return !h.ctrl.Busy() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Atomic Habits"}, archivedNames(t, h.archive))
}

func TestStartSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	br := &blockingRenderer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, &fakeModel{trendsText: `[]`}, &fakeSurface{}, withRenderer(br))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.ctrl.Start(ctx, "Atomic Habits")
	require.NoError(t, err)
	<-br.entered
	cancel()
	close(br.release)

	require.Eventually(t, func() bool { return !h.ctrl.Busy() }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.blobs.Paths(), 1)
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeModel{trendsText: `[{"title":"Deep Work"}]`}, &fakeSurface{})
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.ctrl.Subscribe(ctx)

	first := <-ch
	assert.Equal(t, StageIdle, first.Stage)
	assert.Len(t, first.Slots, studio.MaxTargets)

	_, err := h.ctrl.Run(context.Background(), "Atomic Habits")
	require.NoError(t, err)

	latest := <-ch
	assert.Equal(t, StageIdle, latest.Stage)
	require.NotNil(t, latest.Artifact)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key source")
}

package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubCountsDroppedEvents checks a full queue drops events and the count
// resets when the warning is logged.
func TestHubCountsDroppedEvents(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:         withDefaults(Config{}),
		events:      make(chan Event),
		logger:      zap.NewNop(),
		dropLimiter: rateLimiter{interval: time.Hour},
	}
	hub.Emit(sampleEvent(StageRunStart))
	require.Zero(t, hub.Dropped())
	hub.Emit(sampleEvent(StageSlot))
	hub.Emit(sampleEvent(StageSlot))
	require.EqualValues(t, 2, hub.Dropped())
	require.Equal(t, defaultMaxBatchEvents, hub.cfg.MaxBatchEvents)
	require.Equal(t, defaultMaxBatchWait, hub.cfg.MaxBatchWait)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

// TestHubDropsInvalidEvents checks validation happens before enqueueing.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Minute}, sink)

	hub.Emit(Event{Stage: StageRunStart})
	bad := sampleEvent(StageSlot)
	bad.Status = ""
	hub.Emit(bad)
	hub.Emit(sampleEvent(StageSlot))

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, studio.StatusRendering, batches[0][0].Status)
}

// TestClassify groups run errors by sentinel.
func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, ReasonBlocked, Classify(fmt.Errorf("x: %w: %w", studio.ErrPipelineBlocked, studio.ErrNetworkExhausted)))
	require.Equal(t, ReasonNetwork, Classify(studio.ErrNetworkExhausted))
	require.Equal(t, ReasonExport, Classify(studio.ErrExportFailure))
	require.Equal(t, ReasonNoKey, Classify(studio.ErrNoAPIKey))
	require.Equal(t, ReasonNoTarget, Classify(studio.ErrNoTargets))
	require.Equal(t, ReasonOther, Classify(errors.New("boom")))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	id := uuid.New()
	evt := Event{
		RunID:   UUIDToBytes(id),
		TS:      time.Now(),
		Stage:   stage,
		Subject: "Deep Work",
	}
	if stage == StageSlot {
		evt.Status = studio.StatusRendering
	}
	return evt
}

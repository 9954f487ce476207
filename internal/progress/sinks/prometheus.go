package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-booklist/internal/progress"
)

// PrometheusSink exports production run metrics via Prometheus. It owns the
// collectors for runs started/completed/running, slot transitions and
// rendered images.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	slotTransitions *prometheus.CounterVec
	imagesRendered  prometheus.Counter
	targetsSelected prometheus.Histogram
	exportBytes     prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booklist_runs_started_total",
			Help: "Total production runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booklist_runs_completed_total",
			Help: "Total production runs completed partitioned by result and reason.",
		}, []string{"result", "reason"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklist_runs_running",
			Help: "Current number of running production runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booklist_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		slotTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booklist_slot_transitions_total",
			Help: "Slot status transitions partitioned by the status entered.",
		}, []string{"status"}),
		imagesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booklist_images_rendered_total",
			Help: "Card images captured.",
		}),
		targetsSelected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "booklist_targets_per_run",
			Help:    "Targets selected per run.",
			Buckets: []float64{0, 1, 2},
		}),
		exportBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booklist_export_bytes_total",
			Help: "Bytes of archives delivered.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.slotTransitions,
		s.imagesRendered,
		s.targetsSelected,
		s.exportBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageTargets:
		s.targetsSelected.Observe(float64(evt.Count))
	case progress.StageSlot:
		s.slotTransitions.WithLabelValues(string(evt.Status)).Inc()
	case progress.StageImage:
		s.imagesRendered.Inc()
	case progress.StageExport:
		if evt.Count > 0 {
			s.exportBytes.Add(float64(evt.Count))
		}
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success", "").Inc()
		s.observeDuration(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error", string(evt.Reason)).Inc()
		s.observeDuration(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeDuration(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-async-render/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	FrameBuckets    []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds  *prom.HistogramVec
	taskFailureTotal     *prom.CounterVec
	taskRejectedTotal    *prom.CounterVec
	queueDepth           *prom.GaugeVec
	frameDurationSeconds *prom.HistogramVec
	framesTotal          *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "asyncrender"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	frameBuckets := opts.FrameBuckets
	if len(frameBuckets) == 0 {
		frameBuckets = prom.ExponentialBuckets(0.001, 2, 14)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"thread", "mode"})
	failureVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_failure_total",
		Help:      "Total number of tasks that returned an error or panicked.",
	}, []string{"thread", "mode"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"thread", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current mailbox depth.",
	}, []string{"thread"})
	frameVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_duration_seconds",
		Help:      "Render frame duration in seconds, aborted frames included.",
		Buckets:   frameBuckets,
	}, []string{"surface"})
	framesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Total number of render passes by result.",
	}, []string{"surface", "result"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failureVec, err = registerCollector(reg, failureVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if frameVec, err = registerCollector(reg, frameVec); err != nil {
		return nil, err
	}
	if framesVec, err = registerCollector(reg, framesVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds:  durationVec,
		taskFailureTotal:     failureVec,
		taskRejectedTotal:    rejectedVec,
		queueDepth:           queueDepthVec,
		frameDurationSeconds: frameVec,
		framesTotal:          framesVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(thread string, mode core.SubmitMode, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(thread, "unknown"), modeLabel(mode)).Observe(duration.Seconds())
}

// RecordTaskFailure records a failed task.
func (m *MetricsExporter) RecordTaskFailure(thread string, mode core.SubmitMode) {
	if m == nil {
		return
	}
	m.taskFailureTotal.WithLabelValues(normalizeLabel(thread, "unknown"), modeLabel(mode)).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(thread string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(thread, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(thread string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(thread, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordFrame records one render pass on surface.
func (m *MetricsExporter) RecordFrame(surface string, duration time.Duration, aborted bool) {
	if m == nil {
		return
	}
	surface = normalizeLabel(surface, "unknown")
	m.frameDurationSeconds.WithLabelValues(surface).Observe(duration.Seconds())
	result := "rendered"
	if aborted {
		result = "aborted"
	}
	m.framesTotal.WithLabelValues(surface, result).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func modeLabel(mode core.SubmitMode) string {
	switch mode {
	case core.ModeAsync:
		return "async"
	case core.ModeSync:
		return "sync"
	default:
		return "unknown"
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

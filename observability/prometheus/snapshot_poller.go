package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-async-render/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ThreadSnapshotProvider provides current thread stats snapshots, e.g. a Demo
// (both of its threads) or a single Loop wrapped in ThreadSnapshotFunc.
type ThreadSnapshotProvider interface {
	Stats() []core.ThreadStats
}

// ThreadSnapshotFunc adapts a function to ThreadSnapshotProvider.
type ThreadSnapshotFunc func() []core.ThreadStats

func (f ThreadSnapshotFunc) Stats() []core.ThreadStats { return f() }

// SnapshotPoller periodically exports thread Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration
	now      func() time.Time

	sourcesMu sync.RWMutex
	sources   map[string]ThreadSnapshotProvider

	threadPending      *prom.GaugeVec
	threadRunning      *prom.GaugeVec
	threadExecuted     *prom.GaugeVec
	threadFailed       *prom.GaugeVec
	threadRejected     *prom.GaugeVec
	threadClosed       *prom.GaugeVec
	threadHeartbeatAge *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "asyncrender"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	labels := []string{"source", "thread"}
	gauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:           interval,
		now:                time.Now,
		sources:            make(map[string]ThreadSnapshotProvider),
		threadPending:      gauge("thread_pending", "Number of tasks queued per thread."),
		threadRunning:      gauge("thread_running", "Number of tasks running per thread."),
		threadExecuted:     gauge("thread_executed_total", "Executed task count snapshot."),
		threadFailed:       gauge("thread_failed_total", "Failed task count snapshot."),
		threadRejected:     gauge("thread_rejected_total", "Rejected task count snapshot."),
		threadClosed:       gauge("thread_closed", "Mailbox closed state (1=closed, 0=open)."),
		threadHeartbeatAge: gauge("thread_heartbeat_age_seconds", "Seconds since the thread loop last iterated."),
	}

	var err error
	for _, g := range []**prom.GaugeVec{
		&p.threadPending,
		&p.threadRunning,
		&p.threadExecuted,
		&p.threadFailed,
		&p.threadRejected,
		&p.threadClosed,
		&p.threadHeartbeatAge,
	} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddSource adds or replaces a snapshot provider by name.
func (p *SnapshotPoller) AddSource(name string, provider ThreadSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "source")
	p.sourcesMu.Lock()
	p.sources[name] = provider
	p.sourcesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	now := p.now()

	p.sourcesMu.RLock()
	defer p.sourcesMu.RUnlock()

	for source, provider := range p.sources {
		for _, stats := range provider.Stats() {
			thread := normalizeLabel(stats.Name, "unknown")
			p.threadPending.WithLabelValues(source, thread).Set(float64(stats.Pending))
			p.threadRunning.WithLabelValues(source, thread).Set(float64(stats.Running))
			p.threadExecuted.WithLabelValues(source, thread).Set(float64(stats.Executed))
			p.threadFailed.WithLabelValues(source, thread).Set(float64(stats.Failed))
			p.threadRejected.WithLabelValues(source, thread).Set(float64(stats.Rejected))
			if stats.Closed {
				p.threadClosed.WithLabelValues(source, thread).Set(1)
			} else {
				p.threadClosed.WithLabelValues(source, thread).Set(0)
			}
			if !stats.LastBeat.IsZero() {
				p.threadHeartbeatAge.WithLabelValues(source, thread).Set(now.Sub(stats.LastBeat).Seconds())
			}
		}
	}
}

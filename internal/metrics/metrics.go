// Package metrics defines the Prometheus instrumentation the historical
// sync engine produces.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors, registered against a
// caller-supplied registerer so multiple engine instances (one per
// network) don't collide on metric names without distinguishing labels.
type Metrics struct {
	CompletedBlocks    *prometheus.CounterVec
	TotalBlocks        *prometheus.GaugeVec
	CachedBlocks       *prometheus.GaugeVec
	RPCRequestDuration *prometheus.HistogramVec

	progress *progressCollector
}

// New registers and returns the engine's metric collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CompletedBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hsync_completed_blocks_total",
			Help: "Number of blocks whose events have been committed to the event store.",
		}, []string{"network", "event_source"}),
		TotalBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hsync_total_blocks",
			Help: "Total blocks in the historical sync target range.",
		}, []string{"network", "event_source"}),
		CachedBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hsync_cached_blocks",
			Help: "Blocks already cached at setup time.",
		}, []string{"network", "event_source"}),
		RPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hsync_rpc_request_duration_seconds",
			Help:    "Duration of chain RPC requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "network"}),
		progress: newProgressCollector(),
	}

	for _, c := range []prometheus.Collector{
		m.CompletedBlocks, m.TotalBlocks, m.CachedBlocks, m.RPCRequestDuration, m.progress,
	} {
		reg.MustRegister(c)
	}

	return m
}

// TrackProgress registers p so completion_rate and completion_eta are
// computed from it on every scrape.
func (m *Metrics) TrackProgress(network, source string, p *Progress) {
	m.progress.track(network, source, p)
}

// Progress is a cheap in-memory accumulator used to compute completion
// rate and ETA on scrape rather than on every block.
type Progress struct {
	total     int64
	completed int64
	startUnix int64
}

// NewProgress creates a Progress tracker seeded with the total block count
// and the unix timestamp setup began.
func NewProgress(total int64, startUnix int64) *Progress {
	return &Progress{total: total, startUnix: startUnix}
}

// AddCompleted atomically records n newly completed blocks.
func (p *Progress) AddCompleted(n int64) {
	atomic.AddInt64(&p.completed, n)
}

// Rate returns completed/total, or 1 if total is zero (nothing to do).
func (p *Progress) Rate() float64 {
	total := atomic.LoadInt64(&p.total)
	if total <= 0 {
		return 1
	}
	completed := atomic.LoadInt64(&p.completed)
	return float64(completed) / float64(total)
}

// ETASeconds estimates remaining seconds by extrapolating the observed
// completion rate since startUnix. Returns 0 once the rate reaches 1.
func (p *Progress) ETASeconds(nowUnix int64) float64 {
	rate := p.Rate()
	if rate >= 1 {
		return 0
	}
	elapsed := nowUnix - p.startUnix
	if elapsed <= 0 || rate <= 0 {
		return 0
	}
	totalEstimate := float64(elapsed) / rate
	return totalEstimate - float64(elapsed)
}

// progressCollector is a custom Collector that computes completion_rate
// and completion_eta from tracked Progress values at scrape time,
// rather than maintaining separate gauges that could drift.
type progressCollector struct {
	mu   sync.Mutex
	byID map[[2]string]*Progress

	rateDesc *prometheus.Desc
	etaDesc  *prometheus.Desc
}

func newProgressCollector() *progressCollector {
	return &progressCollector{
		byID: make(map[[2]string]*Progress),
		rateDesc: prometheus.NewDesc("hsync_completion_rate",
			"Fraction of the target range completed, in [0,1].", []string{"network", "event_source"}, nil),
		etaDesc: prometheus.NewDesc("hsync_completion_eta_seconds",
			"Estimated seconds remaining until completion.", []string{"network", "event_source"}, nil),
	}
}

func (c *progressCollector) track(network, source string, p *Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[[2]string{network, source}] = p
}

func (c *progressCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rateDesc
	ch <- c.etaDesc
}

func (c *progressCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	for id, p := range c.byID {
		ch <- prometheus.MustNewConstMetric(c.rateDesc, prometheus.GaugeValue, p.Rate(), id[0], id[1])
		ch <- prometheus.MustNewConstMetric(c.etaDesc, prometheus.GaugeValue, p.ETASeconds(now), id[0], id[1])
	}
}

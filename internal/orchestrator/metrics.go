package orchestrator

import (
	"sync/atomic"
	"time"
)

// Metrics tracks orchestrator activity.
type Metrics struct {
	startTime      time.Time
	started        atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	cacheHits      atomic.Int64
	rejectedBusy   atomic.Int64
	rejectedQuota  atomic.Int64
	coinsCommitted atomic.Int64
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) recordStart()        { m.started.Add(1) }
func (m *Metrics) recordSuccess()      { m.succeeded.Add(1) }
func (m *Metrics) recordFailure()      { m.failed.Add(1) }
func (m *Metrics) recordCacheHit()     { m.cacheHits.Add(1) }
func (m *Metrics) recordBusy()         { m.rejectedBusy.Add(1) }
func (m *Metrics) recordQuotaBlock()   { m.rejectedQuota.Add(1) }
func (m *Metrics) recordCoins(n int64) { m.coinsCommitted.Add(n) }

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	Started        int64         `json:"started"`
	Succeeded      int64         `json:"succeeded"`
	Failed         int64         `json:"failed"`
	CacheHits      int64         `json:"cache_hits"`
	RejectedBusy   int64         `json:"rejected_busy"`
	RejectedQuota  int64         `json:"rejected_quota"`
	CoinsCommitted int64         `json:"coins_committed"`
	Uptime         time.Duration `json:"uptime"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Started:        m.started.Load(),
		Succeeded:      m.succeeded.Load(),
		Failed:         m.failed.Load(),
		CacheHits:      m.cacheHits.Load(),
		RejectedBusy:   m.rejectedBusy.Load(),
		RejectedQuota:  m.rejectedQuota.Load(),
		CoinsCommitted: m.coinsCommitted.Load(),
		Uptime:         time.Since(m.startTime),
	}
}

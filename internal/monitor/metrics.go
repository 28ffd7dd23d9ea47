package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks order-path performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	OrderLatency   *LatencyHistogram // exchange round trip of order placement
	RequestLatency *LatencyHistogram // whole intent, risk check to journal
	DBLatency      *LatencyHistogram

	// Counters
	ordersPlaced       uint64
	ordersFailed       uint64
	riskRejections     uint64
	confirmationsAsked uint64
	clockResyncs       uint64
	errorsCount        uint64

	// Exchange request weight, updated from the client.
	weightUsed  int
	weightLimit int

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:   NewLatencyHistogram(1000),
		RequestLatency: NewLatencyHistogram(1000),
		DBLatency:      NewLatencyHistogram(1000),
		startedAt:      time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementOrders counts an order the exchange accepted.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersPlaced, 1)
}

// IncrementOrderFailures counts an order the exchange refused or never saw.
func (m *SystemMetrics) IncrementOrderFailures() {
	atomic.AddUint64(&m.ordersFailed, 1)
}

// IncrementRiskRejections counts intents stopped by the risk gate.
func (m *SystemMetrics) IncrementRiskRejections() {
	atomic.AddUint64(&m.riskRejections, 1)
}

// IncrementConfirmations counts intents sent back for confirmation.
func (m *SystemMetrics) IncrementConfirmations() {
	atomic.AddUint64(&m.confirmationsAsked, 1)
}

// IncrementResyncs counts clock re-syncs triggered by timestamp rejections.
func (m *SystemMetrics) IncrementResyncs() {
	atomic.AddUint64(&m.clockResyncs, 1)
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// SetWeightUsage records the exchange's reported request weight.
func (m *SystemMetrics) SetWeightUsage(used, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weightUsed = used
	m.weightLimit = limit
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	OrderLatency       LatencyStats `json:"order_latency"`
	RequestLatency     LatencyStats `json:"request_latency"`
	DBLatency          LatencyStats `json:"db_latency"`
	OrdersPlaced       uint64       `json:"orders_placed"`
	OrdersFailed       uint64       `json:"orders_failed"`
	RiskRejections     uint64       `json:"risk_rejections"`
	ConfirmationsAsked uint64       `json:"confirmations_asked"`
	ClockResyncs       uint64       `json:"clock_resyncs"`
	ErrorsCount        uint64       `json:"errors_count"`
	WeightUsed         int          `json:"weight_used"`
	WeightLimit        int          `json:"weight_limit"`
	GoroutineCount     int          `json:"goroutine_count"`
	HeapAlloc          uint64       `json:"heap_alloc_bytes"`
	Uptime             string       `json:"uptime"`
	Timestamp          time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	used, limit := m.weightUsed, m.weightLimit
	m.mu.RUnlock()

	return MetricsSnapshot{
		OrderLatency:       m.OrderLatency.Stats(),
		RequestLatency:     m.RequestLatency.Stats(),
		DBLatency:          m.DBLatency.Stats(),
		OrdersPlaced:       atomic.LoadUint64(&m.ordersPlaced),
		OrdersFailed:       atomic.LoadUint64(&m.ordersFailed),
		RiskRejections:     atomic.LoadUint64(&m.riskRejections),
		ConfirmationsAsked: atomic.LoadUint64(&m.confirmationsAsked),
		ClockResyncs:       atomic.LoadUint64(&m.clockResyncs),
		ErrorsCount:        atomic.LoadUint64(&m.errorsCount),
		WeightUsed:         used,
		WeightLimit:        limit,
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		Uptime:             time.Since(m.startedAt).Round(time.Second).String(),
		Timestamp:          time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}

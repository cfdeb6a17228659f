package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names recorded by the ticketing services
const (
	TicketsSold          = "tickets_sold"
	PurchasesCompleted   = "purchases_completed"
	ResalesRecorded      = "resales_recorded"
	TransfersRecorded    = "transfers_recorded"
	OTPsSent             = "otps_sent"
	ReceiptEmailsFailed  = "receipt_emails_failed"
	LedgerPublishFailed  = "ledger_publish_failed"
	LedgerEntriesIndexed = "ledger_entries_indexed"

	OpPurchase  = "purchase"
	OpResell    = "resell"
	OpTransfer  = "transfer"
	OpVerifyOTP = "verify_otp"
)

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric captures error rates
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timerStat struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

type rateStat struct {
	total  int64
	errors int64
}

// Metrics is an in-process metrics collector. Values are updated with atomics;
// the mutex only guards creation of new series.
type Metrics struct {
	mu           sync.RWMutex
	counters     map[string]*int64
	gauges       map[string]*int64
	timers       map[string]*timerStat
	errorRates   map[string]*rateStat
	healthChecks map[string]*int64
	startTime    time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:     make(map[string]*int64),
		gauges:       make(map[string]*int64),
		timers:       make(map[string]*timerStat),
		errorRates:   make(map[string]*rateStat),
		healthChecks: make(map[string]*int64),
		startTime:    time.Now(),
	}
}

func series[T any](m *Metrics, set map[string]*T, name string, init func() *T) *T {
	m.mu.RLock()
	v, ok := set[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = set[name]; !ok {
		v = init()
		set[name] = v
	}
	return v
}

func newInt64() *int64 { return new(int64) }

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	atomic.AddInt64(series(m, m.counters, name, newInt64), value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	atomic.StoreInt64(series(m, m.gauges, name, newInt64), value)
}

// RecordTimer records a timing measurement
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	timer := series(m, m.timers, name, func() *timerStat {
		return &timerStat{minTimeMs: math.MaxInt64}
	})

	atomic.AddInt64(&timer.count, 1)
	atomic.AddInt64(&timer.totalTimeMs, durationMs)

	for {
		cur := atomic.LoadInt64(&timer.minTimeMs)
		if durationMs >= cur || atomic.CompareAndSwapInt64(&timer.minTimeMs, cur, durationMs) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&timer.maxTimeMs)
		if durationMs <= cur || atomic.CompareAndSwapInt64(&timer.maxTimeMs, cur, durationMs) {
			break
		}
	}
}

// Since records the time elapsed from start under name
func (m *Metrics) Since(name string, start time.Time) {
	m.RecordTimer(name, time.Since(start).Milliseconds())
}

// RecordSuccess records a successful operation for error rate tracking
func (m *Metrics) RecordSuccess(name string) {
	m.recordOutcome(name, false)
}

// RecordError records a failed operation for error rate tracking
func (m *Metrics) RecordError(name string) {
	m.recordOutcome(name, true)
}

// RecordOutcome records success when err is nil and failure otherwise
func (m *Metrics) RecordOutcome(name string, err error) {
	m.recordOutcome(name, err != nil)
}

func (m *Metrics) recordOutcome(name string, failed bool) {
	rate := series(m, m.errorRates, name, func() *rateStat { return &rateStat{} })
	atomic.AddInt64(&rate.total, 1)
	if failed {
		atomic.AddInt64(&rate.errors, 1)
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, isHealthy bool) {
	var value int64
	if isHealthy {
		value = 1
	}
	atomic.StoreInt64(series(m, m.healthChecks, component, newInt64), value)
}

func loadAll(mu *sync.RWMutex, set map[string]*int64) map[string]int64 {
	mu.RLock()
	defer mu.RUnlock()

	out := make(map[string]int64, len(set))
	for name, v := range set {
		out[name] = atomic.LoadInt64(v)
	}
	return out
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	return loadAll(&m.mu, m.counters)
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	return loadAll(&m.mu, m.gauges)
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	timers := make(map[string]TimerMetric, len(m.timers))
	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		total := atomic.LoadInt64(&t.totalTimeMs)

		var average float64
		if count > 0 {
			average = float64(total) / float64(count)
		}
		timers[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: average,
			MinTimeMs:     atomic.LoadInt64(&t.minTimeMs),
			MaxTimeMs:     atomic.LoadInt64(&t.maxTimeMs),
		}
	}
	return timers
}

// GetErrorRates returns all error rates as percentages
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rates := make(map[string]ErrorRateMetric, len(m.errorRates))
	for name, r := range m.errorRates {
		total := atomic.LoadInt64(&r.total)
		errs := atomic.LoadInt64(&r.errors)

		var pct float64
		if total > 0 {
			pct = float64(errs) / float64(total) * 100.0
		}
		rates[name] = ErrorRateMetric{Total: total, Errors: errs, ErrorRate: pct}
	}
	return rates
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	raw := loadAll(&m.mu, m.healthChecks)
	checks := make(map[string]bool, len(raw))
	for name, v := range raw {
		checks[name] = v > 0
	}
	return checks
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
		"health_checks":  m.GetHealthChecks(),
	}
}

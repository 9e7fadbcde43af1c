package goBioKey

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one controller counter.
type MetricID uint16

const (
	// MetricSessionStarted counts challenges shown to the user.
	MetricSessionStarted MetricID = iota
	// MetricSessionSuccess counts challenges that ended in a successful authentication.
	MetricSessionSuccess
	// MetricSessionError counts challenges that ended with a platform error.
	MetricSessionError
	// MetricSessionCancelled counts challenges cancelled by the user or caller.
	MetricSessionCancelled
	// MetricSessionSuperseded counts sessions cancelled by a newer request for the same key.
	MetricSessionSuperseded
	// MetricNotAvailable counts requests refused because no authenticator is usable.
	MetricNotAvailable
	// MetricRecognitionFailed counts unmatched recognition attempts.
	MetricRecognitionFailed
	// MetricLockout counts sessions that ended in a platform lockout.
	MetricLockout
	// MetricFallback counts switches from biometric to device credential.
	MetricFallback
	// MetricKeyGenerated counts records created or kept by InitializeKey.
	MetricKeyGenerated
	// MetricKeyGenerationFailed counts failed key generations.
	MetricKeyGenerationFailed
	// MetricKeyMissing counts fetches for identifiers without a record.
	MetricKeyMissing
	// MetricKeyInvalidated counts fetches refused because enrollment changed.
	MetricKeyInvalidated
	// MetricKeyRemoved counts removed records.
	MetricKeyRemoved
	// MetricSecretReleased counts derived secrets handed to callers.
	MetricSecretReleased
	// MetricDeriveFailure counts derivations that failed after a successful challenge.
	MetricDeriveFailure
	// MetricStoreUnavailable counts keystore backend failures.
	MetricStoreUnavailable
	// MetricLockConfirmed counts successful LockOnly confirmations.
	MetricLockConfirmed
	// MetricSessionLatency is the request latency histogram.
	MetricSessionLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free controller counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of the metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only MetricSessionLatency has a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricSessionLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
// Histogram buckets are not cumulative.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricSessionLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricSessionLatency].buckets[i])
		}
		s.Histograms[MetricSessionLatency] = buckets
	}

	return s
}

// Challenges take seconds, so the buckets start at a quarter second.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 250:
		return 0
	case ms <= 500:
		return 1
	case ms <= 1000:
		return 2
	case ms <= 2000:
		return 3
	case ms <= 5000:
		return 4
	case ms <= 10000:
		return 5
	case ms <= 30000:
		return 6
	default:
		return 7
	}
}

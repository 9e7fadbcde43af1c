package internaldefs

import (
	"math"

	goBioKey "github.com/MrEthical07/goBioKey"
)

// CounterDef names one controller counter for exporters.
type CounterDef struct {
	ID   goBioKey.MetricID
	Name string
	Help string
}

// HistogramDef names one controller histogram for exporters.
type HistogramDef struct {
	ID   goBioKey.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goBioKey.MetricSessionStarted, Name: "biokey_session_started_total", Help: "Challenges shown to the user."},
	{ID: goBioKey.MetricSessionSuccess, Name: "biokey_session_success_total", Help: "Challenges that ended in a successful authentication."},
	{ID: goBioKey.MetricSessionError, Name: "biokey_session_error_total", Help: "Challenges that ended with a platform error."},
	{ID: goBioKey.MetricSessionCancelled, Name: "biokey_session_cancelled_total", Help: "Challenges cancelled by the user or caller."},
	{ID: goBioKey.MetricSessionSuperseded, Name: "biokey_session_superseded_total", Help: "Challenges cancelled by a newer request for the same key."},
	{ID: goBioKey.MetricNotAvailable, Name: "biokey_not_available_total", Help: "Requests refused because no authenticator was usable."},
	{ID: goBioKey.MetricRecognitionFailed, Name: "biokey_recognition_failed_total", Help: "Unmatched recognition attempts."},
	{ID: goBioKey.MetricLockout, Name: "biokey_lockout_total", Help: "Challenges that ended in a platform lockout."},
	{ID: goBioKey.MetricFallback, Name: "biokey_fallback_total", Help: "Switches from biometric to device credential."},
	{ID: goBioKey.MetricKeyGenerated, Name: "biokey_key_generated_total", Help: "Key records created or kept by InitializeKey."},
	{ID: goBioKey.MetricKeyGenerationFailed, Name: "biokey_key_generation_failed_total", Help: "Failed key generations."},
	{ID: goBioKey.MetricKeyMissing, Name: "biokey_key_missing_total", Help: "Fetches for identifiers without a record."},
	{ID: goBioKey.MetricKeyInvalidated, Name: "biokey_key_invalidated_total", Help: "Fetches refused because enrollment changed."},
	{ID: goBioKey.MetricKeyRemoved, Name: "biokey_key_removed_total", Help: "Removed key records."},
	{ID: goBioKey.MetricSecretReleased, Name: "biokey_secret_released_total", Help: "Derived secrets handed to callers."},
	{ID: goBioKey.MetricDeriveFailure, Name: "biokey_derive_failure_total", Help: "Derivations that failed after a successful challenge."},
	{ID: goBioKey.MetricStoreUnavailable, Name: "biokey_store_unavailable_total", Help: "Keystore backend failures."},
	{ID: goBioKey.MetricLockConfirmed, Name: "biokey_lock_confirmed_total", Help: "Successful device credential confirmations."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goBioKey.MetricSessionLatency, Name: "biokey_session_latency_seconds", Help: "Request latency from start to response."},
}

// HistogramBounds are the upper bounds of the latency buckets in seconds.
// The last bound is +Inf.
var HistogramBounds = []float64{0.25, 0.5, 1, 2, 5, 10, 30, math.Inf(1)}

// HistogramBoundLabels renders HistogramBounds the way Prometheus prints le.
var HistogramBoundLabels = []string{
	"0.25",
	"0.5",
	"1",
	"2",
	"5",
	"10",
	"30",
	"+Inf",
}

// HistogramBoundSuffix is the instrument name suffix of each bucket.
var HistogramBoundSuffix = []string{
	"0_25",
	"0_5",
	"1",
	"2",
	"5",
	"10",
	"30",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array. Missing
// buckets read as zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

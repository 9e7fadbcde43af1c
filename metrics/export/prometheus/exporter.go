package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	goBioKey "github.com/MrEthical07/goBioKey"
	"github.com/MrEthical07/goBioKey/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() goBioKey.MetricsSnapshot
	AuditDropped() uint64
}

var auditDroppedDesc = prometheus.NewDesc(
	"biokey_audit_dropped_total",
	"Dropped audit events due to dispatcher backpressure.",
	nil, nil,
)

// Exporter is a [prometheus.Collector] over controller metrics. Every
// Collect reads one fresh snapshot.
type Exporter struct {
	source     metricsSource
	counters   []*prometheus.Desc
	histograms []*prometheus.Desc
}

var _ prometheus.Collector = new(Exporter)

// NewExporter returns an Exporter reading from controller.
func NewExporter(controller *goBioKey.Controller) *Exporter {
	return NewExporterFromSource(controller)
}

// NewExporterFromSource returns an Exporter reading from any snapshot source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:     source,
		counters:   make([]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histograms: make([]*prometheus.Desc, len(internaldefs.HistogramDefs)),
	}
	for i, def := range internaldefs.CounterDefs {
		e.counters[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		e.histograms[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return e
}

func (e *Exporter) Describe(descCh chan<- *prometheus.Desc) {
	for _, d := range e.counters {
		descCh <- d
	}
	for _, d := range e.histograms {
		descCh <- d
	}
	descCh <- auditDroppedDesc
}

// Collect emits nothing while metrics are disabled and no audit event was
// dropped.
func (e *Exporter) Collect(metricsCh chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for i, def := range internaldefs.CounterDefs {
		metricsCh <- prometheus.MustNewConstMetric(e.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(cumulative)-1)
		for b := 0; b < len(cumulative)-1; b++ {
			buckets[internaldefs.HistogramBounds[b]] = cumulative[b]
		}
		// Snapshots carry no sum.
		metricsCh <- prometheus.MustNewConstHistogram(e.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}

	metricsCh <- prometheus.MustNewConstMetric(auditDroppedDesc, prometheus.CounterValue, float64(dropped))
}

// Handler serves the exporter from a private registry in the Prometheus
// text format. Nothing is registered globally.
func (e *Exporter) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

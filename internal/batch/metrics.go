package batch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/docqa/internal/orchestrator"
)

// Metrics collects batch counters on a private registry so a batch can be
// exported as a node_exporter textfile.
type Metrics struct {
	registry *prometheus.Registry

	documents    *prometheus.CounterVec
	subQuestions prometheus.Histogram
	fallbacks    prometheus.Counter
	degraded     prometheus.Counter
	duration     prometheus.Histogram
	tokens       *prometheus.GaugeVec
}

// NewMetrics registers the batch metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_documents_total",
			Help: "Documents processed, by outcome.",
		}, []string{"status"}),
		subQuestions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_sub_questions",
			Help:    "Sub-questions per document.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docqa_image_fallbacks_total",
			Help: "Sub-questions answered from page images.",
		}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docqa_degraded_replies_total",
			Help: "Model replies that could not be parsed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_run_duration_seconds",
			Help:    "Wall time of one document run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		tokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docqa_tokens",
			Help: "Model tokens used by the batch.",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(m.documents, m.subQuestions, m.fallbacks, m.degraded, m.duration, m.tokens)
	return m
}

// Registry returns the registry holding the batch metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records one document. stats may be nil when the document
// failed before a run started.
func (m *Metrics) ObserveRun(stats *orchestrator.Stats, ok bool) {
	status := "done"
	if !ok {
		status = "failed"
	}
	m.documents.WithLabelValues(status).Inc()
	if stats == nil {
		return
	}
	if ok {
		m.subQuestions.Observe(float64(len(stats.Steps)))
	}
	m.fallbacks.Add(float64(stats.Fallbacks))
	m.degraded.Add(float64(stats.Degraded))
	m.duration.Observe(stats.Duration.Seconds())
}

// SetTokens records the token totals reported by the callers.
func (m *Metrics) SetTokens(input, output int64) {
	m.tokens.WithLabelValues("input").Set(float64(input))
	m.tokens.WithLabelValues("output").Set(float64(output))
}

// WriteTextfile writes the metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics for the analysis pipeline.
type Metrics struct {
	ObservationsIngested prometheus.Counter
	RecordsRejected      prometheus.Counter
	SummariesComputed    prometheus.Counter
	InsightsGenerated    *prometheus.CounterVec
	RefreshDuration      prometheus.Histogram
	ErrorsCount          *prometheus.CounterVec
}

// New creates new prometheus metrics under the given namespace,
// registered on the default registerer.
func New(namespace string) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, namespace)
}

// NewWith creates new prometheus metrics on a caller-supplied
// registerer.
func NewWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ObservationsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_ingested_total",
			Help:      "The total number of flight observations accepted during ingest",
		}),
		RecordsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "The total number of raw records rejected by the normalizer",
		}),
		SummariesComputed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_computed_total",
			Help:      "The total number of route summaries computed",
		}),
		InsightsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_generated_total",
			Help:      "The total number of insights generated",
		}, []string{"generated_by"}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time taken to refresh route summaries",
			Buckets:   prometheus.DefBuckets,
		}),
		ErrorsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "The total number of errors",
		}, []string{"operation"}),
	}
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tweet_ingestion"

// Metrics holds the Prometheus instruments of the ingestion pipeline
type Metrics struct {
	registry *prometheus.Registry

	PagesFetched          *prometheus.CounterVec
	PostsPersisted        *prometheus.CounterVec
	PageFailures          *prometheus.CounterVec
	AnnotationRetries     prometheus.Counter
	AnnotationExhaustions prometheus.Counter
	PageDuration          prometheus.Histogram
}

// New creates the pipeline metrics on their own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages fetched from the posts API",
		}, []string{"account"}),
		PostsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_persisted_total",
			Help:      "Enriched posts committed to the document store",
		}, []string{"account"}),
		PageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_failures_total",
			Help:      "Page processing failures by stage",
		}, []string{"stage"}),
		AnnotationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_retries_total",
			Help:      "Retried annotation attempts",
		}),
		AnnotationExhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_exhausted_total",
			Help:      "Posts whose annotation failed after every attempt",
		}),
		PageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_duration_seconds",
			Help:      "Time to fetch, annotate and persist one page",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.PagesFetched,
		m.PostsPersisted,
		m.PageFailures,
		m.AnnotationRetries,
		m.AnnotationExhaustions,
		m.PageDuration,
		prometheus.NewGoCollector(),
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

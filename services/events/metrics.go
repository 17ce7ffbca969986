package events

import (
	"github.com/prometheus/client_golang/prometheus"

	"sublarr/models"
)

// MetricsCollector folds bus events into prometheus metrics.
type MetricsCollector struct {
	jobsTotal         *prometheus.CounterVec
	searchesTotal     *prometheus.CounterVec
	downloadsTotal    *prometheus.CounterVec
	translationsTotal prometheus.Counter
	providerLatency   *prometheus.HistogramVec
	wantedItems       *prometheus.GaugeVec
}

// NewMetricsCollector registers the metrics and subscribes to the bus.
func NewMetricsCollector(bus *Bus, reg prometheus.Registerer) *MetricsCollector {
	c := &MetricsCollector{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sublarr", Name: "jobs_total",
			Help: "Jobs by terminal outcome.",
		}, []string{"outcome"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sublarr", Name: "provider_searches_total",
			Help: "Provider searches by provider and result.",
		}, []string{"provider", "result"}),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sublarr", Name: "subtitle_downloads_total",
			Help: "Downloaded subtitles by provider.",
		}, []string{"provider"}),
		translationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sublarr", Name: "translations_total",
			Help: "Completed subtitle translations.",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sublarr", Name: "provider_search_seconds",
			Help:    "Provider search latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		wantedItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sublarr", Name: "wanted_items",
			Help: "Wanted items discovered by the last reconcile.",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.jobsTotal, c.searchesTotal, c.downloadsTotal,
		c.translationsTotal, c.providerLatency, c.wantedItems)

	bus.Subscribe(models.EventJobCompleted, func(models.Event) { c.jobsTotal.WithLabelValues("completed").Inc() })
	bus.Subscribe(models.EventJobFailed, func(models.Event) { c.jobsTotal.WithLabelValues("failed").Inc() })
	bus.Subscribe(models.EventJobCancelled, func(models.Event) { c.jobsTotal.WithLabelValues("cancelled").Inc() })
	bus.Subscribe(models.EventProviderSearchCompleted, func(e models.Event) {
		p, ok := e.Data.(models.ProviderSearchPayload)
		if !ok {
			return
		}
		result := "ok"
		if p.Error != "" {
			result = "error"
		}
		c.searchesTotal.WithLabelValues(p.Provider, result).Inc()
		c.providerLatency.WithLabelValues(p.Provider).Observe(float64(p.ElapsedMS) / 1000)
	})
	bus.Subscribe(models.EventSubtitleDownloaded, func(e models.Event) {
		if p, ok := e.Data.(models.DownloadPayload); ok {
			c.downloadsTotal.WithLabelValues(p.Provider).Inc()
		}
	})
	bus.Subscribe(models.EventTranslationCompleted, func(models.Event) { c.translationsTotal.Inc() })
	bus.Subscribe(models.EventWantedScanned, func(e models.Event) {
		if p, ok := e.Data.(models.WantedScanPayload); ok {
			c.wantedItems.WithLabelValues("wanted").Set(float64(p.Wanted))
			c.wantedItems.WithLabelValues("upgrade").Set(float64(p.Upgrade))
		}
	})
	return c
}

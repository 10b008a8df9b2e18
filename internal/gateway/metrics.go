package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gangway",
			Subsystem: "gateway",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gangway",
			Subsystem: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of gateway handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gangway",
			Subsystem: "gateway",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})

		r.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gangway",
			Subsystem: "gateway",
			Name:      "active_streams",
			Help:      "Streams currently being forwarded to clients",
		})

		collectors := []prometheus.Collector{r.requestTotal, r.requestLatency, r.rateLimitHits, r.activeStreams}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == r.requestTotal {
							r.requestTotal = v
						} else if collector == r.rateLimitHits {
							r.rateLimitHits = v
						}
					case *prometheus.HistogramVec:
						r.requestLatency = v
					case prometheus.Gauge:
						r.activeStreams = v
					}
				}
			}
		}
		r.metricsInitialized = true
	})
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := []string{method, route, strconv.Itoa(status)}
	r.requestTotal.WithLabelValues(labels...).Inc()
	r.requestLatency.WithLabelValues(labels...).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.WithLabelValues(route, key).Inc()
}

func (r *Router) streamStarted() {
	if r.metricsInitialized {
		r.activeStreams.Inc()
	}
}

func (r *Router) streamEnded() {
	if r.metricsInitialized {
		r.activeStreams.Dec()
	}
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})

	HTTPLatencyMS = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	PurchasesInitiated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "purchases_initiated_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})

	PurchasesFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "purchases_finalized_total",
		Help:      "Finalize calls by confirmation source and outcome.",
	}, []string{"source", "outcome"})

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "webhook_events_total",
		Help:      "Provider events by kind and result.",
	}, []string{"kind", "result"})
)

func Register() {
	prometheus.MustRegister(HTTPRequests, HTTPLatencyMS, PurchasesInitiated, PurchasesFinalized, WebhookEvents)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

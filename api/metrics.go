package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服務的計數器，註冊在獨立的 registry 上
type Metrics struct {
	registry *prometheus.Registry

	bids               *prometheus.CounterVec
	refunds            *prometheus.CounterVec
	settlementMessages *prometheus.CounterVec
	auctionsExpired    prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		bids: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_bids_total",
			Help: "Bid placements by outcome (accepted or rejection reason).",
		}, []string{"outcome"}),
		refunds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_refunds_total",
			Help: "Refund requests by outcome.",
		}, []string{"outcome"}),
		settlementMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_settlement_messages_total",
			Help: "Settlement confirmations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		auctionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_auctions_expired_total",
			Help: "Auctions moved to ended by the expiry sweeper.",
		}),
	}
}

// Handler 回傳 /metrics 使用的 http.Handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

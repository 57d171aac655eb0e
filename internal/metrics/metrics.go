package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CandlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_total", Help: "Count of candles ingested"},
		[]string{"symbol", "interval"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals published by the dispatcher"},
		[]string{"symbol", "type"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bus_queue_depth", Help: "Events waiting per bus queue"},
		[]string{"queue"},
	)
	QueueCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bus_queue_capacity", Help: "Configured capacity per bus queue"},
		[]string{"queue"},
	)
	QueueDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bus_queue_drops_total", Help: "Events dropped by the lossy queue policy"},
		[]string{"queue"},
	)
	IngestDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ingest_drops_total", Help: "Candles refused at the ingest boundary"},
	)
)

func init() {
	prometheus.MustRegister(
		CandlesTotal, SignalsTotal, OrdersTotal,
		QueueDepth, QueueCapacity, QueueDropsTotal, IngestDropsTotal,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Registers:
//
//	#liqflow_liquidations_total{exchange,side}
//	#liqflow_liquidation_notional_usd_total{exchange}
//	#liqflow_connector_{connects,reconnects,frames,decode_errors}_total{exchange}
//	#liqflow_subscriber_drops_total
//	#liqflow_active_subscribers
//	#go_* and process_* system metrics
//
// Exposed through Handler on the dashboard's /metrics route.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liqflow/internal/models"
)

// Registry owns the process' Prometheus collectors. A nil *Registry is valid
// and records nothing, which keeps tests free of metric plumbing.
type Registry struct {
	reg *prometheus.Registry

	liquidations *prometheus.CounterVec
	notional     *prometheus.CounterVec
	connects     *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	frames       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	drops        prometheus.Counter
}

func NewRegistry() *Registry {
	exchange := []string{"exchange"}
	r := &Registry{
		reg: prometheus.NewRegistry(),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqflow_liquidations_total",
			Help: "Normalized liquidation events published to the hub",
		}, []string{"exchange", "side"}),
		notional: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqflow_liquidation_notional_usd_total",
			Help: "Sum of liquidated notional in quote currency",
		}, exchange),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqflow_connector_connects_total",
			Help: "Successful websocket sessions per exchange",
		}, exchange),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqflow_connector_reconnects_total",
			Help: "Connection attempts that ended and were retried",
		}, exchange),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqflow_connector_frames_total",
			Help: "Websocket frames received per exchange",
		}, exchange),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqflow_connector_decode_errors_total",
			Help: "Frames skipped because they could not be decoded",
		}, exchange),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqflow_subscriber_drops_total",
			Help: "Deliveries dropped because a subscriber buffer was full",
		}),
	}

	r.reg.MustRegister(
		r.liquidations, r.notional, r.connects, r.reconnects, r.frames, r.decodeErrors, r.drops,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RegisterActiveSubscribers exposes the live subscriber count as a gauge.
func (r *Registry) RegisterActiveSubscribers(fn func() float64) {
	if r == nil || fn == nil {
		return
	}
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "liqflow_active_subscribers",
		Help: "Currently registered hub subscribers",
	}, fn))
}

func (r *Registry) ObserveLiquidation(ev models.Liquidation) {
	if r == nil {
		return
	}
	r.liquidations.WithLabelValues(string(ev.Exchange), string(ev.Side)).Inc()
	r.notional.WithLabelValues(string(ev.Exchange)).Add(ev.Notional.InexactFloat64())
}

func (r *Registry) Connected(exchange models.Exchange) {
	if r != nil {
		r.connects.WithLabelValues(string(exchange)).Inc()
	}
}

func (r *Registry) Reconnecting(exchange models.Exchange) {
	if r != nil {
		r.reconnects.WithLabelValues(string(exchange)).Inc()
	}
}

func (r *Registry) Frame(exchange models.Exchange) {
	if r != nil {
		r.frames.WithLabelValues(string(exchange)).Inc()
	}
}

func (r *Registry) DecodeError(exchange models.Exchange) {
	if r != nil {
		r.decodeErrors.WithLabelValues(string(exchange)).Inc()
	}
}

func (r *Registry) SubscriberDrop() {
	if r != nil {
		r.drops.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

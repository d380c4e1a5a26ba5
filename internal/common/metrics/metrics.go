package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	PushesCreated  prometheus.Counter
	PushesDeleted  prometheus.Counter
	FeedHead       *prometheus.GaugeVec
	Subscribers    prometheus.Gauge
	Delivered      prometheus.Counter
	Resyncs        *prometheus.CounterVec
	RelayPublished prometheus.Counter
	RelayFailed    prometheus.Counter
	RelayDropped   prometheus.Counter
	RemoteApplied  prometheus.Counter
	AuditAppended  prometheus.Counter
	AppendLatency  prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	created := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_pushes_created_total"})
	deleted := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_pushes_deleted_total"})
	head := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "what2eat_feed_head_seq"}, []string{"group"})
	subs := prometheus.NewGauge(prometheus.GaugeOpts{Name: "what2eat_stream_subscribers"})
	delivered := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_stream_delivered_total"})
	resyncs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "what2eat_stream_resyncs_total"}, []string{"reason"})
	relayPub := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_relay_published_total"})
	relayFail := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_relay_failed_total"})
	relayDrop := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_relay_dropped_total"})
	remote := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_relay_remote_applied_total"})
	audit := prometheus.NewCounter(prometheus.CounterOpts{Name: "what2eat_audit_appended_total"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "what2eat_feed_append_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(created, deleted, head, subs, delivered, resyncs, relayPub, relayFail, relayDrop, remote, audit, latency)
	return &Registry{
		reg:            r,
		PushesCreated:  created,
		PushesDeleted:  deleted,
		FeedHead:       head,
		Subscribers:    subs,
		Delivered:      delivered,
		Resyncs:        resyncs,
		RelayPublished: relayPub,
		RelayFailed:    relayFail,
		RelayDropped:   relayDrop,
		RemoteApplied:  remote,
		AuditAppended:  audit,
		AppendLatency:  latency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Package metrics provides Prometheus metrics for a peerchat node.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OK     = "ok"
	Failed = "failed"
)

// Metrics holds all Prometheus metrics for one node. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Presence
	BroadcastsTotal *prometheus.CounterVec
	Announcements   *prometheus.CounterVec
	ActivePeers     prometheus.Gauge

	// Session keys
	Handshakes       *prometheus.CounterVec
	HandshakeLatency prometheus.Histogram

	// Messages
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	StatusUpdates    *prometheus.CounterVec
	ExchangeLatency  *prometheus.HistogramVec
}

// New registers every metric on a fresh registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		BroadcastsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Presence broadcasts by outcome",
		}, []string{"outcome"}),
		Announcements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Discovery datagrams received by outcome (observed, self, dropped)",
		}, []string{"outcome"}),
		ActivePeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_peers",
			Help:      "Peers seen within the staleness window at the last listing",
		}),

		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Session key negotiations by direction and outcome",
		}, []string{"direction", "outcome"}),
		HandshakeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Outbound session key negotiation latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound chat messages by outcome",
		}, []string{"outcome"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound chat messages by outcome",
		}, []string{"outcome"}),
		StatusUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Inbound status updates by outcome (applied, ignored, failed)",
		}, []string{"outcome"}),
		ExchangeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "One-shot TCP exchange duration by packet type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return Failed
	}
	return OK
}

// RecordBroadcast records one presence send.
func (m *Metrics) RecordBroadcast(err error) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(outcome(err)).Inc()
}

// RecordAnnouncement records a discovery datagram with the given outcome.
func (m *Metrics) RecordAnnouncement(result string) {
	if m == nil {
		return
	}
	m.Announcements.WithLabelValues(result).Inc()
}

// SetActivePeers updates the active peer gauge.
func (m *Metrics) SetActivePeers(n int) {
	if m == nil {
		return
	}
	m.ActivePeers.Set(float64(n))
}

// RecordHandshake records a negotiation. Latency is observed only for
// outbound handshakes.
func (m *Metrics) RecordHandshake(direction string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(direction, outcome(err)).Inc()
	if direction == "outbound" {
		m.HandshakeLatency.Observe(d.Seconds())
	}
}

// RecordExchange records one TCP exchange of packet type typ.
func (m *Metrics) RecordExchange(typ string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeLatency.WithLabelValues(typ).Observe(d.Seconds())
}

// RecordSent records an outbound chat message.
func (m *Metrics) RecordSent(err error) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(outcome(err)).Inc()
}

// RecordReceived records an inbound chat message.
func (m *Metrics) RecordReceived(err error) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(outcome(err)).Inc()
}

// RecordStatus records an inbound status update outcome.
func (m *Metrics) RecordStatus(result string) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Server runs an HTTP server exposing /metrics and /health.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server on addr.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.server.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

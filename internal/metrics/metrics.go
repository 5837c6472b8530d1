// Package metrics holds the Prometheus instruments of the capture pipeline.
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

// Metrics holds all Prometheus metrics for the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Upload metrics
	UploadBytesTotal  prometheus.Counter
	UploadChunksTotal *prometheus.CounterVec
	UploadSeconds     prometheus.Histogram

	// Transport metrics
	NegotiationsTotal  *prometheus.CounterVec
	NegotiationSeconds prometheus.Histogram

	// Channel metrics
	ChannelEventsTotal     *prometheus.CounterVec
	ChannelDisconnectTotal prometheus.Counter

	// Session metrics
	SessionTransitionsTotal *prometheus.CounterVec

	// Correction metrics
	AssignmentsTotal *prometheus.CounterVec
}

// New creates metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UploadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stenolive_upload_bytes_total",
			Help: "Bytes acknowledged by the server during chunked uploads",
		}),
		UploadChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stenolive_upload_chunks_total",
				Help: "Chunk requests by result",
			},
			[]string{"result"},
		),
		UploadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stenolive_upload_seconds",
			Help:    "Wall time of complete uploads",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		NegotiationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stenolive_negotiations_total",
				Help: "Transport negotiations by outcome",
			},
			[]string{"outcome"},
		),
		NegotiationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stenolive_negotiation_seconds",
			Help:    "Time from offer to connected transport",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),

		ChannelEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stenolive_channel_events_total",
				Help: "Push channel frames by event name",
			},
			[]string{"event"},
		),
		ChannelDisconnectTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stenolive_channel_disconnects_total",
			Help: "Push channel disconnects",
		}),

		SessionTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stenolive_session_transitions_total",
				Help: "Session state transitions",
			},
			[]string{"from", "to"},
		),

		AssignmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stenolive_assignments_total",
				Help: "Speaker assignments by result",
			},
			[]string{"result"},
		),
	}
}

// NewNop returns metrics on a private registry, for tests and disabled metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RecordChunk records one chunk request.
func (m *Metrics) RecordChunk(ok bool, bytes int) {
	if m == nil {
		return
	}
	if ok {
		m.UploadChunksTotal.WithLabelValues("ok").Inc()
		m.UploadBytesTotal.Add(float64(bytes))
		return
	}
	m.UploadChunksTotal.WithLabelValues("failed").Inc()
}

// RecordUpload records a completed upload.
func (m *Metrics) RecordUpload(d time.Duration) {
	if m == nil {
		return
	}
	m.UploadSeconds.Observe(d.Seconds())
}

// RecordNegotiation records a negotiation outcome ("connected", "failed", "timeout").
func (m *Metrics) RecordNegotiation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.NegotiationsTotal.WithLabelValues(outcome).Inc()
	if outcome == "connected" {
		m.NegotiationSeconds.Observe(d.Seconds())
	}
}

// RecordChannelEvent records a received push frame.
func (m *Metrics) RecordChannelEvent(event string) {
	if m == nil {
		return
	}
	m.ChannelEventsTotal.WithLabelValues(event).Inc()
}

// RecordDisconnect records a push channel disconnect.
func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.ChannelDisconnectTotal.Inc()
}

// RecordTransition records a session state transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordAssignment records a speaker assignment attempt.
func (m *Metrics) RecordAssignment(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.AssignmentsTotal.WithLabelValues(result).Inc()
}

// Serve exposes the registry on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

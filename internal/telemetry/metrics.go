package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prometheus metric names.
const (
	MetricCallsTotal          = "erprpc_calls_total"
	MetricCallDurationSeconds = "erprpc_call_duration_seconds"
	MetricResponseBytesTotal  = "erprpc_response_bytes_total"
	MetricAuthenticated       = "erprpc_session_authenticated"
)

// Call outcomes used as the outcome label.
const (
	OutcomeOK        = "ok"
	OutcomeFault     = "fault"
	OutcomeTransport = "transport_error"
	OutcomeDecode    = "decode_error"
	OutcomeEncode    = "encode_error"
	OutcomeAuth      = "auth_failed"
)

// CallMetrics records remote call counts and latencies on a private registry.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type CallMetrics struct {
	registry *prometheus.Registry

	callsTotal          *prometheus.CounterVec
	callDurationSeconds *prometheus.HistogramVec
	responseBytesTotal  prometheus.Counter
	authenticated       prometheus.Gauge
}

// NewCallMetrics creates the call metrics and registers them on a new registry.
func NewCallMetrics() *CallMetrics {
	m := &CallMetrics{
		registry: prometheus.NewRegistry(),
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCallsTotal,
				Help: "Total number of remote procedure calls by service, method and outcome.",
			},
			[]string{"service", "method", "outcome"},
		),
		callDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricCallDurationSeconds,
				Help:    "Duration of remote procedure calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method"},
		),
		responseBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricResponseBytesTotal,
				Help: "Total bytes of response documents received.",
			},
		),
		authenticated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricAuthenticated,
				Help: "1 when the session holds a user id, 0 otherwise.",
			},
		),
	}

	m.registry.MustRegister(
		m.callsTotal,
		m.callDurationSeconds,
		m.responseBytesTotal,
		m.authenticated,
	)
	return m
}

// ObserveCall records a single remote call result.
func (m *CallMetrics) ObserveCall(service, method, outcome string, duration time.Duration, responseBytes int) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(service, method, outcome).Inc()
	m.callDurationSeconds.WithLabelValues(service, method).Observe(duration.Seconds())
	if responseBytes > 0 {
		m.responseBytesTotal.Add(float64(responseBytes))
	}
}

// SetAuthenticated updates the session state gauge.
func (m *CallMetrics) SetAuthenticated(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.authenticated.Set(1)
		return
	}
	m.authenticated.Set(0)
}

// Handler returns the scrape handler for this registry.
func (m *CallMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry (for testing).
func (m *CallMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Gather collects all metric families from the registry.
func (m *CallMetrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}

// MetricsServer serves CallMetrics over HTTP.
type MetricsServer struct {
	mu      sync.Mutex
	metrics *CallMetrics
	path    string
	server  *http.Server
	ln      net.Listener
	running bool
	lastErr error
}

// NewMetricsServer creates a server exposing metrics at path.
func NewMetricsServer(metrics *CallMetrics, path string) *MetricsServer {
	if path == "" {
		path = "/metrics"
	}
	return &MetricsServer{metrics: metrics, path: path}
}

// Start listens on addr and serves in the background.
func (s *MetricsServer) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starting metrics server: %w", err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.path, s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the HTTP server down.
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.server.Shutdown(ctx)
}

// LastError returns the last serve error, if any.
func (s *MetricsServer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Package metrics exports listener activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/TheCount/go-modbus-tcp/modbus"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config describes the metrics endpoint.
type Config struct {
	// Enabled turns the endpoint on.
	Enabled bool `yaml:"enabled"`

	// Address is the HTTP listen address.
	Address string `yaml:"address" validate:"required,hostname_port"`

	// Path is the path metrics are served on.
	Path string `yaml:"path" validate:"required,startswith=/"`
}

// Default returns the default metrics configuration.
func Default() Config {
	return Config{
		Enabled: false,
		Address: "127.0.0.1:9502",
		Path:    "/metrics",
	}
}

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeException = "exception"
)

// Collector implements modbus.Observer by updating Prometheus collectors.
type Collector struct {
	// requests counts answered requests by function and outcome.
	requests *prometheus.CounterVec

	// exceptions counts exception responses by exception code.
	exceptions *prometheus.CounterVec

	// latency observes request durations by function.
	latency *prometheus.HistogramVec

	// active is the number of open connections.
	active prometheus.Gauge

	// connections counts accepted connections.
	connections prometheus.Counter

	// rejected counts rejected connections by reason.
	rejected *prometheus.CounterVec
}

var _ modbus.Observer = (*Collector)(nil)

// NewCollector creates a collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_requests_total",
			Help: "The total number of answered Modbus requests",
		}, []string{"function", "outcome"}),
		exceptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_exceptions_total",
			Help: "The total number of exception responses by exception code",
		}, []string{"exception"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_request_duration_seconds",
			Help:    "Time from receiving a request to sending its response",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"function"}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modbus_connections_active",
			Help: "The number of currently open connections",
		}),
		connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "modbus_connections_total",
			Help: "The total number of accepted connections",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_connections_rejected_total",
			Help: "The total number of rejected connections",
		}, []string{"reason"}),
	}
}

// ConnectionOpened implements modbus.Observer.
func (c *Collector) ConnectionOpened(net.Addr) {
	c.connections.Inc()
	c.active.Inc()
}

// ConnectionClosed implements modbus.Observer.
func (c *Collector) ConnectionClosed(net.Addr) {
	c.active.Dec()
}

// ConnectionRejected implements modbus.Observer.
func (c *Collector) ConnectionRejected(_ net.Addr, reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

// RequestServed implements modbus.Observer.
func (c *Collector) RequestServed(
	fc modbus.FunctionCode, exception modbus.ExceptionCode, elapsed time.Duration,
) {
	function := fc.Base().String()
	outcome := OutcomeOK
	if exception != 0 {
		outcome = OutcomeException
		c.exceptions.WithLabelValues(exception.String()).Inc()
	}
	c.requests.WithLabelValues(function, outcome).Inc()
	c.latency.WithLabelValues(function).Observe(elapsed.Seconds())
}

// NewRouter returns the HTTP handler serving the metrics from gatherer on
// path, plus a liveness check on /healthz.
func NewRouter(gatherer prometheus.Gatherer, path string) http.Handler {
	r := mux.NewRouter()
	r.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// Server serves the metrics endpoint.
type Server struct {
	// srv is the HTTP server.
	srv *http.Server

	// listener is the listener srv serves on.
	listener net.Listener

	// done is closed once srv has stopped serving.
	done chan struct{}
}

// Serve starts serving handler on addr in the background.
func Serve(addr string, handler http.Handler, log zerolog.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: l,
		done:     make(chan struct{}),
	}
	log.Info().Stringer("addr", l.Addr()).Msg("metrics endpoint listening")
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
	return s, nil
}

// Addr returns the address the endpoint listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops the endpoint gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

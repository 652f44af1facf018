package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"feedload/internal/driver"
)

const namespace = "feedload"

// Collector turns the outcome stream into prometheus series. It implements
// driver.Sink.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	checks   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		// Status is a label rather than a histogram dimension so 200s and
		// 201s stay separately countable.
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent to the target, by endpoint and response status",
		}, []string{"endpoint", "region", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency including the response body",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"endpoint", "region"}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Check evaluations by name and result",
		}, []string{"check", "result"}),
	}
}

// Record implements driver.Sink.
func (c *Collector) Record(o driver.RequestOutcome) {
	status := strconv.Itoa(o.Status)
	if o.Err != "" && o.Status == 0 {
		status = "error"
	}
	c.requests.WithLabelValues(o.Endpoint, o.Region, status).Inc()
	c.duration.WithLabelValues(o.Endpoint, o.Region).Observe(o.Latency.Seconds())

	for _, ch := range o.Checks {
		result := "fail"
		if ch.Passed {
			result = "pass"
		}
		c.checks.WithLabelValues(ch.Name, result).Inc()
	}
}

// WatchDriver exposes the driver's live concurrency as gauges.
func WatchDriver(reg prometheus.Registerer, d *driver.Driver) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_vus",
		Help:      "Virtual users currently inside an iteration",
	}, func() float64 { return float64(d.ActiveVUs()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_requests",
		Help:      "Requests waiting on the target",
	}, func() float64 { return float64(d.Inflight()) })
}

// Listen binds addr for Serve. A taken or malformed address is a
// configuration problem, reported before any traffic is sent.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: metrics address: %v", driver.ErrInvalidConfig, err)
	}
	return ln, nil
}

// Serve exposes g under /metrics on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

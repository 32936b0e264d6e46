package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daryltucker/kali/internal/model"
)

// Collector exports live run metrics to Prometheus.
type Collector struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewCollector registers the kali metrics on reg. active, when non-nil, backs
// the active workers gauge.
func NewCollector(reg prometheus.Registerer, active func() float64) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kali_requests_total",
			Help: "Completed request attempts by target host and outcome",
		}, []string{"host", "success"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kali_response_time_seconds",
			Help:    "Connect/write/read round trip time",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"host"}),
	}

	collectors := []prometheus.Collector{c.requests, c.latency}
	if active != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "kali_active_workers",
			Help: "Workers currently running",
		}, active))
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe implements engine.Observer.
func (c *Collector) Observe(m model.RequestMetrics) {
	c.requests.WithLabelValues(m.Host, strconv.FormatBool(m.Success)).Inc()
	c.latency.WithLabelValues(m.Host).Observe(float64(m.ResponseTime) / 1e6)
}

// Serve exposes gatherer on addr at /metrics until ctx is done. The returned
// address is the one actually bound (useful with ":0").
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) (string, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr().String(), errc, nil
}

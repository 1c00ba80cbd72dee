// Package metrics exposes prometheus collectors for the message traffic of a
// component.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benchlane/benchcore/internal/log"
)

const namespace = "benchcore"

// Prometheus holds the collectors of a component, all labelled by queue name.
type Prometheus struct {
	reg *prometheus.Registry

	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	sent      *prometheus.CounterVec
	drain     *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them, along with the
// process and Go runtime collectors, with a new registry.
func NewPrometheus() (*Prometheus, error) {
	p := newUnregistered(prometheus.NewRegistry())

	if err := p.reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	if err := p.reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	for _, c := range []prometheus.Collector{p.processed, p.failed, p.inFlight, p.sent, p.drain} {
		if err := p.reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return p, nil
}

// Noop returns collectors registered with a private registry that is never
// exposed.
func Noop() *Prometheus {
	p := newUnregistered(prometheus.NewRegistry())
	p.reg.MustRegister(p.processed, p.failed, p.inFlight, p.sent, p.drain)
	return p
}

func newUnregistered(reg *prometheus.Registry) *Prometheus {
	labels := []string{"queue"}
	return &Prometheus{
		reg: reg,
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Number of inbound messages handled successfully.",
		}, labels),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Number of inbound messages whose handler failed or panicked.",
		}, labels),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_in_flight",
			Help:      "Number of inbound messages currently being handled.",
		}, labels),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Number of outbound messages confirmed by the broker.",
		}, labels),
		drain: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_seconds",
			Help:      "Time taken to drain a queue and its in-flight work.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, labels),
	}
}

// Registry returns the registry holding the collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

// Queue returns the stats of a single queue.
func (p *Prometheus) Queue(name string) *QueueStats {
	if p == nil {
		p = Noop()
	}
	return &QueueStats{
		Processed: p.processed.WithLabelValues(name),
		Failed:    p.failed.WithLabelValues(name),
		InFlight:  p.inFlight.WithLabelValues(name),
		Sent:      p.sent.WithLabelValues(name),
		Drain:     p.drain.WithLabelValues(name),
	}
}

// QueueStats are the collectors bound to one queue.
type QueueStats struct {
	Processed prometheus.Counter
	Failed    prometheus.Counter
	InFlight  prometheus.Gauge
	Sent      prometheus.Counter
	Drain     prometheus.Observer
}

// ObserveDrain records the time since start as a drain duration.
func (q *QueueStats) ObserveDrain(start time.Time) {
	q.Drain.Observe(time.Since(start).Seconds())
}

//------------------------------------------------------------------------------

// Serve exposes the registry over HTTP at the given path until ctx is
// cancelled. An empty address disables the server and returns immediately.
func Serve(ctx context.Context, address, path string, p *Prometheus, logger log.Modular) error {
	if address == "" {
		return nil
	}
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}))

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %v: %w", address, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 5,
	}
	go func() {
		<-ctx.Done()
		shutCtx, done := context.WithTimeout(context.Background(), time.Second*5)
		defer done()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Infof("Serving metrics at http://%v%v", lis.Addr(), path)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

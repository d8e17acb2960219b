// Package metrics exports controller and tracking-loop activity to
// Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"joyptz/internal/control"
	"joyptz/internal/tracking"
)

// Command results used as the "result" label.
const (
	ResultSent       = "sent"
	ResultSuppressed = "suppressed"
	ResultFailed     = "failed"
)

// Collector bundles the joyptz metrics. It implements control.Observer and
// tracking.Observer so both loops can report into it directly.
type Collector struct {
	gatherer prometheus.Gatherer

	Commands *prometheus.CounterVec

	TrackingSamples prometheus.Counter
	TrackingLost    prometheus.Counter
	Closeness       prometheus.Gauge
	Speed           prometheus.Gauge
}

var (
	_ control.Observer  = (*Collector)(nil)
	_ tracking.Observer = (*Collector)(nil)
)

// New registers the metrics against reg, defaulting to the global registry
// when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "joyptz_commands_total",
		Help: "Camera commands decided by the controller, labeled by operation and result.",
	}, []string{"op", "result"}), "joyptz_commands_total")
	if err != nil {
		return nil, err
	}

	samples, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "joyptz_tracking_samples_total",
		Help: "Tracker results processed by the tracking loop.",
	}), "joyptz_tracking_samples_total")
	if err != nil {
		return nil, err
	}
	lost, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "joyptz_tracking_lost_total",
		Help: "Tracker results that lost the target.",
	}), "joyptz_tracking_lost_total")
	if err != nil {
		return nil, err
	}
	closeness, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "joyptz_tracking_closeness",
		Help: "Distance of the target from the frame center, relative to the half diagonal.",
	}), "joyptz_tracking_closeness")
	if err != nil {
		return nil, err
	}
	speed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "joyptz_tracking_speed",
		Help: "Controller speed chosen by the tracking loop.",
	}), "joyptz_tracking_speed")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Commands:        commands,
		TrackingSamples: samples,
		TrackingLost:    lost,
		Closeness:       closeness,
		Speed:           speed,
	}, nil
}

// CommandSent implements control.Observer.
func (c *Collector) CommandSent(op string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(op, ResultSent).Inc()
}

// CommandSuppressed implements control.Observer.
func (c *Collector) CommandSuppressed(op string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(op, ResultSuppressed).Inc()
}

// CommandFailed implements control.Observer.
func (c *Collector) CommandFailed(op string, _ error) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(op, ResultFailed).Inc()
}

// Sample implements tracking.Observer.
func (c *Collector) Sample(d tracking.Decision) {
	if c == nil {
		return
	}
	c.TrackingSamples.Inc()
	c.Speed.Set(d.Speed)
	if !d.Found {
		c.TrackingLost.Inc()
		return
	}
	c.Closeness.Set(d.Closeness)
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

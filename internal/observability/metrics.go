package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/sehir-simulator/model"
)

// SimulationCollector bundles Prometheus metrics for a simulation run. It
// satisfies core.MetricsRecorder.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	CompartmentAgents *prometheus.GaugeVec
	PopulationSize    prometheus.Gauge
	StepsTotal        prometheus.Counter
	StepDuration      prometheus.Histogram
	TransitionsTotal  *prometheus.CounterVec
}

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Re-registering against the same registry reuses the existing collectors.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	compartments, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sehir_compartment_agents",
		Help: "Current number of agents per SEHIR compartment.",
	}, []string{"compartment"}), "sehir_compartment_agents")
	if err != nil {
		return nil, err
	}

	population, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sehir_population_size",
		Help: "Number of agents in the simulated population.",
	}), "sehir_population_size")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sehir_steps_total",
		Help: "Total number of committed simulation steps.",
	}), "sehir_steps_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sehir_step_duration_seconds",
		Help:    "Wall-clock duration of one compute-and-commit step.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "sehir_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sehir_transitions_total",
		Help: "Total number of agent compartment changes, labeled by source and target compartment.",
	}, []string{"from", "to"}), "sehir_transitions_total")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:          gatherer,
		CompartmentAgents: compartments,
		PopulationSize:    population,
		StepsTotal:        steps,
		StepDuration:      duration,
		TransitionsTotal:  transitions,
	}, nil
}

// SetCompartmentCounts publishes the latest snapshot counts. All five
// compartments are always set, zeros included.
func (c *SimulationCollector) SetCompartmentCounts(counts model.Counts) {
	if c == nil {
		return
	}
	for _, comp := range model.Compartments {
		c.CompartmentAgents.WithLabelValues(comp.String()).Set(float64(counts[comp]))
	}
	c.PopulationSize.Set(float64(counts.Total()))
}

// ObserveStep records one committed step.
func (c *SimulationCollector) ObserveStep(elapsed time.Duration, moved model.Transitions) {
	if c == nil {
		return
	}
	c.StepsTotal.Inc()
	c.StepDuration.Observe(elapsed.Seconds())
	for from, row := range moved {
		for to, n := range row {
			if n == 0 {
				continue
			}
			c.TransitionsTotal.WithLabelValues(
				model.Compartment(from).String(),
				model.Compartment(to).String(),
			).Add(float64(n))
		}
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
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

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
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

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
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

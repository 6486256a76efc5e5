package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/sehir-simulator/internal/logging"
	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/network"
	"github.com/signalsfoundry/sehir-simulator/rng"
	"github.com/signalsfoundry/sehir-simulator/timeseries"
)

const tracerName = "github.com/signalsfoundry/sehir-simulator/core"

// MetricsRecorder receives per-step aggregates. observability.SimulationCollector
// implements it.
type MetricsRecorder interface {
	SetCompartmentCounts(counts model.Counts)
	ObserveStep(elapsed time.Duration, moved model.Transitions)
}

// Option customises Engine construction.
type Option func(*Engine)

// WithRule replaces the default SEHIRRule.
func WithRule(r Rule) Option {
	return func(e *Engine) {
		if r != nil {
			e.rule = r
		}
	}
}

// WithWorkers computes next states on n goroutines. It only takes effect
// when the random source implements rng.Splitter; each agent then draws
// from its own sub-stream, so results do not depend on n.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// Engine owns the population and advances it one step at a time.
//
// Each step is two-phase: next states are computed for every agent from a
// frozen copy of the previous compartments, then committed together with
// the step's snapshot. A failed step commits nothing and draws nothing from
// the random source, so a retried run matches one that never failed.
type Engine struct {
	// mu guards pop, series and step. Step holds the write lock for its whole
	// duration so readers never observe a partially applied step.
	mu sync.RWMutex

	pop    *Population
	series *timeseries.Series
	step   int

	rule    Rule
	src     rng.Source
	workers int
	order   []int

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// New builds the population over g, seeds it according to plan, and records
// the step-0 snapshot.
func New(g network.Graph, src rng.Source, rates model.Rates, plan SeedPlan, opts ...Option) (*Engine, error) {
	pop, err := NewPopulation(g, rates, plan, src)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		pop:     pop,
		series:  timeseries.New(),
		rule:    SEHIRRule{},
		src:     src,
		workers: 1,
		order:   make([]int, pop.Size()),
		log:     logging.Noop(),
		tracer:  otel.Tracer(tracerName),
	}
	for i := range e.order {
		e.order[i] = i
	}
	for _, opt := range opts {
		opt(e)
	}

	initial := model.Snapshot{Step: 0, Counts: pop.Counts()}
	if err := e.series.Append(initial); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.SetCompartmentCounts(initial.Counts)
	}

	e.log.Info(context.Background(), "population seeded",
		logging.Int("population", pop.Size()),
		logging.Int("infected", initial.Counts[model.Infected]),
		logging.Int("exposed", initial.Counts[model.Exposed]),
		logging.Int("hibernating", initial.Counts[model.Hibernating]),
		logging.Int("workers", e.workers),
	)
	return e, nil
}

// RegisterStepListener registers fn to be called with every committed
// snapshot, after the engine has released its lock, so fn may call the
// observer methods. The returned function removes fn.
func (e *Engine) RegisterStepListener(fn func(model.Snapshot)) (unregister func()) {
	return e.series.Subscribe(fn)
}

// Step advances the population by one step and returns its snapshot. It
// logs through the logger scoped to ctx when there is one.
func (e *Engine) Step(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	start := time.Now()
	log := logging.FromContext(ctx, e.log)

	e.mu.Lock()
	next := e.step + 1
	ctx, span := e.tracer.Start(ctx, "sehir.step", trace.WithAttributes(
		attribute.Int("sehir.step", next),
		attribute.Int("sehir.population", e.pop.Size()),
	))
	defer span.End()

	frozen := e.pop.States()
	states, err := e.compute(ctx, frozen, next)
	if err != nil {
		e.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "step aborted")
		log.Error(ctx, "step aborted", logging.Int("step", next), logging.Err(err))
		return model.Snapshot{}, fmt.Errorf("step %d: %w", next, err)
	}

	snap := model.Snapshot{Step: next, Counts: model.Count(states)}
	if err := e.series.Append(snap); err != nil {
		e.mu.Unlock()
		span.RecordError(err)
		return model.Snapshot{}, fmt.Errorf("step %d: %w", next, err)
	}
	moved := e.pop.commit(states)
	e.step = next
	e.mu.Unlock()

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("sehir.transitions", moved.Total()),
		attribute.Int("sehir.infected", snap.Counts[model.Infected]),
	)
	if e.metrics != nil {
		e.metrics.SetCompartmentCounts(snap.Counts)
		e.metrics.ObserveStep(elapsed, moved)
	}
	log.Debug(ctx, "step committed",
		logging.Int("step", next),
		logging.Int("transitions", moved.Total()),
		logging.Duration("elapsed", elapsed),
		logging.Counts(snap.Counts),
	)

	e.series.Publish(snap)
	return snap, nil
}

// Run performs up to steps steps and returns the snapshots it produced. It
// stops at the first error, including context cancellation.
func (e *Engine) Run(ctx context.Context, steps int) ([]model.Snapshot, error) {
	out := make([]model.Snapshot, 0, max(steps, 0))
	for i := 0; i < steps; i++ {
		snap, err := e.Step(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// compute returns the next compartment for every agent, in population order.
// Every agent's neighbourhood is resolved before the first random draw, so
// an integrity fault or cancellation leaves the stream untouched.
// Callers hold e.mu.
func (e *Engine) compute(ctx context.Context, frozen []model.Compartment, step int) ([]model.Compartment, error) {
	nbrs := make([][]model.Compartment, len(frozen))
	for idx, a := range e.pop.agents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		states, err := e.pop.neighborStates(a.Node, frozen)
		if err != nil {
			return nil, err
		}
		nbrs[idx] = states
	}

	next := make([]model.Compartment, len(frozen))
	if splitter, ok := e.src.(rng.Splitter); ok && e.workers > 1 {
		return next, e.computeParallel(ctx, splitter, frozen, nbrs, next, step)
	}

	// Serial path: randomised traversal order drawn from the run's stream.
	e.src.Shuffle(len(e.order), func(i, j int) {
		e.order[i], e.order[j] = e.order[j], e.order[i]
	})
	for _, idx := range e.order {
		next[idx] = e.decide(idx, frozen, nbrs[idx], e.src)
	}
	return next, nil
}

// computeParallel splits agents into contiguous chunks. Agent idx draws from
// the sub-stream (step, idx), so chunking does not affect the outcome.
func (e *Engine) computeParallel(ctx context.Context, splitter rng.Splitter, frozen []model.Compartment, nbrs [][]model.Compartment, next []model.Compartment, step int) error {
	n := len(frozen)
	chunk := (n + e.workers - 1) / e.workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for idx := lo; idx < hi; idx++ {
				next[idx] = e.decide(idx, frozen, nbrs[idx], splitter.Split(uint64(step), uint64(idx)))
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) decide(idx int, frozen, nbrs []model.Compartment, src rng.Source) model.Compartment {
	agent := e.pop.agents[idx]
	agent.State = frozen[idx]
	return e.rule.Next(agent, nbrs, src)
}

// ---- Observer surface ----

// StepCount returns the number of committed steps.
func (e *Engine) StepCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.step
}

// Size returns the population size.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pop.Size()
}

// Snapshots returns a copy of the time series, starting with step 0.
func (e *Engine) Snapshots() []model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.series.All()
}

// Latest returns the most recent snapshot.
func (e *Engine) Latest() model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, _ := e.series.Latest()
	return s
}

// Snapshot returns the snapshot recorded for step.
func (e *Engine) Snapshot(step int) (model.Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.series.At(step)
}

// Agents returns every agent's (node, compartment) pair in graph order.
func (e *Engine) Agents() []model.AgentView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pop.Views()
}

// Agent returns the (node, compartment) pair for id.
func (e *Engine) Agent(id model.NodeID) (model.AgentView, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.pop.Agent(id)
	if !ok {
		return model.AgentView{}, false
	}
	return model.AgentView{Node: a.Node, State: a.State}, true
}

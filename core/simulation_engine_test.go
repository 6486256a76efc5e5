package core

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/sehir-simulator/internal/logging"
	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/network"
	"github.com/signalsfoundry/sehir-simulator/rng"
)

func completeGraph(t *testing.T, n int) *network.ContactGraph {
	t.Helper()
	g, err := network.Complete(n)
	if err != nil {
		t.Fatalf("Complete(%d): %v", n, err)
	}
	return g
}

func randomGraph(t *testing.T, n int, seed uint64) *network.ContactGraph {
	t.Helper()
	g, err := network.ErdosRenyiAvgDegree(n, 3, rng.New(seed).Rand())
	if err != nil {
		t.Fatalf("ErdosRenyiAvgDegree: %v", err)
	}
	return g
}

func newEngine(t *testing.T, g network.Graph, seed uint64, rates model.Rates, plan SeedPlan, opts ...Option) *Engine {
	t.Helper()
	e, err := New(g, rng.New(seed), rates, plan, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func counts(s, e, h, i, r int) model.Counts {
	return model.Counts{s, e, h, i, r}
}

func TestConcreteScenarioFourAgents(t *testing.T) {
	rates := model.Rates{L3: 1}
	e := newEngine(t, completeGraph(t, 4), 42, rates, SeedPlan{Infected: 1})

	if got := e.Latest(); got.Step != 0 || got.Counts != counts(3, 0, 0, 1, 0) {
		t.Fatalf("snapshot 0 = %v, want S=3 I=1", got)
	}

	snap, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if snap.Step != 1 || snap.Counts != counts(3, 0, 0, 0, 1) {
		t.Fatalf("snapshot 1 = %v, want S=3 R=1", snap)
	}
	if len(e.Snapshots()) != 2 {
		t.Fatalf("series length = %d, want 2", len(e.Snapshots()))
	}
}

func TestConservation(t *testing.T) {
	const n = 60
	e := newEngine(t, randomGraph(t, n, 1), 7, model.DefaultRates(), SeedPlan{Infected: 3, Exposed: 4, Hibernating: 2})
	if _, err := e.Run(context.Background(), 40); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, s := range e.Snapshots() {
		if s.Counts.Total() != n {
			t.Fatalf("step %d total = %d, want %d", s.Step, s.Counts.Total(), n)
		}
	}
}

func TestResistantAgentsNeverLeave(t *testing.T) {
	rates := model.DefaultRates()
	rates.Phi = 0.1
	e := newEngine(t, randomGraph(t, 80, 2), 11, rates, SeedPlan{Infected: 5, Exposed: 5, Hibernating: 5})

	everResistant := map[model.NodeID]bool{}
	prevResistant := 0
	for step := 0; step < 30; step++ {
		for _, a := range e.Agents() {
			if everResistant[a.Node] && a.State != model.Resistant {
				t.Fatalf("step %d: node %d left Resistant for %v", step, a.Node, a.State)
			}
			if a.State == model.Resistant {
				everResistant[a.Node] = true
			}
		}
		r := e.Latest().Counts[model.Resistant]
		if r < prevResistant {
			t.Fatalf("step %d: resistant count dropped %d -> %d", step, prevResistant, r)
		}
		prevResistant = r
		if _, err := e.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
}

func TestDeterminism(t *testing.T) {
	run := func() ([]model.Snapshot, []model.AgentView) {
		e := newEngine(t, randomGraph(t, 50, 5), 99, model.DefaultRates(), SeedPlan{Infected: 2, Exposed: 2, Hibernating: 2})
		if _, err := e.Run(context.Background(), 25); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return e.Snapshots(), e.Agents()
	}
	s1, a1 := run()
	s2, a2 := run()
	if !reflect.DeepEqual(s1, s2) {
		t.Fatalf("snapshot sequences differ:\n%v\n%v", s1, s2)
	}
	if !reflect.DeepEqual(a1, a2) {
		t.Fatalf("final agent states differ")
	}
}

func TestNoSpontaneousTransitions(t *testing.T) {
	e := newEngine(t, randomGraph(t, 30, 3), 5, model.Rates{}, SeedPlan{Infected: 4, Exposed: 3, Hibernating: 2})
	initial := e.Latest().Counts
	if initial[model.Infected] != 4 || initial.Total() != 30 {
		t.Fatalf("initial composition = %v", initial)
	}
	before := e.Agents()
	if _, err := e.Run(context.Background(), 15); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, s := range e.Snapshots() {
		if s.Counts != initial {
			t.Fatalf("step %d composition %v, want %v", s.Step, s.Counts, initial)
		}
	}
	if !reflect.DeepEqual(before, e.Agents()) {
		t.Fatalf("agents changed with all rates zero")
	}
}

func TestFullCertaintyTransitions(t *testing.T) {
	cases := []struct {
		name  string
		rates model.Rates
		plan  SeedPlan
		want  model.Counts
	}{
		{"phi", model.Rates{Phi: 1}, SeedPlan{}, counts(0, 0, 0, 0, 10)},
		{"b4", model.Rates{B4: 1}, SeedPlan{}, counts(0, 0, 0, 0, 10)},
		{"n2", model.Rates{N2: 1}, SeedPlan{}, counts(0, 10, 0, 0, 0)},
		{"b2", model.Rates{B2: 1}, SeedPlan{Exposed: 4}, counts(6, 0, 4, 0, 0)},
		{"b3", model.Rates{B3: 1}, SeedPlan{Exposed: 4}, counts(6, 0, 0, 4, 0)},
		{"b5", model.Rates{B5: 1}, SeedPlan{Exposed: 4}, counts(6, 0, 0, 0, 4)},
		{"b1", model.Rates{B1: 1}, SeedPlan{Hibernating: 3}, counts(7, 0, 0, 3, 0)},
		{"l2", model.Rates{L2: 1}, SeedPlan{Hibernating: 3}, counts(7, 0, 0, 0, 3)},
		{"l3", model.Rates{L3: 1}, SeedPlan{Infected: 5}, counts(5, 0, 0, 0, 5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, completeGraph(t, 10), 3, tc.rates, tc.plan)
			snap, err := e.Step(context.Background())
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			if snap.Counts != tc.want {
				t.Fatalf("after one step %v, want %v", snap.Counts, tc.want)
			}
		})
	}
}

func TestSeedClampAndPrecedence(t *testing.T) {
	e := newEngine(t, completeGraph(t, 10), 1, model.Rates{}, SeedPlan{Infected: 100})
	if got := e.Latest().Counts; got != counts(0, 0, 0, 10, 0) {
		t.Fatalf("clamped outbreak = %v, want all Infected", got)
	}

	// scriptedSource samples the first k ids, so the sets overlap on a prefix.
	src := &scriptedSource{}
	eng, err := New(completeGraph(t, 6), src, model.Rates{}, SeedPlan{Infected: 2, Exposed: 3, Hibernating: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []model.Compartment{
		model.Infected, model.Infected,
		model.Exposed,
		model.Hibernating, model.Hibernating,
		model.Susceptible,
	}
	for i, a := range eng.Agents() {
		if a.State != want[i] {
			t.Fatalf("node %d seeded %v, want %v", a.Node, a.State, want[i])
		}
	}
}

func TestConstructionErrors(t *testing.T) {
	empty, err := network.NewGraph(nil, nil)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	if _, err := New(empty, rng.New(1), model.Rates{}, SeedPlan{}); !errors.Is(err, ErrEmptyGraph) {
		t.Fatalf("empty graph err = %v, want ErrEmptyGraph", err)
	}
	if _, err := New(completeGraph(t, 3), rng.New(1), model.Rates{L3: 2}, SeedPlan{}); !errors.Is(err, ErrInvalidRates) {
		t.Fatalf("bad rates err = %v, want ErrInvalidRates", err)
	}
	if _, err := New(completeGraph(t, 3), rng.New(1), model.Rates{}, SeedPlan{Exposed: -1}); !errors.Is(err, ErrInvalidSeedPlan) {
		t.Fatalf("negative seeds err = %v, want ErrInvalidSeedPlan", err)
	}
	if _, err := New(nil, rng.New(1), model.Rates{}, SeedPlan{}); !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("nil graph err = %v, want ErrMissingDependency", err)
	}
}

// brokenGraph reports a neighbour that has no agent.
type brokenGraph struct{}

func (brokenGraph) Nodes() []model.NodeID { return []model.NodeID{0, 1, 2} }

func (brokenGraph) Neighbors(id model.NodeID) ([]model.NodeID, error) {
	if id == 2 {
		return []model.NodeID{0, 99}, nil
	}
	return []model.NodeID{(id + 1) % 3}, nil
}

func TestIntegrityFaultAbortsStep(t *testing.T) {
	e := newEngine(t, brokenGraph{}, 1, model.Rates{L3: 1, Phi: 1}, SeedPlan{Infected: 1})
	before := e.Agents()

	_, err := e.Step(context.Background())
	if !errors.Is(err, ErrUnknownNeighbor) {
		t.Fatalf("Step err = %v, want ErrUnknownNeighbor", err)
	}
	if e.StepCount() != 0 || len(e.Snapshots()) != 1 {
		t.Fatalf("failed step left state behind: steps=%d snapshots=%d", e.StepCount(), len(e.Snapshots()))
	}
	if !reflect.DeepEqual(before, e.Agents()) {
		t.Fatalf("failed step mutated agents")
	}
}

// flakyGraph reports a dangling neighbour while armed.
type flakyGraph struct {
	network.Graph
	armed bool
}

func (f *flakyGraph) Neighbors(id model.NodeID) ([]model.NodeID, error) {
	if f.armed && id == 3 {
		return []model.NodeID{99}, nil
	}
	return f.Graph.Neighbors(id)
}

func TestAbortedStepLeavesStreamUntouched(t *testing.T) {
	for _, workers := range []int{1, 4} {
		g := randomGraph(t, 30, 6)
		flaky := &flakyGraph{Graph: g, armed: true}
		rates := model.DefaultRates()
		plan := SeedPlan{Infected: 3, Exposed: 2}

		faulty := newEngine(t, flaky, 17, rates, plan, WithWorkers(workers))
		if _, err := faulty.Step(context.Background()); !errors.Is(err, ErrUnknownNeighbor) {
			t.Fatalf("workers=%d: Step err = %v, want ErrUnknownNeighbor", workers, err)
		}
		flaky.armed = false

		clean := newEngine(t, g, 17, rates, plan, WithWorkers(workers))
		for _, e := range []*Engine{faulty, clean} {
			if _, err := e.Run(context.Background(), 10); err != nil {
				t.Fatalf("workers=%d: Run: %v", workers, err)
			}
		}
		if !reflect.DeepEqual(faulty.Snapshots(), clean.Snapshots()) {
			t.Fatalf("workers=%d: run after an aborted step diverged from a clean run", workers)
		}
		if !reflect.DeepEqual(faulty.Agents(), clean.Agents()) {
			t.Fatalf("workers=%d: agent states diverged", workers)
		}
	}
}

func TestStepLogsThroughContextLogger(t *testing.T) {
	var fallback, scoped bytes.Buffer
	e := newEngine(t, completeGraph(t, 4), 42, model.Rates{L3: 1}, SeedPlan{Infected: 1},
		WithLogger(logging.New(logging.Config{Level: "debug", Output: &fallback})))

	log := logging.New(logging.Config{Level: "debug", Output: &scoped}).With(logging.Int("tick", 7))
	if _, err := e.Step(logging.ContextWithLogger(context.Background(), log)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	out := scoped.String()
	if !strings.Contains(out, "step committed") || !strings.Contains(out, "tick=7") || !strings.Contains(out, "counts.resistant=1") {
		t.Fatalf("scoped log missing step entry: %q", out)
	}
	if strings.Contains(fallback.String(), "step committed") {
		t.Fatalf("step logged to the engine logger despite a scoped one: %q", fallback.String())
	}

	if _, err := e.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !strings.Contains(fallback.String(), "step committed") {
		t.Fatalf("unscoped step missing from engine logger: %q", fallback.String())
	}
}

func TestCancelledContextCommitsNothing(t *testing.T) {
	e := newEngine(t, completeGraph(t, 5), 1, model.Rates{Phi: 1}, SeedPlan{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Step err = %v, want context.Canceled", err)
	}
	if got := e.Latest(); got.Step != 0 || got.Counts != counts(5, 0, 0, 0, 0) {
		t.Fatalf("cancelled step changed state: %v", got)
	}
	snaps, err := e.Run(ctx, 3)
	if !errors.Is(err, context.Canceled) || len(snaps) != 0 {
		t.Fatalf("Run = %v, %v; want no snapshots and context.Canceled", snaps, err)
	}
}

func TestNeighboursSeePreviousStep(t *testing.T) {
	g, err := network.NewGraph([]model.NodeID{0, 1}, []network.Edge{{A: 0, B: 1}})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	rates := model.Rates{L3: 1, N2: 1}
	for seed := uint64(0); seed < 20; seed++ {
		e := newEngine(t, g, seed, rates, SeedPlan{Infected: 1}, WithRule(SEHIRRule{Exposure: ExposureContact}))
		snap, err := e.Step(context.Background())
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		// The infected node recovers in the same step its neighbour reads it,
		// and the neighbour must still see it as Infected.
		if snap.Counts != counts(0, 1, 0, 0, 1) {
			t.Fatalf("seed %d: %v, want E=1 R=1", seed, snap.Counts)
		}
	}
}

func TestParallelComputeIndependentOfWorkerCount(t *testing.T) {
	run := func(workers int) []model.Snapshot {
		e := newEngine(t, randomGraph(t, 120, 8), 13, model.DefaultRates(),
			SeedPlan{Infected: 4, Exposed: 4, Hibernating: 4}, WithWorkers(workers))
		if _, err := e.Run(context.Background(), 20); err != nil {
			t.Fatalf("Run(workers=%d): %v", workers, err)
		}
		return e.Snapshots()
	}
	two, eight := run(2), run(8)
	if !reflect.DeepEqual(two, eight) {
		t.Fatalf("workers=2 and workers=8 diverged")
	}
	for _, s := range eight {
		if s.Counts.Total() != 120 {
			t.Fatalf("step %d total = %d", s.Step, s.Counts.Total())
		}
	}
}

type stubRecorder struct {
	mu     sync.Mutex
	counts []model.Counts
	steps  int
	moved  int
}

func (r *stubRecorder) SetCompartmentCounts(c model.Counts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, c)
}

func (r *stubRecorder) ObserveStep(_ time.Duration, moved model.Transitions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
	r.moved += moved.Total()
}

func TestMetricsAndListeners(t *testing.T) {
	rec := &stubRecorder{}
	e := newEngine(t, completeGraph(t, 4), 42, model.Rates{L3: 1}, SeedPlan{Infected: 1}, WithMetricsRecorder(rec))

	var seen []int
	unregister := e.RegisterStepListener(func(s model.Snapshot) {
		// Listeners run after the lock is released.
		if got := e.Latest(); got.Step != s.Step {
			t.Errorf("listener for step %d saw latest %d", s.Step, got.Step)
		}
		seen = append(seen, s.Step)
	})
	if _, err := e.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	unregister()
	if _, err := e.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if len(rec.counts) != 4 || rec.steps != 3 || rec.moved != 1 {
		t.Fatalf("recorder got counts=%d steps=%d moved=%d", len(rec.counts), rec.steps, rec.moved)
	}
	if rec.counts[1] != counts(3, 0, 0, 0, 1) {
		t.Fatalf("recorded counts after step 1 = %v", rec.counts[1])
	}
	if !reflect.DeepEqual(seen, []int{1, 2}) {
		t.Fatalf("listener saw %v, want [1 2]", seen)
	}
	if a, ok := e.Agent(0); !ok || !a.State.Valid() {
		t.Fatalf("Agent(0) = %v, %v", a, ok)
	}
	if _, ok := e.Agent(77); ok {
		t.Fatalf("Agent(77) reported ok")
	}
}

func TestConcurrentObserversDuringSteps(t *testing.T) {
	const n = 40
	e := newEngine(t, randomGraph(t, n, 4), 21, model.DefaultRates(), SeedPlan{Infected: 2})
	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := e.Latest()
				if snap.Counts.Total() != n {
					t.Errorf("observer saw total %d", snap.Counts.Total())
					return
				}
				if got := len(e.Agents()); got != n {
					t.Errorf("observer saw %d agents", got)
					return
				}
			}
		}()
	}
	if _, err := e.Run(context.Background(), 50); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(done)
	wg.Wait()
}

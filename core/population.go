package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/network"
	"github.com/signalsfoundry/sehir-simulator/rng"
)

var (
	// ErrEmptyGraph indicates a graph without nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")
	// ErrInvalidSeedPlan indicates a negative seed count.
	ErrInvalidSeedPlan = errors.New("invalid seed plan")
	// ErrMissingDependency indicates a nil graph or random source.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrUnknownNeighbor indicates the graph reported a neighbour that has no
	// agent. It is an integrity fault; the step that observed it is discarded.
	ErrUnknownNeighbor = errors.New("neighbor not in population")
	// ErrInvalidRates is re-exported so callers can match on core.* only.
	ErrInvalidRates = model.ErrInvalidRates
)

// SeedPlan names how many agents start in each non-Susceptible compartment.
// Each count is clamped to the population size. When the sampled sets
// overlap, Infected wins over Exposed, which wins over Hibernating.
type SeedPlan struct {
	Infected    int
	Exposed     int
	Hibernating int
}

// Validate rejects negative counts.
func (p SeedPlan) Validate() error {
	switch {
	case p.Infected < 0:
		return fmt.Errorf("%w: infected=%d", ErrInvalidSeedPlan, p.Infected)
	case p.Exposed < 0:
		return fmt.Errorf("%w: exposed=%d", ErrInvalidSeedPlan, p.Exposed)
	case p.Hibernating < 0:
		return fmt.Errorf("%w: hibernating=%d", ErrInvalidSeedPlan, p.Hibernating)
	}
	return nil
}

// Population is the fixed set of agents, one per graph node, in graph order.
// It is not safe for concurrent use; Engine serialises access.
type Population struct {
	graph  network.Graph
	agents []model.Agent
	index  map[model.NodeID]int
}

// NewPopulation creates one Susceptible agent per node of g, carrying rates,
// then applies plan using src for the without-replacement draws.
func NewPopulation(g network.Graph, rates model.Rates, plan SeedPlan, src rng.Source) (*Population, error) {
	if g == nil || src == nil {
		return nil, fmt.Errorf("NewPopulation: %w", ErrMissingDependency)
	}
	if err := rates.Validate(); err != nil {
		return nil, fmt.Errorf("NewPopulation: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("NewPopulation: %w", err)
	}

	nodes := g.Nodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("NewPopulation: %w", ErrEmptyGraph)
	}

	p := &Population{
		graph:  g,
		agents: make([]model.Agent, len(nodes)),
		index:  make(map[model.NodeID]int, len(nodes)),
	}
	for i, id := range nodes {
		if _, dup := p.index[id]; dup {
			return nil, fmt.Errorf("NewPopulation: node %d listed twice", id)
		}
		p.index[id] = i
		p.agents[i] = model.Agent{Node: id, State: model.Susceptible, Rates: rates}
	}

	seeded := make(map[model.NodeID]bool)
	for _, seed := range []struct {
		state model.Compartment
		count int
	}{
		{model.Infected, plan.Infected},
		{model.Exposed, plan.Exposed},
		{model.Hibernating, plan.Hibernating},
	} {
		for _, id := range src.Sample(nodes, seed.count) {
			if seeded[id] {
				continue
			}
			seeded[id] = true
			p.agents[p.index[id]].State = seed.state
		}
	}
	return p, nil
}

// Size returns the number of agents.
func (p *Population) Size() int { return len(p.agents) }

// States returns a copy of every agent's compartment in population order.
func (p *Population) States() []model.Compartment {
	out := make([]model.Compartment, len(p.agents))
	for i, a := range p.agents {
		out[i] = a.State
	}
	return out
}

// Views returns the (node, compartment) pairs in population order.
func (p *Population) Views() []model.AgentView {
	out := make([]model.AgentView, len(p.agents))
	for i, a := range p.agents {
		out[i] = model.AgentView{Node: a.Node, State: a.State}
	}
	return out
}

// Agent returns the agent living on id.
func (p *Population) Agent(id model.NodeID) (model.Agent, bool) {
	i, ok := p.index[id]
	if !ok {
		return model.Agent{}, false
	}
	return p.agents[i], true
}

// Counts tallies the current compartments.
func (p *Population) Counts() model.Counts {
	return model.Count(p.States())
}

// neighborStates resolves the start-of-step compartments of id's neighbours.
func (p *Population) neighborStates(id model.NodeID, frozen []model.Compartment) ([]model.Compartment, error) {
	nbrs, err := p.graph.Neighbors(id)
	if err != nil {
		return nil, fmt.Errorf("%w: neighbors of %d: %v", ErrUnknownNeighbor, id, err)
	}
	out := make([]model.Compartment, 0, len(nbrs))
	for _, n := range nbrs {
		i, ok := p.index[n]
		if !ok {
			return nil, fmt.Errorf("%w: node %d lists %d", ErrUnknownNeighbor, id, n)
		}
		out = append(out, frozen[i])
	}
	return out, nil
}

// commit writes next into the population and reports the moves.
func (p *Population) commit(next []model.Compartment) model.Transitions {
	var moved model.Transitions
	for i := range p.agents {
		from, to := p.agents[i].State, next[i]
		if from != to {
			moved[from][to]++
		}
		p.agents[i].State = to
	}
	return moved
}

package core

import (
	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/rng"
)

// Rule decides an agent's next compartment. Implementations must be pure
// functions of their arguments: agent carries the state as of the start of
// the step, neighbors the start-of-step compartments of its graph
// neighbours, and src the draws for this agent.
type Rule interface {
	Next(agent model.Agent, neighbors []model.Compartment, src rng.Source) model.Compartment
}

// ExposureMode selects when the Susceptible -> Exposed trial applies.
type ExposureMode int

const (
	// ExposureAmbient applies the n2 trial to every Susceptible agent.
	ExposureAmbient ExposureMode = iota
	// ExposureContact applies the n2 trial only to Susceptible agents with at
	// least one Infected neighbour.
	ExposureContact
)

func (m ExposureMode) String() string {
	switch m {
	case ExposureAmbient:
		return "ambient"
	case ExposureContact:
		return "contact"
	default:
		return "unknown"
	}
}

// SEHIRRule is the default transition table. Each branch is an independent
// uniform draw and the first success wins:
//
//	Susceptible: phi -> R, b4 -> R, n2 -> E
//	Exposed:     b2 -> H, b3 -> I, b5 -> R
//	Hibernating: b1 -> I, l2 -> R
//	Infected:    l3 -> R
//	Resistant:   absorbing
//
// Susceptible -> Exposed is gated by n2 alone; b1 feeds only Hibernating ->
// Infected. The n2 draw is always taken, so contact mode consumes the same
// stream as ambient mode.
type SEHIRRule struct {
	Exposure ExposureMode
}

// Next implements Rule.
func (r SEHIRRule) Next(agent model.Agent, neighbors []model.Compartment, src rng.Source) model.Compartment {
	rates := agent.Rates
	switch agent.State {
	case model.Susceptible:
		if src.Uniform() < rates.Phi {
			return model.Resistant
		}
		if src.Uniform() < rates.B4 {
			return model.Resistant
		}
		exposed := src.Uniform() < rates.N2
		if exposed && (r.Exposure == ExposureAmbient || anyIn(neighbors, model.Infected)) {
			return model.Exposed
		}
		return model.Susceptible

	case model.Exposed:
		if src.Uniform() < rates.B2 {
			return model.Hibernating
		}
		if src.Uniform() < rates.B3 {
			return model.Infected
		}
		if src.Uniform() < rates.B5 {
			return model.Resistant
		}
		return model.Exposed

	case model.Hibernating:
		if src.Uniform() < rates.B1 {
			return model.Infected
		}
		if src.Uniform() < rates.L2 {
			return model.Resistant
		}
		return model.Hibernating

	case model.Infected:
		if src.Uniform() < rates.L3 {
			return model.Resistant
		}
		return model.Infected

	case model.Resistant:
		// absorbing; no draw
		return model.Resistant

	default:
		return agent.State
	}
}

func anyIn(states []model.Compartment, want model.Compartment) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}
	return false
}

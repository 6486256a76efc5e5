package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRates indicates a rate parameter outside [0,1].
var ErrInvalidRates = errors.New("invalid rates")

// Rates is the fixed per-run parameter set shared by every agent.
//
// Mu and VirusCheckFrequency are carried for custom transition rules; the
// default SEHIR rule does not consume them.
type Rates struct {
	Phi float64 // Susceptible -> Resistant branch probability
	B1  float64 // Hibernating -> Infected
	B2  float64 // Exposed -> Hibernating
	B3  float64 // Exposed -> Infected
	B4  float64 // Susceptible -> Resistant (direct recovery)
	B5  float64 // Exposed -> Resistant
	L2  float64 // Hibernating -> Resistant
	L3  float64 // Infected -> Resistant

	Mu                  float64 // deactivation rate (reserved)
	VirusCheckFrequency float64 // check cadence (reserved)
	N2                  float64 // misinformation transmission coefficient: Susceptible -> Exposed
}

// DefaultRates returns the rate constants of the reference misinformation
// network model.
func DefaultRates() Rates {
	return Rates{
		Phi:                 1,
		B1:                  0.69918,
		B2:                  0.21763,
		B3:                  0.71845,
		B4:                  0.19675,
		B5:                  0.097,
		L2:                  0.299675,
		L3:                  0.23715,
		Mu:                  0.00325,
		VirusCheckFrequency: 0.5,
		N2:                  0.7985,
	}
}

// Validate checks that every rate lies in the closed interval [0,1].
func (r Rates) Validate() error {
	for _, p := range r.named() {
		if math.IsNaN(p.value) || p.value < 0 || p.value > 1 {
			return fmt.Errorf("%w: %s=%g not in [0,1]", ErrInvalidRates, p.name, p.value)
		}
	}
	return nil
}

type namedRate struct {
	name  string
	value float64
}

func (r Rates) named() []namedRate {
	return []namedRate{
		{"phi", r.Phi},
		{"b1", r.B1},
		{"b2", r.B2},
		{"b3", r.B3},
		{"b4", r.B4},
		{"b5", r.B5},
		{"l2", r.L2},
		{"l3", r.L3},
		{"mu", r.Mu},
		{"virus_check_frequency", r.VirusCheckFrequency},
		{"n2", r.N2},
	}
}

package model

import (
	"encoding/json"
	"fmt"
)

// Counts holds the number of agents per compartment, indexed by Compartment.
type Counts [NumCompartments]int

// Get returns the count for c, or 0 for an unknown compartment.
func (c Counts) Get(comp Compartment) int {
	if !comp.Valid() {
		return 0
	}
	return c[comp]
}

// Total returns the sum over all compartments.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// MarshalJSON always emits all five compartment keys, zeros included.
func (c Counts) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, NumCompartments)
	for _, comp := range Compartments {
		out[comp.String()] = c[comp]
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the object form produced by MarshalJSON.
func (c *Counts) UnmarshalJSON(data []byte) error {
	var in map[string]int
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var parsed Counts
	for name, n := range in {
		comp, err := ParseCompartment(name)
		if err != nil {
			return err
		}
		parsed[comp] = n
	}
	*c = parsed
	return nil
}

// Count tallies the compartments of a population.
func Count(states []Compartment) Counts {
	var c Counts
	for _, s := range states {
		if s.Valid() {
			c[s]++
		}
	}
	return c
}

// Snapshot records the composition of the population after a step.
// Step 0 is the seeded initial state. Snapshots are values; copies never
// alias the series they came from.
type Snapshot struct {
	Step   int    `json:"step"`
	Counts Counts `json:"counts"`
}

func (s Snapshot) String() string {
	return fmt.Sprintf("step=%d S=%d E=%d H=%d I=%d R=%d",
		s.Step,
		s.Counts[Susceptible],
		s.Counts[Exposed],
		s.Counts[Hibernating],
		s.Counts[Infected],
		s.Counts[Resistant],
	)
}

package model

// Transitions counts agents that moved between compartments in one step,
// indexed [from][to]. The diagonal (unchanged agents) is left at zero.
type Transitions [NumCompartments][NumCompartments]int

// Total returns the number of agents that changed compartment.
func (t Transitions) Total() int {
	total := 0
	for from := range t {
		for to := range t[from] {
			total += t[from][to]
		}
	}
	return total
}

package model

import (
	"fmt"
	"strings"
)

// Compartment is the SEHIR state an agent occupies.
type Compartment int

const (
	Susceptible Compartment = iota
	Exposed
	Hibernating
	Infected
	Resistant // absorbing
)

// NumCompartments is the number of distinct compartments.
const NumCompartments = 5

// Compartments lists every compartment in declaration order.
var Compartments = [NumCompartments]Compartment{
	Susceptible,
	Exposed,
	Hibernating,
	Infected,
	Resistant,
}

var compartmentNames = [NumCompartments]string{
	"susceptible",
	"exposed",
	"hibernating",
	"infected",
	"resistant",
}

// colours used by the original network portrayal; kept so visualisation
// clients render the same palette.
var compartmentColors = [NumCompartments]string{
	"tab:green",
	"tab:orange",
	"tab:yellow",
	"tab:red",
	"tab:gray",
}

// Valid reports whether c is one of the five known compartments.
func (c Compartment) Valid() bool {
	return c >= Susceptible && c <= Resistant
}

func (c Compartment) String() string {
	if !c.Valid() {
		return fmt.Sprintf("compartment(%d)", int(c))
	}
	return compartmentNames[c]
}

// Color returns the portrayal colour for c.
func (c Compartment) Color() string {
	if !c.Valid() {
		return ""
	}
	return compartmentColors[c]
}

// MarshalText implements encoding.TextMarshaler.
func (c Compartment) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown compartment %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compartment) UnmarshalText(text []byte) error {
	parsed, err := ParseCompartment(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCompartment parses a compartment name case-insensitively. The plural
// "hibernators" is accepted for Hibernating.
func ParseCompartment(s string) (Compartment, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "hibernators" {
		return Hibernating, nil
	}
	for i, n := range compartmentNames {
		if n == name {
			return Compartment(i), nil
		}
	}
	return 0, fmt.Errorf("unknown compartment %q", s)
}

package model

// NodeID identifies a graph node and the agent living on it.
type NodeID int

// Agent is the occupant of one network node.
// Node is fixed at creation; State changes only through the transition rule.
type Agent struct {
	Node  NodeID
	State Compartment
	Rates Rates
}

// AgentView is the read-only (node, compartment) pair exposed to observers.
type AgentView struct {
	Node  NodeID      `json:"node"`
	State Compartment `json:"state"`
}

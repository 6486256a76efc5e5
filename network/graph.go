// Package network supplies the contact graph the simulation consumes.
//
// The core depends only on the Graph interface. ContactGraph adapts an
// lvlath core.Graph, whose vertex ids are decimal strings, to model.NodeID.
package network

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/katalvlaran/lvlath/builder"
	lvcore "github.com/katalvlaran/lvlath/core"

	"github.com/signalsfoundry/sehir-simulator/model"
)

var (
	// ErrUnknownNode indicates a node id that is not part of the graph.
	ErrUnknownNode = errors.New("unknown node")
	// ErrDuplicateNode indicates a node id listed more than once.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrSelfLoop indicates an edge from a node to itself.
	ErrSelfLoop = lvcore.ErrLoopNotAllowed
	// ErrTooFewNodes indicates a builder was asked for fewer than one node.
	ErrTooFewNodes = builder.ErrTooFewVertices
	// ErrInvalidProbability indicates an edge probability outside [0,1].
	ErrInvalidProbability = builder.ErrInvalidProbability
	// ErrNeedRandSource indicates a stochastic builder was called without a source.
	ErrNeedRandSource = builder.ErrNeedRandSource
	// ErrBadVertexID indicates an lvlath vertex id that is not a node id.
	ErrBadVertexID = errors.New("vertex id is not a node id")
)

// Graph is the read-only topology contract. Implementations must not change
// for the duration of a run.
type Graph interface {
	// Nodes returns every node id in a stable order.
	Nodes() []model.NodeID
	// Neighbors returns the ids adjacent to id.
	Neighbors(id model.NodeID) ([]model.NodeID, error)
}

// Edge is an undirected pair of node ids.
type Edge struct {
	A, B model.NodeID
}

// ContactGraph is an immutable undirected simple graph backed by lvlath.
type ContactGraph struct {
	g     *lvcore.Graph
	order []model.NodeID
}

// Wrap adapts g. Every vertex id must parse as a node id. Nodes are ordered
// numerically rather than by lvlath's lexicographic order.
func Wrap(g *lvcore.Graph) (*ContactGraph, error) {
	ids := g.Vertices()
	order := make([]model.NodeID, 0, len(ids))
	for _, v := range ids {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return &ContactGraph{g: g, order: order}, nil
}

// NewGraph builds an undirected graph from nodes and edges. Repeated edges
// collapse into one; self-loops and edges to unlisted nodes are rejected.
// Nodes keep the order they are listed in.
func NewGraph(nodes []model.NodeID, edges []Edge) (*ContactGraph, error) {
	g := lvcore.NewGraph()
	order := make([]model.NodeID, 0, len(nodes))
	for _, id := range nodes {
		v := formatID(id)
		if g.HasVertex(v) {
			return nil, fmt.Errorf("NewGraph: node %d: %w", id, ErrDuplicateNode)
		}
		if err := g.AddVertex(v); err != nil {
			return nil, fmt.Errorf("NewGraph: node %d: %w", id, err)
		}
		order = append(order, id)
	}

	for _, e := range edges {
		if e.A == e.B {
			return nil, fmt.Errorf("NewGraph: edge %d-%d: %w", e.A, e.B, ErrSelfLoop)
		}
		a, b := formatID(e.A), formatID(e.B)
		if !g.HasVertex(a) {
			return nil, fmt.Errorf("NewGraph: edge %d-%d references %d: %w", e.A, e.B, e.A, ErrUnknownNode)
		}
		if !g.HasVertex(b) {
			return nil, fmt.Errorf("NewGraph: edge %d-%d references %d: %w", e.A, e.B, e.B, ErrUnknownNode)
		}
		if g.HasEdge(a, b) {
			continue
		}
		if _, err := g.AddEdge(a, b, 0); err != nil {
			return nil, fmt.Errorf("NewGraph: edge %d-%d: %w", e.A, e.B, err)
		}
	}
	return &ContactGraph{g: g, order: order}, nil
}

// Nodes implements Graph. The returned slice is a copy.
func (c *ContactGraph) Nodes() []model.NodeID {
	return append([]model.NodeID(nil), c.order...)
}

// Neighbors implements Graph. The result is sorted by id.
func (c *ContactGraph) Neighbors(id model.NodeID) ([]model.NodeID, error) {
	ids, err := c.g.NeighborIDs(formatID(id))
	if err != nil {
		if errors.Is(err, lvcore.ErrVertexNotFound) {
			return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
		}
		return nil, fmt.Errorf("node %d: %w", id, err)
	}
	out := make([]model.NodeID, 0, len(ids))
	for _, v := range ids {
		nid, err := parseID(v)
		if err != nil {
			return nil, err
		}
		out = append(out, nid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// NodeCount returns the number of nodes.
func (c *ContactGraph) NodeCount() int { return c.g.VertexCount() }

// EdgeCount returns the number of undirected edges.
func (c *ContactGraph) EdgeCount() int { return c.g.EdgeCount() }

func formatID(id model.NodeID) string { return strconv.Itoa(int(id)) }

func parseID(v string) (model.NodeID, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("vertex %q: %w", v, ErrBadVertexID)
	}
	return model.NodeID(n), nil
}

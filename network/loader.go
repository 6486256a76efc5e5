package network

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/signalsfoundry/sehir-simulator/model"
)

// internal JSON shape; kept unexported so the format can evolve.
type graphJSON struct {
	Nodes []model.NodeID    `json:"nodes"`
	Edges [][2]model.NodeID `json:"edges"`
}

// LoadGraph decodes a JSON edge list of the form
//
//	{"nodes": [0, 1, 2], "edges": [[0, 1], [1, 2]]}
//
// When "nodes" is omitted the node set is taken from the edge endpoints in
// order of first appearance.
func LoadGraph(r io.Reader) (*ContactGraph, error) {
	var payload graphJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadGraph: decode failed: %w", err)
	}

	nodes := payload.Nodes
	if len(nodes) == 0 {
		seen := make(map[model.NodeID]bool)
		for _, e := range payload.Edges {
			for _, id := range e {
				if !seen[id] {
					seen[id] = true
					nodes = append(nodes, id)
				}
			}
		}
	}

	edges := make([]Edge, 0, len(payload.Edges))
	for _, e := range payload.Edges {
		edges = append(edges, Edge{A: e[0], B: e[1]})
	}

	g, err := NewGraph(nodes, edges)
	if err != nil {
		return nil, fmt.Errorf("LoadGraph: %w", err)
	}
	return g, nil
}

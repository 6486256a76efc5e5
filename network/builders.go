package network

import (
	"fmt"
	"math/rand"

	"github.com/katalvlaran/lvlath/builder"
)

// Complete returns K_n over ids 0..n-1.
func Complete(n int) (*ContactGraph, error) {
	g, err := builder.BuildGraph(nil, nil, builder.Complete(n))
	if err != nil {
		return nil, fmt.Errorf("Complete: %w", err)
	}
	return Wrap(g)
}

// ErdosRenyi returns G(n, p) over ids 0..n-1. Candidate pairs are drawn
// from r in ascending (i, j) order, so the same stream yields the same graph.
// r may be nil only when p is 0 or 1.
func ErdosRenyi(n int, p float64, r *rand.Rand) (*ContactGraph, error) {
	var opts []builder.BuilderOption
	if r != nil {
		opts = append(opts, builder.WithRand(r))
	}
	g, err := builder.BuildGraph(nil, opts, builder.RandomSparse(n, p))
	if err != nil {
		return nil, fmt.Errorf("ErdosRenyi: %w", err)
	}
	return Wrap(g)
}

// ErdosRenyiAvgDegree returns G(n, avg/n), with the probability capped at 1.
func ErdosRenyiAvgDegree(n int, avg float64, r *rand.Rand) (*ContactGraph, error) {
	if n < 1 {
		return nil, fmt.Errorf("ErdosRenyiAvgDegree: n=%d: %w", n, ErrTooFewNodes)
	}
	p := avg / float64(n)
	if p > 1 {
		p = 1
	}
	return ErdosRenyi(n, p, r)
}

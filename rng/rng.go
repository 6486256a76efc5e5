// Package rng provides the seedable random source consumed by the simulation
// core.
package rng

import (
	mathrand "math/rand"
	"math/rand/v2"

	"github.com/signalsfoundry/sehir-simulator/model"
)

// Source is the randomness contract of the simulation core.
type Source interface {
	// Uniform returns a float in [0,1).
	Uniform() float64
	// Sample draws k distinct ids from ids without replacement. k is clamped
	// to [0, len(ids)]. The input slice is not modified.
	Sample(ids []model.NodeID, k int) []model.NodeID
	// Shuffle pseudo-randomly permutes n elements using swap.
	Shuffle(n int, swap func(i, j int))
}

// Splitter is implemented by sources that can derive independent,
// deterministic sub-streams. The engine uses it to compute agents in
// parallel without the outcome depending on scheduling.
type Splitter interface {
	Split(step, index uint64) Source
}

// PCG is a Source backed by math/rand/v2's PCG generator.
type PCG struct {
	seed uint64
	r    *rand.Rand
}

// New returns a PCG source seeded with seed.
func New(seed uint64) *PCG {
	return &PCG{
		seed: seed,
		r:    rand.New(rand.NewPCG(seed, mix(seed))),
	}
}

// Seed returns the seed the source was constructed with.
func (p *PCG) Seed() uint64 { return p.seed }

// Uniform implements Source.
func (p *PCG) Uniform() float64 { return p.r.Float64() }

// Shuffle implements Source.
func (p *PCG) Shuffle(n int, swap func(i, j int)) { p.r.Shuffle(n, swap) }

// Sample implements Source using a partial Fisher-Yates shuffle over a copy.
func (p *PCG) Sample(ids []model.NodeID, k int) []model.NodeID {
	if k <= 0 || len(ids) == 0 {
		return nil
	}
	if k > len(ids) {
		k = len(ids)
	}
	pool := append([]model.NodeID(nil), ids...)
	for i := 0; i < k; i++ {
		j := i + p.r.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k:k]
}

// Split implements Splitter. The derived stream depends only on the root
// seed, step and index, never on how much of the parent stream was consumed.
func (p *PCG) Split(step, index uint64) Source {
	s1 := mix(p.seed ^ mix(step+1))
	s2 := mix(s1 ^ mix(index+1))
	return &PCG{seed: s1, r: rand.New(rand.NewPCG(s1, s2))}
}

// Rand returns a math/rand view over the same stream, for graph builders
// that take a *math/rand.Rand. Draws through it advance p.
func (p *PCG) Rand() *mathrand.Rand {
	return mathrand.New(legacySource{r: p.r})
}

// legacySource adapts a v2 generator to math/rand.Source64. Reseeding is
// not supported; the stream is owned by the PCG.
type legacySource struct {
	r *rand.Rand
}

func (s legacySource) Int63() int64    { return int64(s.r.Uint64() >> 1) }
func (s legacySource) Uint64() uint64  { return s.r.Uint64() }
func (s legacySource) Seed(seed int64) {}

// mix is the splitmix64 finaliser.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

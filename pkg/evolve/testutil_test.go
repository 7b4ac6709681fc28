package evolve

import (
	"math/rand"
)

// vecGenome is a two-value genome used across the package tests, the
// smallest genotype that still exercises crossover meaningfully.
type vecGenome struct {
	V0 float64 `json:"v0"`
	V1 float64 `json:"v1"`
}

func (g *vecGenome) Mutate(rng *rand.Rand) {
	if rng.Intn(2) == 0 {
		g.V0 = rng.Float64()
	} else {
		g.V1 = rng.Float64()
	}
}

func (g *vecGenome) Crossover(other *vecGenome, rng *rand.Rand) *vecGenome {
	if rng.Intn(2) == 0 {
		return &vecGenome{V0: g.V0, V1: other.V1}
	}
	return &vecGenome{V0: other.V0, V1: g.V1}
}

func (g *vecGenome) Reset() {}

func (g *vecGenome) Clone() *vecGenome {
	c := *g
	return &c
}

// evaluatedInd builds an already-evaluated individual with the given
// fitness record.
func evaluatedInd(fitnesses map[string]float64) *Individual[*vecGenome] {
	ind := NewIndividual(&vecGenome{})
	ind.Fitnesses = fitnesses
	ind.Evaluated = true
	return ind
}

func footprintInd(fp Footprint) *Individual[*vecGenome] {
	ind := NewIndividual(&vecGenome{})
	ind.Footprint = fp
	ind.Evaluated = true
	return ind
}

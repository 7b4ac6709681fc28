package evolve

import (
	"sort"

	"github.com/evolvekit/evolvekit/pkg/errors"
)

// Population is an ordered sequence of individuals. Insertion order
// carries no semantics (selection and sorting reshuffle it) but is
// preserved for deterministic iteration when no randomness is involved.
type Population[G Genome[G]] []*Individual[G]

// ObjectiveKeys returns the sorted set of fitness keys shared by every
// individual of the population. An empty population or heterogeneous key
// sets are faults: selection and ranking assume one homogeneous,
// fully-evaluated pool.
func (p Population[G]) ObjectiveKeys() ([]string, error) {
	if len(p) == 0 {
		return nil, errors.New(errors.InvalidInput, "population is empty")
	}
	keys := make([]string, 0, len(p[0].Fitnesses))
	for k := range p[0].Fitnesses {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, ind := range p[1:] {
		if len(ind.Fitnesses) != len(keys) {
			return nil, errors.WithFields(
				errors.New(errors.ObjectiveMismatch, "heterogeneous fitness key sets in population"),
				errors.Fields{"individual": ind.ID, "expected": len(keys), "got": len(ind.Fitnesses)})
		}
		for _, k := range keys {
			if _, ok := ind.Fitnesses[k]; !ok {
				return nil, errors.WithFields(
					errors.New(errors.ObjectiveMismatch, "heterogeneous fitness key sets in population"),
					errors.Fields{"individual": ind.ID, "missing": k})
			}
		}
	}
	return keys, nil
}

// Clone deep-copies every individual.
func (p Population[G]) Clone() Population[G] {
	out := make(Population[G], len(p))
	for i, ind := range p {
		out[i] = ind.Clone()
	}
	return out
}

package evolve

import (
	"math/rand"

	"github.com/evolvekit/evolvekit/pkg/errors"
)

// selector is the single capability a selection strategy exposes: pick one
// parent from the current population. The concrete strategy is chosen
// once at configuration time.
type selector[G Genome[G]] interface {
	pick(pop Population[G], rng *rand.Rand) (*Individual[G], error)
}

// strictlyDominates is the classical weak-Pareto dominance rule used by
// the plain Pareto tournament: a dominates b iff a is at least as good on
// every objective and strictly better on at least one. Distinct from the
// net-count rule the NSGA-II sorter uses; the two coexist on purpose.
func strictlyDominates(a, b map[string]float64, keys []string, isBetter BetterFunc) bool {
	strict := false
	for _, k := range keys {
		av, bv := a[k], b[k]
		if isBetter(bv, av) {
			return false
		}
		if isBetter(av, bv) {
			strict = true
		}
	}
	return strict
}

// paretoFrontOf returns the mutually non-dominated members of a group
// under classical dominance. Naive O(n^2); groups are tournament-sized.
func paretoFrontOf[G Genome[G]](group Population[G], keys []string, isBetter BetterFunc) Population[G] {
	var front Population[G]
	for i, ind := range group {
		dominatedBy := false
		for j, other := range group {
			if i == j {
				continue
			}
			if strictlyDominates(other.Fitnesses, ind.Fitnesses, keys, isBetter) {
				dominatedBy = true
				break
			}
		}
		if !dominatedBy {
			front = append(front, ind)
		}
	}
	return front
}

// drawTournament samples tournamentSize participants uniformly at random,
// with replacement.
func drawTournament[G Genome[G]](pop Population[G], size int, rng *rand.Rand) (Population[G], error) {
	if len(pop) == 0 {
		return nil, errors.New(errors.InvalidInput, "cannot select from an empty population")
	}
	participants := make(Population[G], size)
	for i := range participants {
		participants[i] = pop[rng.Intn(len(pop))]
	}
	return participants, nil
}

// randomObjectiveTournament ranks a random tournament on one objective
// picked uniformly at random among the fitness keys; ties keep the
// earliest-drawn champion.
type randomObjectiveTournament[G Genome[G]] struct {
	size     int
	isBetter BetterFunc
}

func (s randomObjectiveTournament[G]) pick(pop Population[G], rng *rand.Rand) (*Individual[G], error) {
	participants, err := drawTournament(pop, s.size, rng)
	if err != nil {
		return nil, err
	}
	keys, err := participants.ObjectiveKeys()
	if err != nil {
		return nil, err
	}
	objective := keys[rng.Intn(len(keys))]

	champion := participants[0]
	best, err := champion.Fitness(objective)
	if err != nil {
		return nil, err
	}
	for _, contender := range participants[1:] {
		v, err := contender.Fitness(objective)
		if err != nil {
			return nil, err
		}
		if s.isBetter(v, best) {
			champion = contender
			best = v
		}
	}
	return champion, nil
}

// paretoTournament returns a uniformly random member of the tournament's
// mutual non-dominated front.
type paretoTournament[G Genome[G]] struct {
	size     int
	isBetter BetterFunc
}

func (s paretoTournament[G]) pick(pop Population[G], rng *rand.Rand) (*Individual[G], error) {
	participants, err := drawTournament(pop, s.size, rng)
	if err != nil {
		return nil, err
	}
	keys, err := participants.ObjectiveKeys()
	if err != nil {
		return nil, err
	}
	front := paretoFrontOf(participants, keys, s.isBetter)
	return front[rng.Intn(len(front))], nil
}

// newSelector maps the configured selection method to a strategy value.
// NSGA-II selection does not use arbitrary tournaments; its pairing over
// random permutations lives in the orchestrator.
func newSelector[G Genome[G]](cfg Config, isBetter BetterFunc) selector[G] {
	switch cfg.Selection {
	case SelectionPareto:
		return paretoTournament[G]{size: cfg.TournamentSize, isBetter: isBetter}
	default:
		return randomObjectiveTournament[G]{size: cfg.TournamentSize, isBetter: isBetter}
	}
}

package evolve

import (
	"math"
	"math/rand"
	"sort"
)

// ranking is the output of one non-dominated sort over a pool. The pool is
// treated as a contiguous arena and all dominance relationships are kept
// as index lists keyed by arena position, recomputed fresh each sort, so
// no references dangle across generational replacement.
type ranking struct {
	fronts   [][]int   // arena indices per front, rank order
	rank     []int     // Pareto rank per arena index, 1-based
	crowding []float64 // crowding distance per arena index
}

// netDominates reports whether a dominates b under the net-count rule:
// counting over all objectives, a wins on strictly more objectives than b
// does. Ties on every objective mean neither dominates. This deliberately
// differs from the classical weak-dominance rule used by the plain Pareto
// tournament: an individual winning on more (but not all) objectives
// dominates here.
func netDominates(a, b map[string]float64, keys []string, isBetter BetterFunc) bool {
	aWins, bWins := 0, 0
	for _, k := range keys {
		av, bv := a[k], b[k]
		if isBetter(av, bv) {
			aWins++
		} else if isBetter(bv, av) {
			bWins++
		}
	}
	return aWins > bWins
}

// sortPool partitions a fully-evaluated pool into ranked Pareto fronts and
// assigns crowding distances. O(M*N^2) over M objectives and N
// individuals, fine for the population sizes this engine targets
// (hundreds, not millions).
func sortPool[G Genome[G]](pool Population[G], isBetter BetterFunc) (*ranking, error) {
	keys, err := pool.ObjectiveKeys()
	if err != nil {
		return nil, err
	}

	n := len(pool)
	dominated := make([][]int, n) // indices each individual dominates
	counts := make([]int, n)      // number of individuals dominating each

	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			if p == q {
				continue
			}
			if netDominates(pool[p].Fitnesses, pool[q].Fitnesses, keys, isBetter) {
				dominated[p] = append(dominated[p], q)
				counts[q]++
			}
		}
	}

	r := &ranking{
		rank:     make([]int, n),
		crowding: make([]float64, n),
	}

	// Individuals dominated by nobody form front 1; peeling a front
	// decrements the counts of everything its members dominate.
	var current []int
	for i := 0; i < n; i++ {
		if counts[i] == 0 {
			current = append(current, i)
			r.rank[i] = 1
		}
	}
	for len(current) > 0 {
		r.fronts = append(r.fronts, current)
		var next []int
		for _, p := range current {
			for _, q := range dominated[p] {
				counts[q]--
				if counts[q] == 0 {
					next = append(next, q)
					r.rank[q] = len(r.fronts) + 1
				}
			}
		}
		current = next
	}

	for _, front := range r.fronts {
		computeCrowding(r, pool, front, keys)
	}
	return r, nil
}

// computeCrowding assigns crowding distances within one front: per
// objective, the boundary individuals are forced to +Inf and interior
// ones accumulate the normalized gap between their sorted neighbors. An
// objective where the whole front ties contributes nothing (the max==min
// guard avoids dividing by zero). A front of size 1 gets +Inf through the
// boundary rule, both boundaries coinciding.
func computeCrowding[G Genome[G]](r *ranking, pool Population[G], front []int, keys []string) {
	byObjective := make([]int, len(front))
	for _, key := range keys {
		copy(byObjective, front)
		sort.SliceStable(byObjective, func(i, j int) bool {
			return pool[byObjective[i]].Fitnesses[key] < pool[byObjective[j]].Fitnesses[key]
		})

		first, last := byObjective[0], byObjective[len(byObjective)-1]
		r.crowding[first] = math.Inf(1)
		r.crowding[last] = math.Inf(1)

		span := pool[last].Fitnesses[key] - pool[first].Fitnesses[key]
		if span == 0 {
			continue
		}
		for i := 1; i < len(byObjective)-1; i++ {
			prev := pool[byObjective[i-1]].Fitnesses[key]
			next := pool[byObjective[i+1]].Fitnesses[key]
			r.crowding[byObjective[i]] += (next - prev) / span
		}
	}
}

// tournament runs the NSGA-II binary tournament between arena indices i
// and j: lower Pareto rank wins; on a rank tie the strictly larger
// crowding distance wins; a full tie is resolved uniformly at random.
// This three-level tie-break balances convergence pressure (rank) against
// diversity pressure (crowding).
func (r *ranking) tournament(i, j int, rng *rand.Rand) int {
	if r.rank[i] < r.rank[j] {
		return i
	}
	if r.rank[j] < r.rank[i] {
		return j
	}
	if r.crowding[i] > r.crowding[j] {
		return i
	}
	if r.crowding[j] > r.crowding[i] {
		return j
	}
	if rng.Intn(2) == 0 {
		return i
	}
	return j
}

package evolve

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/evolvekit/evolvekit/pkg/errors"
	"github.com/evolvekit/evolvekit/pkg/logging"
)

// Engine drives the generational loop: evaluate the current wave, run the
// optional novelty update, then produce the next generation through the
// configured selection strategy. All randomness happens in the
// single-threaded phase after the evaluation barrier.
type Engine[G Genome[G]] struct {
	cfg       Config
	evaluator Evaluator[G]
	isBetter  BetterFunc
	rng       *rand.Rand
	backend   Backend[G]
	sel       selector[G]

	onGeneration func(generation int)

	pop        Population[G]
	lastGen    Population[G]
	archive    Population[G]
	generation int
	stats      []GenerationStats
}

// Option configures an Engine at construction time.
type Option[G Genome[G]] func(*Engine[G])

// WithRand injects the random source, for reproducible runs.
func WithRand[G Genome[G]](rng *rand.Rand) Option[G] {
	return func(e *Engine[G]) { e.rng = rng }
}

// WithIsBetter injects the total order over fitness values. Defaults to
// GreaterIsBetter.
func WithIsBetter[G Genome[G]](f BetterFunc) Option[G] {
	return func(e *Engine[G]) { e.isBetter = f }
}

// WithBackend replaces the local goroutine pool with a custom evaluation
// backend, e.g. a distributed scatter/gather coordinator.
func WithBackend[G Genome[G]](b Backend[G]) Option[G] {
	return func(e *Engine[G]) { e.backend = b }
}

// WithGenerationHook registers a callback invoked at the start of every
// generation, before evaluation.
func WithGenerationHook[G Genome[G]](f func(generation int)) Option[G] {
	return func(e *Engine[G]) { e.onGeneration = f }
}

// New builds an engine from a validated configuration. The evaluator may
// be nil when a backend carrying its own evaluator is injected; a missing
// evaluator is otherwise reported at Step entry, before any work begins.
func New[G Genome[G]](cfg Config, evaluator Evaluator[G], opts ...Option[G]) (*Engine[G], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine[G]{
		cfg:       cfg,
		evaluator: evaluator,
		isBetter:  GreaterIsBetter,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sel = newSelector[G](cfg, e.isBetter)
	return e, nil
}

// InitPopulation fills the population with freshly generated genomes.
func (e *Engine[G]) InitPopulation(generate func() G) {
	e.pop = make(Population[G], e.cfg.PopulationSize)
	for i := range e.pop {
		e.pop[i] = NewIndividual(generate())
	}
}

// SetPopulation installs an externally built population, e.g. one loaded
// from a checkpoint. Its size must match the configured population size.
func (e *Engine[G]) SetPopulation(pop Population[G]) error {
	if len(pop) != e.cfg.PopulationSize {
		return errors.WithFields(
			errors.New(errors.PopulationSizeMismatch, "population does not match configured size"),
			errors.Fields{"expected": e.cfg.PopulationSize, "got": len(pop)})
	}
	e.pop = pop
	return nil
}

// Population returns the current population. Callers must treat it as
// read-only.
func (e *Engine[G]) Population() Population[G] { return e.pop }

// PreviousGeneration returns the population as it was before the last
// replacement.
func (e *Engine[G]) PreviousGeneration() Population[G] { return e.lastGen }

// Archive returns the novelty archive.
func (e *Engine[G]) Archive() Population[G] { return e.archive }

// Generation returns the number of completed generational steps.
func (e *Engine[G]) Generation() int { return e.generation }

// Stats returns the per-generation statistics collected so far.
func (e *Engine[G]) Stats() []GenerationStats { return e.stats }

// ParetoFronts partitions the current population into ranked fronts using
// the engine's non-dominated sorter. The population must be fully
// evaluated.
func (e *Engine[G]) ParetoFronts() ([]Population[G], error) {
	rk, err := sortPool(e.pop, e.isBetter)
	if err != nil {
		return nil, err
	}
	fronts := make([]Population[G], len(rk.fronts))
	for i, front := range rk.fronts {
		fronts[i] = make(Population[G], 0, len(front))
		for _, idx := range front {
			fronts[i] = append(fronts[i], e.pop[idx])
		}
	}
	return fronts, nil
}

// Elites returns the n best individuals per objective of the current
// population.
func (e *Engine[G]) Elites(n int) (map[string]Population[G], error) {
	keys, err := e.pop.ObjectiveKeys()
	if err != nil {
		return nil, err
	}
	return elitesOf(e.pop, keys, n, e.isBetter), nil
}

// Step runs the generational loop count times. Calling it N times with
// count 1 is equivalent to one call with count N, save/report side
// effects aside. Configuration faults are reported before any generation
// runs.
func (e *Engine[G]) Step(ctx context.Context, count int) error {
	logger := logging.GetLogger()

	if e.evaluator == nil && e.backend == nil {
		return errors.New(errors.EvaluatorMissing, "no evaluator configured")
	}
	if len(e.pop) != e.cfg.PopulationSize {
		return errors.WithFields(
			errors.New(errors.PopulationSizeMismatch, "population does not match configured size"),
			errors.Fields{"expected": e.cfg.PopulationSize, "got": len(e.pop)})
	}

	for i := 0; i < count; i++ {
		genCtx := logging.WithGeneration(ctx, e.generation)
		if e.onGeneration != nil {
			e.onGeneration(e.generation)
		}

		waveStart := time.Now()
		if err := e.evaluateWave(genCtx, e.pop); err != nil {
			return err
		}
		if e.cfg.Novelty.Enabled {
			if err := e.updateNovelty(genCtx, e.pop); err != nil {
				return err
			}
		}
		keys, err := e.pop.ObjectiveKeys()
		if err != nil {
			return err
		}

		st := e.computeStats(keys, time.Since(waveStart))
		e.stats = append(e.stats, st)
		logger.Info(genCtx, "generation %d done in %s (%d evaluations, %d objectives)",
			e.generation, st.WaveDuration, st.Evaluations, len(keys))
		for _, key := range keys {
			obj := st.Objectives[key]
			logger.Debug(genCtx, "objective %s: best=%g worst=%g mean=%g stddev=%g",
				key, obj.Best, obj.Worst, obj.Mean, obj.StdDev)
		}

		if e.cfg.Selection == SelectionNSGA2 {
			err = e.nsga2Next(genCtx)
		} else {
			err = e.prepareNext(keys)
		}
		if err != nil {
			return err
		}
		e.generation++
	}
	return nil
}

// evaluateWave evaluates every individual that still needs it, in
// parallel, and blocks until the whole wave is done. The barrier is
// total: selection and ranking only ever see a fully-evaluated pool, and
// any evaluation error aborts the wave rather than producing partial
// results.
func (e *Engine[G]) evaluateWave(ctx context.Context, inds Population[G]) error {
	pending := make(Population[G], 0, len(inds))
	for _, ind := range inds {
		if e.cfg.EvaluateAll || !ind.Evaluated {
			pending = append(pending, ind)
		} else {
			ind.WasAlreadyEvaluated = true
			ind.EvalDuration = 0
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if e.backend != nil {
		return e.backend.EvaluateWave(ctx, pending)
	}

	p := pool.New().WithErrors().WithMaxGoroutines(e.cfg.Concurrency)
	for _, ind := range pending {
		ind := ind
		p.Go(func() error {
			return EvaluateIndividual(ctx, ind, e.evaluator)
		})
	}
	if err := p.Wait(); err != nil {
		return errors.Wrap(err, errors.EvaluationFailed, "evaluation wave aborted")
	}
	return nil
}

// prepareNext builds the next generation for the tournament-based
// strategies: per-objective elites survive unchanged, the rest is filled
// by selection, crossover and mutation.
func (e *Engine[G]) prepareNext(keys []string) error {
	next := make(Population[G], 0, e.cfg.PopulationSize)
	e.lastGen = e.pop

	elites := elitesOf(e.pop, keys, e.cfg.NbElites, e.isBetter)
	for _, key := range keys {
		for _, elite := range elites[key] {
			if len(next) == e.cfg.PopulationSize {
				break
			}
			next = append(next, elite.Clone())
		}
	}

	for len(next) < e.cfg.PopulationSize {
		parent, err := e.sel.pick(e.pop, e.rng)
		if err != nil {
			return err
		}
		var offspring *Individual[G]
		if e.rng.Float64() < e.cfg.CrossoverRate {
			mate, err := e.sel.pick(e.pop, e.rng)
			if err != nil {
				return err
			}
			offspring = NewIndividual(parent.Genome.Crossover(mate.Genome, e.rng))
		} else {
			offspring = parent.Clone()
		}
		if e.rng.Float64() < e.cfg.MutationRate {
			offspring.Genome.Mutate(e.rng)
			offspring.Evaluated = false
		}
		next = append(next, offspring)
	}

	e.pop = next
	return nil
}

// nsga2Next runs one (mu+lambda) NSGA-II generation: offspring are bred
// through binary tournaments over two independent random permutations of
// the parents, evaluated, merged with the parents into a 2N pool, and the
// next generation is cut from the ranked fronts, the split front ordered
// by descending crowding distance before truncation.
func (e *Engine[G]) nsga2Next(ctx context.Context) error {
	parents := e.pop
	rk, err := sortPool(parents, e.isBetter)
	if err != nil {
		return err
	}

	popSize := e.cfg.PopulationSize
	offspring := make(Population[G], 0, popSize)
	for len(offspring) < popSize {
		if len(parents) < 4 {
			// Too small for permutation blocks; degenerate to direct
			// random pairing.
			w1 := parents[rk.tournament(e.rng.Intn(len(parents)), e.rng.Intn(len(parents)), e.rng)]
			w2 := parents[rk.tournament(e.rng.Intn(len(parents)), e.rng.Intn(len(parents)), e.rng)]
			offspring = append(offspring, e.makeOffspring(w1, w2))
			continue
		}
		perms := [2][]int{e.rng.Perm(len(parents)), e.rng.Perm(len(parents))}
		for _, perm := range perms {
			for i := 0; i+3 < len(perm) && len(offspring) < popSize; i += 4 {
				w1 := parents[rk.tournament(perm[i], perm[i+1], e.rng)]
				w2 := parents[rk.tournament(perm[i+2], perm[i+3], e.rng)]
				offspring = append(offspring, e.makeOffspring(w1, w2))
				if len(offspring) < popSize {
					offspring = append(offspring, e.makeOffspring(w2, w1))
				}
			}
		}
	}

	if err := e.evaluateWave(ctx, offspring); err != nil {
		return err
	}
	if e.cfg.Novelty.Enabled {
		// Parents already drove this generation's archive update; the
		// offspring are scored against the archive without extending it
		// so the merged pool carries homogeneous keys.
		if err := e.scoreNovelty(offspring); err != nil {
			return err
		}
	}

	merged := make(Population[G], 0, len(parents)+len(offspring))
	merged = append(merged, parents...)
	merged = append(merged, offspring...)
	mrk, err := sortPool(merged, e.isBetter)
	if err != nil {
		return err
	}

	next := make(Population[G], 0, popSize)
	for _, front := range mrk.fronts {
		if len(next)+len(front) <= popSize {
			for _, idx := range front {
				next = append(next, merged[idx].Clone())
			}
			continue
		}
		// The front that overflows the budget is truncated by crowding:
		// most isolated individuals first, never arbitrarily.
		split := make([]int, len(front))
		copy(split, front)
		sort.SliceStable(split, func(i, j int) bool {
			return mrk.crowding[split[i]] > mrk.crowding[split[j]]
		})
		for _, idx := range split {
			if len(next) == popSize {
				break
			}
			next = append(next, merged[idx].Clone())
		}
		break
	}

	e.lastGen = parents
	e.pop = next
	return nil
}

// makeOffspring applies crossover with the configured probability (direct
// copy otherwise) then mutation with the configured probability.
func (e *Engine[G]) makeOffspring(a, b *Individual[G]) *Individual[G] {
	var child *Individual[G]
	if e.rng.Float64() < e.cfg.CrossoverRate {
		child = NewIndividual(a.Genome.Crossover(b.Genome, e.rng))
	} else {
		child = a.Clone()
	}
	if e.rng.Float64() < e.cfg.MutationRate {
		child.Genome.Mutate(e.rng)
		child.Evaluated = false
	}
	return child
}

// elitesOf returns the n best individuals per objective.
func elitesOf[G Genome[G]](pop Population[G], keys []string, n int, isBetter BetterFunc) map[string]Population[G] {
	elites := make(map[string]Population[G], len(keys))
	if n == 0 {
		return elites
	}
	idxs := make([]int, len(pop))
	for _, key := range keys {
		for i := range idxs {
			idxs[i] = i
		}
		sort.SliceStable(idxs, func(i, j int) bool {
			return isBetter(pop[idxs[i]].Fitnesses[key], pop[idxs[j]].Fitnesses[key])
		})
		count := n
		if count > len(pop) {
			count = len(pop)
		}
		best := make(Population[G], count)
		for i := 0; i < count; i++ {
			best[i] = pop[idxs[i]]
		}
		elites[key] = best
	}
	return elites
}

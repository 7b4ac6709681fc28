// Package evolve implements a population-based evolutionary optimization
// engine: tournament and NSGA-II selection, Pareto non-dominated sorting
// with crowding distances, novelty search over behavior footprints, and a
// generational loop with parallel evaluation of individuals.
//
// The genotype representation is supplied by the caller through the Genome
// capability; the engine only ever asks a genome to mutate, crossover,
// reset and clone itself. Fitness is produced by a caller-supplied
// Evaluator that fills an individual's fitness record (and footprint, when
// novelty search is enabled) in place.
package evolve

import (
	"context"
	"math/rand"
	"time"

	"github.com/evolvekit/evolvekit/pkg/errors"
)

// Genome is the capability a user-supplied genotype must provide. The type
// parameter is the concrete genome type itself, so crossover and clone
// stay fully typed.
//
// Reset is called once before each evaluation to clear per-run transient
// state. Mutate and Crossover receive the engine's random source; they are
// only ever called from the single-threaded phase of a generation, never
// concurrently.
type Genome[G any] interface {
	Mutate(rng *rand.Rand)
	Crossover(other G, rng *rand.Rand) G
	Reset()
	Clone() G
}

// Evaluator computes the fitness record (and footprint, when novelty is
// enabled) of a single individual, writing results in place. Every
// individual of a run must receive the same set of fitness keys.
//
// Evaluators must be pure functions of the genome: individuals are
// evaluated concurrently and no cross-individual shared state may be
// touched.
type Evaluator[G Genome[G]] func(ctx context.Context, ind *Individual[G]) error

// Backend evaluates one wave of individuals. The engine uses a local
// goroutine pool by default; a distributed scatter/gather coordinator can
// be plugged in instead. All individuals of the wave must be fully
// evaluated when EvaluateWave returns without error.
type Backend[G Genome[G]] interface {
	EvaluateWave(ctx context.Context, inds []*Individual[G]) error
}

// EvaluateIndividual resets the genome, runs the evaluator and updates the
// individual's evaluation metadata. It is the single code path through
// which both the local pool and distributed workers evaluate.
func EvaluateIndividual[G Genome[G]](ctx context.Context, ind *Individual[G], eval Evaluator[G]) error {
	if err := errors.CheckContext(ctx, "evaluation"); err != nil {
		return err
	}

	start := time.Now()
	ind.Genome.Reset()
	if err := eval(ctx, ind); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.EvaluationFailed, "individual evaluation failed"),
			errors.Fields{"individual": ind.ID})
	}
	ind.Evaluated = true
	ind.WasAlreadyEvaluated = false
	ind.EvalDuration = time.Since(start)
	return nil
}

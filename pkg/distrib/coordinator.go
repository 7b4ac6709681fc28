package distrib

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/evolvekit/evolvekit/pkg/errors"
	"github.com/evolvekit/evolvekit/pkg/evolve"
)

// Coordinator scatters an evaluation wave over its workers and gathers
// the results back into the caller's individuals. It implements
// evolve.Backend, so an engine built with WithBackend evaluates through
// it transparently.
type Coordinator[G evolve.Genome[G]] struct {
	workers []Worker
}

// NewCoordinator builds a coordinator over a non-empty worker set.
func NewCoordinator[G evolve.Genome[G]](workers ...Worker) (*Coordinator[G], error) {
	if len(workers) == 0 {
		return nil, errors.New(errors.InvalidInput, "coordinator needs at least one worker")
	}
	return &Coordinator[G]{workers: workers}, nil
}

// EvaluateWave chunks the wave into contiguous batches, one per worker,
// runs them concurrently, and copies the evaluated state back by
// individual ID. Any worker failure aborts the whole wave.
func (c *Coordinator[G]) EvaluateWave(ctx context.Context, inds []*evolve.Individual[G]) error {
	if len(inds) == 0 {
		return nil
	}

	byID := make(map[string]*evolve.Individual[G], len(inds))
	for _, ind := range inds {
		byID[ind.ID] = ind
	}

	var mu sync.Mutex
	var gathered evolve.Population[G]

	p := pool.New().WithErrors().WithContext(ctx)
	for i, chunk := range splitChunks(inds, len(c.workers)) {
		worker := c.workers[i]
		batch := chunk
		p.Go(func(ctx context.Context) error {
			data, err := EncodeBatch[G](uuid.New().String(), batch)
			if err != nil {
				return err
			}
			out, err := worker.Process(ctx, data)
			if err != nil {
				return err
			}
			_, results, err := DecodeBatch[G](out)
			if err != nil {
				return err
			}
			mu.Lock()
			gathered = append(gathered, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return errors.Wrap(err, errors.EvaluationFailed, "distributed evaluation wave aborted")
	}

	for _, result := range gathered {
		orig, ok := byID[result.ID]
		if !ok {
			return errors.WithFields(
				errors.New(errors.EvaluationFailed, "worker returned unknown or duplicate individual"),
				errors.Fields{"individual": result.ID})
		}
		orig.Genome = result.Genome
		orig.Fitnesses = result.Fitnesses
		orig.Footprint = result.Footprint
		orig.Infos = result.Infos
		orig.Evaluated = result.Evaluated
		orig.WasAlreadyEvaluated = result.WasAlreadyEvaluated
		orig.EvalDuration = result.EvalDuration
		delete(byID, result.ID)
	}
	if len(byID) != 0 {
		return errors.WithFields(
			errors.New(errors.EvaluationFailed, "workers returned an incomplete wave"),
			errors.Fields{"expected": len(inds), "missing": len(byID)})
	}
	return nil
}

// splitChunks partitions the wave into at most n contiguous, non-empty
// chunks of near-equal size.
func splitChunks[G evolve.Genome[G]](inds []*evolve.Individual[G], n int) []evolve.Population[G] {
	if n > len(inds) {
		n = len(inds)
	}
	chunks := make([]evolve.Population[G], 0, n)
	base := len(inds) / n
	extra := len(inds) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		chunks = append(chunks, inds[start:start+size])
		start += size
	}
	return chunks
}

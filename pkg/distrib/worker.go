package distrib

import (
	"context"

	"github.com/evolvekit/evolvekit/pkg/evolve"
	"github.com/evolvekit/evolvekit/pkg/logging"
)

// Worker evaluates one encoded batch and returns the evaluated batch.
// Implementations behind a network transport ship the bytes as-is.
type Worker interface {
	Process(ctx context.Context, batch []byte) ([]byte, error)
}

// LocalWorker runs an evaluator in-process. It is the reference Worker
// implementation and the building block for tests and single-machine
// multi-worker setups.
type LocalWorker[G evolve.Genome[G]] struct {
	evaluator evolve.Evaluator[G]
}

// NewLocalWorker wraps an evaluator into a Worker.
func NewLocalWorker[G evolve.Genome[G]](evaluator evolve.Evaluator[G]) *LocalWorker[G] {
	return &LocalWorker[G]{evaluator: evaluator}
}

func (w *LocalWorker[G]) Process(ctx context.Context, batch []byte) ([]byte, error) {
	id, inds, err := DecodeBatch[G](batch)
	if err != nil {
		return nil, err
	}

	logger := logging.GetLogger()
	logger.Debug(ctx, "worker processing batch %s (%d individuals)", id, len(inds))

	for _, ind := range inds {
		if err := evolve.EvaluateIndividual(ctx, ind, w.evaluator); err != nil {
			return nil, err
		}
	}
	return EncodeBatch(id, inds)
}

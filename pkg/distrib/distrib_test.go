package distrib

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvekit/evolvekit/pkg/evolve"
)

type scalarGenome struct {
	V float64 `json:"v"`
}

func (g *scalarGenome) Mutate(rng *rand.Rand) { g.V = rng.Float64() }
func (g *scalarGenome) Crossover(o *scalarGenome, rng *rand.Rand) *scalarGenome {
	return &scalarGenome{V: (g.V + o.V) / 2}
}
func (g *scalarGenome) Reset() {}
func (g *scalarGenome) Clone() *scalarGenome {
	c := *g
	return &c
}

func squareEvaluator(ctx context.Context, ind *evolve.Individual[*scalarGenome]) error {
	ind.Fitnesses = map[string]float64{"square": ind.Genome.V * ind.Genome.V}
	ind.Footprint = evolve.Footprint{{ind.Genome.V}}
	return nil
}

func makeWave(n int) []*evolve.Individual[*scalarGenome] {
	inds := make([]*evolve.Individual[*scalarGenome], n)
	for i := range inds {
		inds[i] = evolve.NewIndividual(&scalarGenome{V: float64(i)})
	}
	return inds
}

func TestBatchRoundTrip(t *testing.T) {
	wave := makeWave(3)
	data, err := EncodeBatch[*scalarGenome]("batch-1", wave)
	require.NoError(t, err)

	id, decoded, err := DecodeBatch[*scalarGenome](data)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", id)
	require.Len(t, decoded, 3)
	for i, ind := range decoded {
		assert.Equal(t, wave[i].ID, ind.ID)
		assert.Equal(t, wave[i].Genome.V, ind.Genome.V)
	}
}

func TestDecodeBatchGarbage(t *testing.T) {
	_, _, err := DecodeBatch[*scalarGenome]([]byte("not json"))
	require.Error(t, err)
}

func TestLocalWorkerEvaluatesBatch(t *testing.T) {
	w := NewLocalWorker(squareEvaluator)
	wave := makeWave(4)

	data, err := EncodeBatch[*scalarGenome]("b", wave)
	require.NoError(t, err)
	out, err := w.Process(context.Background(), data)
	require.NoError(t, err)

	id, results, err := DecodeBatch[*scalarGenome](out)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
	for i, ind := range results {
		assert.True(t, ind.Evaluated)
		assert.Equal(t, float64(i*i), ind.Fitnesses["square"])
	}
}

func TestCoordinatorNeedsWorkers(t *testing.T) {
	_, err := NewCoordinator[*scalarGenome]()
	require.Error(t, err)
}

func TestCoordinatorEvaluatesWholeWave(t *testing.T) {
	coord, err := NewCoordinator[*scalarGenome](
		NewLocalWorker(squareEvaluator),
		NewLocalWorker(squareEvaluator),
		NewLocalWorker(squareEvaluator),
	)
	require.NoError(t, err)

	wave := makeWave(10)
	require.NoError(t, coord.EvaluateWave(context.Background(), wave))

	// Results landed on the caller's individuals, not on copies.
	for i, ind := range wave {
		assert.True(t, ind.Evaluated)
		assert.Equal(t, float64(i*i), ind.Fitnesses["square"])
		assert.Equal(t, evolve.Footprint{{float64(i)}}, ind.Footprint)
	}
}

func TestCoordinatorMoreWorkersThanIndividuals(t *testing.T) {
	workers := make([]Worker, 8)
	for i := range workers {
		workers[i] = NewLocalWorker(squareEvaluator)
	}
	coord, err := NewCoordinator[*scalarGenome](workers...)
	require.NoError(t, err)

	wave := makeWave(3)
	require.NoError(t, coord.EvaluateWave(context.Background(), wave))
	for _, ind := range wave {
		assert.True(t, ind.Evaluated)
	}
}

func TestCoordinatorEmptyWave(t *testing.T) {
	coord, err := NewCoordinator[*scalarGenome](NewLocalWorker(squareEvaluator))
	require.NoError(t, err)
	require.NoError(t, coord.EvaluateWave(context.Background(), nil))
}

func TestCoordinatorWorkerFailureAbortsWave(t *testing.T) {
	failing := func(ctx context.Context, ind *evolve.Individual[*scalarGenome]) error {
		if ind.Genome.V > 5 {
			return fmt.Errorf("budget exhausted")
		}
		return squareEvaluator(ctx, ind)
	}
	coord, err := NewCoordinator[*scalarGenome](
		NewLocalWorker(squareEvaluator),
		NewLocalWorker(failing),
	)
	require.NoError(t, err)

	err = coord.EvaluateWave(context.Background(), makeWave(10))
	require.Error(t, err)
}

func TestCoordinatorAsEngineBackend(t *testing.T) {
	var processed atomic.Int64
	counting := func(ctx context.Context, ind *evolve.Individual[*scalarGenome]) error {
		processed.Add(1)
		return squareEvaluator(ctx, ind)
	}
	coord, err := NewCoordinator[*scalarGenome](
		NewLocalWorker(counting),
		NewLocalWorker(counting),
	)
	require.NoError(t, err)

	cfg := evolve.DefaultConfig()
	cfg.PopulationSize = 12
	eng, err := evolve.New[*scalarGenome](cfg, nil,
		evolve.WithBackend[*scalarGenome](coord),
		evolve.WithRand[*scalarGenome](rand.New(rand.NewSource(31))))
	require.NoError(t, err)

	gen := rand.New(rand.NewSource(32))
	eng.InitPopulation(func() *scalarGenome { return &scalarGenome{V: gen.Float64()} })

	require.NoError(t, eng.Step(context.Background(), 2))
	assert.Len(t, eng.Population(), cfg.PopulationSize)
	assert.Positive(t, processed.Load())
}

func TestSplitChunksCoverWave(t *testing.T) {
	wave := makeWave(7)
	chunks := splitChunks(wave, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 2)
	assert.Len(t, chunks[2], 2)

	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	assert.Equal(t, len(wave), total)
}

package checkpoint

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvekit/evolvekit/pkg/errors"
	"github.com/evolvekit/evolvekit/pkg/evolve"
)

type pointGenome struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (g *pointGenome) Mutate(rng *rand.Rand)                              { g.X = rng.Float64() }
func (g *pointGenome) Crossover(o *pointGenome, rng *rand.Rand) *pointGenome {
	return &pointGenome{X: g.X, Y: o.Y}
}
func (g *pointGenome) Reset() {}
func (g *pointGenome) Clone() *pointGenome {
	c := *g
	return &c
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPopulation(n int) evolve.Population[*pointGenome] {
	pop := make(evolve.Population[*pointGenome], n)
	for i := range pop {
		ind := evolve.NewIndividual(&pointGenome{X: float64(i), Y: float64(-i)})
		ind.Fitnesses = map[string]float64{"f0": float64(i)}
		ind.Footprint = evolve.Footprint{{float64(i)}}
		ind.Evaluated = true
		pop[i] = ind
	}
	return pop
}

func TestPopulationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pop := testPopulation(5)

	require.NoError(t, SavePopulation(ctx, s, 3, pop))

	loaded, err := LoadPopulation[*pointGenome](ctx, s, 3)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	for i, ind := range loaded {
		assert.Equal(t, pop[i].ID, ind.ID)
		assert.Equal(t, pop[i].Genome.X, ind.Genome.X)
		assert.Equal(t, pop[i].Fitnesses, ind.Fitnesses)
		assert.Equal(t, pop[i].Footprint, ind.Footprint)
		assert.True(t, ind.Evaluated)
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	s := openTestStore(t)
	_, err := LoadPopulation[*pointGenome](context.Background(), s, 42)
	require.Error(t, err)

	var ee *errors.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errors.ResourceNotFound, ee.Code())
}

func TestSnapshotOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, SavePopulation(ctx, s, 1, testPopulation(2)))
	second := testPopulation(3)
	require.NoError(t, SavePopulation(ctx, s, 1, second))

	loaded, err := LoadPopulation[*pointGenome](ctx, s, 1)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestArchiveRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	archive := testPopulation(4)

	require.NoError(t, SaveArchive(ctx, s, 7, archive))
	loaded, err := LoadArchive[*pointGenome](ctx, s, 7)
	require.NoError(t, err)
	assert.Len(t, loaded, 4)
}

func TestLatestGeneration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LatestGeneration(ctx)
	require.Error(t, err)

	require.NoError(t, SavePopulation(ctx, s, 0, testPopulation(2)))
	require.NoError(t, SavePopulation(ctx, s, 10, testPopulation(2)))

	gen, err := s.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, gen)
}

func TestRunsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	a, err := OpenRun(path, "run-a")
	require.NoError(t, err)
	require.NoError(t, SavePopulation(ctx, a, 0, testPopulation(2)))
	require.NoError(t, a.Close())

	b, err := OpenRun(path, "run-b")
	require.NoError(t, err)
	defer b.Close()

	_, err = LoadPopulation[*pointGenome](ctx, b, 0)
	require.Error(t, err, "run-b must not see run-a's snapshots")
}

func TestStatsHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for gen := 0; gen < 3; gen++ {
		st := evolve.GenerationStats{
			Generation: gen,
			Objectives: map[string]evolve.ObjectiveStats{
				"f0": {Best: float64(gen), Worst: -1, Mean: 0.5, StdDev: 0.1},
				"f1": {Best: float64(gen * 2), Worst: -2, Mean: 1.5, StdDev: 0.2},
			},
			WaveDuration:    time.Second,
			EvalDuration:    2 * time.Second,
			MaxEvalDuration: 300 * time.Millisecond,
			Evaluations:     10 + gen,
			ArchiveSize:     gen,
		}
		require.NoError(t, s.SaveStats(ctx, st))
	}

	history, err := s.StatsHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for gen, st := range history {
		assert.Equal(t, gen, st.Generation)
		assert.Equal(t, 10+gen, st.Evaluations)
		assert.Equal(t, time.Second, st.WaveDuration)
		require.Len(t, st.Objectives, 2)
		assert.Equal(t, float64(gen), st.Objectives["f0"].Best)
		assert.Equal(t, float64(gen*2), st.Objectives["f1"].Best)
	}
}

func TestElitesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pop := testPopulation(3)

	elites := map[string]evolve.Population[*pointGenome]{
		"f0": {pop[2], pop[1]},
	}
	require.NoError(t, SaveElites(ctx, s, 4, elites))

	loaded, err := LoadElites[*pointGenome](ctx, s, 4)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "f0", loaded[0].Objective)
	assert.Equal(t, 0, loaded[0].Position)
	assert.Equal(t, 2.0, loaded[0].Fitness)
	assert.Equal(t, 2.0, loaded[0].Genome.X)
	assert.Equal(t, 1.0, loaded[1].Fitness)
}

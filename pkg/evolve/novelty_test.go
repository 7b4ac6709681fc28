package evolve

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvekit/evolvekit/pkg/errors"
)

func TestKnnAvgDistanceDegenerateArchive(t *testing.T) {
	query := Footprint{{0}, {0}}

	score, err := knnAvgDistance[*vecGenome](3, nil, query)
	require.NoError(t, err)
	assert.Zero(t, score)

	archive := Population[*vecGenome]{footprintInd(Footprint{{1}, {1}})}
	score, err = knnAvgDistance(3, archive, query)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestKnnAvgDistanceNearestK(t *testing.T) {
	archive := Population[*vecGenome]{
		footprintInd(Footprint{{0}, {0}}),
		footprintInd(Footprint{{1}, {1}}),
		footprintInd(Footprint{{10}, {10}}),
	}
	query := Footprint{{0}, {0}}

	// Two nearest neighbors: distance 0 (itself) and sqrt(2).
	score, err := knnAvgDistance(2, archive, query)
	require.NoError(t, err)
	assert.InDelta(t, (0+math.Sqrt2)/2, score, 1e-12)

	// K larger than the archive clamps to its size.
	score, err = knnAvgDistance(50, archive, query)
	require.NoError(t, err)
	assert.InDelta(t, (0+math.Sqrt2+math.Sqrt(200))/3, score, 1e-12)
}

func TestKnnAvgDistanceShapeFault(t *testing.T) {
	archive := Population[*vecGenome]{
		footprintInd(Footprint{{0}, {0}}),
		footprintInd(Footprint{{1, 2}}),
	}
	_, err := knnAvgDistance(2, archive, Footprint{{0}, {0}})
	require.Error(t, err)

	var ee *errors.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errors.FootprintMismatch, ee.Code())
}

func TestFootprintDistance(t *testing.T) {
	a := Footprint{{0, 0}, {1, 0}}
	b := Footprint{{3, 4}, {1, 0}}
	d, err := a.Distance(b)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-12)

	// Same shape, zero distance to itself.
	d, err = a.Distance(a)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = a.Distance(Footprint{{0, 0}})
	require.Error(t, err)
	_, err = a.Distance(Footprint{{0}, {1}})
	require.Error(t, err)
}

func newNoveltyEngine(t *testing.T, k int, minForArchive float64) *Engine[*vecGenome] {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PopulationSize = 4
	cfg.Novelty = NoveltyConfig{Enabled: true, K: k, MinForArchive: minForArchive}
	eng, err := New[*vecGenome](cfg, nil)
	require.NoError(t, err)
	return eng
}

func TestUpdateNoveltyScoresAndArchive(t *testing.T) {
	eng := newNoveltyEngine(t, 2, 0.5)
	pop := Population[*vecGenome]{
		footprintInd(Footprint{{0}}),
		footprintInd(Footprint{{10}}),
		footprintInd(Footprint{{10.1}}),
	}

	require.NoError(t, eng.updateNovelty(context.Background(), pop))

	// Every individual carries a novelty score.
	for _, ind := range pop {
		_, ok := ind.Fitnesses[NoveltyKey]
		assert.True(t, ok)
	}

	// Scores are computed against archive + whole population: the isolated
	// footprint scores high, the close pair scores low.
	assert.Greater(t, pop[0].Fitnesses[NoveltyKey], pop[1].Fitnesses[NoveltyKey])
	assert.Greater(t, pop[0].Fitnesses[NoveltyKey], pop[2].Fitnesses[NoveltyKey])

	// Only scores above the threshold enter the archive, as clones.
	for _, kept := range eng.Archive() {
		assert.Greater(t, kept.Fitnesses[NoveltyKey], 0.5)
		for _, ind := range pop {
			assert.NotEqual(t, ind.ID, kept.ID)
		}
	}
}

func TestUpdateNoveltyArchiveMonotonic(t *testing.T) {
	eng := newNoveltyEngine(t, 2, 0.1)
	pop := Population[*vecGenome]{
		footprintInd(Footprint{{0}}),
		footprintInd(Footprint{{100}}),
	}
	require.NoError(t, eng.updateNovelty(context.Background(), pop))
	first := len(eng.Archive())
	assert.Equal(t, 2, first)

	// Re-scoring the same behaviors: the archive never shrinks.
	require.NoError(t, eng.updateNovelty(context.Background(), pop))
	assert.GreaterOrEqual(t, len(eng.Archive()), first)
}

func TestUpdateNoveltyBelowThresholdKeepsArchiveEmpty(t *testing.T) {
	eng := newNoveltyEngine(t, 2, 1000)
	pop := Population[*vecGenome]{
		footprintInd(Footprint{{0}}),
		footprintInd(Footprint{{1}}),
	}
	require.NoError(t, eng.updateNovelty(context.Background(), pop))
	assert.Empty(t, eng.Archive())
	// Scores were still written.
	assert.InDelta(t, 0.5, pop[0].Fitnesses[NoveltyKey], 1e-12)
}

func TestUpdateNoveltyRollsBackOnFault(t *testing.T) {
	eng := newNoveltyEngine(t, 2, 0.1)
	good := Population[*vecGenome]{
		footprintInd(Footprint{{0}}),
		footprintInd(Footprint{{100}}),
	}
	require.NoError(t, eng.updateNovelty(context.Background(), good))
	before := len(eng.Archive())

	bad := Population[*vecGenome]{
		footprintInd(Footprint{{0}}),
		footprintInd(Footprint{{1, 2, 3}}),
	}
	err := eng.updateNovelty(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, before, len(eng.Archive()), "a failed update must not leave temporary entries behind")
}

func TestScoreNoveltyDoesNotTouchArchive(t *testing.T) {
	eng := newNoveltyEngine(t, 2, 0.1)
	seed := Population[*vecGenome]{
		footprintInd(Footprint{{0}}),
		footprintInd(Footprint{{100}}),
	}
	require.NoError(t, eng.updateNovelty(context.Background(), seed))
	before := len(eng.Archive())

	offspring := Population[*vecGenome]{footprintInd(Footprint{{50}})}
	require.NoError(t, eng.scoreNovelty(offspring))
	assert.Equal(t, before, len(eng.Archive()))
	assert.InDelta(t, 50.0, offspring[0].Fitnesses[NoveltyKey], 1e-12)
}

package evolve

import (
	"context"

	"github.com/evolvekit/evolvekit/pkg/logging"
)

// NoveltyKey is the synthetic fitness key the novelty update writes on
// every individual.
const NoveltyKey = "novelty"

// knnAvgDistance returns the average distance of a footprint to its k
// nearest neighbors in an archive. An archive with fewer than two entries
// offers no diversity reference: the score is 0. Single pass over the
// archive, maintaining the k closest seen so far by replacing the current
// worst, O(len(archive) * k).
func knnAvgDistance[G Genome[G]](k int, archive Population[G], fp Footprint) (float64, error) {
	if len(archive) <= 1 {
		return 0, nil
	}
	if k > len(archive) {
		k = len(archive)
	}

	dists := make([]float64, 0, k)
	worst := 0 // index of the current worst among the retained k
	for i := 0; i < k; i++ {
		d, err := fp.Distance(archive[i].Footprint)
		if err != nil {
			return 0, err
		}
		dists = append(dists, d)
		if d > dists[worst] {
			worst = i
		}
	}
	for i := k; i < len(archive); i++ {
		d, err := fp.Distance(archive[i].Footprint)
		if err != nil {
			return 0, err
		}
		if d < dists[worst] {
			dists[worst] = d
			for j := range dists {
				if dists[j] > dists[worst] {
					worst = j
				}
			}
		}
	}

	sum := 0.0
	for _, d := range dists {
		sum += d
	}
	return sum / float64(len(dists)), nil
}

// updateNovelty performs the per-generation novelty pass over the given
// individuals: the archive is temporarily extended with every current
// footprint so each score sees the full population plus the stable prior
// archive, every individual gets its score stored under NoveltyKey, and
// the archive is then rolled back and regrown with only the individuals
// whose score beat the admission threshold. The archive therefore grows
// monotonically, and only with demonstrably novel behavior.
func (e *Engine[G]) updateNovelty(ctx context.Context, inds Population[G]) error {
	logger := logging.GetLogger()

	savedSize := len(e.archive)
	for _, ind := range inds {
		e.archive = append(e.archive, ind)
	}

	var toAdd Population[G]
	for _, ind := range inds {
		score, err := knnAvgDistance(e.cfg.Novelty.K, e.archive, ind.Footprint)
		if err != nil {
			e.archive = e.archive[:savedSize]
			return err
		}
		if score > e.cfg.Novelty.MinForArchive {
			toAdd = append(toAdd, ind)
		}
		ind.Fitnesses[NoveltyKey] = score
	}

	e.archive = e.archive[:savedSize]
	for _, ind := range toAdd {
		e.archive = append(e.archive, ind.Clone())
	}

	logger.Debug(ctx, "novelty update: added=%d, archive_size=%d (was %d)",
		len(toAdd), len(e.archive), savedSize)
	return nil
}

// scoreNovelty assigns novelty scores against the current archive without
// touching it. Used for NSGA-II offspring, whose parents already drove
// this generation's archive update.
func (e *Engine[G]) scoreNovelty(inds Population[G]) error {
	for _, ind := range inds {
		score, err := knnAvgDistance(e.cfg.Novelty.K, e.archive, ind.Footprint)
		if err != nil {
			return err
		}
		ind.Fitnesses[NoveltyKey] = score
	}
	return nil
}

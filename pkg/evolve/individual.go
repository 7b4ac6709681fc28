package evolve

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/evolvekit/evolvekit/pkg/errors"
)

// Footprint is an individual's behavior record used for novelty search: an
// ordered sequence of snapshots, each snapshot a fixed-length vector of
// doubles taken at some point of the evaluation. Footprints are only
// comparable when they share snapshot count and per-snapshot length.
type Footprint [][]float64

// Distance returns the Euclidean norm over all paired scalar entries of
// two footprints. Mismatched shapes are a data fault: they indicate a
// misbehaving evaluator.
func (f Footprint) Distance(other Footprint) (float64, error) {
	if len(f) != len(other) {
		return 0, errors.WithFields(
			errors.New(errors.FootprintMismatch, "footprints have different snapshot counts"),
			errors.Fields{"len_a": len(f), "len_b": len(other)})
	}
	d := 0.0
	for i := range f {
		if len(f[i]) != len(other[i]) {
			return 0, errors.WithFields(
				errors.New(errors.FootprintMismatch, "footprint snapshots have different lengths"),
				errors.Fields{"snapshot": i, "len_a": len(f[i]), "len_b": len(other[i])})
		}
		for j := range f[i] {
			diff := f[i][j] - other[i][j]
			d += diff * diff
		}
	}
	return math.Sqrt(d), nil
}

// Clone returns a deep copy of the footprint.
func (f Footprint) Clone() Footprint {
	if f == nil {
		return nil
	}
	out := make(Footprint, len(f))
	for i, snapshot := range f {
		out[i] = make([]float64, len(snapshot))
		copy(out[i], snapshot)
	}
	return out
}

// Individual is a single candidate solution: a genome plus its fitness
// record, behavior footprint and evaluation bookkeeping. Fitness keys must
// be identical across all individuals of a generation.
type Individual[G Genome[G]] struct {
	ID                  string             `json:"id"`
	Genome              G                  `json:"genome"`
	Fitnesses           map[string]float64 `json:"fitnesses"`
	Footprint           Footprint          `json:"footprint,omitempty"`
	Infos               string             `json:"infos,omitempty"`
	Evaluated           bool               `json:"evaluated"`
	WasAlreadyEvaluated bool               `json:"already_evaluated"`
	EvalDuration        time.Duration      `json:"eval_duration"`
}

// NewIndividual wraps a genome into a fresh, unevaluated individual.
func NewIndividual[G Genome[G]](genome G) *Individual[G] {
	return &Individual[G]{
		ID:        uuid.New().String(),
		Genome:    genome,
		Fitnesses: make(map[string]float64),
	}
}

// Clone deep-copies the individual, including its fitness record and
// footprint, under a fresh ID. Elitism and generational replacement use
// clones so no individual is ever shared by reference across generations.
func (ind *Individual[G]) Clone() *Individual[G] {
	fitnesses := make(map[string]float64, len(ind.Fitnesses))
	for k, v := range ind.Fitnesses {
		fitnesses[k] = v
	}
	return &Individual[G]{
		ID:                  uuid.New().String(),
		Genome:              ind.Genome.Clone(),
		Fitnesses:           fitnesses,
		Footprint:           ind.Footprint.Clone(),
		Infos:               ind.Infos,
		Evaluated:           ind.Evaluated,
		WasAlreadyEvaluated: ind.WasAlreadyEvaluated,
		EvalDuration:        ind.EvalDuration,
	}
}

// Fitness looks up one objective value. A missing key is a data fault.
func (ind *Individual[G]) Fitness(objective string) (float64, error) {
	v, ok := ind.Fitnesses[objective]
	if !ok {
		return 0, errors.WithFields(
			errors.New(errors.ObjectiveMismatch, "objective not present on individual"),
			errors.Fields{"objective": objective, "individual": ind.ID})
	}
	return v, nil
}

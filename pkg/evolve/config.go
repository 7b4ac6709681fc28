package evolve

import (
	"github.com/go-playground/validator/v10"

	"github.com/evolvekit/evolvekit/pkg/errors"
)

// SelectionMethod picks the parent-selection strategy used by the
// generational loop.
type SelectionMethod string

const (
	// SelectionRandomObjective draws a tournament and ranks it on one
	// randomly picked objective.
	SelectionRandomObjective SelectionMethod = "random_objective"
	// SelectionPareto draws a tournament and returns a random member of
	// its mutual non-dominated front (classical weak dominance).
	SelectionPareto SelectionMethod = "pareto"
	// SelectionNSGA2 runs the NSGA-II (mu+lambda) loop: non-dominated
	// sorting with crowding distances over the merged parent+offspring
	// pool.
	SelectionNSGA2 SelectionMethod = "nsga2"
)

// NoveltyConfig controls the novelty-search extension.
type NoveltyConfig struct {
	// Enabled turns on footprint-based novelty scoring. The evaluator
	// must then populate individual footprints.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// K is the neighborhood size for the k-nearest-neighbor novelty
	// score.
	K int `json:"k" yaml:"k" validate:"min=1"`
	// MinForArchive is the minimum novelty score for an individual to be
	// retained in the archive.
	MinForArchive float64 `json:"min_for_archive" yaml:"min_for_archive"`
}

// Config contains the knobs of the evolutionary engine.
type Config struct {
	PopulationSize int     `json:"population_size" yaml:"population_size" validate:"required,min=2"`
	NbElites       int     `json:"nb_elites" yaml:"nb_elites" validate:"min=0"`
	TournamentSize int     `json:"tournament_size" yaml:"tournament_size" validate:"min=1"`
	CrossoverRate  float64 `json:"crossover_rate" yaml:"crossover_rate" validate:"min=0,max=1"`
	MutationRate   float64 `json:"mutation_rate" yaml:"mutation_rate" validate:"min=0,max=1"`

	Selection SelectionMethod `json:"selection" yaml:"selection" validate:"oneof=random_objective pareto nsga2"`

	Novelty NoveltyConfig `json:"novelty" yaml:"novelty"`

	// EvaluateAll forces re-evaluation of already-evaluated individuals
	// every generation (useful for noisy fitness functions).
	EvaluateAll bool `json:"evaluate_all" yaml:"evaluate_all"`

	// Concurrency bounds the number of goroutines evaluating a wave.
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"min=1"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PopulationSize: 500,
		NbElites:       1,
		TournamentSize: 3,
		CrossoverRate:  0.2,
		MutationRate:   0.5,
		Selection:      SelectionRandomObjective,
		Novelty: NoveltyConfig{
			Enabled:       false,
			K:             15,
			MinForArchive: 1,
		},
		Concurrency: 4,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks tag constraints plus the cross-field invariants the
// tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, errors.ValidationFailed, "invalid engine configuration")
	}
	if c.TournamentSize > c.PopulationSize {
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "tournament size exceeds population size"),
			errors.Fields{"tournament_size": c.TournamentSize, "population_size": c.PopulationSize})
	}
	if c.NbElites >= c.PopulationSize {
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "elite count must be below population size"),
			errors.Fields{"nb_elites": c.NbElites, "population_size": c.PopulationSize})
	}
	return nil
}

// BetterFunc is a strict total order over two fitness values: it reports
// whether a is strictly better than b. It must be non-reflexive and
// consistent; the engine never assumes a particular direction.
type BetterFunc func(a, b float64) bool

// GreaterIsBetter is the default comparator.
func GreaterIsBetter(a, b float64) bool { return a > b }

// LowerIsBetter suits minimization problems.
func LowerIsBetter(a, b float64) bool { return a < b }

package evolve

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// ObjectiveStats summarizes one objective across a generation.
type ObjectiveStats struct {
	Best   float64 `json:"best"`
	Worst  float64 `json:"worst"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// GenerationStats summarizes one completed generation: per-objective
// aggregates plus evaluation timing. WaveDuration is wall time for the
// whole wave; EvalDuration sums per-individual evaluation time, so their
// ratio reflects the parallel speedup.
type GenerationStats struct {
	Generation      int                       `json:"generation"`
	Objectives      map[string]ObjectiveStats `json:"objectives"`
	WaveDuration    time.Duration             `json:"wave_duration"`
	EvalDuration    time.Duration             `json:"eval_duration"`
	MaxEvalDuration time.Duration             `json:"max_eval_duration"`
	Evaluations     int                       `json:"evaluations"`
	ArchiveSize     int                       `json:"archive_size"`
}

func (e *Engine[G]) computeStats(keys []string, waveDuration time.Duration) GenerationStats {
	st := GenerationStats{
		Generation:   e.generation,
		Objectives:   make(map[string]ObjectiveStats, len(keys)),
		WaveDuration: waveDuration,
		ArchiveSize:  len(e.archive),
	}

	values := make([]float64, len(e.pop))
	for _, key := range keys {
		for i, ind := range e.pop {
			values[i] = ind.Fitnesses[key]
		}
		obj := ObjectiveStats{Best: values[0], Worst: values[0]}
		for _, v := range values[1:] {
			if e.isBetter(v, obj.Best) {
				obj.Best = v
			}
			if !e.isBetter(v, obj.Worst) {
				obj.Worst = v
			}
		}
		obj.Mean = stat.Mean(values, nil)
		obj.StdDev = stat.StdDev(values, nil)
		st.Objectives[key] = obj
	}

	for _, ind := range e.pop {
		st.EvalDuration += ind.EvalDuration
		if ind.EvalDuration > st.MaxEvalDuration {
			st.MaxEvalDuration = ind.EvalDuration
		}
		if !ind.WasAlreadyEvaluated {
			st.Evaluations++
		}
	}
	return st
}

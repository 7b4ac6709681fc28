// Package evolvekit is a population-based evolutionary optimization
// toolkit for Go.
//
// The core engine lives in pkg/evolve: generic over the genome type, it
// runs tournament or NSGA-II selection over arbitrary multi-objective
// fitness records, with optional novelty search over behavior footprints.
// pkg/checkpoint persists runs to SQLite, pkg/distrib scatters evaluation
// waves over workers, and pkg/config loads engine settings from YAML.
//
// See examples/zdt1 for a complete multi-objective optimization run.
package evolvekit

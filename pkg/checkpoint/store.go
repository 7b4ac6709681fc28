// Package checkpoint persists runs to SQLite: population and archive
// snapshots per generation, per-generation statistics and per-objective
// elites, so a long optimization can be resumed or inspected after the
// fact.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/evolvekit/evolvekit/pkg/errors"
	"github.com/evolvekit/evolvekit/pkg/evolve"
)

const (
	kindPopulation = "population"
	kindArchive    = "archive"
)

// Store is a SQLite-backed run store. Each Store instance is bound to one
// run ID; opening an existing database file appends a new run next to the
// previous ones.
type Store struct {
	db    *sql.DB
	runID string
}

// Open creates or opens a checkpoint database at the given path.
func Open(path string) (*Store, error) {
	return OpenRun(path, uuid.New().String())
}

// OpenRun opens a checkpoint database bound to an explicit run ID, e.g.
// to resume a previous run.
func OpenRun(path, runID string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open checkpoint database"),
			errors.Fields{"path": path})
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, runID: runID}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to initialize checkpoint schema")
	}

	// WAL keeps readers (dashboards, ad-hoc queries) from blocking the
	// writer during a run.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to set synchronous pragma")
	}

	return s, nil
}

func (s *Store) initDB() error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		run_id     TEXT NOT NULL,
		generation INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		data       BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, generation, kind)
	);

	CREATE TABLE IF NOT EXISTS generation_stats (
		run_id      TEXT NOT NULL,
		generation  INTEGER NOT NULL,
		objective   TEXT NOT NULL,
		best        REAL NOT NULL,
		worst       REAL NOT NULL,
		mean        REAL NOT NULL,
		stddev      REAL NOT NULL,
		PRIMARY KEY (run_id, generation, objective)
	);

	CREATE TABLE IF NOT EXISTS generation_meta (
		run_id       TEXT NOT NULL,
		generation   INTEGER NOT NULL,
		wave_ns      INTEGER NOT NULL,
		eval_ns      INTEGER NOT NULL,
		max_eval_ns  INTEGER NOT NULL,
		evaluations  INTEGER NOT NULL,
		archive_size INTEGER NOT NULL,
		PRIMARY KEY (run_id, generation)
	);

	CREATE TABLE IF NOT EXISTS elites (
		run_id     TEXT NOT NULL,
		generation INTEGER NOT NULL,
		objective  TEXT NOT NULL,
		position   INTEGER NOT NULL,
		fitness    REAL NOT NULL,
		genome     BLOB NOT NULL,
		PRIMARY KEY (run_id, generation, objective, position)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// RunID returns the run this store writes under.
func (s *Store) RunID() string { return s.runID }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) saveSnapshot(ctx context.Context, generation int, kind string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO snapshots (run_id, generation, kind, data, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		s.runID, generation, kind, data, time.Now().Unix())
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save snapshot"),
			errors.Fields{"generation": generation, "kind": kind})
	}
	return nil
}

func (s *Store) loadSnapshot(ctx context.Context, generation int, kind string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
	SELECT data FROM snapshots WHERE run_id = ? AND generation = ? AND kind = ?`,
		s.runID, generation, kind).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "no snapshot for generation"),
			errors.Fields{"generation": generation, "kind": kind, "run_id": s.runID})
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to load snapshot")
	}
	return data, nil
}

// LatestGeneration returns the highest generation with a population
// snapshot in this run, or ResourceNotFound when the run is empty.
func (s *Store) LatestGeneration(ctx context.Context) (int, error) {
	var gen sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
	SELECT MAX(generation) FROM snapshots WHERE run_id = ? AND kind = ?`,
		s.runID, kindPopulation).Scan(&gen)
	if err != nil {
		return 0, errors.Wrap(err, errors.StorageFailed, "failed to query latest generation")
	}
	if !gen.Valid {
		return 0, errors.WithFields(
			errors.New(errors.ResourceNotFound, "run has no population snapshots"),
			errors.Fields{"run_id": s.runID})
	}
	return int(gen.Int64), nil
}

// SavePopulation stores a full population snapshot for one generation.
func SavePopulation[G evolve.Genome[G]](ctx context.Context, s *Store, generation int, pop evolve.Population[G]) error {
	data, err := json.Marshal(pop)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to serialize population")
	}
	return s.saveSnapshot(ctx, generation, kindPopulation, data)
}

// LoadPopulation restores a population snapshot.
func LoadPopulation[G evolve.Genome[G]](ctx context.Context, s *Store, generation int) (evolve.Population[G], error) {
	data, err := s.loadSnapshot(ctx, generation, kindPopulation)
	if err != nil {
		return nil, err
	}
	var pop evolve.Population[G]
	if err := json.Unmarshal(data, &pop); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to deserialize population")
	}
	return pop, nil
}

// SaveArchive stores the novelty archive as of one generation.
func SaveArchive[G evolve.Genome[G]](ctx context.Context, s *Store, generation int, archive evolve.Population[G]) error {
	data, err := json.Marshal(archive)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to serialize archive")
	}
	return s.saveSnapshot(ctx, generation, kindArchive, data)
}

// LoadArchive restores the novelty archive saved at one generation.
func LoadArchive[G evolve.Genome[G]](ctx context.Context, s *Store, generation int) (evolve.Population[G], error) {
	data, err := s.loadSnapshot(ctx, generation, kindArchive)
	if err != nil {
		return nil, err
	}
	var archive evolve.Population[G]
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to deserialize archive")
	}
	return archive, nil
}

// SaveStats records one generation's statistics as queryable rows.
func (s *Store) SaveStats(ctx context.Context, st evolve.GenerationStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to begin stats transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO generation_meta
	(run_id, generation, wave_ns, eval_ns, max_eval_ns, evaluations, archive_size)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.runID, st.Generation, int64(st.WaveDuration), int64(st.EvalDuration),
		int64(st.MaxEvalDuration), st.Evaluations, st.ArchiveSize)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to save generation meta")
	}

	for objective, obj := range st.Objectives {
		_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO generation_stats
		(run_id, generation, objective, best, worst, mean, stddev)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.runID, st.Generation, objective, obj.Best, obj.Worst, obj.Mean, obj.StdDev)
		if err != nil {
			return errors.WithFields(
				errors.Wrap(err, errors.StorageFailed, "failed to save objective stats"),
				errors.Fields{"objective": objective})
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to commit stats transaction")
	}
	return nil
}

// StatsHistory returns all recorded generation statistics of the run, in
// generation order.
func (s *Store) StatsHistory(ctx context.Context) ([]evolve.GenerationStats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT generation, wave_ns, eval_ns, max_eval_ns, evaluations, archive_size
	FROM generation_meta WHERE run_id = ? ORDER BY generation`, s.runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query generation meta")
	}
	defer rows.Close()

	var history []evolve.GenerationStats
	for rows.Next() {
		var st evolve.GenerationStats
		var wave, eval, maxEval int64
		if err := rows.Scan(&st.Generation, &wave, &eval, &maxEval, &st.Evaluations, &st.ArchiveSize); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan generation meta")
		}
		st.WaveDuration = time.Duration(wave)
		st.EvalDuration = time.Duration(eval)
		st.MaxEvalDuration = time.Duration(maxEval)
		st.Objectives = make(map[string]evolve.ObjectiveStats)
		history = append(history, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to iterate generation meta")
	}
	byGen := make(map[int]int, len(history))
	for i, st := range history {
		byGen[st.Generation] = i
	}

	objRows, err := s.db.QueryContext(ctx, `
	SELECT generation, objective, best, worst, mean, stddev
	FROM generation_stats WHERE run_id = ? ORDER BY generation`, s.runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query objective stats")
	}
	defer objRows.Close()

	for objRows.Next() {
		var gen int
		var objective string
		var obj evolve.ObjectiveStats
		if err := objRows.Scan(&gen, &objective, &obj.Best, &obj.Worst, &obj.Mean, &obj.StdDev); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan objective stats")
		}
		if i, ok := byGen[gen]; ok {
			history[i].Objectives[objective] = obj
		}
	}
	if err := objRows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to iterate objective stats")
	}
	return history, nil
}

// SaveElites records the per-objective elites of one generation, genome
// included, so the best solutions can be extracted without replaying the
// run.
func SaveElites[G evolve.Genome[G]](ctx context.Context, s *Store, generation int, elites map[string]evolve.Population[G]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to begin elites transaction")
	}
	defer tx.Rollback()

	for objective, best := range elites {
		for position, ind := range best {
			genome, err := json.Marshal(ind.Genome)
			if err != nil {
				return errors.Wrap(err, errors.StorageFailed, "failed to serialize elite genome")
			}
			fitness, err := ind.Fitness(objective)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO elites
			(run_id, generation, objective, position, fitness, genome)
			VALUES (?, ?, ?, ?, ?, ?)`,
				s.runID, generation, objective, position, fitness, genome)
			if err != nil {
				return errors.WithFields(
					errors.Wrap(err, errors.StorageFailed, "failed to save elite"),
					errors.Fields{"objective": objective, "position": position})
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to commit elites transaction")
	}
	return nil
}

// Elite is one row of the elites table.
type Elite[G evolve.Genome[G]] struct {
	Generation int
	Objective  string
	Position   int
	Fitness    float64
	Genome     G
}

// LoadElites returns the elites recorded for one generation.
func LoadElites[G evolve.Genome[G]](ctx context.Context, s *Store, generation int) ([]Elite[G], error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT generation, objective, position, fitness, genome
	FROM elites WHERE run_id = ? AND generation = ?
	ORDER BY objective, position`, s.runID, generation)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query elites")
	}
	defer rows.Close()

	var out []Elite[G]
	for rows.Next() {
		var e Elite[G]
		var genome []byte
		if err := rows.Scan(&e.Generation, &e.Objective, &e.Position, &e.Fitness, &genome); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan elite")
		}
		if err := json.Unmarshal(genome, &e.Genome); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to deserialize elite genome")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to iterate elites")
	}
	return out, nil
}

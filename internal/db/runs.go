package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted balance-and-PCA pipeline execution.
type Run struct {
	RunID                  string          `json:"run_id"`
	Source                 string          `json:"source"`
	Policy                 string          `json:"policy"`
	Seed                   int64           `json:"seed"`
	Components             int             `json:"components"`
	Samples                int             `json:"samples"`
	Features               int             `json:"features"`
	ConfigJSON             json.RawMessage `json:"config_json,omitempty"`
	ExplainedVariance      []float64       `json:"explained_variance"`
	ExplainedVarianceRatio []float64       `json:"explained_variance_ratio"`
	SingularValues         []float64       `json:"singular_values"`
	StartedAtNs            int64           `json:"started_at_ns"`
	FinishedAtNs           int64           `json:"finished_at_ns"`
	Entities               []RunEntity     `json:"entities"`
}

// RunEntity records the point counts of one entity within a run, in
// collection order.
type RunEntity struct {
	Name          string `json:"name"`
	PointFile     string `json:"point_file"`
	OriginalCount int    `json:"original_count"`
	BalancedCount int    `json:"balanced_count"`
}

// Duration is the wall time between start and finish.
func (r *Run) Duration() time.Duration {
	return time.Duration(r.FinishedAtNs - r.StartedAtNs)
}

// RunStore provides persistence for pipeline runs.
type RunStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB, now: time.Now}
}

// InsertRun stores a run and its entities in one transaction.
// If run.RunID is empty, a new UUID is generated.
func (s *RunStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAtNs == 0 {
		run.StartedAtNs = s.now().UnixNano()
	}
	if run.FinishedAtNs == 0 {
		run.FinishedAtNs = run.StartedAtNs
	}

	variance, err := json.Marshal(nonNil(run.ExplainedVariance))
	if err != nil {
		return fmt.Errorf("marshal explained variance: %w", err)
	}
	ratio, err := json.Marshal(nonNil(run.ExplainedVarianceRatio))
	if err != nil {
		return fmt.Errorf("marshal explained variance ratio: %w", err)
	}
	singular, err := json.Marshal(nonNil(run.SingularValues))
	if err != nil {
		return fmt.Errorf("marshal singular values: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO pca_runs (
			run_id, source, policy, seed, components, samples, features,
			config_json, explained_variance_json, explained_variance_ratio_json,
			singular_values_json, started_at_ns, finished_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID,
		run.Source,
		run.Policy,
		run.Seed,
		run.Components,
		run.Samples,
		run.Features,
		nullString(string(run.ConfigJSON)),
		string(variance),
		string(ratio),
		string(singular),
		run.StartedAtNs,
		run.FinishedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, e := range run.Entities {
		_, err = tx.Exec(`
			INSERT INTO pca_run_entities (
				run_id, position, name, point_file, original_count, balanced_count
			) VALUES (?, ?, ?, ?, ?, ?)
		`, run.RunID, i, e.Name, e.PointFile, e.OriginalCount, e.BalancedCount)
		if err != nil {
			return fmt.Errorf("insert run entity %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert run: %w", err)
	}
	return nil
}

const runColumns = `
	run_id, source, policy, seed, components, samples, features,
	config_json, explained_variance_json, explained_variance_ratio_json,
	singular_values_json, started_at_ns, finished_at_ns
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var configJSON sql.NullString
	var variance, ratio, singular string

	err := row.Scan(
		&run.RunID,
		&run.Source,
		&run.Policy,
		&run.Seed,
		&run.Components,
		&run.Samples,
		&run.Features,
		&configJSON,
		&variance,
		&ratio,
		&singular,
		&run.StartedAtNs,
		&run.FinishedAtNs,
	)
	if err != nil {
		return nil, err
	}

	if configJSON.Valid && configJSON.String != "" {
		run.ConfigJSON = json.RawMessage(configJSON.String)
	}
	if err := json.Unmarshal([]byte(variance), &run.ExplainedVariance); err != nil {
		return nil, fmt.Errorf("decode explained variance: %w", err)
	}
	if err := json.Unmarshal([]byte(ratio), &run.ExplainedVarianceRatio); err != nil {
		return nil, fmt.Errorf("decode explained variance ratio: %w", err)
	}
	if err := json.Unmarshal([]byte(singular), &run.SingularValues); err != nil {
		return nil, fmt.Errorf("decode singular values: %w", err)
	}
	return &run, nil
}

// GetRun retrieves a run and its entities by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM pca_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if run.Entities, err = s.runEntities(runID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run. Entities are not loaded.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pca_runs ORDER BY started_at_ns DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run. Its entities are removed by cascade.
func (s *RunStore) DeleteRun(runID string) error {
	res, err := s.db.Exec(`DELETE FROM pca_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (s *RunStore) runEntities(runID string) ([]RunEntity, error) {
	rows, err := s.db.Query(`
		SELECT name, point_file, original_count, balanced_count
		FROM pca_run_entities
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run entities: %w", err)
	}
	defer rows.Close()

	var entities []RunEntity
	for rows.Next() {
		var e RunEntity
		if err := rows.Scan(&e.Name, &e.PointFile, &e.OriginalCount, &e.BalancedCount); err != nil {
			return nil, fmt.Errorf("scan run entity row: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

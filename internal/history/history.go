// Package history keeps a SQLite log of every successful training run.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"irisapi/internal/evaluation"
	"irisapi/internal/lifecycle"
)

// DefaultLimit is how many runs List returns when no limit is given.
const DefaultLimit = 20

// timeLayout has a fixed width so trained_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Run struct {
	ID            int64             `json:"id"`
	ModelVersion  string            `json:"model_version"`
	Algorithm     string            `json:"algorithm"`
	NEstimators   int               `json:"n_estimators"`
	MaxDepth      *int              `json:"max_depth"`
	RandomState   int64             `json:"random_state"`
	TrainAccuracy float64           `json:"train_accuracy"`
	TestAccuracy  float64           `json:"test_accuracy"`
	TrainSamples  int               `json:"train_samples"`
	TestSamples   int               `json:"test_samples"`
	Report        evaluation.Report `json:"classification_report"`
	TrainedAt     time.Time         `json:"trained_at"`
}

func FromMetadata(m lifecycle.Metadata) Run {
	r := Run{
		ModelVersion:  m.ModelVersion,
		Algorithm:     m.Algorithm,
		NEstimators:   m.Hyperparameters.NEstimators,
		RandomState:   m.Hyperparameters.RandomState,
		TrainAccuracy: m.Metrics.TrainAccuracy,
		TestAccuracy:  m.Metrics.TestAccuracy,
		TrainSamples:  m.DatasetInfo.TrainSamples,
		TestSamples:   m.DatasetInfo.TestSamples,
		Report:        m.Metrics.ClassificationReport,
		TrainedAt:     m.TrainingDate,
	}
	if m.Hyperparameters.MaxDepth != nil {
		d := *m.Hyperparameters.MaxDepth
		r.MaxDepth = &d
	}
	return r
}

type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS training_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model_version TEXT NOT NULL UNIQUE,
	algorithm TEXT NOT NULL,
	n_estimators INTEGER NOT NULL,
	max_depth INTEGER,
	random_state INTEGER NOT NULL,
	train_accuracy REAL NOT NULL,
	test_accuracy REAL NOT NULL,
	train_samples INTEGER NOT NULL,
	test_samples INTEGER NOT NULL,
	report TEXT NOT NULL,
	trained_at TEXT NOT NULL
)`

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends a run and returns its id. Recording the same model
// version twice is an error.
func (s *Store) Record(ctx context.Context, r Run) (int64, error) {
	report, err := json.Marshal(r.Report)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}
	var depth sql.NullInt64
	if r.MaxDepth != nil {
		depth = sql.NullInt64{Int64: int64(*r.MaxDepth), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO training_runs
		(model_version, algorithm, n_estimators, max_depth, random_state, train_accuracy, test_accuracy, train_samples, test_samples, report, trained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ModelVersion, r.Algorithm, r.NEstimators, depth, r.RandomState,
		r.TrainAccuracy, r.TestAccuracy, r.TrainSamples, r.TestSamples,
		string(report), r.TrainedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run %s: %w", r.ModelVersion, err)
	}
	return res.LastInsertId()
}

// List returns up to limit runs, newest first. A limit <= 0 means DefaultLimit.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, model_version, algorithm, n_estimators, max_depth, random_state, train_accuracy, test_accuracy, train_samples, test_samples, report, trained_at
		FROM training_runs ORDER BY trained_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r         Run
			depth     sql.NullInt64
			report    string
			trainedAt string
		)
		if err := rows.Scan(&r.ID, &r.ModelVersion, &r.Algorithm, &r.NEstimators, &depth, &r.RandomState,
			&r.TrainAccuracy, &r.TestAccuracy, &r.TrainSamples, &r.TestSamples, &report, &trainedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if depth.Valid {
			d := int(depth.Int64)
			r.MaxDepth = &d
		}
		if err := json.Unmarshal([]byte(report), &r.Report); err != nil {
			return nil, fmt.Errorf("decode report of %s: %w", r.ModelVersion, err)
		}
		if r.TrainedAt, err = time.Parse(timeLayout, trainedAt); err != nil {
			return nil, fmt.Errorf("parse trained_at of %s: %w", r.ModelVersion, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

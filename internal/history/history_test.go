package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"irisapi/internal/evaluation"
	"irisapi/internal/lifecycle"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func metadata(version string, at time.Time, depth *int) lifecycle.Metadata {
	return lifecycle.Metadata{
		ModelVersion:    version,
		Algorithm:       "Random Forest",
		Hyperparameters: lifecycle.Hyperparameters{NEstimators: 50, MaxDepth: depth, RandomState: 7},
		Metrics: lifecycle.Metrics{
			TrainAccuracy: 1,
			TestAccuracy:  0.9666666666666667,
			ClassificationReport: evaluation.Report{
				Classes:  map[string]evaluation.ClassScores{"setosa": {Precision: 1, Recall: 1, F1Score: 1, Support: 10}},
				Accuracy: 0.9666666666666667,
			},
		},
		TrainingDate: at,
		DatasetInfo:  lifecycle.DatasetInfo{TotalSamples: 150, TrainSamples: 120, TestSamples: 30},
	}
}

func TestRecordAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 8, 0, 0, 123456789, time.UTC)
	depth := 4
	for i, v := range []string{"a", "b", "c"} {
		var d *int
		if v == "b" {
			d = &depth
		}
		id, err := s.Record(ctx, FromMetadata(metadata(v, base.Add(time.Duration(i)*time.Minute), d)))
		if err != nil {
			t.Fatalf("record %s: %v", v, err)
		}
		if id != int64(i+1) {
			t.Fatalf("record %s: id %d", v, id)
		}
	}

	runs, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{"c", "b", "a"} {
		if runs[i].ModelVersion != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, runs[i].ModelVersion)
		}
	}
	b := runs[1]
	if b.MaxDepth == nil || *b.MaxDepth != 4 {
		t.Fatalf("max depth %v", b.MaxDepth)
	}
	if runs[0].MaxDepth != nil {
		t.Fatalf("unbounded depth stored as %v", *runs[0].MaxDepth)
	}
	if !b.TrainedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("trained at %v", b.TrainedAt)
	}
	if b.NEstimators != 50 || b.RandomState != 7 || b.TestAccuracy != 0.9666666666666667 || b.TrainSamples != 120 {
		t.Fatalf("unexpected run %+v", b)
	}
	if b.Report.Classes["setosa"].Support != 10 {
		t.Fatalf("report %+v", b.Report)
	}

	limited, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ModelVersion != "c" {
		t.Fatalf("limited list %+v", limited)
	}
}

func TestRecordRejectsDuplicateVersion(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	r := FromMetadata(metadata("dup", time.Now(), nil))
	if _, err := s.Record(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Record(ctx, r); err == nil {
		t.Fatal("expected duplicate version to fail")
	}
}

func TestListEmpty(t *testing.T) {
	runs, err := openStore(t).List(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if runs == nil || len(runs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", runs)
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Record(context.Background(), FromMetadata(metadata("kept", time.Now(), nil))); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ModelVersion != "kept" {
		t.Fatalf("runs after reopen %+v", runs)
	}
}

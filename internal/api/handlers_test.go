package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"irisapi/internal/data"
	"irisapi/internal/history"
	"irisapi/internal/lifecycle"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *MockClassifier, *MockHistoryStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	clf := NewMockClassifier(ctrl)
	hist := NewMockHistoryStore(ctrl)
	s := NewServer(clf, hist, zaptest.NewLogger(t), Options{
		ModelPath: "models/iris_model.bin",
		Defaults:  lifecycle.DefaultHyperparameters(),
	})
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, clf, hist
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("%s %s: invalid json %q: %v", method, target, w.Body.String(), err)
	}
	return w, payload
}

func TestRoot(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, payload := do(t, s.Router(), http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if payload["message"] != ServiceName || payload["version"] != ServiceVersion {
		t.Fatalf("unexpected payload %v", payload)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestHealth(t *testing.T) {
	s, clf, _ := newTestServer(t)
	clf.EXPECT().Metadata().Return(lifecycle.Metadata{}, lifecycle.ErrNotTrained)
	clf.EXPECT().Metadata().Return(lifecycle.Metadata{ModelVersion: "v1"}, nil)
	r := s.Router()

	w, payload := do(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || payload["status"] != "healthy" || payload["model_loaded"] != false {
		t.Fatalf("before training: %d %v", w.Code, payload)
	}
	if payload["timestamp"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("timestamp %v", payload["timestamp"])
	}

	_, payload = do(t, r, http.MethodGet, "/health", "")
	if payload["model_loaded"] != true || payload["model_version"] != "v1" {
		t.Fatalf("after training: %v", payload)
	}
}

func TestPredict(t *testing.T) {
	s, clf, _ := newTestServer(t)
	want := data.Sample{SepalLength: 5.1, SepalWidth: 3.5, PetalLength: 1.4, PetalWidth: 0}
	clf.EXPECT().Predict(want).Return(lifecycle.Prediction{
		Class:         0,
		ClassName:     "setosa",
		Probabilities: map[string]float64{"setosa": 0.97, "versicolor": 0.03, "virginica": 0},
		ModelVersion:  "v1",
	}, nil)

	w, payload := do(t, s.Router(), http.MethodPost, "/predict",
		`{"sepal_length": 5.1, "sepal_width": 3.5, "petal_length": 1.4, "petal_width": 0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, payload)
	}
	if payload["prediction"] != float64(0) || payload["class_name"] != "setosa" || payload["model_version"] != "v1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	probs := payload["probabilities"].(map[string]any)
	if len(probs) != 3 {
		t.Fatalf("probabilities %v", probs)
	}
}

func TestPredictRejectsBadBodies(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()
	cases := []struct {
		name  string
		body  string
		code  int
		field string
	}{
		{"negative", `{"sepal_length": -1, "sepal_width": 3.5, "petal_length": 1.4, "petal_width": 0.2}`, http.StatusUnprocessableEntity, "sepal_length"},
		{"missing", `{"sepal_length": 5.1, "sepal_width": 3.5, "petal_length": 1.4}`, http.StatusUnprocessableEntity, "petal_width"},
		{"string", `{"sepal_length": 5.1, "sepal_width": "wide", "petal_length": 1.4, "petal_width": 0.2}`, http.StatusUnprocessableEntity, "sepal_width"},
		{"null", `{"sepal_length": 5.1, "sepal_width": 3.5, "petal_length": null, "petal_width": 0.2}`, http.StatusUnprocessableEntity, "petal_length"},
		{"malformed", `{"sepal_length": 5.1,`, http.StatusBadRequest, ""},
		{"array", `[1, 2, 3, 4]`, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		w, payload := do(t, r, http.MethodPost, "/predict", tc.body)
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d: %v", tc.name, tc.code, w.Code, payload)
		}
		if tc.field == "" {
			continue
		}
		fields, ok := payload["fields"].(map[string]any)
		if !ok || fields[tc.field] == nil {
			t.Fatalf("%s: expected error for %s, got %v", tc.name, tc.field, payload)
		}
	}
}

func TestPredictErrors(t *testing.T) {
	s, clf, _ := newTestServer(t)
	clf.EXPECT().Predict(gomock.Any()).Return(lifecycle.Prediction{}, lifecycle.ErrNotTrained)
	clf.EXPECT().Predict(gomock.Any()).Return(lifecycle.Prediction{}, errors.New("boom"))
	r := s.Router()
	body := `{"sepal_length": 5.1, "sepal_width": 3.5, "petal_length": 1.4, "petal_width": 0.2}`

	if w, _ := do(t, r, http.MethodPost, "/predict", body); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("not trained: expected 503, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/predict", body); w.Code != http.StatusInternalServerError {
		t.Fatalf("failure: expected 500, got %d", w.Code)
	}
}

func TestModelInfo(t *testing.T) {
	s, clf, _ := newTestServer(t)
	clf.EXPECT().Metadata().Return(lifecycle.Metadata{}, lifecycle.ErrNotTrained)
	clf.EXPECT().Metadata().Return(lifecycle.Metadata{
		ModelVersion:      "v2",
		Algorithm:         "Random Forest",
		Hyperparameters:   lifecycle.DefaultHyperparameters(),
		FeatureImportance: map[string]float64{"petal_length": 0.5, "petal_width": 0.5},
	}, nil)
	r := s.Router()

	w, payload := do(t, r, http.MethodGet, "/model-info", "")
	if w.Code != http.StatusNotFound || payload["error"] != "model information not available" {
		t.Fatalf("before training: %d %v", w.Code, payload)
	}
	w, payload = do(t, r, http.MethodGet, "/model-info", "")
	if w.Code != http.StatusOK || payload["algorithm"] != "Random Forest" || payload["model_version"] != "v2" {
		t.Fatalf("after training: %d %v", w.Code, payload)
	}
	hp := payload["hyperparameters"].(map[string]any)
	if hp["n_estimators"] != float64(100) || hp["max_depth"] != nil || hp["random_state"] != float64(42) {
		t.Fatalf("hyperparameters %v", hp)
	}
}

func TestRetrain(t *testing.T) {
	s, clf, _ := newTestServer(t)
	depth := 3
	clf.EXPECT().
		Retrain(gomock.Any(), lifecycle.Hyperparameters{NEstimators: 50, MaxDepth: &depth, RandomState: 42}, "models/iris_model.bin").
		Return(lifecycle.Metadata{ModelVersion: "v3", Algorithm: "Random Forest"}, nil)

	w, payload := do(t, s.Router(), http.MethodPost, "/retrain?n_estimators=50&max_depth=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, payload)
	}
	info := payload["model_info"].(map[string]any)
	if payload["message"] == nil || info["model_version"] != "v3" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRetrainDefaults(t *testing.T) {
	s, clf, _ := newTestServer(t)
	clf.EXPECT().
		Retrain(gomock.Any(), lifecycle.DefaultHyperparameters(), "models/iris_model.bin").
		Return(lifecycle.Metadata{ModelVersion: "v4"}, nil)
	if w, payload := do(t, s.Router(), http.MethodPost, "/retrain", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, payload)
	}
}

func TestRetrainErrors(t *testing.T) {
	s, clf, _ := newTestServer(t)
	clf.EXPECT().Retrain(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(lifecycle.Metadata{}, fmt.Errorf("%w: n_estimators must be at least 1, got 0", lifecycle.ErrInvalidHyperparameter))
	clf.EXPECT().Retrain(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(lifecycle.Metadata{}, errors.New("disk full"))
	clf.EXPECT().Retrain(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(lifecycle.Metadata{}, fmt.Errorf("%w: n_estimators must be at most 10000, got 100000", lifecycle.ErrInvalidHyperparameter))
	r := s.Router()

	if w, _ := do(t, r, http.MethodPost, "/retrain?n_estimators=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid hyperparameter: expected 400, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/retrain", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("failure: expected 500, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/retrain?n_estimators=many", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("unparsable query: expected 400, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/retrain?n_estimators=100000", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("oversized forest: expected 400, got %d", w.Code)
	}
}

func TestTrainingHistory(t *testing.T) {
	s, _, hist := newTestServer(t)
	hist.EXPECT().List(gomock.Any(), history.DefaultLimit).Return([]history.Run{{ID: 2, ModelVersion: "b"}, {ID: 1, ModelVersion: "a"}}, nil)
	hist.EXPECT().List(gomock.Any(), 1).Return([]history.Run{{ID: 2, ModelVersion: "b"}}, nil)
	hist.EXPECT().List(gomock.Any(), 5).Return(nil, errors.New("locked"))
	r := s.Router()

	w, payload := do(t, r, http.MethodGet, "/training-history", "")
	if w.Code != http.StatusOK || len(payload["runs"].([]any)) != 2 {
		t.Fatalf("default limit: %d %v", w.Code, payload)
	}
	w, payload = do(t, r, http.MethodGet, "/training-history?limit=1", "")
	if w.Code != http.StatusOK || len(payload["runs"].([]any)) != 1 {
		t.Fatalf("limit 1: %d %v", w.Code, payload)
	}
	if w, _ := do(t, r, http.MethodGet, "/training-history?limit=5", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("store failure: expected 500, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodGet, "/training-history?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestTrainingHistoryDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := NewServer(NewMockClassifier(ctrl), nil, zaptest.NewLogger(t), Options{})
	if w, _ := do(t, s.Router(), http.MethodGet, "/training-history", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestRequestIDPropagatesAndCORS(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	req.Header.Set("Origin", "http://client.test")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("request id %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin %q", got)
	}
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iris_model.bin")
	store, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	logger := zaptest.NewLogger(t)
	lc := lifecycle.New(logger, lifecycle.WithCacheSize(32), lifecycle.OnTrain(func(m lifecycle.Metadata) {
		if _, err := store.Record(context.Background(), history.FromMetadata(m)); err != nil {
			t.Errorf("record: %v", err)
		}
	}))
	r := NewServer(lc, store, logger, Options{
		ModelPath: path,
		Defaults:  lifecycle.Hyperparameters{NEstimators: 10, RandomState: 42},
	}).Router()
	body := `{"sepal_length": 5.1, "sepal_width": 3.5, "petal_length": 1.4, "petal_width": 0.2}`

	if w, _ := do(t, r, http.MethodPost, "/predict", body); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("predict before training: expected 503, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodGet, "/model-info", ""); w.Code != http.StatusNotFound {
		t.Fatalf("model-info before training: expected 404, got %d", w.Code)
	}

	if w, _ := do(t, r, http.MethodPost, "/retrain?n_estimators=100000", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("oversized retrain: expected 400, got %d", w.Code)
	}

	w, payload := do(t, r, http.MethodPost, "/retrain?n_estimators=20&random_state=7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("retrain: %d %v", w.Code, payload)
	}
	version := payload["model_info"].(map[string]any)["model_version"]

	w, payload = do(t, r, http.MethodPost, "/predict", body)
	if w.Code != http.StatusOK || payload["class_name"] != "setosa" || payload["model_version"] != version {
		t.Fatalf("predict: %d %v", w.Code, payload)
	}
	var total float64
	for _, v := range payload["probabilities"].(map[string]any) {
		total += v.(float64)
	}
	if total < 1-1e-9 || total > 1+1e-9 {
		t.Fatalf("probabilities sum to %v", total)
	}

	w, payload = do(t, r, http.MethodGet, "/model-info", "")
	info := payload["dataset_info"].(map[string]any)
	if w.Code != http.StatusOK || info["train_samples"] != float64(120) || info["test_samples"] != float64(30) {
		t.Fatalf("model-info: %d %v", w.Code, payload)
	}

	w, payload = do(t, r, http.MethodGet, "/training-history", "")
	runs := payload["runs"].([]any)
	if w.Code != http.StatusOK || len(runs) != 1 || runs[0].(map[string]any)["model_version"] != version {
		t.Fatalf("history: %d %v", w.Code, payload)
	}

	restored := lifecycle.New(logger)
	if err := restored.Restore(path); err != nil {
		t.Fatalf("retrain did not persist a loadable model: %v", err)
	}
}

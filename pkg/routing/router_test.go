package routing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/fleetserve/gateway/pkg/classify"
	"github.com/fleetserve/gateway/pkg/events"
	"github.com/fleetserve/gateway/pkg/fleet"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestRegistry(t *testing.T) *fleet.Registry {
	t.Helper()
	return fleet.NewRegistry(testLogger(), events.NewBus(16))
}

func registerRunner(t *testing.T, reg *fleet.Registry, id, baseURL, machineType string, status fleet.Status) {
	t.Helper()
	err := reg.Register(fleet.Registration{
		ID:          id,
		Name:        id,
		MachineType: machineType,
		Status:      status,
		BaseURL:     baseURL,
		Send:        make(chan []byte, 32),
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func loadedStatus(models ...string) fleet.Status {
	return fleet.Status{
		Health: fleet.HealthHealthy,
		Engines: []fleet.EngineStatus{{
			EngineType:   "llama",
			Healthy:      true,
			LoadedModels: models,
			BatchSize:    4,
		}},
	}
}

func TestForwardRewritesModelAlias(t *testing.T) {
	t.Parallel()
	var received map[string]any
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		w.Write([]byte(`{"id":"resp-1"}`))
	}))
	defer backend.Close()

	reg := newTestRegistry(t)
	status := loadedStatus("llama-7b")
	status.ModelAliases = map[string]string{"llama-7b": "llama-7b-q4.gguf"}
	registerRunner(t, reg, "r1", backend.URL, "", status)

	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, []string{"llama-7b"}), Config{}, nil)
	runner, _ := reg.Get("r1")

	body := []byte(`{"model":"llama-7b","messages":[{"role":"user","content":"hi"}],"temperature":0.5}`)
	resp, err := router.Forward(context.Background(), runner, "llama-7b", body)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if string(resp) != `{"id":"resp-1"}` {
		t.Errorf("response = %s", resp)
	}
	if received["model"] != "llama-7b-q4.gguf" {
		t.Errorf("runner saw model %v, want alias", received["model"])
	}
	if received["temperature"] != 0.5 {
		t.Errorf("other fields not preserved: %v", received)
	}
	if n := reg.ActiveRequests("r1"); n != 0 {
		t.Errorf("active requests leaked: %d", n)
	}
}

func TestForwardRunnerError(t *testing.T) {
	t.Parallel()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer backend.Close()

	reg := newTestRegistry(t)
	registerRunner(t, reg, "r1", backend.URL, "", loadedStatus("m"))
	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)
	runner, _ := reg.Get("r1")

	_, err := router.Forward(context.Background(), runner, "m", []byte(`{"model":"m"}`))
	var re *RunnerError
	if !errors.As(err, &re) {
		t.Fatalf("expected RunnerError, got %v", err)
	}
	if re.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", re.StatusCode)
	}
	if n := reg.ActiveRequests("r1"); n != 0 {
		t.Errorf("active requests leaked after error: %d", n)
	}
}

func TestForwardConnectionFailed(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "r1", "http://127.0.0.1:1", "", loadedStatus("m"))
	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)
	runner, _ := reg.Get("r1")

	_, err := router.Forward(context.Background(), runner, "m", []byte(`{"model":"m"}`))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestCandidatesSpecificFallsBackToOperational(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "r1", "http://10.0.0.1:1", "", loadedStatus("other-model"))
	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)

	// Nobody has the model loaded: load-on-demand on any operational runner.
	candidates, err := router.Candidates(classify.ModelRequest{Specific: "wanted"})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "r1" {
		t.Errorf("candidates = %+v", candidates)
	}
}

func TestCandidatesSkipRunnersWithoutBaseURL(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "no-port", "", "", loadedStatus("llama-7b"))
	registerRunner(t, reg, "r1", "http://10.0.0.2:1", "", loadedStatus("llama-7b"))
	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)

	candidates, err := router.Candidates(classify.ModelRequest{Specific: "llama-7b"})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	for _, c := range candidates {
		if c.BaseURL == "" {
			t.Errorf("candidate %s has no base URL", c.ID)
		}
	}
	if len(candidates) != 1 || candidates[0].ID != "r1" {
		t.Errorf("candidates = %+v", candidates)
	}
}

func TestCandidatesNoRunners(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)
	if _, err := router.Candidates(classify.ModelRequest{Specific: "m"}); !errors.Is(err, ErrNoRunners) {
		t.Fatalf("expected ErrNoRunners, got %v", err)
	}
}

func TestClassCandidatesPreferLoadedTier(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "fast-runner", "http://10.0.0.1:1", "small", loadedStatus("phi-3"))
	registerRunner(t, reg, "big-runner", "http://10.0.0.2:1", "gpu", loadedStatus("llama-70b"))

	classifier := classify.NewClassifier([]string{"llama-70b"}, []string{"phi-3"})
	router := NewRouter(testLogger(), reg, classifier, Config{}, nil)

	candidates, err := router.Candidates(classify.ModelRequest{Class: classify.TierFast})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "fast-runner" {
		t.Errorf("candidates = %+v", candidates)
	}
}

func TestClassCandidatesMachineTypeFallback(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "cpu-box", "http://10.0.0.1:1", "cpu", loadedStatus())
	registerRunner(t, reg, "gpu-box", "http://10.0.0.2:1", "gpu", loadedStatus())

	classifier := classify.NewClassifier([]string{"llama-70b"}, nil)
	router := NewRouter(testLogger(), reg, classifier, Config{
		TierMachineTypes: map[string][]string{"big": {"gpu"}},
	}, nil)

	candidates, err := router.Candidates(classify.ModelRequest{Class: classify.TierBig})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "gpu-box" {
		t.Errorf("candidates = %+v", candidates)
	}
}

func TestRoundRobinCycles(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "a", "http://10.0.0.1:1", "", loadedStatus("m"))
	registerRunner(t, reg, "b", "http://10.0.0.2:1", "", loadedStatus("m"))
	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)

	candidates, err := router.Candidates(classify.ModelRequest{Specific: "m"})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		seen[router.selectRunner(PolicyRoundRobin, candidates).ID]++
	}
	if seen["a"] != 2 || seen["b"] != 2 {
		t.Errorf("round robin distribution = %v", seen)
	}
}

func TestLeastLoadedSelection(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "busy", "http://10.0.0.1:1", "", loadedStatus("m"))
	registerRunner(t, reg, "idle", "http://10.0.0.2:1", "", loadedStatus("m"))
	reg.IncrementActive("busy")
	reg.IncrementActive("busy")

	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)
	candidates, err := router.Candidates(classify.ModelRequest{Specific: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if got := router.selectRunner(PolicyLeastLoaded, candidates); got.ID != "idle" {
		t.Errorf("least loaded selected %s", got.ID)
	}
}

func TestAffinitySelection(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "a", "http://10.0.0.1:1", "cpu", loadedStatus("m"))
	registerRunner(t, reg, "b", "http://10.0.0.2:1", "gpu", loadedStatus("m"))

	router := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{AffinityMachineType: "gpu"}, nil)
	candidates, err := router.Candidates(classify.ModelRequest{Specific: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if got := router.selectRunner(PolicyAffinity, candidates); got.ID != "b" {
		t.Errorf("affinity selected %s", got.ID)
	}

	// Without a configured tag the first (sorted) candidate wins.
	router2 := NewRouter(testLogger(), reg, classify.NewClassifier(nil, nil), Config{}, nil)
	if got := router2.selectRunner(PolicyAffinity, candidates); got.ID != "a" {
		t.Errorf("affinity fallback selected %s", got.ID)
	}
}

func TestTargetModelForClassRequest(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	registerRunner(t, reg, "r1", "http://10.0.0.1:1", "", loadedStatus("phi-3"))
	classifier := classify.NewClassifier(nil, []string{"phi-3"})
	router := NewRouter(testLogger(), reg, classifier, Config{
		TierModels: map[classify.Tier][]string{classify.TierFast: {"phi-3"}},
	}, nil)

	runner, _ := reg.Get("r1")
	if got := router.TargetModel(runner, classify.ModelRequest{Class: classify.TierFast}); got != "phi-3" {
		t.Errorf("targetModel = %q", got)
	}
	// Specific requests pass through.
	if got := router.TargetModel(runner, classify.ModelRequest{Specific: "x"}); got != "x" {
		t.Errorf("targetModel = %q", got)
	}
}

func TestNormalizedServeMux(t *testing.T) {
	t.Parallel()
	mux := NewNormalizedServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "http://gateway//status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
}

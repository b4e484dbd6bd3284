package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/foglayer/dispatchd/internal/combine"
	"github.com/foglayer/dispatchd/internal/config"
	"github.com/foglayer/dispatchd/internal/container"
	"github.com/foglayer/dispatchd/internal/dispatch"
	"github.com/foglayer/dispatchd/internal/engine"
	"github.com/foglayer/dispatchd/internal/images"
	"github.com/foglayer/dispatchd/internal/ledger"
	"github.com/foglayer/dispatchd/internal/registry"
	"github.com/foglayer/dispatchd/internal/task"
)

func testHandler(t *testing.T) (http.Handler, *engine.Engine) {
	t.Helper()
	rt := container.NewFakeRuntime()
	rt.Outputs["fog/default-runner:latest"] = []byte(`{"ok":true}`)

	eng := engine.New(engine.Config{
		Ledger:                 ledger.New(task.Resources{}),
		Registry:               registry.New(nil),
		Images:                 images.New(nil, "fog/default-runner:latest"),
		Combiners:              combine.NewRegistry(),
		Runtime:                rt,
		DispatchClient:         dispatch.New(zap.NewNop()),
		ScratchRoot:            t.TempDir(),
		ContainerNamePrefix:    "fog-task-",
		MaxConcurrentTasks:     4,
		AdmissionQueueCapacity: 16,
		Logger:                 zap.NewNop(),
	})
	eng.Start()
	t.Cleanup(eng.Stop)

	cfg := &config.Config{RequestTimeout: 5 * time.Second, HealthCheckPath: "/health"}
	return NewRouter(eng, cfg, zap.NewNop(), func() bool { return true }), eng
}

func TestSubmitAndStatusRoundTrip(t *testing.T) {
	handler, _ := testHandler(t)

	body, _ := json.Marshal(map[string]interface{}{
		"type":                       "noop",
		"resources":                  map[string]float64{"cpu_cores": 0, "ram_gb": 0, "gpu_units": 0},
		"max_execution_time_seconds": 5,
	})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202; body=%s", rec.Code, rec.Body.String())
	}
	var submitResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &submitResp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	id := submitResp["task_id"]
	if id == "" {
		t.Fatal("expected a task_id in the submit response")
	}

	deadline := time.Now().Add(2 * time.Second)
	var statusRec *httptest.ResponseRecorder
	for time.Now().Before(deadline) {
		statusRec = httptest.NewRecorder()
		handler.ServeHTTP(statusRec, httptest.NewRequest(http.MethodGet, "/tasks/"+id, nil))
		var snap task.Task
		if err := json.Unmarshal(statusRec.Body.Bytes(), &snap); err == nil && snap.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if statusRec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200; body=%s", statusRec.Code, statusRec.Body.String())
	}
}

func TestStatusUnknownTaskReturns404(t *testing.T) {
	handler, _ := testHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := testHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

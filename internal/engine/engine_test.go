package engine

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/foglayer/dispatchd/internal/combine"
	"github.com/foglayer/dispatchd/internal/container"
	"github.com/foglayer/dispatchd/internal/dispatch"
	"github.com/foglayer/dispatchd/internal/images"
	"github.com/foglayer/dispatchd/internal/ledger"
	"github.com/foglayer/dispatchd/internal/registry"
	"github.com/foglayer/dispatchd/internal/task"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func res(cpu, ram, gpu float64) task.Resources {
	return task.Resources{CPU: dec(cpu), RAM: dec(ram), GPU: dec(gpu)}
}

func newTestEngine(t *testing.T, localRes task.Resources, nodes []registry.Node, runtime container.Runtime) *Engine {
	t.Helper()
	cfg := Config{
		Ledger:                   ledger.New(localRes),
		Registry:                 registry.New(nodes),
		Images:                   images.New(map[string]string{}, "fog/default-runner:latest"),
		Combiners:                combine.NewRegistry(),
		Runtime:                  runtime,
		DispatchClient:           dispatch.New(zap.NewNop()),
		ScratchRoot:              t.TempDir(),
		ContainerNamePrefix:      "fog-task-",
		MaxConcurrentTasks:       4,
		AdmissionQueueCapacity:   16,
		RemoteDispatchTimeoutPad: 10 * time.Second,
		Logger:                   zap.NewNop(),
	}
	e := New(cfg)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func waitTerminal(t *testing.T, e *Engine, id string) task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tk, err := e.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if tk.Status.Terminal() {
			return tk
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", id)
	return task.Task{}
}

// nodeFromServer builds a registry.Node pointing at an httptest server.
func nodeFromServer(id string, srv *httptest.Server, r task.Resources) registry.Node {
	u := srv.Listener.Addr().(*net.TCPAddr)
	return registry.Node{ID: id, Host: "127.0.0.1", Port: u.Port, Resources: r, Active: true}
}

// TestLocalFitScenario mirrors §8's "Local fit" scenario.
func TestLocalFitScenario(t *testing.T) {
	rt := container.NewFakeRuntime()
	rt.Outputs["fog/default-runner:latest"] = []byte(`{"ok":true}`)

	e := newTestEngine(t, res(4, 8, 1), nil, rt)
	id, err := e.Submit(task.Spec{Type: "noop", Resources: res(1, 2, 0), MaxExecutionTime: 5})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := waitTerminal(t, e, id)
	if tk.Status != task.StatusCompleted {
		t.Fatalf("status = %v, want Completed (err=%q)", tk.Status, tk.LastError)
	}
	if string(tk.Result) != `{"ok":true}` {
		t.Fatalf("result = %s, want {\"ok\":true}", tk.Result)
	}
	if len(tk.AssignedNodes) != 0 {
		t.Fatalf("assigned_nodes = %v, want empty for local execution", tk.AssignedNodes)
	}

	avail := e.ledger.Available()
	init := e.ledger.Initial()
	if !avail.CPU.Equal(init.CPU) || !avail.RAM.Equal(init.RAM) || !avail.GPU.Equal(init.GPU) {
		t.Fatalf("ledger after run = %+v, want back at initial %+v", avail, init)
	}
}

// TestLocalOverflowToSingleRemote mirrors §8's "Local overflow to single
// remote" scenario.
func TestLocalOverflowToSingleRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dispatch.Response{Status: "Completed", Results: json.RawMessage(`42`)})
	}))
	defer srv.Close()

	node := nodeFromServer("n1", srv, res(4, 8, 1))
	e := newTestEngine(t, res(1, 1, 0), []registry.Node{node}, container.NewFakeRuntime())

	id, err := e.Submit(task.Spec{Type: "noop", Resources: res(2, 4, 0), Divisible: false, MaxExecutionTime: 5})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := waitTerminal(t, e, id)
	if tk.Status != task.StatusCompleted {
		t.Fatalf("status = %v, want Completed (err=%q)", tk.Status, tk.LastError)
	}
	if string(tk.Result) != "42" {
		t.Fatalf("result = %s, want 42", tk.Result)
	}
	if len(tk.AssignedNodes) != 1 || tk.AssignedNodes[0] != "n1" {
		t.Fatalf("assigned_nodes = %v, want [n1]", tk.AssignedNodes)
	}
}

// TestNoFitRejection mirrors §8's "No fit" scenario.
func TestNoFitRejection(t *testing.T) {
	e := newTestEngine(t, res(1, 1, 0), nil, container.NewFakeRuntime())

	id, err := e.Submit(task.Spec{Type: "noop", Resources: res(2, 2, 0), Divisible: true, MaxExecutionTime: 5})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := waitTerminal(t, e, id)
	if tk.Status != task.StatusFailed {
		t.Fatalf("status = %v, want Failed", tk.Status)
	}
	if tk.Result != nil {
		t.Fatalf("result = %s, want absent", tk.Result)
	}
}

// TestSplitAcrossTwoNodes mirrors §8's "Split across two" scenario: each
// node's httptest handler echoes back exactly the input_data it was
// handed, and the default combiner returns them in chunk-index order.
func TestSplitAcrossTwoNodes(t *testing.T) {
	echo := func(w http.ResponseWriter, r *http.Request) {
		var req dispatch.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dispatch.Response{Status: "Completed", Results: req.InputData})
	}
	srv1 := httptest.NewServer(http.HandlerFunc(echo))
	defer srv1.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(echo))
	defer srv2.Close()

	n1 := nodeFromServer("n1", srv1, res(2, 4, 0))
	n2 := nodeFromServer("n2", srv2, res(2, 4, 0))

	e := newTestEngine(t, res(0, 0, 0), []registry.Node{n1, n2}, container.NewFakeRuntime())

	input := task.InputDataFromPairs([]string{"a", "b", "c", "d"}, map[string]interface{}{
		"a": float64(1), "b": float64(2), "c": float64(3), "d": float64(4),
	})
	id, err := e.Submit(task.Spec{Type: "noop", Input: input, Resources: res(3, 6, 0), Divisible: true, MaxExecutionTime: 5})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := waitTerminal(t, e, id)
	if tk.Status != task.StatusCompleted {
		t.Fatalf("status = %v, want Completed (err=%q)", tk.Status, tk.LastError)
	}
	if len(tk.AssignedNodes) != 2 {
		t.Fatalf("assigned_nodes = %v, want 2 nodes", tk.AssignedNodes)
	}

	want := `[{"a":1,"b":2},{"c":3,"d":4}]`
	if string(tk.Result) != want {
		t.Fatalf("combined result = %s, want %s", tk.Result, want)
	}
}

// TestContainerTimeoutScenario mirrors §8's "Container timeout" scenario:
// the container never exits, so runLocal must fail the task on the
// deadline and still release the reserved resources.
func TestContainerTimeoutScenario(t *testing.T) {
	rt := container.NewFakeRuntime()
	rt.Hang = true

	initial := res(4, 8, 1)
	e := newTestEngine(t, initial, nil, rt)

	id, err := e.Submit(task.Spec{Type: "noop", Resources: res(1, 1, 0), MaxExecutionTime: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := waitTerminal(t, e, id)
	if tk.Status != task.StatusFailed {
		t.Fatalf("status = %v, want Failed", tk.Status)
	}

	avail := e.ledger.Available()
	if !avail.CPU.Equal(initial.CPU) || !avail.RAM.Equal(initial.RAM) || !avail.GPU.Equal(initial.GPU) {
		t.Fatalf("ledger after timeout = %+v, want restored to %+v", avail, initial)
	}
}

// TestRemoteHTTPErrorScenario mirrors §8's "Remote HTTP error" scenario.
func TestRemoteHTTPErrorScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	node := nodeFromServer("n1", srv, res(4, 8, 1))
	e := newTestEngine(t, res(0, 0, 0), []registry.Node{node}, container.NewFakeRuntime())

	id, err := e.Submit(task.Spec{Type: "noop", Resources: res(2, 2, 0), MaxExecutionTime: 5})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tk := waitTerminal(t, e, id)
	if tk.Status != task.StatusFailed {
		t.Fatalf("status = %v, want Failed", tk.Status)
	}
	if tk.LastError == "" {
		t.Fatal("expected a captured error message")
	}
	if e.InFlight() != 0 {
		t.Fatalf("in-flight = %d, want 0 after terminal transition", e.InFlight())
	}
}

// TestInFlightNeverExceedsCap exercises property 3: the in-flight count
// never exceeds max_concurrent_tasks, even under a burst of submissions.
func TestInFlightNeverExceedsCap(t *testing.T) {
	rt := container.NewFakeRuntime()
	rt.Outputs["fog/default-runner:latest"] = []byte(`{}`)

	cfg := Config{
		Ledger:                 ledger.New(res(100, 100, 1)),
		Registry:               registry.New(nil),
		Images:                 images.New(nil, "fog/default-runner:latest"),
		Combiners:              combine.NewRegistry(),
		Runtime:                rt,
		DispatchClient:         dispatch.New(zap.NewNop()),
		ScratchRoot:            t.TempDir(),
		ContainerNamePrefix:    "fog-task-",
		MaxConcurrentTasks:     2,
		AdmissionQueueCapacity: 32,
		Logger:                 zap.NewNop(),
	}
	e := New(cfg)
	e.Start()
	defer e.Stop()

	var maxSeen int64
	stopWatch := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopWatch:
				return
			default:
			}
			if n := int64(e.InFlight()); n > maxSeen {
				maxSeen = n
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := e.Submit(task.Spec{Type: "noop", Resources: res(1, 1, 0), MaxExecutionTime: 5})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTerminal(t, e, id)
	}
	close(stopWatch)

	if maxSeen > int64(cfg.MaxConcurrentTasks) {
		t.Fatalf("observed in-flight count %d exceeds cap %d", maxSeen, cfg.MaxConcurrentTasks)
	}
}

func TestStatusUnknownTaskNotFound(t *testing.T) {
	e := newTestEngine(t, res(1, 1, 0), nil, container.NewFakeRuntime())
	if _, err := e.Status("does-not-exist"); err != ErrNotFound {
		t.Fatalf("status error = %v, want ErrNotFound", err)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	// A one-slot pool with a hanging runtime means the slot stays held
	// until the task's 1s deadline, so queued-but-unstarted tasks pile up
	// until the bounded queue rejects further submissions (Open Question 4).
	rt := container.NewFakeRuntime()
	rt.Hang = true

	cfg := Config{
		Ledger:                 ledger.New(res(100, 100, 1)),
		Registry:               registry.New(nil),
		Images:                 images.New(nil, "fog/default-runner:latest"),
		Combiners:              combine.NewRegistry(),
		Runtime:                rt,
		DispatchClient:         dispatch.New(zap.NewNop()),
		ScratchRoot:            t.TempDir(),
		ContainerNamePrefix:    "fog-task-",
		MaxConcurrentTasks:     1,
		AdmissionQueueCapacity: 1,
		Logger:                 zap.NewNop(),
	}
	e := New(cfg)
	e.Start()
	defer e.Stop()

	spec := task.Spec{Type: "noop", Resources: res(1, 1, 0), MaxExecutionTime: 1}
	var lastErr error
	for i := 0; i < 50; i++ {
		_, lastErr = e.Submit(spec)
		if lastErr == ErrQueueFull {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if lastErr != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull eventually, got %v", lastErr)
	}
}


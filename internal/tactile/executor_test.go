package tactile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedAdapter fails a path with the queued errors, then succeeds.
type scriptedAdapter struct {
	mu      sync.Mutex
	errs    map[string][]error
	order   []string
	calls   map[string]int
	block   map[string]chan struct{}
	started chan string
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		errs:  map[string][]error{},
		calls: map[string]int{},
		block: map[string]chan struct{}{},
	}
}

func (a *scriptedAdapter) Perform(ctx context.Context, op types.Operation, params map[string]string) (string, error) {
	p := params["path"]
	a.mu.Lock()
	a.order = append(a.order, p)
	a.calls[p]++
	wait := a.block[p]
	var err error
	if q := a.errs[p]; len(q) > 0 {
		err = q[0]
		if len(q) > 1 {
			a.errs[p] = q[1:]
		}
	}
	a.mu.Unlock()

	if wait != nil {
		if a.started != nil {
			a.started <- p
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "ok " + p, nil
}

func (a *scriptedAdapter) fail(p string, errs ...error) {
	a.errs[p] = errs
}

func (a *scriptedAdapter) callCount(p string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[p]
}

func testConfig(workers int) config.ExecutionConfig {
	return config.ExecutionConfig{
		Workers:          workers,
		MaxRetries:       3,
		RetryBackoffBase: "1ms",
		RetryBackoffMax:  "4ms",
		StepTimeout:      "2s",
	}
}

func step(i int, p string, deps ...int) types.TaskStep {
	return types.TaskStep{Index: i, Operation: types.OpCreateFolder, Params: map[string]string{"path": p}, DependsOn: deps}
}

func busy() error {
	return &OpError{Kind: types.ErrResourceBusy, Op: types.OpCreateFolder, Err: errors.New("device busy")}
}

func denied() error {
	return &OpError{Kind: types.ErrPermissionDenied, Op: types.OpCreateFolder, Err: errors.New("denied")}
}

func TestExecute_AllSucceedInDependencyOrder(t *testing.T) {
	a := newScriptedAdapter()
	plan := types.TaskPlan{ID: "p", Steps: []types.TaskStep{
		step(0, "a"), step(1, "a/x", 0), step(2, "a/y", 0), step(3, "b"), step(4, "b/z", 3),
	}}

	res := NewExecutor(a, testConfig(2)).Execute(context.Background(), plan)

	want := []types.StepStatus{
		types.StatusSucceeded, types.StatusSucceeded, types.StatusSucceeded,
		types.StatusSucceeded, types.StatusSucceeded,
	}
	if diff := cmp.Diff(want, res.Statuses()); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, res.OK())
	assert.Equal(t, 5, res.Succeeded)
	for i, s := range res.Steps {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, 1, s.Attempts)
	}

	seen := map[string]int{}
	for i, p := range a.order {
		seen[p] = i
	}
	assert.Less(t, seen["a"], seen["a/x"])
	assert.Less(t, seen["a"], seen["a/y"])
	assert.Less(t, seen["b"], seen["b/z"])
}

func TestExecute_TransientFailureIsRetried(t *testing.T) {
	a := newScriptedAdapter()
	a.fail("a", busy(), nil)
	plan := types.TaskPlan{Steps: []types.TaskStep{step(0, "a"), step(1, "a/x", 0)}}

	res := NewExecutor(a, testConfig(1)).Execute(context.Background(), plan)

	assert.Equal(t, []types.StepStatus{types.StatusRetried, types.StatusSucceeded}, res.Statuses())
	assert.Equal(t, 2, res.Steps[0].Attempts)
	assert.Equal(t, types.ErrNone, res.Steps[0].ErrorKind)
	assert.Equal(t, 1, res.Retried)
	assert.True(t, res.OK())
}

func TestExecute_RetriesAreBounded(t *testing.T) {
	a := newScriptedAdapter()
	a.fail("a", busy())
	plan := types.TaskPlan{Steps: []types.TaskStep{step(0, "a"), step(1, "a/x", 0), step(2, "a/x/y", 1)}}

	res := NewExecutor(a, testConfig(1)).Execute(context.Background(), plan)

	assert.Equal(t, []types.StepStatus{types.StatusFailed, types.StatusSkipped, types.StatusSkipped}, res.Statuses())
	assert.Equal(t, 4, res.Steps[0].Attempts)
	assert.Equal(t, 4, a.callCount("a"))
	assert.Equal(t, types.ErrResourceBusy, res.Steps[0].ErrorKind)
	assert.Equal(t, types.ErrDependencyFailed, res.Steps[2].ErrorKind)
	assert.Equal(t, 0, a.callCount("a/x"))
}

func TestExecute_FatalFailureSkipsOnlyDependents(t *testing.T) {
	a := newScriptedAdapter()
	a.fail("a", denied())
	plan := types.TaskPlan{Steps: []types.TaskStep{step(0, "a"), step(1, "a/x", 0), step(2, "b")}}

	res := NewExecutor(a, testConfig(2)).Execute(context.Background(), plan)

	assert.Equal(t, []types.StepStatus{types.StatusFailed, types.StatusSkipped, types.StatusSucceeded}, res.Statuses())
	assert.Equal(t, 1, res.Steps[0].Attempts)
	assert.Equal(t, types.ErrPermissionDenied, res.Steps[0].ErrorKind)
	assert.Equal(t, types.ErrDependencyFailed, res.Steps[1].ErrorKind)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, res.OK())
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	a := newScriptedAdapter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewExecutor(a, testConfig(2)).Execute(ctx, types.TaskPlan{Steps: []types.TaskStep{step(0, "a"), step(1, "b")}})

	assert.Equal(t, []types.StepStatus{types.StatusSkipped, types.StatusSkipped}, res.Statuses())
	assert.Equal(t, types.ErrCancelled, res.Steps[0].ErrorKind)
	assert.True(t, res.Cancelled)
	assert.Empty(t, a.order)
}

func TestExecute_CancelLetsInFlightStepFinish(t *testing.T) {
	a := newScriptedAdapter()
	release := make(chan struct{})
	a.block["a"] = release
	a.started = make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plan := types.TaskPlan{Steps: []types.TaskStep{step(0, "a"), step(1, "b"), step(2, "c")}}
	resCh := make(chan types.ExecutionResult, 1)
	go func() {
		resCh <- NewExecutor(a, testConfig(1)).Execute(ctx, plan)
	}()

	require.Equal(t, "a", <-a.started)
	cancel()
	close(release)

	select {
	case res := <-resCh:
		assert.Equal(t, []types.StepStatus{types.StatusSucceeded, types.StatusSkipped, types.StatusSkipped}, res.Statuses())
		assert.Equal(t, types.ErrCancelled, res.Steps[1].ErrorKind)
		assert.True(t, res.Cancelled)
		assert.Equal(t, 0, a.callCount("b"))
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after cancellation")
	}
}

func TestExecute_StepTimeoutIsTransient(t *testing.T) {
	a := newScriptedAdapter()
	a.block["slow"] = make(chan struct{})
	cfg := testConfig(1)
	cfg.StepTimeout = "20ms"
	cfg.MaxRetries = 1

	res := NewExecutor(a, cfg).Execute(context.Background(), types.TaskPlan{Steps: []types.TaskStep{step(0, "slow")}})

	require.Len(t, res.Steps, 1)
	assert.Equal(t, types.StatusFailed, res.Steps[0].Status)
	assert.Equal(t, types.ErrTimeout, res.Steps[0].ErrorKind)
	assert.Equal(t, 2, res.Steps[0].Attempts)
}

// countingAdapter records the peak number of concurrent calls.
type countingAdapter struct {
	cur, peak atomic.Int32
}

func (c *countingAdapter) Perform(ctx context.Context, op types.Operation, params map[string]string) (string, error) {
	n := c.cur.Add(1)
	defer c.cur.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "", nil
}

func TestExecute_WorkerPoolIsBounded(t *testing.T) {
	c := &countingAdapter{}
	var steps []types.TaskStep
	for i := 0; i < 20; i++ {
		steps = append(steps, step(i, "d"))
	}

	res := NewExecutor(c, testConfig(3)).Execute(context.Background(), types.TaskPlan{Steps: steps})

	assert.Equal(t, 20, res.Succeeded)
	assert.LessOrEqual(t, c.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, c.peak.Load(), int32(1))
}

func TestExecute_IdenticalStatusesOnRerun(t *testing.T) {
	plan := types.TaskPlan{Steps: []types.TaskStep{
		step(0, "a"), step(1, "a/x", 0), step(2, "bad"), step(3, "bad/x", 2), step(4, "c"),
	}}
	run := func() []types.StepStatus {
		a := newScriptedAdapter()
		a.fail("bad", denied())
		return NewExecutor(a, testConfig(4)).Execute(context.Background(), plan).Statuses()
	}

	first, second := run(), run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("statuses differ between runs (-first +second):\n%s", diff)
	}
}

func TestExecute_StepCallbackSeesTransitions(t *testing.T) {
	a := newScriptedAdapter()
	ex := NewExecutor(a, testConfig(1))
	var seen []types.StepStatus
	ex.SetStepCallback(func(r types.StepResult) { seen = append(seen, r.Status) })

	ex.Execute(context.Background(), types.TaskPlan{Steps: []types.TaskStep{step(0, "a")}})

	assert.Equal(t, []types.StepStatus{types.StatusRunning, types.StatusSucceeded}, seen)
}

func TestExecute_EmptyPlan(t *testing.T) {
	res := NewExecutor(newScriptedAdapter(), testConfig(2)).Execute(context.Background(), types.TaskPlan{})
	assert.Empty(t, res.Steps)
	assert.True(t, res.OK())
}

func TestBackoffIsCapped(t *testing.T) {
	ex := NewExecutor(newScriptedAdapter(), config.ExecutionConfig{RetryBackoffBase: "10ms", RetryBackoffMax: "40ms"})
	for attempt := 1; attempt <= 8; attempt++ {
		d := ex.backoff(attempt)
		assert.LessOrEqual(t, d, 60*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	}
}

package tactile

import (
	"container/heap"
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// Executor runs a TaskPlan on a bounded worker pool.
//
// Steps whose dependencies have all succeeded are dispatched in ascending
// index order. Transient failures are retried with exponential backoff and
// jitter. A step that fails for good skips everything that depends on it,
// and cancellation stops dispatch while in-flight steps run to completion.
type Executor struct {
	adapter     OSAdapter
	workers     int
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	stepTimeout time.Duration

	onStep func(types.StepResult)
}

// NewExecutor creates an executor over an adapter.
func NewExecutor(adapter OSAdapter, cfg config.ExecutionConfig) *Executor {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Executor{
		adapter:     adapter,
		workers:     workers,
		maxRetries:  retries,
		backoffBase: cfg.GetBackoffBase(),
		backoffMax:  cfg.GetBackoffMax(),
		stepTimeout: cfg.GetStepTimeout(),
	}
}

// SetStepCallback registers a callback for step state changes. It is called
// from the scheduling goroutine only.
func (e *Executor) SetStepCallback(fn func(types.StepResult)) {
	e.onStep = fn
}

func (e *Executor) emit(r types.StepResult) {
	if e.onStep != nil {
		e.onStep(r)
	}
}

// readyQueue is a min-heap of step indices.
type readyQueue []int

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)        { *q = append(*q, x.(int)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// Execute runs every step of the plan and reports each one, in index order.
func (e *Executor) Execute(ctx context.Context, plan types.TaskPlan) types.ExecutionResult {
	timer := logging.StartTimer(logging.CategoryTactile, "execute plan "+plan.ID)
	defer timer.Stop()
	start := time.Now()

	n := len(plan.Steps)
	results := make([]types.StepResult, n)
	pos := make(map[int]int, n)
	for i, s := range plan.Steps {
		pos[s.Index] = i
		results[i] = types.StepResult{Index: s.Index, Operation: s.Operation, Status: types.StatusPending}
	}

	waiting := make([]int, n)
	dependents := make([][]int, n)
	for i, s := range plan.Steps {
		seen := map[int]bool{}
		for _, d := range s.DependsOn {
			j, ok := pos[d]
			if !ok || j >= i || seen[j] {
				continue
			}
			seen[j] = true
			waiting[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := &readyQueue{}
	for i := range plan.Steps {
		if waiting[i] == 0 {
			heap.Push(ready, i)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	done := make(chan types.StepResult, n)
	ctxDone := ctx.Done()
	inflight := 0
	cancelled := false

	for {
		for !cancelled && ctx.Err() == nil && ready.Len() > 0 {
			i := (*ready)[0]
			step := plan.Steps[i]
			run := func() error {
				done <- e.runStep(ctx, step)
				return nil
			}
			if !g.TryGo(run) {
				if inflight > 0 {
					break
				}
				// A finished worker has not released its slot yet.
				g.Go(run)
			}
			heap.Pop(ready)
			inflight++
			results[i].Status = types.StatusRunning
			e.emit(results[i])
		}
		if inflight == 0 {
			break
		}

		select {
		case r := <-done:
			inflight--
			i := pos[r.Index]
			results[i] = r
			e.emit(r)
			if r.Status.OK() {
				for _, d := range dependents[i] {
					waiting[d]--
					if waiting[d] == 0 && results[d].Status == types.StatusPending {
						heap.Push(ready, d)
					}
				}
			} else {
				e.skipDependents(i, dependents, results)
			}
		case <-ctxDone:
			cancelled = true
			ctxDone = nil
			logging.TactileWarn("plan %s cancelled: %d steps in flight", plan.ID, inflight)
		}
	}
	_ = g.Wait()

	agg := types.ExecutionResult{PlanID: plan.ID, Steps: results}
	for i := range results {
		if results[i].Status == types.StatusPending {
			results[i].Status = types.StatusSkipped
			results[i].ErrorKind = types.ErrDependencyFailed
			if ctx.Err() != nil {
				results[i].ErrorKind = types.ErrCancelled
				agg.Cancelled = true
			}
			e.emit(results[i])
		}
		switch results[i].Status {
		case types.StatusSucceeded:
			agg.Succeeded++
		case types.StatusRetried:
			agg.Retried++
		case types.StatusFailed:
			agg.Failed++
		case types.StatusSkipped:
			agg.Skipped++
		}
	}
	agg.Duration = time.Since(start)

	logging.Tactile("plan %s: succeeded=%d retried=%d failed=%d skipped=%d cancelled=%v in %v",
		plan.ID, agg.Succeeded, agg.Retried, agg.Failed, agg.Skipped, agg.Cancelled, agg.Duration)
	return agg
}

// skipDependents marks every transitive dependent of a failed step.
func (e *Executor) skipDependents(failed int, dependents [][]int, results []types.StepResult) {
	queue := append([]int(nil), dependents[failed]...)
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if results[d].Status != types.StatusPending {
			continue
		}
		results[d].Status = types.StatusSkipped
		results[d].ErrorKind = types.ErrDependencyFailed
		results[d].Error = "depends on failed step " + strconv.Itoa(results[failed].Index)
		e.emit(results[d])
		queue = append(queue, dependents[d]...)
	}
}

// runStep performs one step with retries. The adapter call is detached from
// plan cancellation so an in-flight step finishes; cancellation only stops
// further attempts.
func (e *Executor) runStep(ctx context.Context, step types.TaskStep) (r types.StepResult) {
	r = types.StepResult{Index: step.Index, Operation: step.Operation}
	start := time.Now()
	defer func() { r.Duration = time.Since(start) }()

	for attempt := 1; ; attempt++ {
		r.Attempts = attempt
		stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.stepTimeout)
		out, err := e.adapter.Perform(stepCtx, step.Operation, step.Params)
		timedOut := errors.Is(stepCtx.Err(), context.DeadlineExceeded)
		cancel()

		r.Output = out
		if err == nil {
			r.Status = types.StatusSucceeded
			r.ErrorKind, r.Error = types.ErrNone, ""
			if attempt > 1 {
				r.Status = types.StatusRetried
			}
			logging.TactileDebug("step %d %s ok after %d attempt(s)", step.Index, step.Operation, attempt)
			return r
		}

		kind := ClassifyError(err)
		if timedOut {
			kind = types.ErrTimeout
		}
		r.Status = types.StatusFailed
		r.ErrorKind = kind
		r.Error = err.Error()

		if !kind.Transient() || attempt > e.maxRetries {
			logging.TactileWarn("step %d %s failed (%s) after %d attempt(s): %v", step.Index, step.Operation, kind, attempt, err)
			return r
		}

		delay := e.backoff(attempt)
		logging.TactileDebug("step %d %s: %s, retrying in %v", step.Index, step.Operation, kind, delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return r
		case <-t.C:
		}
	}
}

// backoff returns base*2^(attempt-1) capped at the maximum, plus up to 50%
// jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.backoffBase
	for i := 1; i < attempt && d < e.backoffMax; i++ {
		d *= 2
	}
	if d > e.backoffMax {
		d = e.backoffMax
	}
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}

// Package scenario runs independent policy scenarios concurrently under a
// bounded worker pool with exclusive affinity slots, returning outcomes in
// input order regardless of completion order.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qnwis/qnwis/pkg/metrics"
)

// Scenario is one unit of scenario work.
type Scenario struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Assumptions map[string]any `json:"assumptions,omitempty"`
}

// ReasonCancelled marks scenarios that never ran or were cut short by run
// cancellation.
const ReasonCancelled = "cancelled"

// Failure describes one failed scenario.
type Failure struct {
	ScenarioID string `json:"scenario_id"`
	Reason     string `json:"reason"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("scenario %s failed: %s", f.ScenarioID, f.Reason)
}

// Outcome is the result slot for one scenario: either Value or Failure is
// set, never both.
type Outcome struct {
	Scenario Scenario `json:"scenario"`
	Value    any      `json:"value,omitempty"`
	Failure  *Failure `json:"failure,omitempty"`
}

// OK reports whether the scenario produced a value.
func (o Outcome) OK() bool { return o.Failure == nil }

// ProgressFunc receives per-scenario phase markers from workers.
type ProgressFunc func(scenarioID, phase string, percent int)

// WorkFunc performs one scenario's full sub-pipeline on an exclusive
// affinity slot, publishing progress as it goes.
type WorkFunc func(ctx context.Context, sc Scenario, slot int, progress func(phase string, percent int)) (any, error)

// ErrAllScenariosFailed is returned when no scenario produced a value.
var ErrAllScenariosFailed = errors.New("all scenarios failed")

// Executor schedules scenario work.
type Executor struct {
	parallelism int
	poolSize    int
	timeout     time.Duration
	onProgress  ProgressFunc
}

// NewExecutor creates an executor. The worker count must not exceed the
// affinity pool size; each worker holds a slot exclusively while a
// scenario runs.
func NewExecutor(parallelism, poolSize int, perScenarioTimeout time.Duration, onProgress ProgressFunc) (*Executor, error) {
	if parallelism <= 0 || poolSize <= 0 {
		return nil, fmt.Errorf("parallelism and pool size must be positive")
	}
	if parallelism > poolSize {
		return nil, fmt.Errorf("parallelism (%d) exceeds affinity pool size (%d)", parallelism, poolSize)
	}
	if onProgress == nil {
		onProgress = func(string, string, int) {}
	}
	return &Executor{
		parallelism: parallelism,
		poolSize:    poolSize,
		timeout:     perScenarioTimeout,
		onProgress:  onProgress,
	}, nil
}

type task struct {
	idx int
	sc  Scenario
}

// Execute runs every scenario and returns one outcome per input, in input
// order. A failed scenario never stops the rest; only an all-fail run (or
// enclosing cancellation before any success) returns ErrAllScenariosFailed
// alongside the outcomes.
func (e *Executor) Execute(ctx context.Context, scenarios []Scenario, work WorkFunc) ([]Outcome, error) {
	outcomes := make([]Outcome, len(scenarios))
	for i, sc := range scenarios {
		// Pre-filled so scenarios never dequeued report as cancelled.
		outcomes[i] = Outcome{
			Scenario: sc,
			Failure:  &Failure{ScenarioID: sc.ID, Reason: ReasonCancelled},
		}
	}
	if len(scenarios) == 0 {
		return outcomes, nil
	}

	// The bounded queue throttles the enqueuer to executor throughput.
	queue := make(chan task, 2*e.parallelism)

	slots := make(chan int, e.poolSize)
	for i := 0; i < e.poolSize; i++ {
		slots <- i
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < e.parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				outcome := e.runOne(ctx, t.sc, slots, work)
				mu.Lock()
				outcomes[t.idx] = outcome
				mu.Unlock()
			}
		}()
	}

	// Enqueue blocks when the queue is full; cancellation drains the rest.
enqueue:
	for i, sc := range scenarios {
		select {
		case queue <- task{idx: i, sc: sc}:
		case <-ctx.Done():
			break enqueue
		}
	}
	close(queue)
	wg.Wait()

	succeeded := 0
	for _, o := range outcomes {
		if o.OK() {
			succeeded++
			metrics.ScenarioOutcomes.WithLabelValues("ok").Inc()
		} else if o.Failure.Reason == ReasonCancelled {
			metrics.ScenarioOutcomes.WithLabelValues("cancelled").Inc()
		} else {
			metrics.ScenarioOutcomes.WithLabelValues("failed").Inc()
		}
	}
	if succeeded == 0 {
		return outcomes, ErrAllScenariosFailed
	}
	if succeeded < len(scenarios) {
		slog.Warn("Scenario batch completed with failures",
			"total", len(scenarios), "succeeded", succeeded)
	}
	return outcomes, nil
}

func (e *Executor) runOne(ctx context.Context, sc Scenario, slots chan int, work WorkFunc) Outcome {
	var slot int
	select {
	case slot = <-slots:
	case <-ctx.Done():
		return Outcome{Scenario: sc, Failure: &Failure{ScenarioID: sc.ID, Reason: ReasonCancelled}}
	}
	defer func() { slots <- slot }()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	value, err := work(runCtx, sc, slot, func(phase string, percent int) {
		e.onProgress(sc.ID, phase, percent)
	})
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = ReasonCancelled
		} else if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return Outcome{Scenario: sc, Failure: &Failure{ScenarioID: sc.ID, Reason: reason}}
	}
	return Outcome{Scenario: sc, Value: value}
}

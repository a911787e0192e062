// Package steps runs named units of work at most once per workflow run.
//
// A step's result is JSON-encoded and committed to a Log keyed by
// (run id, step name). Re-entering a step whose result is already committed
// returns the stored result without calling the step body again, so a run
// that is retried after a crash or a transient failure resumes where it
// stopped instead of repeating side effects. A step whose body fails commits
// nothing and runs again on the next attempt.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dailybugs-backend/internal/logger"
)

// Log stores committed step results.
type Log interface {
	// LoadStep returns the committed result for (runID, name); ok is false
	// when the step has not committed yet.
	LoadStep(ctx context.Context, runID, name string) (result []byte, ok bool, err error)
	// SaveStep commits a result. Saving an already committed step keeps the
	// first result.
	SaveStep(ctx context.Context, runID, name string, result []byte) error
}

// Pruner drops whole runs whose last step was committed before a cutoff.
type Pruner interface {
	// PruneSteps returns the number of runs removed.
	PruneSteps(ctx context.Context, before time.Time) (int, error)
}

// Executor binds a Log to one workflow run.
type Executor struct {
	log   Log
	runID string
	lg    *logger.Logger
}

func NewExecutor(log Log, runID string, lg *logger.Logger) *Executor {
	if lg == nil {
		lg = logger.Nop()
	}
	return &Executor{log: log, runID: runID, lg: lg}
}

// Do returns the committed result of step name, or runs fn and commits its
// result. Errors from fn are returned wrapped with the step name.
func Do[T any](ctx context.Context, e *Executor, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, ok, err := e.log.LoadStep(ctx, e.runID, name)
	if err != nil {
		return zero, fmt.Errorf("load step %q: %w", name, err)
	}
	if ok {
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, fmt.Errorf("decode step %q: %w", name, err)
		}
		e.lg.Debugf("step %q replayed from log", name)
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	out, err := fn(ctx)
	if err != nil {
		return zero, fmt.Errorf("step %q: %w", name, err)
	}
	raw, err = json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("encode step %q: %w", name, err)
	}
	if err := e.log.SaveStep(ctx, e.runID, name, raw); err != nil {
		return zero, fmt.Errorf("save step %q: %w", name, err)
	}
	e.lg.Debugf("step %q committed", name)
	return out, nil
}

// MemoryLog is an in-process Log. It does not survive a restart.
type MemoryLog struct {
	mu    sync.RWMutex
	steps map[string]map[string][]byte
	// run id -> time of the run's latest commit
	touched map[string]time.Time
	now     func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		steps:   make(map[string]map[string][]byte),
		touched: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryLog) LoadStep(_ context.Context, runID, name string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.steps[runID][name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), raw...), true, nil
}

func (m *MemoryLog) SaveStep(_ context.Context, runID, name string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.steps[runID]
	if !ok {
		run = make(map[string][]byte)
		m.steps[runID] = run
	}
	if _, exists := run[name]; !exists {
		run[name] = append([]byte(nil), result...)
		m.touched[runID] = m.now()
	}
	return nil
}

func (m *MemoryLog) PruneSteps(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for runID := range m.steps {
		if m.touched[runID].Before(before) {
			delete(m.steps, runID)
			delete(m.touched, runID)
			pruned++
		}
	}
	return pruned, nil
}

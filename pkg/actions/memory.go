// pkg/actions/memory.go
package actions

import (
	"context"
	"sync"
	"time"
)

// RecordingExecutor records action invocations and fails the actions it is
// told to. Used by tests and the dev profile.
type RecordingExecutor struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	failAll  error
}

func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{failures: make(map[string]error)}
}

// FailAction makes the named action return err on every run.
func (e *RecordingExecutor) FailAction(action string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[action] = err
}

// FailAll makes every action return err.
func (e *RecordingExecutor) FailAll(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAll = err
}

func (e *RecordingExecutor) RunAction(_ context.Context, action string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, action)
	if e.failAll != nil {
		return e.failAll
	}
	if err, ok := e.failures[action]; ok {
		return err
	}
	return nil
}

// Calls returns the actions run so far, in order.
func (e *RecordingExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// TrafficShift records one actuator invocation.
type TrafficShift struct {
	DeploymentID string
	Percentage   float64
}

// RecordingActuator records traffic shifts. Used by tests and the dev profile.
type RecordingActuator struct {
	mu     sync.Mutex
	shifts []TrafficShift
	err    error
}

func NewRecordingActuator() *RecordingActuator {
	return &RecordingActuator{}
}

// Fail makes every shift return err.
func (a *RecordingActuator) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *RecordingActuator) ShiftTraffic(_ context.Context, deploymentID string, percentage float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shifts = append(a.shifts, TrafficShift{DeploymentID: deploymentID, Percentage: percentage})
	return a.err
}

// Shifts returns the recorded traffic shifts, in order.
func (a *RecordingActuator) Shifts() []TrafficShift {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TrafficShift, len(a.shifts))
	copy(out, a.shifts)
	return out
}

// Package engine implements stack convergence: comparing the desired
// service graph against the containers the engine is actually running and
// applying the difference.
package engine

import (
	"fmt"
	"time"
)

// ActionType represents the type of convergence action.
type ActionType string

const (
	// ActionCreate indicates a container will be/was created and started.
	ActionCreate ActionType = "create"
	// ActionRecreate indicates a stale container will be/was replaced.
	ActionRecreate ActionType = "recreate"
	// ActionStart indicates an existing stopped container will be/was started.
	ActionStart ActionType = "start"
	// ActionStop indicates a container will be/was stopped.
	ActionStop ActionType = "stop"
	// ActionRemove indicates a container will be/was removed.
	ActionRemove ActionType = "remove"
	// ActionSkip indicates a service already matched the descriptor.
	ActionSkip ActionType = "skip"
)

// ActionStatus represents the outcome of an action.
type ActionStatus string

const (
	// StatusSuccess indicates the action completed successfully.
	StatusSuccess ActionStatus = "success"
	// StatusFailed indicates the action failed.
	StatusFailed ActionStatus = "failed"
	// StatusSkipped indicates no change was needed.
	StatusSkipped ActionStatus = "skipped"
)

// Action represents a single convergence step on one service.
type Action struct {
	Type    ActionType
	Status  ActionStatus
	Service string

	// ContainerID is set when the action touched a concrete container.
	ContainerID string

	// Error contains the error message if Status is StatusFailed.
	Error string

	// DryRun indicates this action was planned but not executed.
	DryRun bool
}

// String returns a human-readable representation of the action.
func (a Action) String() string {
	status := string(a.Status)
	if a.DryRun && a.Status == StatusSuccess {
		status = "dry-run"
	}
	if a.Error != "" {
		return fmt.Sprintf("[%s] %s %s: %s", status, a.Type, a.Service, a.Error)
	}
	return fmt.Sprintf("[%s] %s %s", status, a.Type, a.Service)
}

// Result holds the complete outcome of a convergence run.
type Result struct {
	StartTime time.Time
	EndTime   time.Time

	// ContainersScanned is the number of managed containers examined.
	ContainersScanned int

	// Actions contains all convergence actions taken (or planned in dry-run).
	Actions []Action

	// DryRun indicates no changes were applied.
	DryRun bool
}

// NewResult creates a Result with the start time set to now.
func NewResult(dryRun bool) *Result {
	return &Result{
		StartTime: time.Now(),
		Actions:   make([]Action, 0),
		DryRun:    dryRun,
	}
}

// Complete marks the result as complete.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// AddAction appends an action to the result.
func (r *Result) AddAction(a Action) {
	a.DryRun = r.DryRun
	r.Actions = append(r.Actions, a)
}

func (r *Result) countType(t ActionType) int {
	n := 0
	for _, a := range r.Actions {
		if a.Type == t && a.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// CreatedCount returns successful create and recreate actions.
func (r *Result) CreatedCount() int {
	return r.countType(ActionCreate) + r.countType(ActionRecreate)
}

// RemovedCount returns successful remove actions.
func (r *Result) RemovedCount() int {
	return r.countType(ActionRemove)
}

// FailedCount returns failed actions.
func (r *Result) FailedCount() int {
	n := 0
	for _, a := range r.Actions {
		if a.Status == StatusFailed {
			n++
		}
	}
	return n
}

// SkippedCount returns services that needed no change.
func (r *Result) SkippedCount() int {
	n := 0
	for _, a := range r.Actions {
		if a.Type == ActionSkip {
			n++
		}
	}
	return n
}

// Err returns an error summarizing failures, or nil if everything
// succeeded.
func (r *Result) Err() error {
	failed := r.FailedCount()
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d convergence actions failed", failed, len(r.Actions))
}

package types

import "time"

// StepStatus tracks one step through execution.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusSucceeded StepStatus = "succeeded"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusRetried   StepStatus = "retried" // succeeded after at least one retry
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusRetried:
		return true
	}
	return false
}

// OK reports whether the step's effect happened.
func (s StepStatus) OK() bool {
	return s == StatusSucceeded || s == StatusRetried
}

// ErrorKind classifies failures across the pipeline.
type ErrorKind string

const (
	ErrNone                   ErrorKind = ""
	ErrInputAmbiguous         ErrorKind = "input_ambiguous"
	ErrMissingInformation     ErrorKind = "missing_information"
	ErrModelUnavailable       ErrorKind = "model_unavailable"
	ErrExpansionBoundExceeded ErrorKind = "expansion_bound_exceeded"
	ErrTimeout                ErrorKind = "timeout"
	ErrResourceBusy           ErrorKind = "resource_busy"
	ErrRateLimited            ErrorKind = "rate_limited"
	ErrPermissionDenied       ErrorKind = "permission_denied"
	ErrInvalidPath            ErrorKind = "invalid_path"
	ErrNotFound               ErrorKind = "not_found"
	ErrAlreadyExists          ErrorKind = "already_exists"
	ErrUnsupportedOperation   ErrorKind = "unsupported_operation"
	ErrCancelled              ErrorKind = "cancelled"
	ErrDependencyFailed       ErrorKind = "dependency_failed"
	ErrUnknown                ErrorKind = "unknown"
)

// Transient reports whether a retry may succeed.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrTimeout, ErrResourceBusy, ErrRateLimited:
		return true
	}
	return false
}

// StepResult is the final record of one step.
type StepResult struct {
	Index     int           `json:"index"`
	Operation Operation     `json:"operation"`
	Status    StepStatus    `json:"status"`
	Attempts  int           `json:"attempts"`
	Output    string        `json:"output,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ExecutionResult is the aggregate report of a plan run.
// Steps is ordered by step index and covers every step of the plan.
type ExecutionResult struct {
	PlanID    string        `json:"plan_id"`
	Steps     []StepResult  `json:"steps"`
	Succeeded int           `json:"succeeded"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Statuses returns the per-step status sequence in index order.
func (r ExecutionResult) Statuses() []StepStatus {
	out := make([]StepStatus, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Status
	}
	return out
}

// OK reports whether every step's effect happened.
func (r ExecutionResult) OK() bool {
	return r.Failed == 0 && r.Skipped == 0 && !r.Cancelled
}

// Package tactile performs task steps against the operating system: the OS
// adapters, error classification and the dependency-aware executor.
package tactile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/grim-sudo/Automation/internal/types"
)

// OSAdapter performs one operation. Implementations must be safe to call
// again for the same step after a transient failure.
type OSAdapter interface {
	Perform(ctx context.Context, op types.Operation, params map[string]string) (string, error)
}

// OpError is an adapter failure with its classification.
type OpError struct {
	Kind types.ErrorKind
	Op   types.Operation
	Path string
	Err  error
}

func (e *OpError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Op))
	if e.Path != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Path)
	}
	sb.WriteString(": ")
	if e.Err != nil {
		sb.WriteString(e.Err.Error())
	} else {
		sb.WriteString(string(e.Kind))
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *OpError) Unwrap() error {
	return e.Err
}

var (
	// ErrOutsideSandbox is returned for paths that escape the working directory.
	ErrOutsideSandbox = errors.New("path escapes the working directory")
	// ErrNotAllowed is returned for binaries missing from the allowlist.
	ErrNotAllowed = errors.New("binary is not in the allowlist")
)

// ClassifyError maps an adapter error to an ErrorKind. Typed errors are
// checked first, then the message text.
func ClassifyError(err error) types.ErrorKind {
	if err == nil {
		return types.ErrNone
	}

	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Kind != types.ErrNone && opErr.Kind != types.ErrUnknown {
		return opErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return types.ErrTimeout
	case errors.Is(err, context.Canceled):
		return types.ErrCancelled
	case errors.Is(err, ErrOutsideSandbox), errors.Is(err, ErrNotAllowed), errors.Is(err, os.ErrPermission):
		return types.ErrPermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return types.ErrNotFound
	case errors.Is(err, os.ErrExist):
		return types.ErrAlreadyExists
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.ETXTBSY), errors.Is(err, syscall.EAGAIN):
		return types.ErrResourceBusy
	case errors.Is(err, syscall.ENAMETOOLONG), errors.Is(err, syscall.EINVAL), errors.Is(err, syscall.ENOTDIR):
		return types.ErrInvalidPath
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "rate limit", "429", "too many requests"):
		return types.ErrRateLimited
	case containsAny(errStr, "timeout", "timed out", "deadline"):
		return types.ErrTimeout
	case containsAny(errStr, "busy", "locked", "temporarily unavailable", "try again"):
		return types.ErrResourceBusy
	case containsAny(errStr, "permission", "denied", "not permitted"):
		return types.ErrPermissionDenied
	case containsAny(errStr, "no such", "not found", "does not exist"):
		return types.ErrNotFound
	case containsAny(errStr, "invalid", "illegal", "bad path"):
		return types.ErrInvalidPath
	case containsAny(errStr, "unsupported", "not supported", "unknown operation"):
		return types.ErrUnsupportedOperation
	}
	return types.ErrUnknown
}

// containsAny returns true if s contains any of the patterns.
func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Remediation returns short user guidance for a failure kind.
func Remediation(kind types.ErrorKind) []string {
	guides := map[types.ErrorKind][]string{
		types.ErrPermissionDenied: {
			"Keep paths inside the working directory",
			"Add the binary to execution.allowed_binaries",
		},
		types.ErrNotFound: {
			"Check the path exists",
			"List the parent folder to see what is there",
		},
		types.ErrAlreadyExists: {
			"Pick a different name or delete the existing item",
		},
		types.ErrInvalidPath: {
			"Avoid reserved characters in names",
		},
		types.ErrTimeout: {
			"Increase execution.step_timeout",
			"Split the command into smaller steps",
		},
		types.ErrResourceBusy: {
			"Close programs holding the file and try again",
		},
		types.ErrUnsupportedOperation: {
			"Try help for the list of supported commands",
		},
	}
	if steps, ok := guides[kind]; ok {
		return steps
	}
	return []string{"Check the logs for more details"}
}

func opErr(op types.Operation, path string, kind types.ErrorKind, err error) *OpError {
	if kind == types.ErrNone {
		kind = ClassifyError(err)
	}
	return &OpError{Kind: kind, Op: op, Path: path, Err: err}
}

func unsupported(op types.Operation) error {
	return &OpError{Kind: types.ErrUnsupportedOperation, Op: op, Err: fmt.Errorf("unsupported operation %q", op)}
}

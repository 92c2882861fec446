package tactile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/grim-sudo/Automation/internal/types"
)

// Call is one operation recorded by the DryRunAdapter.
type Call struct {
	Op     types.Operation
	Params map[string]string
}

// DryRunAdapter records operations instead of performing them.
type DryRunAdapter struct {
	mu    sync.Mutex
	calls []Call
}

// NewDryRunAdapter creates an empty recorder.
func NewDryRunAdapter() *DryRunAdapter {
	return &DryRunAdapter{}
}

// Perform records the call and reports what would have happened.
func (d *DryRunAdapter) Perform(ctx context.Context, op types.Operation, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", opErr(op, "", types.ErrNone, err)
	}
	cp := make(map[string]string, len(params))
	keys := make([]string, 0, len(params))
	for k, v := range params {
		cp[k] = v
		if k != "content" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	d.mu.Lock()
	d.calls = append(d.calls, Call{Op: op, Params: cp})
	d.mu.Unlock()

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return fmt.Sprintf("dry-run: %s %s", op, strings.Join(parts, " ")), nil
}

// Calls returns the recorded operations in call order.
func (d *DryRunAdapter) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

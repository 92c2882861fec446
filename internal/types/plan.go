package types

import (
	"fmt"
	"sort"
	"strings"
)

// Operation names an action understood by an OS adapter.
type Operation string

const (
	OpCreateFolder Operation = "create_folder"
	OpCreateFile   Operation = "create_file"
	OpWriteContent Operation = "write_content"
	OpDeletePath   Operation = "delete_path"
	OpMovePath     Operation = "move_path"
	OpCopyPath     Operation = "copy_path"
	OpRenamePath   Operation = "rename_path"
	OpListPath     Operation = "list_path"
	OpAnalyzePath  Operation = "analyze_path"
	OpRunCommand   Operation = "run_command"
	OpSetConfig    Operation = "set_config"
	OpShowHelp     Operation = "show_help"
)

// TaskStep is one atomic operation of a plan.
type TaskStep struct {
	Index       int               `json:"index"`
	Operation   Operation         `json:"operation"`
	Params      map[string]string `json:"params,omitempty"`
	DependsOn   []int             `json:"depends_on,omitempty"`
	Description string            `json:"description,omitempty"`
}

// Param returns a parameter value or "".
func (s TaskStep) Param(key string) string {
	return s.Params[key]
}

// String renders the step for display.
func (s TaskStep) String() string {
	if s.Description != "" {
		return fmt.Sprintf("#%d %s", s.Index, s.Description)
	}
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		if k == "content" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s.Params[k])
	}
	return fmt.Sprintf("#%d %s %s", s.Index, s.Operation, strings.Join(parts, " "))
}

// TaskPlan is the ordered output of the planner.
// Step indices are strictly increasing from 0 and every dependency points to
// an earlier step.
type TaskPlan struct {
	ID                string     `json:"id"`
	Intent            Intent     `json:"intent"`
	Steps             []TaskStep `json:"steps"`
	ExpansionBoundHit bool       `json:"expansion_bound_hit,omitempty"`
	Requested         int        `json:"requested"`
	Segments          int        `json:"segments"`
}

// Empty reports whether the plan has nothing to run.
func (p TaskPlan) Empty() bool {
	return len(p.Steps) == 0
}

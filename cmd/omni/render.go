package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/grim-sudo/Automation/internal/session"
	"github.com/grim-sudo/Automation/internal/store"
	"github.com/grim-sudo/Automation/internal/types"
)

// maxListedSteps bounds how many steps a plan or report prints in full.
const maxListedSteps = 20

// showsOutput marks operations whose output is the point of running them.
var showsOutput = map[types.Operation]bool{
	types.OpListPath:    true,
	types.OpAnalyzePath: true,
	types.OpRunCommand:  true,
	types.OpShowHelp:    true,
}

// renderer writes turn results to the terminal.
type renderer struct {
	out     io.Writer
	verbose bool
}

func newRenderer(out io.Writer, verbose bool) *renderer {
	return &renderer{out: out, verbose: verbose}
}

// Turn prints whatever the turn produced.
func (r *renderer) Turn(res *session.TurnResult) {
	var sb strings.Builder

	for _, c := range res.Corrections {
		fmt.Fprintf(&sb, "%s %s -> %s\n", color.HiBlackString("corrected"), c.Original, c.Corrected)
	}
	if res.Escalated {
		sb.WriteString(color.HiBlackString("(asked the model)\n"))
	}
	for _, w := range res.Warnings {
		sb.WriteString(color.YellowString("warning: %s", w) + "\n")
	}

	switch {
	case res.Clarification != nil:
		r.clarification(&sb, res.Clarification)
	case res.Report != nil:
		r.report(&sb, res.Plan, res.Report)
	case res.Plan != nil:
		r.plan(&sb, res.Plan)
	}

	if r.verbose {
		fmt.Fprintf(&sb, "%s\n", color.HiBlackString("session %s turn %d (%s)",
			res.SessionID, res.Turn, res.Duration.Round(time.Millisecond)))
	}
	io.WriteString(r.out, sb.String())
}

func (r *renderer) clarification(sb *strings.Builder, c *types.ClarificationRequest) {
	if c.Reason == types.ErrCancelled {
		sb.WriteString(color.HiBlackString("%s", c.Question) + "\n")
		return
	}
	sb.WriteString(color.CyanString("? ") + c.Question + "\n")
	for i, cand := range c.Candidates {
		fmt.Fprintf(sb, "  %d) %s\n", i+1, cand.Label)
	}
}

func (r *renderer) plan(sb *strings.Builder, p *types.TaskPlan) {
	fmt.Fprintf(sb, "%s %d step(s)\n", color.CyanString("Plan"), len(p.Steps))
	for i, s := range p.Steps {
		if i == maxListedSteps {
			fmt.Fprintf(sb, "  ... %d more\n", len(p.Steps)-i)
			break
		}
		deps := ""
		if len(s.DependsOn) > 0 {
			deps = color.HiBlackString(" after %v", s.DependsOn)
		}
		fmt.Fprintf(sb, "  %s%s\n", s, deps)
	}
}

func (r *renderer) report(sb *strings.Builder, p *types.TaskPlan, rep *types.ExecutionResult) {
	listed := 0
	for _, s := range rep.Steps {
		// successes are summarized unless verbose
		if s.Status.OK() && !r.verbose && !showsOutput[s.Operation] {
			continue
		}
		if listed == maxListedSteps {
			sb.WriteString("  ...\n")
			break
		}
		listed++
		r.stepLine(sb, p, s)
	}

	summary := fmt.Sprintf("%d succeeded, %d retried, %d failed, %d skipped in %s",
		rep.Succeeded, rep.Retried, rep.Failed, rep.Skipped, rep.Duration.Round(time.Millisecond))
	switch {
	case rep.Cancelled:
		sb.WriteString(color.YellowString("cancelled: ") + summary + "\n")
	case rep.OK():
		sb.WriteString(color.GreenString("done: ") + summary + "\n")
	default:
		sb.WriteString(color.RedString("failed: ") + summary + "\n")
	}
}

func (r *renderer) stepLine(sb *strings.Builder, p *types.TaskPlan, s types.StepResult) {
	var marker string
	switch s.Status {
	case types.StatusSucceeded:
		marker = color.GreenString("✓")
	case types.StatusRetried:
		marker = color.YellowString("↻")
	case types.StatusSkipped:
		marker = color.HiBlackString("-")
	default:
		marker = color.RedString("✗")
	}

	label := string(s.Operation)
	if p != nil && s.Index < len(p.Steps) {
		label = p.Steps[s.Index].String()
	}
	fmt.Fprintf(sb, "%s %s", marker, label)
	if s.Attempts > 1 {
		sb.WriteString(color.HiBlackString(" (%d attempts)", s.Attempts))
	}
	sb.WriteString("\n")

	if s.Error != "" {
		fmt.Fprintf(sb, "    %s\n", color.RedString("%s: %s", s.ErrorKind, s.Error))
	}
	if s.Output != "" && s.Status.OK() {
		for _, line := range strings.Split(strings.TrimRight(s.Output, "\n"), "\n") {
			fmt.Fprintf(sb, "    %s\n", line)
		}
	}
}

// Checkpoints prints stored snapshots.
func (r *renderer) Checkpoints(infos []store.SnapshotInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(r.out, "No checkpoints")
		return
	}
	for _, in := range infos {
		fmt.Fprintf(r.out, "%s  turn %d  %s\n", in.ID, in.Turn, color.HiBlackString(in.CreatedAt.Format(time.DateTime)))
	}
}

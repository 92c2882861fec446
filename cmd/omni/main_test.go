package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/session"
	"github.com/grim-sudo/Automation/internal/types"
)

// setup points the CLI globals at a fresh workspace with no model.
func setup(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()

	color.NoColor = true
	logger = zap.NewNop()
	timeout = 10 * time.Second
	verbose, dryRun, sessionID = false, false, ""

	cfg = config.DefaultConfig()
	cfg.LLM.Enabled = false
	cfg.Execution.WorkingDirectory = ws
	cfg.Execution.RetryBackoffBase = "1ms"
	cfg.Execution.RetryBackoffMax = "2ms"

	t.Cleanup(func() {
		sessionID = ""
		dryRun = false
	})
	return ws
}

func testCmd(in string) (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(in))
	return cmd, &out
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "create a folder", joinArgs([]string{"create", "a", "folder"}))
}

func TestRunTurn_CreatesFolder(t *testing.T) {
	ws := setup(t)
	cmd, out := testCmd("")

	err := runTurn(cmd, []string{"creat", "a", "folder", "named", "reports"}, false)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(ws, "reports"))
	assert.Contains(t, out.String(), "corrected creat -> create")
	assert.Contains(t, out.String(), "done: 1 succeeded")
}

func TestRunTurn_PlanOnly(t *testing.T) {
	ws := setup(t)
	cmd, out := testCmd("")

	err := runTurn(cmd, []string{"create 3 folders named a1 to a3"}, true)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Plan 3 step(s)")
	assert.NoDirExists(t, filepath.Join(ws, "a1"))
}

func TestRunTurn_DryRunTouchesNothing(t *testing.T) {
	ws := setup(t)
	dryRun = true
	cmd, out := testCmd("")

	require.NoError(t, runTurn(cmd, []string{"create a folder named ghost"}, false))

	assert.NoDirExists(t, filepath.Join(ws, "ghost"))
	assert.Contains(t, out.String(), "dry-run: create_folder kind=folder path=ghost")
}

func TestRunTurn_SessionSpansInvocations(t *testing.T) {
	ws := setup(t)
	sessionID = "work"

	cmd, out := testCmd("")
	require.NoError(t, runTurn(cmd, []string{"create test"}, false))
	assert.Contains(t, out.String(), "? ")
	assert.NoDirExists(t, filepath.Join(ws, "test"))

	cmd, out = testCmd("")
	require.NoError(t, runTurn(cmd, []string{"folder"}, false))
	assert.Contains(t, out.String(), "done:")
	assert.DirExists(t, filepath.Join(ws, "test"))
	assert.FileExists(t, filepath.Join(ws, ".omni", "sessions.db"))
}

func TestRunTurn_FailureIsAnError(t *testing.T) {
	ws := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "alpha"), []byte("x"), 0644))
	cmd, out := testCmd("")

	err := runTurn(cmd, []string{"create a folder named alpha"}, false)
	require.Error(t, err)
	assert.Contains(t, out.String(), "failed:")
}

func TestListSessions(t *testing.T) {
	setup(t)
	sessionID = "work"

	cmd, _ := testCmd("")
	require.NoError(t, runTurn(cmd, []string{"create a folder named one"}, false))

	cmd, out := testCmd("")
	require.NoError(t, listSessions(cmd, []string{"work"}))
	assert.Contains(t, out.String(), "turn 1")

	cmd, out = testCmd("")
	require.NoError(t, listSessions(cmd, []string{"nobody"}))
	assert.Contains(t, out.String(), "No checkpoints")
}

func TestChat(t *testing.T) {
	ws := setup(t)
	script := strings.Join([]string{
		"create a folder named notes",
		":plan create a folder named later",
		":checkpoint",
		":sessions",
		":bogus",
		":quit",
		"create a folder named never",
	}, "\n")
	cmd, out := testCmd(script)

	require.NoError(t, runChat(cmd, nil))

	got := out.String()
	assert.DirExists(t, filepath.Join(ws, "notes"))
	assert.NoDirExists(t, filepath.Join(ws, "later"))
	assert.NoDirExists(t, filepath.Join(ws, "never"))
	assert.Contains(t, got, "Plan 1 step(s)")
	assert.Contains(t, got, "Saved checkpoint")
	assert.Contains(t, got, "turn 2")
	assert.Contains(t, got, "Unknown command :bogus")
}

func TestChat_RestoreUnknown(t *testing.T) {
	setup(t)
	cmd, out := testCmd(":restore nope\n")

	require.NoError(t, runChat(cmd, nil))
	assert.Contains(t, out.String(), "restore failed")
}

func TestRenderer_Clarification(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	newRenderer(&out, false).Turn(&session.TurnResult{
		Clarification: &types.ClarificationRequest{
			Question: "Should test be a folder or a file?",
			Reason:   types.ErrInputAmbiguous,
			Candidates: []types.Candidate{
				{Label: "folder test"},
				{Label: "file test"},
			},
		},
		Warnings: []string{"plan truncated"},
	})

	want := "warning: plan truncated\n? Should test be a folder or a file?\n  1) folder test\n  2) file test\n"
	assert.Equal(t, want, out.String())
}

func TestRenderer_ReportListsFailuresAndOutput(t *testing.T) {
	color.NoColor = true
	plan := &types.TaskPlan{Steps: []types.TaskStep{
		{Index: 0, Operation: types.OpCreateFolder, Params: map[string]string{"path": "a"}},
		{Index: 1, Operation: types.OpListPath, Params: map[string]string{"path": "."}},
		{Index: 2, Operation: types.OpCreateFolder, Params: map[string]string{"path": "b"}},
	}}
	rep := &types.ExecutionResult{
		Steps: []types.StepResult{
			{Index: 0, Operation: types.OpCreateFolder, Status: types.StatusSucceeded, Attempts: 1},
			{Index: 1, Operation: types.OpListPath, Status: types.StatusSucceeded, Attempts: 1, Output: "a/\n"},
			{Index: 2, Operation: types.OpCreateFolder, Status: types.StatusFailed, Attempts: 4,
				ErrorKind: types.ErrResourceBusy, Error: "busy"},
		},
		Succeeded: 2,
		Failed:    1,
	}

	var out bytes.Buffer
	newRenderer(&out, false).Turn(&session.TurnResult{Plan: plan, Report: rep})

	got := out.String()
	assert.NotContains(t, got, "path=a\n")
	assert.Contains(t, got, "✓ #1 list_path path=.\n    a/\n")
	assert.Contains(t, got, "✗ #2 create_folder path=b (4 attempts)\n    resource_busy: busy\n")
	assert.Contains(t, got, "failed: 2 succeeded, 0 retried, 1 failed, 0 skipped")
}

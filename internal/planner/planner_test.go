package planner

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/perception"
	"github.com/grim-sudo/Automation/internal/types"
)

func newPlanner(cap int) *Planner {
	return New(config.PlannerConfig{SafetyCap: cap, DefaultLocation: "."})
}

func parse(text string) types.ParseResult {
	return perception.NewTransducer(perception.DefaultLexicon()).Parse(types.CorrectedCommand{Text: text})
}

// ignoreDescriptions keeps step comparisons focused on operations and wiring.
var ignoreDescriptions = cmpopts.IgnoreFields(types.TaskStep{}, "Description")

func TestPlan_SingleNamedFolder(t *testing.T) {
	plan := newPlanner(0).Plan(parse("create a folder named test"))

	want := []types.TaskStep{
		{Index: 0, Operation: types.OpCreateFolder, Params: map[string]string{"path": "test", "kind": "folder"}},
	}
	if diff := cmp.Diff(want, plan.Steps, ignoreDescriptions); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, plan.ExpansionBoundHit)
	assert.Equal(t, 1, plan.Requested)
	assert.NotEmpty(t, plan.ID)
}

func TestPlan_ParentWithNestedRange(t *testing.T) {
	plan := newPlanner(0).Plan(parse("create folder called tables and in that create 10 folders called table 1 to table 10"))

	require.Len(t, plan.Steps, 11)
	assert.Equal(t, "tables", plan.Steps[0].Param("path"))
	assert.Empty(t, plan.Steps[0].DependsOn)
	for i := 1; i <= 10; i++ {
		s := plan.Steps[i]
		assert.Equal(t, types.OpCreateFolder, s.Operation)
		assert.Equal(t, "tables/table "+strconv.Itoa(i), s.Param("path"))
		assert.Equal(t, []int{0}, s.DependsOn)
	}
}

func planPaths(p types.TaskPlan) []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.Param("path"))
	}
	return out
}

func TestPlan_NameListSuppliesCountNames(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"list matches count", "create 3 folders named x, y and z", []string{"x", "y", "z"}},
		{"single name numbered", "create 3 folders named test", []string{"test1", "test2", "test3"}},
		{"single file name numbered", "create 2 files named notes.md", []string{"notes1.md", "notes2.md"}},
		{"short list padded", "create 4 files named a.txt and b.txt", []string{"a.txt", "b.txt", "file3", "file4"}},
		{"long list wins", "create 2 folders named x, y and z", []string{"x", "y", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := newPlanner(0).Plan(parse(tt.text))
			assert.Equal(t, tt.want, planPaths(plan))
		})
	}
}

func TestPlan_ExpansionLaw(t *testing.T) {
	plan := newPlanner(10000).Plan(parse("create 100 folders named test1 to test100 and in each create 15 files"))

	require.Len(t, plan.Steps, 1600)
	assert.False(t, plan.ExpansionBoundHit)
	assert.Equal(t, 1600, plan.Requested)

	parents := 0
	var parent types.TaskStep
	for i, s := range plan.Steps {
		assert.Equal(t, i, s.Index)
		switch s.Operation {
		case types.OpCreateFolder:
			parents++
			parent = s
			assert.Empty(t, s.DependsOn)
			assert.Equal(t, "test"+strconv.Itoa(parents), s.Param("path"))
		case types.OpCreateFile:
			require.Equal(t, []int{parent.Index}, s.DependsOn, "step %d", i)
			assert.True(t, strings.HasPrefix(s.Param("path"), parent.Param("path")+"/"))
		default:
			t.Fatalf("unexpected operation %s", s.Operation)
		}
	}
	assert.Equal(t, 100, parents)
	assert.Equal(t, "test1/file1", plan.Steps[1].Param("path"))
	assert.Equal(t, "test1/file15", plan.Steps[15].Param("path"))
	assert.Equal(t, "test2", plan.Steps[16].Param("path"))
}

func TestPlan_SafetyCapTruncates(t *testing.T) {
	plan := newPlanner(50).Plan(parse("create 100 folders named test1 to test100 and in each create 15 files"))

	assert.Len(t, plan.Steps, 50)
	assert.True(t, plan.ExpansionBoundHit)
	assert.Equal(t, 1600, plan.Requested)
	for _, s := range plan.Steps {
		for _, d := range s.DependsOn {
			assert.Less(t, d, s.Index)
		}
	}
}

func TestPlan_HugeQuantityDoesNotOverflow(t *testing.T) {
	p := types.ParseResult{
		Intent: types.IntentCreate,
		Entities: []types.Entity{
			{Kind: types.KindQuantity, Quantity: &types.Quantity{Count: math.MaxInt / 2, Unit: types.KindFolder}},
			{Kind: types.KindQuantity, Depth: 1, Role: types.RoleNested, Quantity: &types.Quantity{Count: 1000, Unit: types.KindFile}},
		},
	}
	plan := newPlanner(100).Plan(p)

	assert.Len(t, plan.Steps, 100)
	assert.True(t, plan.ExpansionBoundHit)
	assert.Equal(t, math.MaxInt, plan.Requested)
}

func TestPlan_ExactlyAtCapIsNotTruncated(t *testing.T) {
	plan := newPlanner(5).Plan(parse("create 5 folders named a1 to a5"))
	assert.Len(t, plan.Steps, 5)
	assert.False(t, plan.ExpansionBoundHit)
}

func TestPlan_MultiplicationTablePerItem(t *testing.T) {
	plan := newPlanner(0).Plan(parse("create 3 files named t1.txt to t3.txt and write multiplication table of each number"))

	ops := make([]types.Operation, len(plan.Steps))
	for i, s := range plan.Steps {
		ops[i] = s.Operation
	}
	want := []types.Operation{
		types.OpCreateFile, types.OpWriteContent,
		types.OpCreateFile, types.OpWriteContent,
		types.OpCreateFile, types.OpWriteContent,
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("operations mismatch (-want +got):\n%s", diff)
	}

	write := plan.Steps[3]
	assert.Equal(t, "t2.txt", write.Param("path"))
	assert.Equal(t, "2", write.Param("number"))
	assert.Equal(t, []int{2}, write.DependsOn)
	assert.Equal(t, MultiplicationTableText(2), write.Param("content"))
}

func TestPlan_FixedTableNumber(t *testing.T) {
	plan := newPlanner(0).Plan(parse("create a file named table.txt containing multiplication table of 7"))

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "7", plan.Steps[1].Param("number"))
	assert.Contains(t, plan.Steps[1].Param("content"), "7 x 10 = 70")
}

func TestMultiplicationTableText(t *testing.T) {
	text := MultiplicationTableText(3)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	require.Len(t, lines, 12)
	assert.Equal(t, "Multiplication Table of 3", lines[0])
	assert.Equal(t, strings.Repeat("=", 40), lines[1])
	assert.Equal(t, "3 x 1 = 3", lines[2])
	assert.Equal(t, "3 x 10 = 30", lines[11])
}

func TestPlan_LocationPrefixesPaths(t *testing.T) {
	plan := newPlanner(0).Plan(parse("please create a file named notes.txt in docs"))

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, types.OpCreateFile, plan.Steps[0].Operation)
	assert.Equal(t, "docs/notes.txt", plan.Steps[0].Param("path"))
}

func TestPlan_OtherIntents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []types.TaskStep
	}{
		{
			name:  "move",
			input: "move draft.txt to archive",
			want: []types.TaskStep{{Operation: types.OpMovePath,
				Params: map[string]string{"source": "draft.txt", "destination": "archive"}}},
		},
		{
			name:  "run",
			input: "run ls -la",
			want: []types.TaskStep{{Operation: types.OpRunCommand,
				Params: map[string]string{"command": "ls", "args": "-la", "dir": "."}}},
		},
		{
			name:  "configure",
			input: "set verbose to true",
			want: []types.TaskStep{{Operation: types.OpSetConfig,
				Params: map[string]string{"key": "verbose", "value": "true"}}},
		},
		{
			name:  "list",
			input: "list files",
			want: []types.TaskStep{{Operation: types.OpListPath,
				Params: map[string]string{"path": "."}}},
		},
		{
			name:  "help",
			input: "help",
			want:  []types.TaskStep{{Operation: types.OpShowHelp, Params: map[string]string{}}},
		},
		{
			name:  "delete range",
			input: "delete folders a1 to a3",
			want: []types.TaskStep{
				{Index: 0, Operation: types.OpDeletePath, Params: map[string]string{"path": "a1"}},
				{Index: 1, Operation: types.OpDeletePath, Params: map[string]string{"path": "a2"}},
				{Index: 2, Operation: types.OpDeletePath, Params: map[string]string{"path": "a3"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := newPlanner(0).Plan(parse(tt.input))
			if diff := cmp.Diff(tt.want, plan.Steps, ignoreDescriptions); diff != "" {
				t.Errorf("steps mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlan_UnknownIsEmpty(t *testing.T) {
	plan := newPlanner(0).Plan(types.ParseResult{Intent: types.IntentUnknown})
	assert.True(t, plan.Empty())
}

func TestPlanSegments_ContinuousIndices(t *testing.T) {
	pl := newPlanner(0)
	plan := pl.PlanSegments([]types.ParseResult{
		parse("create folder called tables and in that create 2 folders called t1 to t2"),
		parse("create a folder named docs"),
	})

	assert.Equal(t, 2, plan.Segments)
	assert.Equal(t, types.IntentCreate, plan.Intent)
	require.Len(t, plan.Steps, 4)
	for i, s := range plan.Steps {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, []int{0}, plan.Steps[2].DependsOn)
	assert.Equal(t, "docs", plan.Steps[3].Param("path"))
	assert.Empty(t, plan.Steps[3].DependsOn)
}

func TestPlanSegments_CapSpansSegments(t *testing.T) {
	pl := newPlanner(3)
	plan := pl.PlanSegments([]types.ParseResult{
		parse("create 2 folders named a1 to a2"),
		parse("create 2 folders named b1 to b2"),
	})

	assert.Len(t, plan.Steps, 3)
	assert.True(t, plan.ExpansionBoundHit)
	assert.Equal(t, 4, plan.Requested)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grim-sudo/Automation/internal/conversation"
	"github.com/grim-sudo/Automation/internal/types"
)

func sampleContext(sessionID string, turns int) *conversation.Context {
	c := conversation.NewContext(sessionID)
	folders := types.Entity{
		Kind:     types.KindQuantity,
		Raw:      "10 folders",
		Span:     types.Span{Start: 7, End: 17},
		Quantity: &types.Quantity{Count: 10, Start: 1, End: 10, HasRange: true, Prefix: "test", Unit: types.KindFolder},
	}
	for i := 1; i <= turns; i++ {
		c.TurnIndex = i
		c.History = append(c.History, conversation.Entry{
			Turn: i,
			Text: "create 10 folders",
			Result: types.ParseResult{
				Text:       "create 10 folders",
				Intent:     types.IntentCreate,
				Verb:       "create",
				Entities:   []types.Entity{folders.Clone()},
				Confidence: 0.8,
				Strategy:   types.StrategyPattern,
				Tier:       1,
			},
			Outcome: conversation.OutcomeExecuted,
			PlanID:  "plan-1",
			At:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		})
	}
	c.Carried[types.KindFolder] = []types.Entity{folders.Clone()}
	c.LastTargets = []types.Entity{folders.Clone()}
	c.ActiveModel = "gpt-4o-mini"
	c.Pending = &conversation.Pending{
		Turn:   turns,
		Result: types.ParseResult{Text: "create test", Intent: types.IntentCreate, Ambiguous: []int{0}},
		Clarification: &types.ClarificationRequest{
			Question: "Should test be a folder or a file?",
		},
	}
	return c
}

func openStores(t *testing.T) map[string]SnapshotStore {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]SnapshotStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleContext("s1", 3)

			id, err := s.Save(ctx, want)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, err := s.Load(ctx, id)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSnapshotIsIsolatedFromLaterChanges(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := sampleContext("s1", 1)
			id, err := s.Save(ctx, c)
			require.NoError(t, err)

			c.History[0].Text = "changed"
			c.Carried[types.KindFolder][0].Quantity.Count = 99

			got, err := s.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "create 10 folders", got.History[0].Text)
			assert.Equal(t, 10, got.Carried[types.KindFolder][0].Quantity.Count)
		})
	}
}

func TestLoadUnknownID(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), "does-not-exist")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListNewestFirstPerSession(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Save(ctx, sampleContext("a", 1))
			require.NoError(t, err)
			_, err = s.Save(ctx, sampleContext("b", 1))
			require.NoError(t, err)
			second, err := s.Save(ctx, sampleContext("a", 2))
			require.NoError(t, err)

			infos, err := s.List(ctx, "a")
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, second, infos[0].ID)
			assert.Equal(t, 2, infos[0].Turn)
			assert.Equal(t, first, infos[1].ID)
			assert.Equal(t, "a", infos[1].SessionID)

			none, err := s.List(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	id, err := s.Save(ctx, sampleContext("s1", 2))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 2, got.TurnIndex)
	assert.Len(t, got.History, 2)
	require.NotNil(t, got.Pending)
	assert.Equal(t, "Should test be a folder or a file?", got.Pending.Clarification.Question)
	assert.Equal(t, path, reopened.Path())
}

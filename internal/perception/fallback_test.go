package perception

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/types"
)

// scriptedClient replays canned replies in order.
type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	systems []string
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	c.systems = append(c.systems, systemPrompt)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "still not json", nil
}

type slowClient struct{}

func (slowClient) CompleteWithSystem(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func newTestFallback(c LLMClient) *Fallback {
	return NewFallback(c, config.FallbackConfig{MaxRepairPasses: 3}, time.Second)
}

func localGuess() types.ParseResult {
	return parse("create test")
}

func TestFallback_AcceptsCleanReply(t *testing.T) {
	c := &scriptedClient{replies: []string{
		`{"intent":"create","verb":"create","confidence":0.9,"entities":[{"kind":"folder","value":"photos"}]}`,
	}}
	out := newTestFallback(c).Escalate(context.Background(), types.CorrectedCommand{Text: "make me a place for photos"}, "", localGuess())

	require.Equal(t, StateAccepted, out.State)
	require.NotNil(t, out.Result)
	assert.Equal(t, 0, out.Passes)
	assert.Equal(t, types.StrategyModel, out.Result.Strategy)
	assert.Equal(t, types.IntentCreate, out.Result.Intent)
	assert.Equal(t, ModelTier(0.9), out.Result.Tier)
	require.Len(t, out.Result.Entities, 1)
	assert.Equal(t, types.KindFolder, out.Result.Entities[0].Kind)
	assert.Nil(t, out.Clarification)
}

func TestFallback_RepairsFencedReply(t *testing.T) {
	c := &scriptedClient{replies: []string{
		"Sure:\n```json\n{\"intent\": \"delete\", \"confidence\": 0.7, \"entities\": [{\"kind\": \"path\", \"value\": \"tmp\"}]}\n```",
	}}
	out := newTestFallback(c).Escalate(context.Background(), types.CorrectedCommand{Text: "get rid of tmp"}, "", localGuess())

	require.Equal(t, StateAccepted, out.State)
	assert.Equal(t, 1, out.Passes)
	assert.Equal(t, types.IntentDelete, out.Result.Intent)
	assert.Equal(t, 1, c.calls)
}

func TestFallback_RepairsSyntaxOnSecondPass(t *testing.T) {
	c := &scriptedClient{replies: []string{
		`{intent: 'query', confidence: 0.6, entities: [],}`,
	}}
	out := newTestFallback(c).Escalate(context.Background(), types.CorrectedCommand{Text: "what's in here"}, "", localGuess())

	require.Equal(t, StateAccepted, out.State)
	assert.Equal(t, 2, out.Passes)
	assert.Equal(t, types.IntentQuery, out.Result.Intent)
}

func TestFallback_RepromptsWithStricterInstruction(t *testing.T) {
	c := &scriptedClient{replies: []string{
		"I think you want to create something.",
		`{"intent":"create","confidence":0.8,"entities":[{"kind":"file","value":"a.txt"}]}`,
	}}
	out := newTestFallback(c).Escalate(context.Background(), types.CorrectedCommand{Text: "a.txt please"}, "", localGuess())

	require.Equal(t, StateAccepted, out.State)
	assert.Equal(t, 3, out.Passes)
	require.Len(t, c.systems, 2)
	assert.Equal(t, strictRetryPrompt, c.systems[1])
}

func TestFallback_FailsAfterMaxPasses(t *testing.T) {
	c := &scriptedClient{replies: []string{"nope", "still nope"}}
	local := localGuess()
	out := newTestFallback(c).Escalate(context.Background(), types.CorrectedCommand{Text: "frobnicate"}, "", local)

	assert.Equal(t, StateFailed, out.State)
	assert.Nil(t, out.Result)
	assert.Equal(t, 3, out.Passes)
	assertBestGuess(t, out, local)
}

func TestFallback_CoercesOutOfDomainValues(t *testing.T) {
	c := &scriptedClient{replies: []string{
		`{"intent":"create","confidence":7,"entities":[{"kind":"spaceship","value":"x","role":"pilot","depth":-2},` +
			`{"kind":"quantity","value":"n","quantity":{"start":9,"end":3,"prefix":"n","unit":"folder"}}]}`,
	}}
	out := newTestFallback(c).Escalate(context.Background(), types.CorrectedCommand{Text: "x"}, "", localGuess())

	require.Equal(t, StateAccepted, out.State)
	p := out.Result
	assert.Equal(t, ModelTier(1), p.Tier)
	assert.LessOrEqual(t, p.Confidence, 1.0)
	var q *types.Quantity
	for _, e := range p.Entities {
		if e.Quantity != nil {
			q = e.Quantity
			continue
		}
		assert.Equal(t, types.KindUnknown, e.Kind)
		assert.Equal(t, types.RoleNone, e.Role)
		assert.Equal(t, 0, e.Depth)
	}
	require.NotNil(t, q)
	assert.Equal(t, 3, q.Start)
	assert.Equal(t, 9, q.End)
	assert.Equal(t, 7, q.Count)
}

func TestFallback_UnknownIntentFails(t *testing.T) {
	c := &scriptedClient{replies: []string{`{"intent":"teleport","confidence":0.9}`}}
	out := newTestFallback(c).Escalate(context.Background(), types.CorrectedCommand{Text: "beam me up"}, "", localGuess())
	assert.Equal(t, StateFailed, out.State)
	assert.Error(t, out.Err)
}

func TestFallback_TransportErrorsAndTimeout(t *testing.T) {
	local := localGuess()

	out := newTestFallback(&scriptedClient{errs: []error{errors.New("connection refused")}}).
		Escalate(context.Background(), types.CorrectedCommand{Text: "x"}, "", local)
	assert.Equal(t, StateFailed, out.State)
	assertBestGuess(t, out, local)

	out = newTestFallback(nil).Escalate(context.Background(), types.CorrectedCommand{Text: "x"}, "", local)
	assert.ErrorIs(t, out.Err, ErrModelNotConfigured)
	assertBestGuess(t, out, local)

	fb := NewFallback(slowClient{}, config.FallbackConfig{MaxRepairPasses: 3}, 20*time.Millisecond)
	out = fb.Escalate(context.Background(), types.CorrectedCommand{Text: "x"}, "", local)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assertBestGuess(t, out, local)
}

func assertBestGuess(t *testing.T, out FallbackOutcome, local types.ParseResult) {
	t.Helper()
	require.NotNil(t, out.Clarification)
	assert.Equal(t, types.ErrModelUnavailable, out.Clarification.Reason)
	require.Len(t, out.Clarification.Candidates, 1)
	assert.Contains(t, out.Clarification.Candidates[0].Label, "(best guess)")
	assert.Equal(t, local.Intent, out.Clarification.Candidates[0].Result.Intent)
}

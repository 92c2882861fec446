package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// FallbackState is the state of one model escalation.
type FallbackState int

const (
	StateReceived FallbackState = iota
	StateRepairing
	StateAccepted
	StateFailed
)

func (s FallbackState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRepairing:
		return "repairing"
	case StateAccepted:
		return "accepted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// FallbackOutcome is the terminal result of Escalate. Exactly one of Result
// and Clarification is set.
type FallbackOutcome struct {
	State         FallbackState
	Result        *types.ParseResult
	Clarification *types.ClarificationRequest
	Passes        int // repair passes used
	Err           error
}

// Fallback asks a model to interpret commands the local parser could not.
type Fallback struct {
	client    LLMClient
	maxPasses int
	timeout   time.Duration
}

// NewFallback creates a fallback. A nil client makes every escalation fail
// with a clarification.
func NewFallback(client LLMClient, cfg config.FallbackConfig, timeout time.Duration) *Fallback {
	passes := cfg.MaxRepairPasses
	if passes < 1 {
		passes = 3
	}
	return &Fallback{client: client, maxPasses: passes, timeout: timeout}
}

var errNotObject = errors.New("reply is not a parse object")

const fallbackSystemPrompt = `You interpret file and process automation commands.
Reply with a single JSON object and nothing else:
{"intent": one of [create, delete, modify, query, execute, configure, analyze, help, unknown],
 "verb": canonical verb such as create, delete, move, copy, rename, write, list, run, configure, analyze,
 "confidence": number between 0 and 1,
 "entities": [{"kind": one of [file, folder, project, path, url, command_name, parameter, quantity, unknown],
   "value": string,
   "role": one of ["", location, nested, source, destination, content, arguments],
   "depth": nesting level starting at 0,
   "quantity": {"count": int, "start": int, "end": int, "prefix": string, "suffix": string, "unit": kind} (quantity entities only)}]}`

const strictRetryPrompt = fallbackSystemPrompt + `
Your previous reply could not be parsed. Output ONLY the JSON object. No prose, no markdown, no comments.`

// modelReply is the wire shape of a model interpretation.
type modelReply struct {
	Intent     string        `json:"intent"`
	Verb       string        `json:"verb"`
	Confidence *float64      `json:"confidence"`
	Entities   []modelEntity `json:"entities"`
}

type modelEntity struct {
	Kind     string         `json:"kind"`
	Value    string         `json:"value"`
	Role     string         `json:"role"`
	Depth    int            `json:"depth"`
	Quantity *modelQuantity `json:"quantity"`
}

type modelQuantity struct {
	Count  int    `json:"count"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
	Unit   string `json:"unit"`
}

// Escalate runs the fallback state machine for one command:
// Received -> Repairing -> Accepted | Failed. It never returns a result with
// an intent outside the closed set.
func (f *Fallback) Escalate(ctx context.Context, cmd types.CorrectedCommand, summary string, local types.ParseResult) FallbackOutcome {
	timer := logging.StartTimer(logging.CategoryAPI, "fallback")
	defer timer.Stop()

	if f.client == nil {
		return f.fail(local, 0, ErrModelNotConfigured)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	user := f.userPrompt(cmd, summary, local)
	reply, err := f.client.CompleteWithSystem(ctx, fallbackSystemPrompt, user)
	if err != nil {
		return f.fail(local, 0, err)
	}

	state := StateReceived
	decoded, derr := decodeReply(reply)
	passes := 0
	for derr != nil && passes < f.maxPasses {
		state = StateRepairing
		passes++
		switch (passes - 1) % 3 {
		case 0:
			reply = extractObject(stripFences(reply))
		case 1:
			reply = fixSyntax(reply)
		case 2:
			retry := user + "\n\nPrevious reply:\n" + reply + "\nParse error: " + derr.Error()
			fresh, err := f.client.CompleteWithSystem(ctx, strictRetryPrompt, retry)
			if err != nil {
				return f.fail(local, passes, err)
			}
			reply = fixSyntax(extractObject(stripFences(fresh)))
		}
		decoded, derr = decodeReply(reply)
		logging.APIDebug("fallback: state=%s pass=%d ok=%v", state, passes, derr == nil)
	}
	if derr != nil {
		return f.fail(local, passes, fmt.Errorf("reply unrecoverable after %d repair passes: %w", passes, derr))
	}

	result := coerce(decoded, cmd.Text)
	if result.Intent == types.IntentUnknown {
		return f.fail(local, passes, fmt.Errorf("model could not interpret the command"))
	}
	logging.API("fallback: accepted intent=%s confidence=%.2f passes=%d", result.Intent, result.Confidence, passes)
	return FallbackOutcome{State: StateAccepted, Result: &result, Passes: passes}
}

func (f *Fallback) fail(local types.ParseResult, passes int, err error) FallbackOutcome {
	logging.APIWarn("fallback: failed after %d pass(es): %v", passes, err)
	return FallbackOutcome{
		State:         StateFailed,
		Clarification: ModelUnavailableClarification(local),
		Passes:        passes,
		Err:           err,
	}
}

// ModelUnavailableClarification asks the user to rephrase and offers the
// local parse as a best guess.
func ModelUnavailableClarification(local types.ParseResult) *types.ClarificationRequest {
	return &types.ClarificationRequest{
		Question: "I couldn't confidently interpret that. Could you rephrase it, or reply \"yes\" to use my best guess?",
		Reason:   types.ErrModelUnavailable,
		Missing:  append([]string(nil), local.Missing...),
		Candidates: []types.Candidate{{
			Label:  Describe(local) + " (best guess)",
			Result: local,
		}},
	}
}

func (f *Fallback) userPrompt(cmd types.CorrectedCommand, summary string, local types.ParseResult) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	if local.Intent != types.IntentUnknown {
		fmt.Fprintf(&b, "Local parser guess (confidence %.2f): %s\n\n", local.Confidence, Describe(local))
	}
	b.WriteString("Command: ")
	b.WriteString(cmd.Text)
	return b.String()
}

func decodeReply(s string) (modelReply, error) {
	var r modelReply
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(s)))
	if err := dec.Decode(&r); err != nil {
		return r, err
	}
	if r.Intent == "" {
		return r, errNotObject
	}
	return r, nil
}

// coerce maps a decoded reply into the closed domain and scores it.
func coerce(r modelReply, text string) types.ParseResult {
	conf := 0.0
	if r.Confidence != nil {
		conf = *r.Confidence
	}
	if math.IsNaN(conf) {
		conf = 0
	}
	conf = math.Max(0, math.Min(1, conf))

	p := types.ParseResult{
		Text:     text,
		Intent:   types.ParseIntent(r.Intent),
		Verb:     strings.ToLower(strings.TrimSpace(r.Verb)),
		Strategy: types.StrategyModel,
		Tier:     ModelTier(conf),
	}
	if p.Verb == "" {
		p.Verb = string(p.Intent)
	}

	lower := strings.ToLower(text)
	for i, me := range r.Entities {
		e := types.Entity{
			Kind:  types.ParseEntityKind(me.Kind),
			Raw:   me.Value,
			Value: me.Value,
			Role:  coerceRole(me.Role),
			Depth: max(0, me.Depth),
		}
		if at := strings.Index(lower, strings.ToLower(me.Value)); me.Value != "" && at >= 0 {
			e.Span = types.Span{Start: at, End: at + len(me.Value)}
		} else {
			e.Span = types.Span{Start: len(text) + i, End: len(text) + i}
		}
		if me.Quantity != nil || e.Kind == types.KindQuantity {
			e.Kind = types.KindQuantity
			e.Quantity = coerceQuantity(me.Quantity)
		}
		p.Entities = append(p.Entities, e)
	}
	p.SortEntities()
	Rescore(&p)
	return p
}

func coerceRole(s string) types.Role {
	switch r := types.Role(strings.ToLower(strings.TrimSpace(s))); r {
	case types.RoleLocation, types.RoleNested, types.RoleSource, types.RoleDestination,
		types.RoleContent, types.RoleArguments:
		return r
	}
	return types.RoleNone
}

func coerceQuantity(mq *modelQuantity) *types.Quantity {
	if mq == nil {
		return &types.Quantity{Count: 1, Unit: types.KindUnknown}
	}
	q := &types.Quantity{
		Count:  max(0, mq.Count),
		Prefix: mq.Prefix,
		Suffix: mq.Suffix,
		Unit:   types.ParseEntityKind(mq.Unit),
	}
	if mq.Start != 0 || mq.End != 0 {
		start, end := mq.Start, mq.End
		if start > end {
			start, end = end, start
		}
		q.Start, q.End, q.HasRange = start, end, true
		q.Count = end - start + 1
	}
	return q
}

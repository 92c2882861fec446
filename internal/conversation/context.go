// Package conversation keeps the per-session context that lets short
// follow-up turns ("test1 to test100", "delete them", "yes") build on earlier
// ones.
package conversation

import (
	"time"

	"github.com/grim-sudo/Automation/internal/types"
)

// Outcome records how a turn ended.
type Outcome string

const (
	OutcomeExecuted  Outcome = "executed"
	OutcomeFailed    Outcome = "failed"
	OutcomeClarified Outcome = "clarified"
	OutcomeEscalated Outcome = "escalated" // model fallback failed, best guess offered
	OutcomeCancelled Outcome = "cancelled"
	OutcomePlanned   Outcome = "planned" // planned without executing
)

// leavesPending reports whether the turn awaits a reply from the user.
func (o Outcome) leavesPending() bool {
	return o == OutcomeClarified || o == OutcomeEscalated
}

// Entry is one committed turn.
type Entry struct {
	Turn          int                         `json:"turn"`
	Text          string                      `json:"text"`
	Result        types.ParseResult           `json:"result"`
	Outcome       Outcome                     `json:"outcome"`
	Clarification *types.ClarificationRequest `json:"clarification,omitempty"`
	PlanID        string                      `json:"plan_id,omitempty"`
	At            time.Time                   `json:"at"`
}

// Pending is a parse waiting on the user's answer to a clarification.
type Pending struct {
	Turn          int                         `json:"turn"`
	Result        types.ParseResult           `json:"result"`
	Clarification *types.ClarificationRequest `json:"clarification,omitempty"`
}

// Context is the serializable conversation state of one session.
type Context struct {
	SessionID   string                              `json:"session_id"`
	TurnIndex   int                                 `json:"turn_index"`
	History     []Entry                             `json:"history"`
	Carried     map[types.EntityKind][]types.Entity `json:"carried"`
	LastTargets []types.Entity                      `json:"last_targets,omitempty"`
	ActiveModel string                              `json:"active_model,omitempty"`
	Pending     *Pending                            `json:"pending,omitempty"`
}

// NewContext returns an empty context for a session.
func NewContext(sessionID string) *Context {
	return &Context{
		SessionID: sessionID,
		Carried:   make(map[types.EntityKind][]types.Entity),
	}
}

// Clone returns a deep copy suitable for snapshots.
func (c *Context) Clone() *Context {
	out := &Context{
		SessionID:   c.SessionID,
		TurnIndex:   c.TurnIndex,
		ActiveModel: c.ActiveModel,
		Carried:     make(map[types.EntityKind][]types.Entity, len(c.Carried)),
	}
	for _, e := range c.History {
		cp := e
		cp.Result = e.Result.Clone()
		out.History = append(out.History, cp)
	}
	for k, es := range c.Carried {
		cp := make([]types.Entity, len(es))
		for i, e := range es {
			cp[i] = e.Clone()
		}
		out.Carried[k] = cp
	}
	for _, e := range c.LastTargets {
		out.LastTargets = append(out.LastTargets, e.Clone())
	}
	if c.Pending != nil {
		p := *c.Pending
		p.Result = c.Pending.Result.Clone()
		out.Pending = &p
	}
	return out
}

// anchor returns the parse that modifier-only turns attach to: the pending
// parse if any, else the most recent actionable entry.
func (c *Context) anchor() (types.ParseResult, bool) {
	if c.Pending != nil {
		return c.Pending.Result, true
	}
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Result.Intent.Actionable() {
			return c.History[i].Result, true
		}
	}
	return types.ParseResult{}, false
}

// pinned reports whether history entry i backs the pending parse.
func (c *Context) pinned(i int) bool {
	return c.Pending != nil && c.History[i].Turn == c.Pending.Turn
}

// evict trims history to window entries, oldest first, skipping the pinned
// entry.
func (c *Context) evict(window int) {
	for len(c.History) > window {
		removed := false
		for i := range c.History {
			if !c.pinned(i) {
				c.History = append(c.History[:i], c.History[i+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			return
		}
	}
}

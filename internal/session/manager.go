// Package session is the caller boundary of the pipeline. HandleTurn takes
// one user utterance through spelling correction, parsing, context merge,
// ambiguity resolution, model fallback, planning and execution, and always
// returns either a clarification or a report.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/conversation"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/perception"
	"github.com/grim-sudo/Automation/internal/planner"
	"github.com/grim-sudo/Automation/internal/store"
	"github.com/grim-sudo/Automation/internal/tactile"
	"github.com/grim-sudo/Automation/internal/types"
)

// ErrNoStore is returned by Checkpoint and Restore without a snapshot store.
var ErrNoStore = errors.New("no snapshot store configured")

// Dependencies wires the pipeline. Adapter is required; the rest default.
type Dependencies struct {
	Config  *config.Config
	Lexicon *perception.Lexicon
	Model   perception.LLMClient // nil: every escalation ends in a clarification
	Adapter tactile.OSAdapter
	Store   store.SnapshotStore

	// OnStep observes step state changes during execution.
	OnStep func(types.StepResult)
}

// TurnResult is what one call to HandleTurn produced. Exactly one of
// Clarification and Plan is set.
type TurnResult struct {
	SessionID     string                      `json:"session_id"`
	Turn          int                         `json:"turn"`
	Text          string                      `json:"text"`
	Corrections   []types.Correction          `json:"corrections,omitempty"`
	Clarification *types.ClarificationRequest `json:"clarification,omitempty"`
	Plan          *types.TaskPlan             `json:"plan,omitempty"`
	Report        *types.ExecutionResult      `json:"report,omitempty"`
	Escalated     bool                        `json:"escalated,omitempty"`
	Warnings      []string                    `json:"warnings,omitempty"`
	Duration      time.Duration               `json:"duration"`
}

// NeedsReply reports whether the turn is waiting on the user.
func (r *TurnResult) NeedsReply() bool {
	return r.Clarification != nil && r.Clarification.Reason != types.ErrCancelled
}

// Option adjusts a single turn.
type Option func(*turnOptions)

type turnOptions struct {
	planOnly bool
}

// PlanOnly stops the turn after planning; nothing is executed.
func PlanOnly() Option {
	return func(o *turnOptions) { o.planOnly = true }
}

type sessionState struct {
	mu   sync.Mutex
	conv *conversation.Manager
}

// Manager runs turns for any number of sessions. Turns of one session are
// serialized; sessions share no mutable state.
type Manager struct {
	cfg      *config.Config
	lex      *perception.Lexicon
	speller  *perception.SpellCorrector
	parser   *perception.Transducer
	resolver *perception.Resolver
	fallback *perception.Fallback
	planner  *planner.Planner
	executor *tactile.Executor
	store    store.SnapshotStore

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewManager builds the pipeline from its dependencies.
func NewManager(deps Dependencies) *Manager {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	lex := deps.Lexicon
	if lex == nil {
		lex = perception.DefaultLexicon()
	}

	ex := tactile.NewExecutor(deps.Adapter, cfg.Execution)
	if deps.OnStep != nil {
		ex.SetStepCallback(deps.OnStep)
	}

	logging.Session("Creating session manager (model=%v store=%v)", deps.Model != nil, deps.Store != nil)
	return &Manager{
		cfg:      cfg,
		lex:      lex,
		speller:  perception.NewSpellCorrector(lex, cfg.Perception),
		parser:   perception.NewTransducer(lex),
		resolver: perception.NewResolver(cfg.Resolver, cfg.Perception),
		fallback: perception.NewFallback(deps.Model, cfg.Fallback, cfg.LLM.GetTimeout()),
		planner:  planner.New(cfg.Planner),
		executor: ex,
		store:    deps.Store,
		sessions: make(map[string]*sessionState),
	}
}

func (m *Manager) session(id string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[id]
	if !ok {
		st = &sessionState{conv: conversation.NewManager(id, m.cfg.Context, m.lex)}
		m.sessions[id] = st
		logging.SessionDebug("new session %s", id)
	}
	return st
}

// HandleTurn processes one utterance. An empty sessionID starts a new
// session whose id is returned in the result.
func (m *Manager) HandleTurn(ctx context.Context, text, sessionID string, opts ...Option) *TurnResult {
	var o turnOptions
	for _, opt := range opts {
		opt(&o)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	st := m.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	start := time.Now()
	res := &TurnResult{SessionID: sessionID}
	defer func() { res.Duration = time.Since(start) }()

	corrected := m.speller.Correct(types.RawCommand{
		Text:      text,
		SessionID: sessionID,
		TurnIndex: st.conv.NextTurn(),
		Received:  start,
	})
	res.Text = corrected.Text
	res.Corrections = corrected.Corrections
	logging.Session("turn %s: %q (corrections=%d)", sessionID, corrected.Text, len(corrected.Corrections))

	segments := SplitSegments(corrected.Text)
	if len(segments) == 0 {
		res.Clarification = &types.ClarificationRequest{
			Question: "What would you like to do? Try something like: " + strings.Join(perception.Examples, "; "),
			Reason:   types.ErrMissingInformation,
			Missing:  []string{"intent"},
		}
		return res
	}

	// Segments are understood against a scratch copy so later segments can
	// refer to earlier ones before anything is committed.
	scratch := conversation.NewManager(sessionID, m.cfg.Context, m.lex)
	scratch.Restore(st.conv.Snapshot())

	parses := make([]types.ParseResult, 0, len(segments))
	for _, seg := range segments {
		u := m.understand(ctx, scratch, corrected, seg)
		res.Escalated = res.Escalated || u.escalated
		if u.model != "" {
			st.conv.SetActiveModel(u.model)
		}

		if u.clarification != nil {
			outcome := conversation.OutcomeClarified
			switch {
			case u.clarification.Reason == types.ErrCancelled:
				outcome = conversation.OutcomeCancelled
			case u.clarification.Reason == types.ErrModelUnavailable:
				outcome = conversation.OutcomeEscalated
			}
			e := st.conv.Commit(conversation.Entry{
				Text: seg, Result: u.result, Outcome: outcome, Clarification: u.clarification,
			})
			res.Turn = e.Turn
			res.Clarification = u.clarification
			logging.Session("turn %s/%d: %s (%s)", sessionID, e.Turn, outcome, u.clarification.Reason)
			return res
		}

		parses = append(parses, u.result)
		if len(segments) > 1 {
			scratch.Commit(conversation.Entry{Text: seg, Result: u.result, Outcome: conversation.OutcomePlanned})
		}
	}

	plan := m.planner.PlanSegments(parses)
	res.Plan = &plan
	if plan.ExpansionBoundHit {
		w := fmt.Sprintf("plan truncated to %d of %d requested steps (safety cap %d)",
			len(plan.Steps), plan.Requested, m.cfg.Planner.SafetyCap)
		logging.SessionWarn("turn %s: %s", sessionID, w)
		res.Warnings = append(res.Warnings, w)
	}

	if plan.Empty() {
		res.Plan = nil
		res.Clarification = &types.ClarificationRequest{
			Question: "There is nothing to do for that. Say what it should act on, for example: " + perception.Examples[0],
			Reason:   types.ErrMissingInformation,
			Missing:  append([]string(nil), parses[0].Missing...),
		}
		res.Turn = m.commitAll(st, segments, parses, conversation.OutcomeFailed, plan.ID)
		return res
	}

	outcome := conversation.OutcomePlanned
	if !o.planOnly {
		report := m.executor.Execute(ctx, plan)
		res.Report = &report
		switch {
		case report.Cancelled:
			outcome = conversation.OutcomeCancelled
		case report.OK():
			outcome = conversation.OutcomeExecuted
		default:
			outcome = conversation.OutcomeFailed
		}
	}
	res.Turn = m.commitAll(st, segments, parses, outcome, plan.ID)
	logging.Session("turn %s/%d: %s, %d step(s)", sessionID, res.Turn, outcome, len(plan.Steps))
	return res
}

func (m *Manager) commitAll(st *sessionState, segments []string, parses []types.ParseResult, outcome conversation.Outcome, planID string) int {
	turn := 0
	for i, p := range parses {
		e := st.conv.Commit(conversation.Entry{Text: segments[i], Result: p, Outcome: outcome, PlanID: planID})
		turn = e.Turn
	}
	return turn
}

// understanding is the resolved form of one segment.
type understanding struct {
	result        types.ParseResult
	clarification *types.ClarificationRequest
	escalated     bool
	model         string
}

func (m *Manager) understand(ctx context.Context, conv *conversation.Manager, corrected types.CorrectedCommand, seg string) understanding {
	cmd := types.CorrectedCommand{Raw: corrected.Raw, Text: seg}
	if seg == corrected.Text {
		cmd.Corrections = corrected.Corrections
	}

	merged := conv.Merge(m.parser.Parse(cmd))
	if merged.Notice != nil {
		return understanding{result: merged.Result, clarification: merged.Notice}
	}

	d := m.resolver.Resolve(merged.Result, len(strings.Fields(seg)))
	switch d.Action {
	case perception.ActionProceed:
		return understanding{result: d.Result}
	case perception.ActionClarify:
		return understanding{result: d.Result, clarification: d.Clarification}
	}

	out := m.fallback.Escalate(ctx, cmd, conv.Summary(0), d.Result)
	if out.Result == nil {
		return understanding{result: d.Result, clarification: out.Clarification, escalated: true}
	}
	accepted := *out.Result
	u := understanding{result: accepted, escalated: true, model: m.cfg.LLM.Model}
	switch {
	case accepted.IsAmbiguous():
		u.clarification = perception.AmbiguityClarification(accepted)
	case m.resolver.NeedsConfirmation(accepted):
		u.clarification = perception.ConfirmationClarification(accepted)
	}
	return u
}

// Checkpoint saves the session's context and returns the snapshot id.
func (m *Manager) Checkpoint(ctx context.Context, sessionID string) (string, error) {
	if m.store == nil {
		return "", ErrNoStore
	}
	st := m.session(sessionID)
	st.mu.Lock()
	snap := st.conv.Snapshot()
	st.mu.Unlock()

	id, err := m.store.Save(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", sessionID, err)
	}
	logging.Session("checkpoint %s: session=%s turn=%d", id, sessionID, snap.TurnIndex)
	return id, nil
}

// Restore replaces a session's context with a snapshot and returns the
// session id it belongs to.
func (m *Manager) Restore(ctx context.Context, snapshotID string) (string, error) {
	if m.store == nil {
		return "", ErrNoStore
	}
	snap, err := m.store.Load(ctx, snapshotID)
	if err != nil {
		return "", fmt.Errorf("restore %s: %w", snapshotID, err)
	}
	if snap.SessionID == "" {
		snap.SessionID = uuid.NewString()
	}

	st := m.session(snap.SessionID)
	st.mu.Lock()
	st.conv.Restore(snap)
	st.mu.Unlock()
	logging.Session("restored %s: session=%s turn=%d", snapshotID, snap.SessionID, snap.TurnIndex)
	return snap.SessionID, nil
}

// Checkpoints lists the stored snapshots of a session, newest first.
func (m *Manager) Checkpoints(ctx context.Context, sessionID string) ([]store.SnapshotInfo, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.List(ctx, sessionID)
}

// Snapshot returns a copy of a session's current context.
func (m *Manager) Snapshot(sessionID string) *conversation.Context {
	st := m.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conv.Snapshot()
}

package conversation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/perception"
	"github.com/grim-sudo/Automation/internal/types"
)

// Reply classifies a turn answering a pending clarification.
type Reply int

const (
	ReplyNone      Reply = iota
	ReplyConfirmed       // "yes", "go ahead"
	ReplyCancelled       // "no", "never mind"
	ReplyChoice          // candidate number or kind noun
)

// MergeResult is the context-resolved parse of one turn.
type MergeResult struct {
	Result   types.ParseResult
	Reply    Reply
	Anchored bool // modifiers or references were taken from an earlier turn

	// Notice is set when the reply discarded the pending parse.
	Notice *types.ClarificationRequest
}

// Manager owns the conversation context of one session. It is safe for
// concurrent use; the session layer still serializes turns.
type Manager struct {
	mu           sync.Mutex
	ctx          *Context
	window       int
	summaryTurns int
	lex          *perception.Lexicon
}

// NewManager creates a manager with an empty context.
func NewManager(sessionID string, cfg config.ContextConfig, lex *perception.Lexicon) *Manager {
	window := cfg.WindowSize
	if window < 1 {
		window = 10
	}
	summary := cfg.SummaryTurns
	if summary < 1 {
		summary = 5
	}
	return &Manager{ctx: NewContext(sessionID), window: window, summaryTurns: summary, lex: lex}
}

var (
	affirmations = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "yup": true, "ok": true,
		"okay": true, "sure": true, "go ahead": true, "do it": true, "proceed": true,
		"confirm": true, "yes please": true, "sounds good": true, "go": true,
	}
	negations = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "never mind": true,
		"nevermind": true, "stop": true, "abort": true, "forget it": true, "no thanks": true,
	}
)

func normalizeReply(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Trim(s, ".!?,")
	return strings.Join(strings.Fields(s), " ")
}

// Merge applies the context rules to a fresh parse, in order: replies to a
// pending clarification, references ("them", "it"), then modifier-only turns.
func (m *Manager) Merge(p types.ParseResult) MergeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Pending != nil {
		if res, ok := m.reply(p); ok {
			return res
		}
	}

	if p.Anaphora {
		if res, ok := m.substitute(p); ok {
			return res
		}
	}

	if isModifierOnly(p) {
		if anchor, ok := m.ctx.anchor(); ok {
			merged := attachModifiers(anchor, p)
			logging.ContextDebug("merge: attached %d modifier(s) to %q", len(p.Entities), anchor.Text)
			return MergeResult{Result: merged, Anchored: true}
		}
	}

	return MergeResult{Result: p}
}

// reply handles confirmation, cancellation and choice turns.
func (m *Manager) reply(p types.ParseResult) (MergeResult, bool) {
	pending := m.ctx.Pending
	text := normalizeReply(p.Text)

	switch {
	case affirmations[text]:
		res := pending.Result.Clone()
		if res.IsAmbiguous() && pending.Clarification != nil && len(pending.Clarification.Candidates) > 0 {
			res = pending.Clarification.Candidates[0].Result.Clone()
		}
		res.Confirmed = true
		perception.Rescore(&res)
		logging.ContextDebug("merge: confirmed pending turn %d", pending.Turn)
		return MergeResult{Result: res, Reply: ReplyConfirmed, Anchored: true}, true

	case negations[text]:
		logging.ContextDebug("merge: cancelled pending turn %d", pending.Turn)
		m.ctx.Pending = nil
		return MergeResult{
			Result: p,
			Reply:  ReplyCancelled,
			Notice: &types.ClarificationRequest{
				Question: "Okay, cancelled. What would you like to do instead?",
				Reason:   types.ErrCancelled,
			},
		}, true
	}

	if n, err := strconv.Atoi(strings.TrimLeft(strings.TrimRight(text, ")"), "#")); err == nil {
		if c := pending.Clarification; c != nil && n >= 1 && n <= len(c.Candidates) {
			res := c.Candidates[n-1].Result.Clone()
			res.Confirmed = true
			perception.Rescore(&res)
			return MergeResult{Result: res, Reply: ReplyChoice, Anchored: true}, true
		}
	}

	if kind, ok := m.kindChoice(text); ok && pending.Result.IsAmbiguous() {
		res := pending.Result.Clone()
		idx := res.Ambiguous[0]
		res.Entities[idx] = res.Entities[idx].Resolve(kind)
		res.SortEntities()
		perception.Rescore(&res)
		logging.ContextDebug("merge: resolved ambiguous entity as %s", kind)
		return MergeResult{Result: res, Reply: ReplyChoice, Anchored: true}, true
	}
	return MergeResult{}, false
}

// kindChoice recognizes replies such as "folder", "a file" or "make it a folder".
func (m *Manager) kindChoice(text string) (types.EntityKind, bool) {
	for _, prefix := range []string{"make it ", "make them ", "as ", "it's ", "it is "} {
		text = strings.TrimPrefix(text, prefix)
	}
	for _, article := range []string{"a ", "an ", "the "} {
		text = strings.TrimPrefix(text, article)
	}
	if strings.Contains(text, " ") {
		return "", false
	}
	kind, ok := m.lex.NounKind(text)
	if !ok || !kind.IsPathLike() {
		return "", false
	}
	return kind, true
}

// substitute resolves "them", "it" and similar references.
func (m *Manager) substitute(p types.ParseResult) (MergeResult, bool) {
	targets := m.recentTargets()
	if len(targets) == 0 {
		return MergeResult{}, false
	}

	res := p.Clone()
	switch {
	case !p.Intent.Actionable():
		anchor, ok := m.ctx.anchor()
		if !ok {
			return MergeResult{}, false
		}
		res.Intent = anchor.Intent
		res.Verb = anchor.Verb
		res.Strategy = anchor.Strategy
		res.Tier = anchor.Tier
	case hasOwnTarget(p):
		return MergeResult{}, false
	}

	role := types.RoleNone
	if res.Intent == types.IntentModify && res.Verb != "write" {
		role = types.RoleSource
	}
	for i, t := range targets {
		e := t.Clone()
		e.Role = role
		e.Depth = 0
		e.Span = types.Span{Start: len(p.Text) + i, End: len(p.Text) + i}
		res.Entities = append(res.Entities, e)
	}
	res.SortEntities()
	perception.Rescore(&res)
	logging.ContextDebug("merge: substituted %d reference target(s)", len(targets))
	return MergeResult{Result: res, Anchored: true}, true
}

// recentTargets returns the targets of the last committed actionable turn,
// falling back to carried path-like entities.
func (m *Manager) recentTargets() []types.Entity {
	if len(m.ctx.LastTargets) > 0 {
		return m.ctx.LastTargets
	}
	var kinds []string
	for k := range m.ctx.Carried {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	var out []types.Entity
	for _, k := range kinds {
		for _, e := range m.ctx.Carried[types.EntityKind(k)] {
			if compatible(e) {
				out = append(out, e)
			}
		}
	}
	return out
}

// compatible reports whether an entity can stand in for "them".
func compatible(e types.Entity) bool {
	if e.Quantity != nil {
		return e.Quantity.Unit.IsPathLike()
	}
	return e.Kind.IsPathLike() && e.Value != ""
}

func hasOwnTarget(p types.ParseResult) bool {
	for _, e := range p.Entities {
		if (e.Role == types.RoleNone || e.Role == types.RoleSource) && e.Depth == 0 &&
			(e.Kind.IsPathLike() || e.Quantity != nil || e.Kind == types.KindUnknown) {
			return true
		}
	}
	return false
}

// isModifierOnly reports turns that carry details but no command of their own.
func isModifierOnly(p types.ParseResult) bool {
	if p.Intent.Actionable() || p.Intent == types.IntentHelp || len(p.Entities) == 0 {
		return false
	}
	for _, e := range p.Entities {
		switch {
		case e.Quantity != nil:
		case e.Role == types.RoleLocation, e.Role == types.RoleContent, e.Role == types.RoleNested:
		case e.Depth > 0:
		default:
			return false
		}
	}
	return true
}

// attachModifiers folds the modifier entities of p into the anchor parse,
// replacing the matching role: a range or count replaces the top-level
// quantity, and locations and content their previous value. A nested count
// of the same unit replaces the nested quantity at its depth; any other
// nested count opens a new level below the deepest existing one.
func attachModifiers(anchor, p types.ParseResult) types.ParseResult {
	res := anchor.Clone()
	res.Text = strings.TrimSpace(anchor.Text + " " + p.Text)
	res.Confirmed = false

	for _, mod := range p.Entities {
		mod = mod.Clone()
		switch {
		case mod.Quantity != nil && mod.Depth == 0:
			if i := findQuantity(res.Entities, 0); i >= 0 {
				res.Entities[i] = mergeQuantity(res.Entities[i], mod)
				continue
			}
			if i := findTarget(res.Entities); i >= 0 && mod.Quantity.HasRange {
				// a single named target becomes a range of the same kind
				unit := res.Entities[i].Kind
				if !unit.IsPathLike() {
					unit = types.KindFolder
				}
				if mod.Quantity.Unit == types.KindUnknown {
					mod.Quantity.Unit = unit
				}
				mod.Span = res.Entities[i].Span
				res.Entities[i] = mod
				continue
			}
		case mod.Quantity != nil:
			if i := findQuantity(res.Entities, mod.Depth); i >= 0 && sameUnit(res.Entities[i], mod) {
				res.Entities[i] = mergeQuantity(res.Entities[i], mod)
				continue
			}
			mod.Depth = max(1, deepestTarget(res.Entities)+1)
			mod.Role = types.RoleNested
		case mod.Role == types.RoleLocation || mod.Role == types.RoleContent:
			if i := findRole(res.Entities, mod.Role); i >= 0 {
				mod.Span = res.Entities[i].Span
				res.Entities[i] = mod
				continue
			}
		}
		mod.Span = types.Span{Start: len(anchor.Text) + 1 + mod.Span.Start, End: len(anchor.Text) + 1 + mod.Span.End}
		res.Entities = append(res.Entities, mod)
	}

	res.SortEntities()
	perception.Rescore(&res)
	return res
}

func findQuantity(es []types.Entity, depth int) int {
	for i, e := range es {
		if e.Quantity != nil && e.Depth == depth && e.Role != types.RoleContent {
			return i
		}
	}
	return -1
}

func sameUnit(orig, mod types.Entity) bool {
	u := mod.Quantity.Unit
	return u == types.KindUnknown || u == "" || u == orig.Quantity.Unit
}

// deepestTarget returns the deepest level holding a creatable target, or -1.
func deepestTarget(es []types.Entity) int {
	deepest := -1
	for _, e := range es {
		if e.Role != types.RoleNone && e.Role != types.RoleNested {
			continue
		}
		if e.Quantity != nil || e.Kind.IsPathLike() || e.Kind == types.KindUnknown {
			deepest = max(deepest, e.Depth)
		}
	}
	return deepest
}

func findTarget(es []types.Entity) int {
	for i, e := range es {
		if e.Depth == 0 && e.Role == types.RoleNone && (e.Kind.IsPathLike() || e.Kind == types.KindUnknown) {
			return i
		}
	}
	return -1
}

func findRole(es []types.Entity, role types.Role) int {
	for i, e := range es {
		if e.Role == role {
			return i
		}
	}
	return -1
}

// mergeQuantity applies a modifier quantity to an existing one. The item kind
// of the original wins unless the modifier names one.
func mergeQuantity(orig, mod types.Entity) types.Entity {
	out := orig.Clone()
	q := out.Quantity
	mq := mod.Quantity
	if mq.HasRange {
		q.Start, q.End, q.HasRange = mq.Start, mq.End, true
		q.Prefix, q.Suffix = mq.Prefix, mq.Suffix
		q.Count = mq.Count
	} else {
		q.Count = mq.Count
		q.HasRange = false
		q.Start, q.End, q.Prefix, q.Suffix = 0, 0, "", ""
	}
	if mq.Unit != types.KindUnknown && mq.Unit != "" {
		q.Unit = mq.Unit
		out.Candidates = nil
	}
	out.Raw = strings.TrimSpace(orig.Raw + " " + mod.Raw)
	out.Value = mod.Value
	return out
}

// Commit records a finished turn, updates carried entities and sets or
// clears the pending parse.
func (m *Manager) Commit(e Entry) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ctx.TurnIndex++
	e.Turn = m.ctx.TurnIndex
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.ctx.History = append(m.ctx.History, e)

	switch e.Outcome {
	case OutcomeExecuted, OutcomeFailed, OutcomePlanned:
		var targets []types.Entity
		carried := map[types.EntityKind][]types.Entity{}
		for _, ent := range e.Result.Entities {
			if !compatible(ent) {
				continue
			}
			key := ent.Kind
			if ent.Quantity != nil {
				key = ent.Quantity.Unit
			}
			carried[key] = append(carried[key], ent.Clone())
			if ent.Depth == 0 && (ent.Role == types.RoleNone || ent.Role == types.RoleSource) {
				targets = append(targets, ent.Clone())
			}
		}
		// a kind mentioned this turn replaces what was carried for it
		for k, es := range carried {
			m.ctx.Carried[k] = es
		}
		if len(targets) > 0 {
			m.ctx.LastTargets = targets
		}
	}

	if e.Outcome.leavesPending() {
		m.ctx.Pending = &Pending{Turn: e.Turn, Result: e.Result.Clone(), Clarification: e.Clarification}
	} else {
		m.ctx.Pending = nil
	}

	m.ctx.evict(m.window)
	logging.ContextDebug("commit: turn=%d outcome=%s history=%d pending=%v",
		e.Turn, e.Outcome, len(m.ctx.History), m.ctx.Pending != nil)
	return e
}

// Summary renders the last n turns for the model prompt. n <= 0 uses the
// configured default.
func (m *Manager) Summary(n int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 {
		n = m.summaryTurns
	}
	start := max(0, len(m.ctx.History)-n)

	var b strings.Builder
	for _, e := range m.ctx.History[start:] {
		line := fmt.Sprintf("turn %d [%s]: %q -> %s", e.Turn, e.Outcome, e.Text, perception.Describe(e.Result))
		line = truncate(line, 200)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if p := m.ctx.Pending; p != nil {
		fmt.Fprintf(&b, "awaiting answer about: %s\n", perception.Describe(p.Result))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Pending returns a copy of the pending parse, if any.
func (m *Manager) Pending() *Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Pending == nil {
		return nil
	}
	p := *m.ctx.Pending
	p.Result = m.ctx.Pending.Result.Clone()
	return &p
}

// NextTurn returns the index the next committed turn will receive.
func (m *Manager) NextTurn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.TurnIndex + 1
}

// History returns the committed entries, oldest first.
func (m *Manager) History() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.ctx.History...)
}

// SetActiveModel records which model served the last escalation.
func (m *Manager) SetActiveModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx.ActiveModel = model
}

// Snapshot returns a deep copy of the context.
func (m *Manager) Snapshot() *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.Clone()
}

// Restore replaces the context with a snapshot.
func (m *Manager) Restore(c *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := c.Clone()
	if restored.Carried == nil {
		restored.Carried = make(map[types.EntityKind][]types.Entity)
	}
	m.ctx = restored
	m.ctx.evict(m.window)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

package perception

import (
	"fmt"
	"strings"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// Action is the routing decision for a merged parse.
type Action int

const (
	ActionProceed Action = iota
	ActionClarify
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionClarify:
		return "clarify"
	case ActionEscalate:
		return "escalate"
	}
	return "unknown"
}

// Decision is the resolver output. Clarification is set only for ActionClarify.
type Decision struct {
	Action        Action
	Result        types.ParseResult
	Clarification *types.ClarificationRequest
}

// Examples shown when a short command is not understood.
var Examples = []string{
	"create a folder named reports",
	"create 10 files called note1 to note10 in docs",
	"move draft.txt to archive",
	"run ls -la",
}

// Resolver applies the confidence thresholds and builds clarifications.
type Resolver struct {
	high       float64
	low        float64
	shortWords int
	confirm    map[types.Intent]bool
}

// NewResolver creates a resolver from configuration.
func NewResolver(rc config.ResolverConfig, pc config.PerceptionConfig) *Resolver {
	r := &Resolver{
		high:       rc.HighThreshold,
		low:        rc.LowThreshold,
		shortWords: pc.ShortCommandWords,
		confirm:    make(map[types.Intent]bool, len(rc.ConfirmIntents)),
	}
	for _, in := range rc.ConfirmIntents {
		r.confirm[types.Intent(in)] = true
	}
	return r
}

// NeedsConfirmation reports whether p is a destructive command the user has
// not yet confirmed.
func (r *Resolver) NeedsConfirmation(p types.ParseResult) bool {
	return r.confirm[p.Intent] && !p.Confirmed
}

// Resolve decides whether the merged parse can proceed, needs the user, or
// should go to the model. words is the word count of the corrected text.
func (r *Resolver) Resolve(p types.ParseResult, words int) Decision {
	d := r.resolve(p, words)
	logging.RoutingDebug("resolve: intent=%s confidence=%.2f ambiguous=%v -> %s",
		p.Intent, p.Confidence, p.IsAmbiguous(), d.Action)
	return d
}

func (r *Resolver) resolve(p types.ParseResult, words int) Decision {
	short := words <= r.shortWords

	switch {
	case p.Intent == types.IntentHelp && p.Strategy == types.StrategyPattern && short:
		return Decision{Action: ActionProceed, Result: p}
	case (p.Intent == types.IntentUnknown || p.Intent == types.IntentHelp) && !short:
		return Decision{Action: ActionEscalate, Result: p}
	case p.Intent == types.IntentUnknown || p.Intent == "":
		return Decision{Action: ActionClarify, Result: p, Clarification: &types.ClarificationRequest{
			Question: "I didn't understand that. Try something like: " + strings.Join(Examples, "; "),
			Reason:   types.ErrMissingInformation,
			Missing:  []string{"intent"},
		}}
	case p.Confidence < r.low:
		return Decision{Action: ActionEscalate, Result: p}
	case p.Confidence >= r.high && !p.IsAmbiguous() && r.NeedsConfirmation(p):
		return Decision{Action: ActionClarify, Result: p, Clarification: ConfirmationClarification(p)}
	case p.Confidence >= r.high && !p.IsAmbiguous():
		return Decision{Action: ActionProceed, Result: p}
	case p.Confirmed && !p.IsAmbiguous():
		return Decision{Action: ActionProceed, Result: p}
	case p.IsAmbiguous():
		return Decision{Action: ActionClarify, Result: p, Clarification: AmbiguityClarification(p)}
	}

	req := &types.ClarificationRequest{
		Reason:     types.ErrMissingInformation,
		Missing:    append([]string(nil), p.Missing...),
		Candidates: []types.Candidate{{Label: Describe(p), Result: p}},
	}
	if len(p.Missing) > 0 {
		req.Question = fmt.Sprintf("Please provide the %s. Reply \"yes\" to use the default: %s?",
			strings.Join(p.Missing, " and "), Describe(p))
	} else {
		req.Question = fmt.Sprintf("Did you mean: %s? Reply \"yes\" to proceed.", Describe(p))
		req.Reason = types.ErrInputAmbiguous
	}
	return Decision{Action: ActionClarify, Result: p, Clarification: req}
}

// ConfirmationClarification asks before a destructive command runs. A "yes"
// reply confirms the single candidate.
func ConfirmationClarification(p types.ParseResult) *types.ClarificationRequest {
	return &types.ClarificationRequest{
		Question:   fmt.Sprintf("This will %s. Reply \"yes\" to continue or \"no\" to cancel.", Describe(p)),
		Reason:     types.ErrInputAmbiguous,
		Candidates: []types.Candidate{{Label: Describe(p), Result: p}},
	}
}

// AmbiguityClarification offers one candidate per plausible kind of the first
// ambiguous entity, in the entity's ranked order.
func AmbiguityClarification(p types.ParseResult) *types.ClarificationRequest {
	if !p.IsAmbiguous() {
		return nil
	}
	idx := p.Ambiguous[0]
	ent := p.Entities[idx]

	req := &types.ClarificationRequest{Reason: types.ErrInputAmbiguous}
	var labels []string
	for i, k := range ent.Candidates {
		alt := p.Clone()
		alt.Entities[idx] = ent.Resolve(k)
		alt.SortEntities()
		Rescore(&alt)
		label := Describe(alt)
		req.Candidates = append(req.Candidates, types.Candidate{Label: label, Result: alt})
		labels = append(labels, fmt.Sprintf("%d) %s", i+1, k))
	}
	subject := ent.Value
	if ent.Quantity != nil {
		subject = ent.Raw
	}
	req.Question = fmt.Sprintf("Should %q be a %s?", subject, strings.Join(labels, " or "))
	return req
}

package perception

import (
	"math"

	"github.com/grim-sudo/Automation/internal/types"
)

// Confidence is computed in integer points out of 100 so that equal inputs
// always produce identical scores.
const (
	patternTier       = 55 // verb template with a named object
	patternTierWeak   = 45 // verb template, object not named
	heuristicTierBase = 15
	heuristicTierStep = 10
	heuristicTierMax  = 35
	modelTierMax      = 45

	slotBonus     = 5
	strengthMax   = 70
	coverageMax   = 30
	typedBonus    = 5
	typedBonusMax = 15
	heuristicCap  = 69
)

// Slot names reported in ParseResult.Missing.
const (
	SlotTarget      = "target"
	SlotName        = "name"
	SlotSource      = "source"
	SlotDestination = "destination"
	SlotContent     = "content"
	SlotCommand     = "command"
	SlotParameter   = "parameter"
)

// ModelTier converts a model-reported confidence into a strategy tier.
func ModelTier(reported float64) int {
	if math.IsNaN(reported) {
		return 0
	}
	reported = math.Max(0, math.Min(1, reported))
	return int(math.Round(modelTierMax * reported))
}

// requiredSlots lists the slots an intent needs before it can run.
func requiredSlots(p types.ParseResult) []string {
	switch p.Intent {
	case types.IntentCreate:
		return []string{SlotTarget, SlotName}
	case types.IntentDelete, types.IntentAnalyze:
		return []string{SlotTarget}
	case types.IntentModify:
		if p.Verb == "write" {
			return []string{SlotTarget, SlotContent}
		}
		return []string{SlotSource, SlotDestination}
	case types.IntentExecute:
		return []string{SlotCommand}
	case types.IntentConfigure:
		return []string{SlotParameter}
	}
	return nil
}

func isTarget(e types.Entity) bool {
	return e.Role != types.RoleLocation && e.Role != types.RoleContent && e.Role != types.RoleArguments
}

// slotFilled reports whether the entities supply a required slot.
func slotFilled(p types.ParseResult, slot string) bool {
	for _, e := range p.Entities {
		switch slot {
		case SlotTarget:
			if !isTarget(e) {
				continue
			}
			switch p.Intent {
			case types.IntentCreate:
				if e.Depth == 0 && (e.Typed() && e.Kind.IsPathLike() ||
					e.Quantity != nil && e.Quantity.Unit.IsPathLike()) {
					return true
				}
			case types.IntentDelete:
				if e.Named() {
					return true
				}
			default:
				if e.Kind.IsPathLike() || e.Kind == types.KindURL {
					return true
				}
			}
		case SlotName:
			if e.Depth == 0 && isTarget(e) && e.Named() {
				return true
			}
		case SlotSource:
			if e.Role == types.RoleSource {
				return true
			}
		case SlotDestination:
			if e.Role == types.RoleDestination {
				return true
			}
		case SlotContent:
			if e.Role == types.RoleContent {
				return true
			}
		case SlotCommand:
			if e.Kind == types.KindCommandName {
				return true
			}
		case SlotParameter:
			if e.Kind == types.KindParameter {
				return true
			}
		}
	}
	return false
}

// optionalSlots counts the optional details the command supplies.
func optionalSlots(p types.ParseResult) int {
	var quantity, name, location, nested, content, arguments bool
	for _, e := range p.Entities {
		if e.Quantity != nil {
			quantity = true
		}
		if e.Named() && isTarget(e) {
			name = true
		}
		switch e.Role {
		case types.RoleLocation:
			location = true
		case types.RoleContent:
			content = true
		case types.RoleArguments:
			arguments = true
		}
		if e.Depth > 0 {
			nested = true
		}
	}
	n := 0
	for _, b := range []bool{quantity, name, location, nested, content, arguments} {
		if b {
			n++
		}
	}
	return n
}

// MissingSlots returns the required slots the result does not fill.
func MissingSlots(p types.ParseResult) []string {
	var missing []string
	for _, s := range requiredSlots(p) {
		if !slotFilled(p, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// Score computes the confidence of a parse from its strategy tier, slot
// coverage and typed entities. Adding entities or filling slots never lowers
// the score.
func Score(p types.ParseResult) float64 {
	strength := 0
	if p.Tier > 0 {
		strength = min(strengthMax, p.Tier+slotBonus*optionalSlots(p))
	}

	coverage := 0
	if p.Intent != types.IntentUnknown && p.Intent != "" {
		required := requiredSlots(p)
		if len(required) == 0 {
			coverage = coverageMax
		} else {
			filled := len(required) - len(MissingSlots(p))
			coverage = coverageMax * filled / len(required)
		}
	}

	typed := 0
	for _, e := range p.Entities {
		if e.Typed() {
			typed += typedBonus
		}
	}
	typed = min(typed, typedBonusMax)

	total := strength + coverage + typed
	if p.Strategy == types.StrategyHeuristic {
		total = min(total, heuristicCap)
	}
	total = max(0, min(100, total))
	return float64(total) / 100
}

// Rescore refreshes Confidence and Missing after entities change.
func Rescore(p *types.ParseResult) {
	p.Missing = MissingSlots(*p)
	p.Confidence = Score(*p)
}

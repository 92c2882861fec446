package perception

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// Transducer converts corrected text into a ParseResult using verb patterns
// first and keyword heuristics second.
type Transducer struct {
	lex         *Lexicon
	verbRe      *regexp.Regexp
	connectorRe *regexp.Regexp
	innerRe     *regexp.Regexp
}

var (
	helpRe = regexp.MustCompile(`^\s*(?:help|usage|commands|what\s+can\s+you\s+do|how\s+do\s+i\s+use)\b`)
	wordRe = regexp.MustCompile(`[a-z][a-z\-]*`)
)

// NewTransducer creates a parser over the lexicon.
func NewTransducer(lex *Lexicon) *Transducer {
	polite := `^\s*(?:(?:please|kindly)\s+)?(?:(?:can|could|would|will)\s+you\s+)?` +
		`(?:(?:i\s+(?:want|need|would\s+like)|i'd\s+like|let's|lets)\s+(?:to\s+)?)?` +
		`(?:(?:go\s+ahead\s+and|also|now|then)\s+)?`
	return &Transducer{
		lex:    lex,
		verbRe: regexp.MustCompile(polite + `(?:(set\s+up)|(` + lex.verbAlt + `))\b`),
		connectorRe: regexp.MustCompile(`(?:,\s*)?\s+(?:and\s+)?(?:then\s+)?(?:in|inside|into|within)\s+` +
			`(?:each\s+of\s+(?:them|those|these)|each(?:\s+(?:folder|directory|one|of\s+them))?|that(?:\s+(?:folder|directory|one))?|it|there|this|them|those|these)\b`),
		innerRe: regexp.MustCompile(`^\s*(?:,\s*)?(?:(?:please|also|then)\s+)?(?:(` + lex.verbAlt + `)\b|(?:` + numberAlt + `)\b)`),
	}
}

// asciiLower lowercases ASCII letters only so byte offsets stay aligned with
// the original text.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Parse produces the structured understanding of one command.
func (t *Transducer) Parse(cmd types.CorrectedCommand) types.ParseResult {
	text := cmd.Text
	lower := asciiLower(text)

	result := types.ParseResult{
		Text:     text,
		Intent:   types.IntentUnknown,
		Strategy: types.StrategyNone,
	}
	if strings.TrimSpace(text) == "" {
		Rescore(&result)
		return result
	}

	if helpRe.MatchString(lower) {
		result.Intent = types.IntentHelp
		result.Verb = "help"
		result.Strategy = types.StrategyPattern
		result.Tier = patternTier
		Rescore(&result)
		return result
	}

	verbEnd := -1
	if m := t.verbRe.FindStringSubmatchIndex(lower); m != nil {
		verbEnd = m[1]
		result.Strategy = types.StrategyPattern
		if m[2] >= 0 {
			result.Intent = types.IntentCreate
			result.Verb = "create"
		} else {
			entry, _ := t.lex.Verb(lower[m[4]:m[5]])
			result.Intent = entry.Intent
			result.Verb = entry.Verb
		}
	} else if entry, hits, end := t.heuristic(lower); hits > 0 {
		verbEnd = end
		result.Strategy = types.StrategyHeuristic
		result.Intent = entry.Intent
		result.Verb = entry.Verb
		result.Tier = min(heuristicTierMax, heuristicTierBase+heuristicTierStep*hits)
	}

	x := newExtractor(t.lex, text, lower, result.Intent, result.Verb)
	for _, c := range t.clauses(lower, verbEnd) {
		x.extract(c)
	}
	x.assignModifyRoles()

	result.Entities = x.entities
	result.Anaphora = x.anaphora
	result.SortEntities()

	if result.Strategy == types.StrategyPattern {
		result.Tier = t.tierFor(result)
	}
	Rescore(&result)

	logging.PerceptionDebug("parse: %q -> intent=%s strategy=%s entities=%d confidence=%.2f",
		text, result.Intent, result.Strategy, len(result.Entities), result.Confidence)
	return result
}

// tierFor is full strength when the command names its object.
func (t *Transducer) tierFor(p types.ParseResult) int {
	if len(requiredSlots(p)) == 0 {
		return patternTier
	}
	for _, e := range p.Entities {
		if e.Typed() && e.Kind != types.KindQuantity || e.Quantity != nil && e.Quantity.Unit.IsPathLike() {
			return patternTier
		}
	}
	for _, w := range wordRe.FindAllString(asciiLower(p.Text), -1) {
		if _, ok := t.lex.NounKind(w); ok {
			return patternTier
		}
	}
	return patternTierWeak
}

// heuristic scores every verb entry by keyword hits anywhere in the text.
// Near misses of long synonyms count as hits. An object noun adds one hit to
// an entry that already matched.
func (t *Transducer) heuristic(lower string) (VerbEntry, int, int) {
	words := wordRe.FindAllStringIndex(lower, -1)
	hasNoun := false
	for _, w := range words {
		if _, ok := t.lex.NounKind(lower[w[0]:w[1]]); ok {
			hasNoun = true
			break
		}
	}

	var best VerbEntry
	bestHits, bestEnd := 0, -1
	for _, entry := range t.lex.Verbs {
		hits, end := 0, -1
		for _, w := range words {
			word := lower[w[0]:w[1]]
			for _, syn := range entry.Synonyms {
				if word == syn || len(word) >= 5 && len(syn) >= 5 && levenshtein.ComputeDistance(word, syn) <= 1 {
					hits++
					if end < 0 {
						end = w[1]
					}
					break
				}
			}
		}
		if hits > 0 && hasNoun {
			hits++
		}
		if hits > bestHits || hits == bestHits && hits > 0 && entry.Priority > best.Priority {
			best, bestHits, bestEnd = entry, hits, end
		}
	}
	if bestHits > 0 {
		logging.PerceptionDebug("heuristic: verb=%s hits=%d", best.Verb, bestHits)
	}
	return best, bestHits, bestEnd
}

// clauses splits the command into nesting levels at connectors such as
// "and in that" or "inside each". A connector only opens a level when the
// text after it starts with a verb or a count.
func (t *Transducer) clauses(lower string, verbEnd int) []clause {
	cur := clause{start: 0, end: len(lower), depth: 0, verbEnd: verbEnd}
	if verbEnd < 0 {
		return []clause{cur}
	}

	var out []clause
	for _, m := range t.connectorRe.FindAllStringIndex(lower, -1) {
		if m[0] < verbEnd || m[0] < cur.start {
			continue
		}
		inner := t.innerRe.FindStringSubmatchIndex(lower[m[1]:])
		if inner == nil {
			continue
		}
		cur.end = m[0]
		out = append(out, cur)

		next := clause{start: m[1], end: len(lower), depth: cur.depth + 1, verbEnd: -1}
		if inner[2] >= 0 {
			next.verbEnd = m[1] + inner[3]
		}
		cur = next
	}
	return append(out, cur)
}

package perception

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// tokenKind classifies spans produced by tokenize.
type tokenKind int

const (
	tokWord      tokenKind = iota // correctable candidate
	tokProtected                  // quoted literal, URL or path
	tokSpace                      // whitespace run
	tokPunct                      // anything else
)

type token struct {
	text string
	kind tokenKind
}

// tokenize splits text into tokens whose concatenation is the original text.
// Quoted literals, URLs and path-like chunks are single protected tokens.
func tokenize(text string) []token {
	var toks []token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])

		switch {
		case unicode.IsSpace(r):
			j := i
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if !unicode.IsSpace(r2) {
					break
				}
				j += s2
			}
			toks = append(toks, token{text[i:j], tokSpace})
			i = j

		case (r == '"' || r == '`' || r == '\'') && atWordStart(text, i):
			end := strings.IndexRune(text[i+size:], r)
			j := len(text)
			if end >= 0 {
				j = i + size + end + size
			}
			toks = append(toks, token{text[i:j], tokProtected})
			i = j

		default:
			j := i
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if unicode.IsSpace(r2) {
					break
				}
				j += s2
			}
			toks = append(toks, splitChunk(text[i:j])...)
			i = j
		}
	}
	return toks
}

func atWordStart(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r) || r == '(' || r == '='
}

// splitChunk classifies one whitespace-free chunk.
func splitChunk(chunk string) []token {
	if isPathLike(chunk) || strings.Contains(chunk, "://") {
		return []token{{chunk, tokProtected}}
	}

	var toks []token
	i := 0
	for i < len(chunk) {
		r, size := utf8.DecodeRuneInString(chunk[i:])
		if isWordRune(r) {
			j := i
			for j < len(chunk) {
				r2, s2 := utf8.DecodeRuneInString(chunk[j:])
				if !isWordRune(r2) && !(r2 == '.' && j+s2 < len(chunk) && nextIsWordRune(chunk[j+s2:])) {
					break
				}
				j += s2
			}
			toks = append(toks, token{chunk[i:j], tokWord})
			i = j
			continue
		}
		toks = append(toks, token{chunk[i : i+size], tokPunct})
		i += size
	}
	return toks
}

func nextIsWordRune(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

// isPathLike reports whether a chunk looks like a filesystem path.
func isPathLike(s string) bool {
	if strings.ContainsAny(s, `/\`) {
		return true
	}
	if strings.HasPrefix(s, "~") {
		return true
	}
	if len(s) >= 2 && s[1] == ':' && unicode.IsLetter(rune(s[0])) {
		return true
	}
	return false
}

// =============================================================================
// SPELL CORRECTOR
// =============================================================================

// SpellCorrector replaces near-miss words with lexicon words.
type SpellCorrector struct {
	lex         *Lexicon
	maxDistance int
	minLength   int
}

// NewSpellCorrector creates a corrector over the lexicon.
func NewSpellCorrector(lex *Lexicon, cfg config.PerceptionConfig) *SpellCorrector {
	return &SpellCorrector{
		lex:         lex,
		maxDistance: cfg.MaxEditDistance,
		minLength:   cfg.MinTokenLength,
	}
}

// nameMarkers protect the following word: it is a user-supplied name.
var nameMarkers = map[string]bool{"named": true, "called": true, "titled": true}

// Correct returns the command with eligible misspellings replaced.
// Text outside replaced words is kept byte for byte.
func (s *SpellCorrector) Correct(raw types.RawCommand) types.CorrectedCommand {
	toks := tokenize(raw.Text)

	var b strings.Builder
	var corrections []types.Correction
	wordPos := 0
	prevWord := ""

	for _, tok := range toks {
		out := tok.text
		if tok.kind == tokWord {
			if !nameMarkers[strings.ToLower(prevWord)] && s.eligible(tok.text) {
				if repl, dist, ok := s.best(strings.ToLower(tok.text)); ok {
					out = matchCase(tok.text, repl)
					corrections = append(corrections, types.Correction{
						Original:  tok.text,
						Corrected: out,
						Distance:  dist,
						Position:  wordPos,
					})
				}
			}
			prevWord = tok.text
			wordPos++
		} else if tok.kind == tokProtected {
			prevWord = ""
			wordPos++
		}
		b.WriteString(out)
	}

	if len(corrections) > 0 {
		logging.PerceptionDebug("spell: %d correction(s) in %q", len(corrections), raw.Text)
	}

	return types.CorrectedCommand{
		Raw:         raw,
		Text:        b.String(),
		Corrections: corrections,
	}
}

// eligible applies the token rules: letters only, no camelCase, long enough,
// not already a lexicon word.
func (s *SpellCorrector) eligible(w string) bool {
	if utf8.RuneCountInString(w) < s.minLength {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	if isMixedCase(w) {
		return false
	}
	return !s.lex.Contains(w)
}

// isMixedCase is true for camelCase-style words. ALL CAPS and Title case
// are not mixed.
func isMixedCase(w string) bool {
	hasLower := false
	upperAfterFirst := false
	for i, r := range w {
		if unicode.IsLower(r) {
			hasLower = true
		}
		if i > 0 && unicode.IsUpper(r) {
			upperAfterFirst = true
		}
	}
	return hasLower && upperAfterFirst
}

// best returns the unique closest lexicon word within the distance limit.
func (s *SpellCorrector) best(w string) (string, int, bool) {
	bestWord := ""
	bestDist := s.maxDistance + 1
	secondDist := s.maxDistance + 1
	n := utf8.RuneCountInString(w)

	for _, cand := range s.lex.Words() {
		m := utf8.RuneCountInString(cand)
		if abs(m-n) > s.maxDistance {
			continue
		}
		d := edlib.OSADamerauLevenshteinDistance(w, cand)
		switch {
		case d < bestDist:
			secondDist = bestDist
			bestDist = d
			bestWord = cand
		case d < secondDist:
			secondDist = d
		}
	}

	if bestDist > s.maxDistance || bestDist >= secondDist || bestDist == 0 {
		return "", 0, false
	}
	return bestWord, bestDist, true
}

func matchCase(orig, repl string) string {
	if strings.ToUpper(orig) == orig {
		return strings.ToUpper(repl)
	}
	r, _ := utf8.DecodeRuneInString(orig)
	if unicode.IsUpper(r) {
		rr, size := utf8.DecodeRuneInString(repl)
		return string(unicode.ToUpper(rr)) + repl[size:]
	}
	return repl
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

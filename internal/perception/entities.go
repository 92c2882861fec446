package perception

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// =============================================================================
// ENTITY PATTERNS
// =============================================================================

const numberAlt = `\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty|thirty|forty|fifty|hundred|thousand`

var (
	quotedRe   = regexp.MustCompile("\"([^\"]*)\"|'([^']*)'|`([^`]*)`")
	urlRe      = regexp.MustCompile(`(?:https?|ftp|file)://[^\s"'<>]+`)
	chunkRe    = regexp.MustCompile("[^\\s\"'`]+")
	rangeRe    = regexp.MustCompile(`\b([a-z_][a-z_\-]*?)?(\d+)(\.[a-z][a-z0-9]*)?\s*(?:to|through|thru|till|until|-|\.\.)\s*([a-z_][a-z_\-]*?)?(\s?)(\d+)(\.[a-z][a-z0-9]*)?\b`)
	countRe    = regexp.MustCompile(`\b(` + numberAlt + `)\s+(?:(?:more|new|empty|additional)\s+)?(?:(nested|sub|child)[\s\-]?)?(folders?|directories|directory|dirs?|subfolders?|subdirectories|subdirectory|files?|documents?|projects?|items?)\b`)
	eachRe     = regexp.MustCompile(`^\s*(?:each|inside\s+each(?:\s+\w+)?|in\s+each(?:\s+\w+)?|within\s+each(?:\s+\w+)?|per\s+\w+)\b`)
	filenameRe = regexp.MustCompile(`\b[\w\-]+\.[a-z][a-z0-9]{0,7}\b`)
	markerRe   = regexp.MustCompile(`\b(?:named|called|titled)\s+`)
	locationRe = regexp.MustCompile(`\b(?:in|inside|into|within|under|at)\s+(?:the\s+)?(?:(?:folder|directory|dir|project)\s+)?([\w\-.~]+)`)
	anaphoraRe = regexp.MustCompile(`\b(?:them|those|these|it)\b`)
	multRe     = regexp.MustCompile(`\bmultiplication\s+tables?(?:\s+(?:of|for)\s+(\d+))?`)
	setRe      = regexp.MustCompile(`^(?:set|configure|config)\s+([\w.\-]+)\s+(?:to|=|as)\s+(.+?)\s*$`)
	toggleRe   = regexp.MustCompile(`^(enable|disable)\s+([\w.\-]+)`)
	wordTokRe  = regexp.MustCompile(`[\w\-.~]+`)
	nounWordRe = regexp.MustCompile(`[a-z]+`)
)

// MultiplicationTable is the content value produced for "multiplication table".
const MultiplicationTable = "multiplication_table"

// clause is one nesting level of a command.
type clause struct {
	start, end int
	depth      int
	verbEnd    int // -1 when the clause has no leading verb
}

// extractor collects entities for one command. consumed marks bytes already
// claimed by an entity so later patterns do not re-read them.
type extractor struct {
	lex      *Lexicon
	text     string
	lower    string
	consumed []bool
	intent   types.Intent
	verb     string
	entities []types.Entity
	anaphora bool
	nameStop *regexp.Regexp
}

func newExtractor(lex *Lexicon, text, lower string, intent types.Intent, verb string) *extractor {
	return &extractor{
		lex:      lex,
		text:     text,
		lower:    lower,
		consumed: make([]bool, len(text)),
		intent:   intent,
		verb:     verb,
		nameStop: regexp.MustCompile(`\s+(?:in|inside|into|within|under|at|with|containing|then|each)\b|\s+and\s+(?:` + lex.verbAlt + `|write|then)\b|\s*[;]`),
	}
}

func (x *extractor) free(s, e int) bool {
	for i := s; i < e && i < len(x.consumed); i++ {
		if x.consumed[i] {
			return false
		}
	}
	return true
}

func (x *extractor) take(s, e int) {
	for i := s; i < e && i < len(x.consumed); i++ {
		x.consumed[i] = true
	}
}

func (x *extractor) add(e types.Entity) {
	x.entities = append(x.entities, e)
	x.take(e.Span.Start, e.Span.End)
}

func (x *extractor) roleFor(depth int) types.Role {
	if depth > 0 {
		return types.RoleNested
	}
	return types.RoleNone
}

// prevWord returns the word immediately before byte offset i.
func (x *extractor) prevWord(i int) string {
	s := strings.TrimRight(x.lower[:i], " \t,")
	j := strings.LastIndexAny(s, " \t,")
	return s[j+1:]
}

// extract runs every entity pattern over one clause.
func (x *extractor) extract(c clause) {
	x.quoted(c)
	x.urls(c)
	x.paths(c)
	if x.intent != types.IntentModify && x.intent != types.IntentExecute && x.intent != types.IntentConfigure {
		x.ranges(c)
	}
	x.counts(c)
	x.mergeCountAndRange(c)
	x.filenames(c)
	x.content(c)
	switch x.intent {
	case types.IntentExecute:
		x.command(c)
	case types.IntentConfigure:
		x.setting(c)
	default:
		x.names(c)
		x.foldCountIntoNames(c)
		x.locations(c)
		x.positional(c)
		x.implicitTarget(c)
	}

	for _, m := range anaphoraRe.FindAllStringIndex(x.lower[c.start:c.end], -1) {
		if x.free(c.start+m[0], c.start+m[1]) {
			x.anaphora = true
		}
	}
}

// clauseNoun returns the first object noun of the clause at or before limit.
func (x *extractor) clauseNoun(c clause, limit int) (types.EntityKind, bool) {
	var found types.EntityKind
	ok := false
	for _, m := range nounWordRe.FindAllStringIndex(x.lower[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if k, isNoun := x.lex.NounKind(x.lower[s:e]); isNoun {
			if s > limit && ok {
				break
			}
			found, ok = k, true
			if s > limit {
				break
			}
		}
	}
	return found, ok
}

// targetKind maps a noun kind to the kind given to named targets.
func targetKind(k types.EntityKind) types.EntityKind {
	if k.IsPathLike() {
		return k
	}
	return types.KindFile
}

// =============================================================================
// PATTERN STEPS
// =============================================================================

func (x *extractor) quoted(c clause) {
	for _, m := range quotedRe.FindAllStringSubmatchIndex(x.text[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if !x.free(s, e) || !atWordStart(x.text, s) {
			continue
		}
		inner := x.text[s+1 : e-1]
		before := strings.TrimSpace(x.lower[c.start:s])

		switch {
		case hasAnySuffix(before, "named", "called", "titled"):
			kind := types.KindUnknown
			if nk, ok := x.clauseNoun(c, s); ok {
				kind = targetKind(nk)
			} else if path.Ext(inner) != "" {
				kind = types.KindFile
			}
			x.addName(c, s, e, inner, kind)
		case hasAnySuffix(before, "content", "containing", "text", "saying", "with"):
			x.add(types.Entity{Kind: types.KindParameter, Raw: x.text[s:e], Value: inner,
				Span: types.Span{Start: s, End: e}, Role: types.RoleContent, Depth: c.depth})
		case x.intent == types.IntentExecute && len(x.entitiesOfKind(types.KindCommandName)) == 0:
			fields := strings.Fields(inner)
			if len(fields) == 0 {
				continue
			}
			x.add(types.Entity{Kind: types.KindCommandName, Raw: x.text[s:e], Value: fields[0],
				Span: types.Span{Start: s, End: e}})
			if len(fields) > 1 {
				x.entities = append(x.entities, types.Entity{Kind: types.KindParameter, Raw: x.text[s:e],
					Value: strings.Join(fields[1:], " "), Span: types.Span{Start: s + 1, End: e}, Role: types.RoleArguments})
			}
		default:
			x.add(types.Entity{Kind: types.KindParameter, Raw: x.text[s:e], Value: inner,
				Span: types.Span{Start: s, End: e}, Depth: c.depth})
		}
	}
}

func (x *extractor) urls(c clause) {
	for _, m := range urlRe.FindAllStringIndex(x.text[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if !x.free(s, e) {
			continue
		}
		v := strings.TrimRight(x.text[s:e], ".,;)")
		x.add(types.Entity{Kind: types.KindURL, Raw: x.text[s:e], Value: v,
			Span: types.Span{Start: s, End: s + len(v)}, Depth: c.depth})
	}
}

func (x *extractor) paths(c clause) {
	for _, m := range chunkRe.FindAllStringIndex(x.text[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		raw := strings.TrimRight(x.text[s:e], ",;:!?)")
		e = s + len(raw)
		if raw == "" || !isPathLike(raw) || !x.free(s, e) {
			continue
		}

		kind := types.KindPath
		value := raw
		switch {
		case strings.HasSuffix(raw, "/") || strings.HasSuffix(raw, `\`):
			kind = types.KindFolder
			value = strings.TrimRight(raw, `/\`)
			if value == "" {
				value = raw
			}
		case path.Ext(strings.ReplaceAll(raw, `\`, "/")) != "":
			kind = types.KindFile
		}

		x.add(types.Entity{Kind: kind, Raw: raw, Value: value,
			Span: types.Span{Start: s, End: e}, Role: x.pathRole(s, c), Depth: c.depth})
	}
}

// pathRole decides the role of a path-like entity from the word before it.
func (x *extractor) pathRole(s int, c clause) types.Role {
	prev := x.prevWord(s)
	switch x.intent {
	case types.IntentModify:
		switch prev {
		case "to", "into", "onto", "as":
			return types.RoleDestination
		}
		return types.RoleNone
	default:
		switch prev {
		case "in", "into", "inside", "under", "within", "at":
			return types.RoleLocation
		}
	}
	return x.roleFor(c.depth)
}

func (x *extractor) ranges(c clause) {
	for _, m := range rangeRe.FindAllStringSubmatchIndex(x.lower[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if !x.free(s, e) {
			continue
		}
		group := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return x.lower[c.start+m[2*i] : c.start+m[2*i+1]]
		}
		rawGroup := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return x.text[c.start+m[2*i] : c.start+m[2*i+1]]
		}

		p1, p2, gap := rawGroup(1), rawGroup(4), group(5)
		a, okA := parseNumber(group(2))
		b, okB := parseNumber(group(6))
		if !okA || !okB {
			continue
		}
		if a > b {
			a, b = b, a
		}

		prefix := p1
		if prefix == "" && p2 != "" {
			if gap != "" {
				// "table 1 to table 10": the spaced prefix must appear on both sides.
				before := strings.TrimRight(x.text[c.start:s], " ")
				idx := strings.LastIndex(before, " ") + 1
				w := before[idx:]
				if strings.EqualFold(w, p2) && x.free(c.start+idx, s) {
					prefix = w + " "
					s = c.start + idx
				}
			} else {
				prefix = p2
			}
		}

		suffix := group(3)
		if suffix == "" {
			suffix = group(7)
		}

		unit := types.KindUnknown
		if nk, ok := x.clauseNoun(c, s); ok {
			unit = targetKind(nk)
		} else if suffix != "" {
			unit = types.KindFile
		}

		q := &types.Quantity{
			Count: b - a + 1, Start: a, End: b, HasRange: true,
			Prefix: prefix, Suffix: suffix, Unit: unit,
		}
		ent := types.Entity{
			Kind:     types.KindQuantity,
			Raw:      x.text[s:e],
			Value:    fmt.Sprintf("%s%d%s..%s%d%s", prefix, a, suffix, prefix, b, suffix),
			Span:     types.Span{Start: s, End: e},
			Role:     x.roleFor(c.depth),
			Depth:    c.depth,
			Quantity: q,
		}
		if unit == types.KindUnknown && x.intent == types.IntentCreate {
			ent.Candidates = x.rankKinds(strings.TrimSpace(prefix))
		}
		x.add(ent)
	}
}

func (x *extractor) counts(c clause) {
	for _, m := range countRe.FindAllStringSubmatchIndex(x.lower[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if !x.free(s, e) {
			continue
		}
		n, ok := parseNumber(x.lower[c.start+m[2] : c.start+m[3]])
		if !ok {
			continue
		}
		noun := x.lower[c.start+m[6] : c.start+m[7]]

		depth := c.depth
		nested := m[4] >= 0 || strings.HasPrefix(noun, "sub")
		end := e
		if loc := eachRe.FindStringIndex(x.lower[e:c.end]); loc != nil {
			nested = true
			end = e + loc[1]
		}
		// a verbless "with 15 nested folders each" is a nested level of
		// whatever the conversation created last
		if nested && c.depth == 0 && (c.verbEnd < 0 || x.hasTopLevelTarget(c)) {
			depth = 1
		}

		unit := types.KindUnknown
		if k, ok := x.lex.NounKind(noun); ok {
			unit = targetKind(k)
		}

		role := x.roleFor(depth)
		ent := types.Entity{
			Kind:     types.KindQuantity,
			Raw:      x.text[s:e],
			Value:    fmt.Sprintf("%d %s", n, noun),
			Span:     types.Span{Start: s, End: e},
			Role:     role,
			Depth:    depth,
			Quantity: &types.Quantity{Count: n, Unit: unit},
		}
		if unit == types.KindUnknown && x.intent == types.IntentCreate {
			ent.Candidates = x.rankKinds(noun)
		}
		x.add(ent)
		x.take(e, end)
	}
}

// hasTopLevelTarget reports whether a depth-0 target precedes nested counts.
func (x *extractor) hasTopLevelTarget(c clause) bool {
	for _, e := range x.entities {
		if e.Depth == 0 && e.Role != types.RoleLocation &&
			(e.Kind == types.KindQuantity || e.Kind.IsPathLike() || e.Kind == types.KindUnknown) {
			return true
		}
	}
	return false
}

// mergeCountAndRange folds "10 folders called table 1 to table 10" into one
// quantity whose count comes from the range.
func (x *extractor) mergeCountAndRange(c clause) {
	var rangeIdx, countIdx []int
	for i, e := range x.entities {
		if e.Quantity == nil || e.Span.Start < c.start || e.Span.End > c.end {
			continue
		}
		if e.Quantity.HasRange {
			rangeIdx = append(rangeIdx, i)
		} else if e.Depth == c.depth {
			countIdx = append(countIdx, i)
		}
	}
	if len(rangeIdx) != 1 || len(countIdx) != 1 {
		return
	}
	r, n := &x.entities[rangeIdx[0]], x.entities[countIdx[0]]
	if r.Depth != n.Depth {
		return
	}
	if r.Quantity.Unit == types.KindUnknown && n.Quantity.Unit != types.KindUnknown {
		r.Quantity.Unit = n.Quantity.Unit
		r.Candidates = nil
	}
	if n.Span.Start < r.Span.Start {
		r.Span.Start = n.Span.Start
		r.Raw = x.text[r.Span.Start:r.Span.End]
	}
	x.entities = append(x.entities[:countIdx[0]], x.entities[countIdx[0]+1:]...)
}

// foldCountIntoNames lets a name list supply the names of a same-level count:
// "3 folders named x, y and z" is three folders, not six. A single name with a
// larger count becomes a numbered range ("3 folders named test" is test1 to
// test3), a short list is padded with numbered defaults, and a count smaller
// than the list is dropped.
func (x *extractor) foldCountIntoNames(c clause) {
	countIdx := -1
	var named []int
	for i, e := range x.entities {
		if e.Depth != c.depth || e.Role != x.roleFor(c.depth) || e.Span.Start < c.start || e.Span.End > c.end {
			continue
		}
		switch {
		case e.Quantity != nil && !e.Quantity.HasRange:
			if countIdx >= 0 {
				return
			}
			countIdx = i
		case e.Quantity == nil && e.Named():
			named = append(named, i)
		}
	}
	if countIdx < 0 || len(named) == 0 {
		return
	}

	cnt := x.entities[countIdx]
	n := cnt.Quantity.Count
	switch {
	case n <= len(named):
		if n < len(named) {
			logging.PerceptionDebug("fold: %d names given for %q; using the names", len(named), cnt.Raw)
		}
		x.remove(countIdx)

	case len(named) == 1:
		name := x.entities[named[0]]
		ext := path.Ext(name.Value)
		q := &types.Quantity{
			Count:    n,
			Start:    1,
			End:      n,
			HasRange: true,
			Prefix:   strings.TrimSuffix(name.Value, ext),
			Suffix:   ext,
			Unit:     cnt.Quantity.Unit,
		}
		if q.Unit == types.KindUnknown && name.Typed() && name.Kind.IsPathLike() {
			q.Unit = name.Kind
		}
		r := cnt
		r.Quantity = q
		r.Value = fmt.Sprintf("%s1%s..%s%d%s", q.Prefix, q.Suffix, q.Prefix, n, q.Suffix)
		r.Span = types.Span{Start: min(cnt.Span.Start, name.Span.Start), End: max(cnt.Span.End, name.Span.End)}
		r.Raw = x.text[r.Span.Start:r.Span.End]
		if q.Unit != types.KindUnknown {
			r.Candidates = nil
		}
		x.entities[countIdx] = r
		x.remove(named[0])

	default:
		unit := cnt.Quantity.Unit
		if unit == types.KindUnknown {
			unit = types.KindFolder
			if len(cnt.Candidates) > 0 {
				unit = cnt.Candidates[0]
			}
		}
		q := cnt.Quantity
		q.HasRange = true
		q.Start, q.End = len(named)+1, n
		q.Count = n - len(named)
		q.Prefix = string(unit)
		q.Unit = unit
		cnt.Candidates = nil
		cnt.Value = fmt.Sprintf("%s%d..%s%d", q.Prefix, q.Start, q.Prefix, q.End)
		// the padding follows the listed names
		last := 0
		for _, i := range named {
			last = max(last, x.entities[i].Span.End)
		}
		cnt.Span = types.Span{Start: last, End: last}
		x.entities[countIdx] = cnt
	}
}

func (x *extractor) remove(i int) {
	x.entities = append(x.entities[:i], x.entities[i+1:]...)
}

func (x *extractor) filenames(c clause) {
	for _, m := range filenameRe.FindAllStringIndex(x.lower[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if !x.free(s, e) {
			continue
		}
		raw := x.text[s:e]
		if _, err := strconv.ParseFloat(raw, 64); err == nil {
			continue
		}
		role := x.roleFor(c.depth)
		if x.intent == types.IntentModify {
			role = x.pathRole(s, c)
		} else if r := x.pathRole(s, c); r == types.RoleLocation {
			role = r
		}
		x.add(types.Entity{Kind: types.KindFile, Raw: raw, Value: raw,
			Span: types.Span{Start: s, End: e}, Role: role, Depth: c.depth})
	}
}

func (x *extractor) content(c clause) {
	for _, m := range multRe.FindAllStringSubmatchIndex(x.lower[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if !x.free(s, e) {
			continue
		}
		v := MultiplicationTable
		if m[2] >= 0 {
			v += ":" + x.lower[c.start+m[2]:c.start+m[3]]
		}
		x.add(types.Entity{Kind: types.KindParameter, Raw: x.text[s:e], Value: v,
			Span: types.Span{Start: s, End: e}, Role: types.RoleContent, Depth: c.depth})
	}
}

// names reads the values after "named", "called" and "titled".
func (x *extractor) names(c clause) {
	for _, m := range markerRe.FindAllStringIndex(x.lower[c.start:c.end], -1) {
		ms, rs := c.start+m[0], c.start+m[1]
		if !x.free(ms, rs) || !x.free(rs, min(rs+1, c.end)) {
			x.take(ms, rs)
			continue
		}
		x.take(ms, rs)

		re := c.end
		if stop := x.nameStop.FindStringIndex(x.lower[rs:c.end]); stop != nil {
			re = rs + stop[0]
		}
		for i := rs; i < re; i++ {
			if x.consumed[i] {
				re = i
				break
			}
		}

		kind := types.KindUnknown
		if nk, ok := x.clauseNoun(c, ms); ok {
			kind = targetKind(nk)
		}

		for _, part := range splitNameList(x.text, rs, re) {
			name := strings.Trim(x.text[part.Start:part.End], ".,!? ")
			if name == "" || x.lex.IsStructural(name) {
				continue
			}
			k := kind
			if k == types.KindUnknown && path.Ext(name) != "" {
				k = types.KindFile
			}
			x.addName(c, part.Start, part.Start+len(name), name, k)
		}
	}
}

// splitNameList splits "a, b and c" into spans.
func splitNameList(text string, s, e int) []types.Span {
	var out []types.Span
	seg := s
	i := s
	for i < e {
		switch {
		case text[i] == ',':
			out = append(out, trimSpan(text, seg, i))
			i++
			seg = i
		case i+5 <= e && strings.EqualFold(text[i:i+5], " and "):
			out = append(out, trimSpan(text, seg, i))
			i += 5
			seg = i
		default:
			i++
		}
	}
	out = append(out, trimSpan(text, seg, e))
	return out
}

func trimSpan(text string, s, e int) types.Span {
	for s < e && (text[s] == ' ' || text[s] == '\t') {
		s++
	}
	for e > s && (text[e-1] == ' ' || text[e-1] == '\t') {
		e--
	}
	return types.Span{Start: s, End: e}
}

func (x *extractor) addName(c clause, s, e int, name string, kind types.EntityKind) {
	ent := types.Entity{
		Kind:  kind,
		Raw:   x.text[s:e],
		Value: strings.Trim(name, "\"'`"),
		Span:  types.Span{Start: s, End: e},
		Role:  x.roleFor(c.depth),
		Depth: c.depth,
	}
	if kind == types.KindUnknown {
		if x.intent == types.IntentCreate {
			ent.Candidates = x.rankKinds(ent.Value)
		} else {
			ent.Kind = types.KindPath
		}
	}
	if x.intent == types.IntentModify {
		ent.Role = x.pathRole(s, c)
	}
	x.add(ent)
}

func (x *extractor) locations(c clause) {
	for _, m := range locationRe.FindAllStringSubmatchIndex(x.lower[c.start:c.end], -1) {
		ws, we := c.start+m[2], c.start+m[3]
		word := strings.TrimRight(x.text[ws:we], ".,")
		we = ws + len(word)
		if word == "" || !x.free(ws, we) || x.lex.IsStructural(word) {
			continue
		}
		if _, isNum := parseNumber(word); isNum {
			continue
		}
		if anaphoraRe.MatchString(strings.ToLower(word)) {
			continue
		}
		role := types.RoleLocation
		if x.intent == types.IntentModify {
			role = types.RoleDestination
		}
		x.add(types.Entity{Kind: types.KindPath, Raw: word, Value: word,
			Span: types.Span{Start: ws, End: we}, Role: role, Depth: c.depth})
	}
}

// positional finds targets that follow the verb directly, as in
// "create folder reports" or "rename draft to final".
func (x *extractor) positional(c clause) {
	if c.verbEnd < 0 {
		return
	}
	switch x.intent {
	case types.IntentCreate, types.IntentDelete, types.IntentQuery, types.IntentAnalyze, types.IntentModify:
	default:
		return
	}
	if x.intent != types.IntentModify && x.hasNamedAt(c) {
		return
	}

	afterTo := false
	for _, m := range wordTokRe.FindAllStringIndex(x.lower[c.verbEnd:c.end], -1) {
		s, e := c.verbEnd+m[0], c.verbEnd+m[1]
		w := x.lower[s:e]

		if x.intent == types.IntentModify && (w == "to" || w == "into" || w == "as" || w == "onto") {
			afterTo = true
			continue
		}
		if !x.free(s, e) {
			continue
		}
		if w == "in" || w == "with" || w == "and" || w == "then" || w == "from" || w == "inside" {
			if x.intent != types.IntentModify {
				return
			}
			continue
		}
		if x.lex.IsStructural(w) {
			continue
		}
		if _, isNum := parseNumber(w); isNum {
			continue
		}

		raw := strings.TrimRight(x.text[s:e], ".")
		e = s + len(raw)
		switch x.intent {
		case types.IntentModify:
			role := types.RoleSource
			if afterTo {
				role = types.RoleDestination
			}
			x.add(types.Entity{Kind: types.KindPath, Raw: raw, Value: raw,
				Span: types.Span{Start: s, End: e}, Role: role, Depth: c.depth})
			if afterTo {
				return
			}
		default:
			kind := types.KindUnknown
			if nk, ok := x.clauseNoun(c, s); ok {
				kind = targetKind(nk)
			}
			x.addName(c, s, e, raw, kind)
			return
		}
	}
}

func (x *extractor) hasNamedAt(c clause) bool {
	for _, e := range x.entities {
		if e.Depth == c.depth && e.Role != types.RoleLocation && e.Named() &&
			e.Span.Start >= c.start && e.Span.End <= c.end {
			return true
		}
	}
	return false
}

// implicitTarget records "create a folder" as a single unnamed item.
func (x *extractor) implicitTarget(c clause) {
	if x.intent != types.IntentCreate {
		return
	}
	for _, e := range x.entities {
		if e.Depth == c.depth && e.Role != types.RoleLocation && e.Role != types.RoleContent &&
			(e.Kind.IsPathLike() || e.Kind == types.KindQuantity || e.Kind == types.KindUnknown) {
			return
		}
	}
	for _, m := range nounWordRe.FindAllStringIndex(x.lower[c.start:c.end], -1) {
		s, e := c.start+m[0], c.start+m[1]
		if !x.free(s, e) {
			continue
		}
		k, ok := x.lex.NounKind(x.lower[s:e])
		if !ok {
			continue
		}
		k = targetKind(k)
		x.add(types.Entity{
			Kind:     types.KindQuantity,
			Raw:      x.text[s:e],
			Value:    "1 " + x.lower[s:e],
			Span:     types.Span{Start: s, End: e},
			Role:     x.roleFor(c.depth),
			Depth:    c.depth,
			Quantity: &types.Quantity{Count: 1, Unit: k},
		})
		return
	}
}

// command extracts COMMAND_NAME and arguments after an execute verb.
func (x *extractor) command(c clause) {
	if c.verbEnd < 0 || len(x.entitiesOfKind(types.KindCommandName)) > 0 {
		return
	}
	rest := x.text[c.verbEnd:c.end]
	fields := strings.Fields(rest)
	for len(fields) > 0 && (strings.EqualFold(fields[0], "the") || strings.EqualFold(fields[0], "command") || strings.EqualFold(fields[0], "script")) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return
	}
	s := c.verbEnd + strings.Index(rest, fields[0])
	x.add(types.Entity{Kind: types.KindCommandName, Raw: fields[0], Value: fields[0],
		Span: types.Span{Start: s, End: s + len(fields[0])}})
	if len(fields) > 1 {
		argStart := s + len(fields[0])
		args := strings.TrimSpace(x.text[argStart:c.end])
		as := argStart + strings.Index(x.text[argStart:c.end], args)
		x.add(types.Entity{Kind: types.KindParameter, Raw: args, Value: args,
			Span: types.Span{Start: as, End: as + len(args)}, Role: types.RoleArguments})
	}
}

// setting extracts key=value parameters for configure commands.
func (x *extractor) setting(c clause) {
	if c.verbEnd < 0 {
		return
	}
	vs := c.verbEnd
	for vs > c.start && x.lower[vs-1] != ' ' {
		vs--
	}
	seg := x.lower[vs:c.end]
	if m := setRe.FindStringSubmatchIndex(seg); m != nil {
		key := x.text[vs+m[2] : vs+m[3]]
		val := strings.Trim(x.text[vs+m[4]:vs+m[5]], "\"' ")
		x.add(types.Entity{Kind: types.KindParameter, Raw: x.text[vs+m[2] : vs+m[5]], Value: key + "=" + val,
			Span: types.Span{Start: vs + m[2], End: vs + m[5]}})
		return
	}
	if m := toggleRe.FindStringSubmatchIndex(seg); m != nil {
		key := x.text[vs+m[4] : vs+m[5]]
		val := "true"
		if seg[m[2]:m[3]] == "disable" {
			val = "false"
		}
		x.add(types.Entity{Kind: types.KindParameter, Raw: x.text[vs+m[4] : vs+m[5]], Value: key + "=" + val,
			Span: types.Span{Start: vs + m[4], End: vs + m[5]}})
	}
}

// assignModifyRoles gives unroled path-like entities of move/copy/rename a
// source or destination role in mention order.
func (x *extractor) assignModifyRoles() {
	if x.intent != types.IntentModify || x.verb == "write" {
		return
	}
	hasSource := false
	for i := range x.entities {
		e := &x.entities[i]
		if !e.Kind.IsPathLike() {
			continue
		}
		switch e.Role {
		case types.RoleSource:
			hasSource = true
		case types.RoleNone, types.RoleLocation:
			if !hasSource {
				e.Role = types.RoleSource
				hasSource = true
			} else {
				e.Role = types.RoleDestination
			}
		}
	}
}

func (x *extractor) entitiesOfKind(k types.EntityKind) []types.Entity {
	var out []types.Entity
	for _, e := range x.entities {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// rankKinds orders plausible kinds for an untyped name: exact lexical match,
// then partial match, then the default fallback.
func (x *extractor) rankKinds(word string) []types.EntityKind {
	return RankKinds(x.lex, word)
}

// RankKinds orders the plausible item kinds for an untyped name.
func RankKinds(lex *Lexicon, word string) []types.EntityKind {
	w := strings.ToLower(strings.TrimSpace(word))
	base := []types.EntityKind{types.KindFolder, types.KindFile, types.KindProject}
	tier := map[types.EntityKind]int{types.KindFolder: 2, types.KindFile: 3, types.KindProject: 9}

	for noun, k := range lex.Nouns {
		if _, ok := tier[k]; !ok {
			continue
		}
		switch {
		case w == noun:
			tier[k] = 0
		case len(noun) >= 3 && strings.Contains(w, noun),
			len(noun) >= 4 && levenshtein.ComputeDistance(w, noun) <= 1:
			if tier[k] > 1 {
				tier[k] = 1
			}
		}
	}

	var out []types.EntityKind
	for _, k := range base {
		if tier[k] < 9 {
			out = append(out, k)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return tier[out[i]] < tier[out[j]] })
	return out
}

func hasAnySuffix(s string, words ...string) bool {
	for _, w := range words {
		if s == w || strings.HasSuffix(s, " "+w) {
			return true
		}
	}
	return false
}

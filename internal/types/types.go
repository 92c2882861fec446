// Package types provides the shared data model of the omni pipeline.
// It exists to break import cycles between perception, conversation,
// planner, tactile and session. Types here are plain values with no
// dependencies beyond the standard library.
package types

import (
	"sort"
	"strings"
	"time"
)

// =============================================================================
// INTENTS
// =============================================================================

// Intent is the closed set of command categories.
type Intent string

const (
	IntentCreate    Intent = "create"
	IntentDelete    Intent = "delete"
	IntentModify    Intent = "modify"
	IntentQuery     Intent = "query"
	IntentExecute   Intent = "execute"
	IntentConfigure Intent = "configure"
	IntentAnalyze   Intent = "analyze"
	IntentHelp      Intent = "help"
	IntentUnknown   Intent = "unknown"
)

// Intents lists every known intent, excluding IntentUnknown.
var Intents = []Intent{
	IntentCreate, IntentDelete, IntentModify, IntentQuery,
	IntentExecute, IntentConfigure, IntentAnalyze, IntentHelp,
}

// ParseIntent maps free text to an Intent. Anything outside the closed set
// becomes IntentUnknown.
func ParseIntent(s string) Intent {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, i := range Intents {
		if string(i) == s {
			return i
		}
	}
	return IntentUnknown
}

// Actionable reports whether the intent produces filesystem or process work.
func (i Intent) Actionable() bool {
	return i != IntentUnknown && i != IntentHelp && i != ""
}

// =============================================================================
// ENTITIES
// =============================================================================

// EntityKind is the closed set of entity types.
type EntityKind string

const (
	KindFile        EntityKind = "file"
	KindFolder      EntityKind = "folder"
	KindProject     EntityKind = "project"
	KindPath        EntityKind = "path"
	KindURL         EntityKind = "url"
	KindCommandName EntityKind = "command_name"
	KindParameter   EntityKind = "parameter"
	KindQuantity    EntityKind = "quantity"
	KindUnknown     EntityKind = "unknown"
)

// EntityKinds lists every known kind, excluding KindUnknown.
var EntityKinds = []EntityKind{
	KindFile, KindFolder, KindProject, KindPath, KindURL,
	KindCommandName, KindParameter, KindQuantity,
}

// ParseEntityKind maps free text to an EntityKind, defaulting to KindUnknown.
func ParseEntityKind(s string) EntityKind {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	for _, k := range EntityKinds {
		if string(k) == s {
			return k
		}
	}
	return KindUnknown
}

// IsPathLike reports whether entities of this kind name a filesystem location.
func (k EntityKind) IsPathLike() bool {
	switch k {
	case KindFile, KindFolder, KindProject, KindPath:
		return true
	}
	return false
}

// Role describes how an entity participates in the command.
type Role string

const (
	RoleNone        Role = ""
	RoleLocation    Role = "location"
	RoleNested      Role = "nested"
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
	RoleContent     Role = "content"
	RoleArguments   Role = "arguments"
)

// Quantity carries counts and ranges.
// With HasRange set, Count == End-Start+1 and names are Prefix+i+Suffix.
type Quantity struct {
	Count    int        `json:"count"`
	Start    int        `json:"start,omitempty"`
	End      int        `json:"end,omitempty"`
	HasRange bool       `json:"has_range,omitempty"`
	Prefix   string     `json:"prefix,omitempty"`
	Suffix   string     `json:"suffix,omitempty"`
	Unit     EntityKind `json:"unit,omitempty"`
}

// Span is a byte range [Start, End) in the corrected text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Entity is one typed mention in a command.
type Entity struct {
	Kind     EntityKind `json:"kind"`
	Raw      string     `json:"raw"`
	Value    string     `json:"value"`
	Span     Span       `json:"span"`
	Role     Role       `json:"role,omitempty"`
	Depth    int        `json:"depth,omitempty"` // nesting level, 0 = top level
	Quantity *Quantity  `json:"quantity,omitempty"`

	// Candidates orders the plausible kinds of an ambiguous entity: its own
	// kind when Kind is unknown, the item kind when it is a quantity.
	Candidates []EntityKind `json:"candidates,omitempty"`
}

// Resolve fixes an ambiguous entity to kind k.
func (e Entity) Resolve(k EntityKind) Entity {
	c := e.Clone()
	c.Candidates = nil
	if c.Quantity != nil {
		c.Quantity.Unit = k
	} else {
		c.Kind = k
	}
	return c
}

// Typed reports whether the entity has a definite kind.
func (e Entity) Typed() bool {
	return e.Kind != KindUnknown && e.Kind != ""
}

// Named reports whether the entity supplies names for its items.
func (e Entity) Named() bool {
	if e.Quantity != nil {
		return e.Quantity.HasRange
	}
	return e.Value != "" && (e.Kind.IsPathLike() || e.Kind == KindUnknown)
}

// Clone returns a deep copy.
func (e Entity) Clone() Entity {
	c := e
	if e.Quantity != nil {
		q := *e.Quantity
		c.Quantity = &q
	}
	if e.Candidates != nil {
		c.Candidates = append([]EntityKind(nil), e.Candidates...)
	}
	return c
}

// =============================================================================
// COMMANDS
// =============================================================================

// RawCommand is the unmodified user text of one turn.
type RawCommand struct {
	Text      string    `json:"text"`
	SessionID string    `json:"session_id"`
	TurnIndex int       `json:"turn_index"` // turn this text will be committed as
	Received  time.Time `json:"received"`
}

// Correction records one spelling replacement.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Distance  int    `json:"distance"`
	Position  int    `json:"position"` // token index
}

// CorrectedCommand is the raw text with spelling fixes applied.
type CorrectedCommand struct {
	Raw         RawCommand   `json:"raw"`
	Text        string       `json:"text"`
	Corrections []Correction `json:"corrections,omitempty"`
}

// =============================================================================
// PARSE RESULTS
// =============================================================================

// Strategy names the component that produced a ParseResult.
type Strategy string

const (
	StrategyPattern   Strategy = "pattern"
	StrategyHeuristic Strategy = "heuristic"
	StrategyModel     Strategy = "model"
	StrategyNone      Strategy = "none"
)

// ParseResult is the structured understanding of one command.
// Confidence is derived from Tier, Strategy and Entities by perception.Score;
// code outside perception never assigns it.
type ParseResult struct {
	Text       string   `json:"text"`
	Intent     Intent   `json:"intent"`
	Verb       string   `json:"verb,omitempty"`
	Entities   []Entity `json:"entities"`
	Confidence float64  `json:"confidence"`
	Ambiguous  []int    `json:"ambiguous,omitempty"`
	Strategy   Strategy `json:"strategy"`
	Tier       int      `json:"tier"`
	Anaphora   bool     `json:"anaphora,omitempty"`
	Confirmed  bool     `json:"confirmed,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// Clone returns a deep copy so callers can derive new results without
// mutating the original.
func (p ParseResult) Clone() ParseResult {
	c := p
	c.Entities = make([]Entity, len(p.Entities))
	for i, e := range p.Entities {
		c.Entities[i] = e.Clone()
	}
	c.Ambiguous = append([]int(nil), p.Ambiguous...)
	c.Missing = append([]string(nil), p.Missing...)
	return c
}

// IsAmbiguous reports whether any entity span has competing kinds.
func (p ParseResult) IsAmbiguous() bool {
	return len(p.Ambiguous) > 0
}

// EntitiesOf returns entities of the given kind in mention order.
func (p ParseResult) EntitiesOf(kind EntityKind) []Entity {
	var out []Entity
	for _, e := range p.Entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// WithRole returns entities carrying the given role in mention order.
func (p ParseResult) WithRole(role Role) []Entity {
	var out []Entity
	for _, e := range p.Entities {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}

// SortEntities orders entities by span start and recomputes the ambiguous
// index set to match.
func (p *ParseResult) SortEntities() {
	sort.SliceStable(p.Entities, func(i, j int) bool {
		return p.Entities[i].Span.Start < p.Entities[j].Span.Start
	})
	p.Ambiguous = p.Ambiguous[:0]
	for i, e := range p.Entities {
		if len(e.Candidates) > 1 {
			p.Ambiguous = append(p.Ambiguous, i)
		}
	}
}

// Candidate is one interpretation offered in a clarification.
type Candidate struct {
	Label  string      `json:"label"`
	Result ParseResult `json:"result"`
}

// ClarificationRequest asks the user to disambiguate or supply missing input.
type ClarificationRequest struct {
	Question   string      `json:"question"`
	Reason     ErrorKind   `json:"reason"`
	Missing    []string    `json:"missing,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

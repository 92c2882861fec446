package perception

import (
	"regexp"
	"sort"
	"strings"

	"github.com/grim-sudo/Automation/internal/types"
)

// =============================================================================
// VERB CORPUS
// =============================================================================
// The corpus maps natural-language verbs to intents. It is also the spelling
// dictionary: every word here is a valid correction target.

// VerbEntry defines a canonical verb with its synonyms.
type VerbEntry struct {
	Verb     string       // Canonical verb (e.g. "create", "move")
	Intent   types.Intent // Intent the verb selects
	Synonyms []string     // Words that map to this verb, canonical first
	Priority int          // Higher priority wins heuristic ties
}

// DefaultVerbCorpus is the built-in verb taxonomy.
var DefaultVerbCorpus = []VerbEntry{
	{Verb: "create", Intent: types.IntentCreate, Priority: 90,
		Synonyms: []string{"create", "make", "generate", "build", "new", "mkdir", "add", "touch", "initialize", "scaffold"}},
	{Verb: "delete", Intent: types.IntentDelete, Priority: 85,
		Synonyms: []string{"delete", "remove", "rm", "erase", "destroy", "purge", "wipe", "clear", "uninstall", "del"}},
	{Verb: "move", Intent: types.IntentModify, Priority: 80,
		Synonyms: []string{"move", "mv", "relocate"}},
	{Verb: "copy", Intent: types.IntentModify, Priority: 80,
		Synonyms: []string{"copy", "cp", "duplicate", "clone"}},
	{Verb: "rename", Intent: types.IntentModify, Priority: 80,
		Synonyms: []string{"rename"}},
	{Verb: "write", Intent: types.IntentModify, Priority: 75,
		Synonyms: []string{"write", "append", "edit", "update", "modify", "change", "put"}},
	{Verb: "list", Intent: types.IntentQuery, Priority: 70,
		Synonyms: []string{"list", "show", "ls", "display", "view", "find", "search", "get", "check", "status"}},
	{Verb: "run", Intent: types.IntentExecute, Priority: 70,
		Synonyms: []string{"run", "execute", "exec", "start", "launch", "invoke"}},
	{Verb: "configure", Intent: types.IntentConfigure, Priority: 65,
		Synonyms: []string{"configure", "config", "set", "enable", "disable"}},
	{Verb: "analyze", Intent: types.IntentAnalyze, Priority: 65,
		Synonyms: []string{"analyze", "analyse", "examine", "inspect", "review", "audit", "count", "measure"}},
	{Verb: "help", Intent: types.IntentHelp, Priority: 10,
		Synonyms: []string{"help", "usage", "commands", "assist"}},
}

// DefaultNouns maps object nouns to entity kinds.
var DefaultNouns = map[string]types.EntityKind{
	"folder": types.KindFolder, "folders": types.KindFolder,
	"directory": types.KindFolder, "directories": types.KindFolder,
	"dir": types.KindFolder, "dirs": types.KindFolder,
	"subfolder": types.KindFolder, "subfolders": types.KindFolder,
	"subdirectory": types.KindFolder, "subdirectories": types.KindFolder,
	"file": types.KindFile, "files": types.KindFile,
	"document": types.KindFile, "documents": types.KindFile,
	"project": types.KindProject, "projects": types.KindProject,
	"app": types.KindProject, "application": types.KindProject,
	"path": types.KindPath, "paths": types.KindPath, "location": types.KindPath,
	"url": types.KindURL, "urls": types.KindURL, "link": types.KindURL,
	"links": types.KindURL, "website": types.KindURL,
	"command": types.KindCommandName, "script": types.KindCommandName,
	"scripts": types.KindCommandName, "program": types.KindCommandName,
}

// DefaultFunctionWords are words that carry structure rather than content.
// They are never names and are valid correction targets.
var DefaultFunctionWords = []string{
	"a", "an", "the", "to", "from", "in", "into", "inside", "within", "under",
	"at", "on", "of", "for", "with", "and", "then", "after", "also", "as",
	"named", "called", "titled", "name", "each", "every", "all", "nested",
	"sub", "child", "more", "other", "them", "those", "these", "it", "that",
	"this", "there", "please", "kindly", "can", "could", "would", "will",
	"you", "me", "my", "want", "need", "like", "let", "lets", "content",
	"containing", "contents", "text", "saying", "table", "tables",
	"multiplication", "number", "numbers", "through", "thru", "until", "till",
	"yes", "yeah", "okay", "sure", "cancel", "proceed", "confirm", "ahead",
	"never", "mind", "stop", "abort", "default", "defaults", "test", "tests",
	"empty", "here", "one", "two", "three", "four", "five", "six", "seven",
	"eight", "nine", "ten", "eleven", "twelve", "fifteen", "twenty", "thirty",
	"forty", "fifty", "hundred", "thousand", "item", "items", "what", "where",
	"which", "how", "current", "working", "true", "false", "web", "automation",
	"download", "upload", "install", "monitor",
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "hundred": 100,
	"thousand": 1000,
}

// Lexicon is the indexed domain vocabulary shared by the spell corrector and
// the parser.
type Lexicon struct {
	Verbs []VerbEntry
	Nouns map[string]types.EntityKind

	verbIndex map[string]int
	function  map[string]struct{}
	words     []string
	wordSet   map[string]struct{}
	verbAlt   string
}

// DefaultLexicon returns the built-in lexicon.
func DefaultLexicon() *Lexicon {
	return NewLexicon(DefaultVerbCorpus, DefaultNouns, DefaultFunctionWords)
}

// NewLexicon indexes a verb corpus, noun table and function words.
func NewLexicon(verbs []VerbEntry, nouns map[string]types.EntityKind, function []string) *Lexicon {
	l := &Lexicon{
		Verbs:     verbs,
		Nouns:     nouns,
		verbIndex: make(map[string]int),
		function:  make(map[string]struct{}),
		wordSet:   make(map[string]struct{}),
	}

	var verbWords []string
	for i, v := range verbs {
		for _, s := range v.Synonyms {
			s = strings.ToLower(s)
			if _, dup := l.verbIndex[s]; !dup {
				l.verbIndex[s] = i
				verbWords = append(verbWords, regexp.QuoteMeta(s))
			}
			l.wordSet[s] = struct{}{}
		}
	}
	for n := range nouns {
		l.wordSet[strings.ToLower(n)] = struct{}{}
	}
	for _, w := range function {
		w = strings.ToLower(w)
		l.function[w] = struct{}{}
		l.wordSet[w] = struct{}{}
	}

	l.words = make([]string, 0, len(l.wordSet))
	for w := range l.wordSet {
		l.words = append(l.words, w)
	}
	sort.Strings(l.words)

	// Longest first so "remove" is not shadowed by "rm"-style prefixes.
	sort.Slice(verbWords, func(i, j int) bool {
		if len(verbWords[i]) != len(verbWords[j]) {
			return len(verbWords[i]) > len(verbWords[j])
		}
		return verbWords[i] < verbWords[j]
	})
	l.verbAlt = strings.Join(verbWords, "|")
	return l
}

// Contains reports whether w (case-insensitive) is a lexicon word.
func (l *Lexicon) Contains(w string) bool {
	_, ok := l.wordSet[strings.ToLower(w)]
	return ok
}

// Words returns all lexicon words in sorted order.
func (l *Lexicon) Words() []string {
	return l.words
}

// Verb looks up the verb entry for a word.
func (l *Lexicon) Verb(word string) (VerbEntry, bool) {
	i, ok := l.verbIndex[strings.ToLower(word)]
	if !ok {
		return VerbEntry{}, false
	}
	return l.Verbs[i], true
}

// NounKind returns the entity kind of an object noun.
func (l *Lexicon) NounKind(word string) (types.EntityKind, bool) {
	k, ok := l.Nouns[strings.ToLower(word)]
	return k, ok
}

// IsFunctionWord reports whether word carries structure only.
func (l *Lexicon) IsFunctionWord(word string) bool {
	_, ok := l.function[strings.ToLower(word)]
	return ok
}

// IsStructural reports whether word can never be a user-supplied name.
func (l *Lexicon) IsStructural(word string) bool {
	w := strings.ToLower(word)
	if l.IsFunctionWord(w) {
		// "test" is both a lexicon word and a very common name.
		return w != "test" && w != "tests" && w != "table" && w != "tables"
	}
	if _, ok := l.verbIndex[w]; ok {
		return true
	}
	_, ok := l.Nouns[w]
	return ok
}

// parseNumber converts digits or a number word.
func parseNumber(s string) (int, bool) {
	s = strings.ToLower(s)
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		if n > (1<<31-1)/10 {
			return 1<<31 - 1, true
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

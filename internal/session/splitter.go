package session

import (
	"strings"
)

// separators end a command segment. Longer forms come first so "and then"
// does not leave a dangling "and".
var separators = []string{"and then", "after that", "then"}

// nestingWords after "then" continue the same command ("and then inside each
// create 3 files"), so no split happens there.
var nestingWords = map[string]bool{"in": true, "inside": true, "into": true, "within": true}

// SplitSegments splits a command into its sequential parts at "then",
// "and then", "after that" and ";". Separators inside quotes are ignored.
func SplitSegments(text string) []string {
	var segs []string
	var quote byte
	start := 0

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			i++
		case c == '"' || c == '\'' && !inWord(text, i):
			quote = c
			i++
		case c == ';':
			segs = appendSegment(segs, text[start:i])
			i++
			start = i
		case wordStart(text, i):
			if n := separatorAt(text, i); n > 0 {
				segs = appendSegment(segs, text[start:i])
				i += n
				start = i
				continue
			}
			i++
		default:
			i++
		}
	}
	return appendSegment(segs, text[start:])
}

func appendSegment(segs []string, s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ",")
	s = strings.TrimSpace(strings.TrimSuffix(s, " and"))
	if s == "" {
		return segs
	}
	return append(segs, s)
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// inWord reports an apostrophe between letters, as in "it's".
func inWord(text string, i int) bool {
	return i > 0 && i+1 < len(text) && isLetter(text[i-1]) && isLetter(text[i+1])
}

func wordStart(text string, i int) bool {
	return isLetter(text[i]) && (i == 0 || !isLetter(text[i-1]))
}

// separatorAt returns the length of the separator starting at i, or 0.
func separatorAt(text string, i int) int {
	rest := strings.ToLower(text[i:])
	for _, sep := range separators {
		if !strings.HasPrefix(rest, sep) {
			continue
		}
		if len(rest) > len(sep) && isLetter(rest[len(sep)]) {
			continue
		}
		next := strings.Fields(rest[len(sep):])
		if len(next) > 0 && nestingWords[strings.Trim(next[0], ",")] {
			continue
		}
		return len(sep)
	}
	return 0
}

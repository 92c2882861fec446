package perception

import (
	"regexp"
	"strings"
)

// Repairs for malformed model replies. Each step is a pure string transform;
// the fallback decides which to apply on each pass.

var (
	fenceRe         = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes     = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// stripFences returns the body of the first markdown code fence, or s.
func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(strings.Trim(s, "`"))
}

// extractObject returns the first top-level JSON object in s. An object that
// never closes is returned through the end of s.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return strings.TrimSpace(s)
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return strings.TrimSpace(s[start:])
}

// fixSyntax repairs the common ways models break JSON: smart quotes,
// single-quoted strings, unquoted keys, trailing commas, an unterminated
// string and unclosed brackets.
func fixSyntax(s string) string {
	s = smartQuotes.Replace(s)
	s = singleToDouble(s)
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return balance(s)
}

// singleToDouble converts single-quoted strings that are outside double-quoted
// strings. Apostrophes inside double-quoted text are left alone.
func singleToDouble(s string) string {
	var b strings.Builder
	inDouble, inSingle, escaped := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '"' && inSingle:
			b.WriteString(`\"`)
			continue
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			c = '"'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// balance closes an unterminated string and any open objects or arrays.
func balance(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(s, " \t\r\n"))
	if inString {
		b.WriteByte('"')
	}
	out := trailingCommaRe.ReplaceAllString(b.String(), "$1")
	out = strings.TrimRight(out, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

package perception

import (
	"fmt"
	"strings"

	"github.com/grim-sudo/Automation/internal/types"
)

// Describe renders a parse as a short imperative phrase, for example
// "create 100 folders test1..test100 in reports".
func Describe(p types.ParseResult) string {
	if p.Intent == types.IntentUnknown || p.Intent == "" {
		return "unrecognized command"
	}
	verb := p.Verb
	if verb == "" {
		verb = string(p.Intent)
	}

	parts := []string{verb}
	var tail []string
	for _, e := range p.Entities {
		switch e.Role {
		case types.RoleLocation:
			tail = append(tail, "in "+e.Value)
			continue
		case types.RoleDestination:
			tail = append(tail, "to "+e.Value)
			continue
		case types.RoleContent:
			tail = append(tail, "with "+describeContent(e.Value))
			continue
		}
		parts = append(parts, describeEntity(e))
	}
	return strings.Join(append(parts, tail...), " ")
}

func describeEntity(e types.Entity) string {
	prefix := ""
	if e.Depth > 0 {
		prefix = "inside each: "
	}
	if q := e.Quantity; q != nil {
		unit := string(q.Unit)
		if len(e.Candidates) > 0 || q.Unit == types.KindUnknown {
			unit = "item"
		}
		if q.Count != 1 {
			unit += "s"
		}
		if q.HasRange {
			return fmt.Sprintf("%s%d %s %s%d%s..%s%d%s", prefix, q.Count, unit,
				q.Prefix, q.Start, q.Suffix, q.Prefix, q.End, q.Suffix)
		}
		return fmt.Sprintf("%s%d %s", prefix, q.Count, unit)
	}
	switch e.Kind {
	case types.KindUnknown:
		return fmt.Sprintf("%s%q", prefix, e.Value)
	case types.KindParameter, types.KindCommandName, types.KindURL:
		return prefix + e.Value
	}
	return fmt.Sprintf("%s%s %q", prefix, e.Kind, e.Value)
}

func describeContent(v string) string {
	if strings.HasPrefix(v, MultiplicationTable) {
		n := strings.TrimPrefix(strings.TrimPrefix(v, MultiplicationTable), ":")
		if n == "" {
			return "multiplication tables"
		}
		return "the multiplication table of " + n
	}
	if len(v) > 24 {
		v = v[:24] + "..."
	}
	return fmt.Sprintf("content %q", v)
}

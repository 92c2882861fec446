package planner

import (
	"math"
	"path"
	"sort"
	"strconv"

	"github.com/grim-sudo/Automation/internal/types"
)

// =============================================================================
// NAME GENERATORS
// =============================================================================

// item is one concrete thing to create.
type item struct {
	name   string
	kind   types.EntityKind
	number int
}

// generator yields the items of one entity without materializing them, so a
// malformed quantity never allocates more than the cap allows.
type generator struct {
	ent   types.Entity
	count int
}

func newGenerator(e types.Entity) generator {
	g := generator{ent: e, count: 1}
	if q := e.Quantity; q != nil {
		g.count = q.Count
		if q.HasRange {
			g.count = q.End - q.Start + 1
		}
		if g.count < 0 {
			g.count = 0
		}
	}
	return g
}

func (g generator) item(i int) item {
	e := g.ent
	q := e.Quantity
	switch {
	case q != nil && q.HasRange:
		n := q.Start + i
		name := q.Prefix + strconv.Itoa(n) + q.Suffix
		return item{name: name, kind: itemKind(q.Unit, name, e.Candidates), number: n}
	case q != nil:
		kind := itemKind(q.Unit, "", e.Candidates)
		if g.count == 1 {
			return item{name: defaultName(kind), kind: kind, number: 1}
		}
		return item{name: string(kind) + strconv.Itoa(i+1), kind: kind, number: i + 1}
	default:
		return item{name: e.Value, kind: itemKind(e.Kind, e.Value, e.Candidates), number: trailingNumber(e.Value)}
	}
}

// itemKind settles the kind of a created item. Untyped names use the top
// ranked candidate, then the file extension.
func itemKind(k types.EntityKind, name string, candidates []types.EntityKind) types.EntityKind {
	switch k {
	case types.KindFolder, types.KindFile, types.KindProject:
		return k
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	if path.Ext(name) != "" {
		return types.KindFile
	}
	return types.KindFolder
}

func defaultName(k types.EntityKind) string {
	switch k {
	case types.KindFile:
		return "new_file.txt"
	case types.KindProject:
		return "new_project"
	}
	return "new_folder"
}

// level is every generator of one nesting depth, enumerated in mention order.
type level struct {
	depth int
	gens  []generator
	size  int
}

func (l *level) add(g generator) {
	l.gens = append(l.gens, g)
	l.size = satAdd(l.size, g.count)
}

func (l *level) item(i int) item {
	ordinal := i + 1
	for _, g := range l.gens {
		if i < g.count {
			it := g.item(i)
			if it.number == 0 {
				it.number = ordinal
			}
			return it
		}
		i -= g.count
	}
	return item{}
}

// isTarget reports whether an entity names things to create or delete.
func isTarget(e types.Entity) bool {
	switch e.Role {
	case types.RoleNone, types.RoleNested:
	default:
		return false
	}
	return e.Kind == types.KindQuantity || e.Kind.IsPathLike() || e.Kind == types.KindUnknown
}

// buildLevels groups targets by depth. Empty depths are dropped so that
// "in each create 15 files" without a parent still expands.
func buildLevels(p types.ParseResult) []level {
	byDepth := map[int]*level{}
	for _, e := range p.Entities {
		if !isTarget(e) {
			continue
		}
		l, ok := byDepth[e.Depth]
		if !ok {
			l = &level{depth: e.Depth}
			byDepth[e.Depth] = l
		}
		l.add(newGenerator(e))
	}
	out := make([]level, 0, len(byDepth))
	for _, l := range byDepth {
		if l.size > 0 {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].depth < out[j].depth })
	return out
}

// =============================================================================
// BOUNDED EXPANSION
// =============================================================================

// builder appends steps under the safety cap.
type builder struct {
	steps []types.TaskStep
	cap   int
	hit   bool
}

func (b *builder) add(op types.Operation, params map[string]string, deps []int, desc string) (int, bool) {
	if len(b.steps) >= b.cap {
		b.hit = true
		return -1, false
	}
	idx := len(b.steps)
	b.steps = append(b.steps, types.TaskStep{
		Index:       idx,
		Operation:   op,
		Params:      params,
		DependsOn:   deps,
		Description: desc,
	})
	return idx, true
}

// frame is one pending level of the depth-first walk.
type frame struct {
	level      int
	parent     string
	parentStep int
	next       int
}

// expand enumerates levels depth-first in pre-order with an explicit stack:
// each item is followed by its content step and then by its whole subtree.
// Nested items depend on their parent's creation step.
func expand(b *builder, base string, levels []level, content *contentSpec, contentLevel int) {
	if len(levels) == 0 {
		return
	}
	stack := []frame{{level: 0, parent: base, parentStep: -1}}
	for len(stack) > 0 {
		top := len(stack) - 1
		f := stack[top]
		lvl := &levels[f.level]
		if f.next >= lvl.size {
			stack = stack[:top]
			continue
		}
		it := lvl.item(f.next)
		stack[top].next++

		target := path.Join(f.parent, it.name)
		var deps []int
		if f.parentStep >= 0 {
			deps = []int{f.parentStep}
		}
		op := types.OpCreateFolder
		if it.kind == types.KindFile {
			op = types.OpCreateFile
		}
		idx, ok := b.add(op, map[string]string{"path": target, "kind": string(it.kind)}, deps,
			"create "+string(it.kind)+" "+target)
		if !ok {
			return
		}

		if content != nil && f.level == contentLevel && it.kind == types.KindFile {
			text, n := content.render(it.number)
			params := map[string]string{"path": target, "content": text}
			desc := "write content to " + target
			if content.table {
				params["number"] = strconv.Itoa(n)
				desc = "write multiplication table of " + strconv.Itoa(n) + " to " + target
			}
			if _, ok := b.add(types.OpWriteContent, params, []int{idx}, desc); !ok {
				return
			}
		}

		if f.level+1 < len(levels) && it.kind != types.KindFile {
			stack = append(stack, frame{level: f.level + 1, parent: target, parentStep: idx})
		}
	}
}

// requested counts the steps a full expansion would emit, saturating
// instead of overflowing.
func requested(levels []level, contentLevel int, hasContent bool) int {
	total, width := 0, 1
	for i, l := range levels {
		width = satMul(width, l.size)
		per := 1
		if hasContent && i == contentLevel {
			per = 2
		}
		total = satAdd(total, satMul(width, per))
	}
	return total
}

func satAdd(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

func satMul(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}

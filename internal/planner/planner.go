// Package planner turns resolved parse results into bounded, ordered task
// plans.
package planner

import (
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/types"
)

// DefaultSafetyCap bounds plans when the configuration leaves it unset.
const DefaultSafetyCap = 10000

// Planner expands intents and entities into TaskSteps.
type Planner struct {
	safetyCap int
	base      string
}

// New creates a planner.
func New(cfg config.PlannerConfig) *Planner {
	p := &Planner{safetyCap: cfg.SafetyCap, base: cfg.DefaultLocation}
	if p.safetyCap < 1 {
		p.safetyCap = DefaultSafetyCap
	}
	if p.base == "" {
		p.base = "."
	}
	return p
}

// Plan builds the plan for a single command.
func (pl *Planner) Plan(p types.ParseResult) types.TaskPlan {
	return pl.PlanSegments([]types.ParseResult{p})
}

// PlanSegments concatenates the plans of a compound command in segment
// order. Step indices run on across segments and dependencies stay inside
// their segment. The safety cap bounds the whole plan.
func (pl *Planner) PlanSegments(parses []types.ParseResult) types.TaskPlan {
	timer := logging.StartTimer(logging.CategoryPlanner, "plan")
	defer timer.Stop()

	plan := types.TaskPlan{ID: uuid.NewString(), Segments: len(parses)}
	if len(parses) > 0 {
		plan.Intent = parses[0].Intent
	}

	for _, p := range parses {
		b := &builder{cap: pl.safetyCap - len(plan.Steps)}
		req := pl.planOne(b, p)

		offset := len(plan.Steps)
		for _, s := range b.steps {
			s.Index += offset
			for i := range s.DependsOn {
				s.DependsOn[i] += offset
			}
			plan.Steps = append(plan.Steps, s)
		}
		plan.Requested = satAdd(plan.Requested, req)
		if b.hit {
			plan.ExpansionBoundHit = true
		}
	}

	if plan.ExpansionBoundHit {
		logging.PlannerWarn("plan %s truncated at %d of %d steps", plan.ID, len(plan.Steps), plan.Requested)
	}
	logging.Planner("plan %s: intent=%s segments=%d steps=%d", plan.ID, plan.Intent, plan.Segments, len(plan.Steps))
	return plan
}

// planOne emits the steps of one parse and returns how many it asked for.
func (pl *Planner) planOne(b *builder, p types.ParseResult) int {
	base := pl.location(p)

	switch p.Intent {
	case types.IntentCreate:
		levels := buildLevels(p)
		content, contentLevel := contentFor(p, levels)
		expand(b, base, levels, content, contentLevel)
		if b.hit {
			return requested(levels, contentLevel, content != nil)
		}
		return len(b.steps)

	case types.IntentDelete:
		levels := buildLevels(p)
		if len(levels) == 0 {
			return 0
		}
		top := levels[0]
		for i := 0; i < top.size; i++ {
			target := joinBase(base, top.item(i).name)
			if _, ok := b.add(types.OpDeletePath, map[string]string{"path": target}, nil, "delete "+target); !ok {
				return top.size
			}
		}
		return len(b.steps)

	case types.IntentModify:
		if p.Verb == "write" {
			pl.planWrite(b, p, base)
		} else {
			pl.planTransfer(b, p, base)
		}

	case types.IntentQuery:
		target := pl.subject(p, base)
		b.add(types.OpListPath, map[string]string{"path": target}, nil, "list "+target)

	case types.IntentAnalyze:
		target := pl.subject(p, base)
		b.add(types.OpAnalyzePath, map[string]string{"path": target}, nil, "analyze "+target)

	case types.IntentExecute:
		cmds := p.EntitiesOf(types.KindCommandName)
		if len(cmds) == 0 {
			break
		}
		params := map[string]string{"command": cmds[0].Value, "dir": base}
		desc := "run " + cmds[0].Value
		if args := p.WithRole(types.RoleArguments); len(args) > 0 {
			params["args"] = args[0].Value
			desc += " " + args[0].Value
		}
		b.add(types.OpRunCommand, params, nil, desc)

	case types.IntentConfigure:
		for _, e := range p.EntitiesOf(types.KindParameter) {
			key, value, ok := strings.Cut(e.Value, "=")
			if !ok {
				continue
			}
			b.add(types.OpSetConfig, map[string]string{"key": key, "value": value}, nil, "set "+key+" = "+value)
		}

	case types.IntentHelp:
		b.add(types.OpShowHelp, map[string]string{}, nil, "show help")
	}
	return len(b.steps)
}

// planTransfer handles move, copy and rename.
func (pl *Planner) planTransfer(b *builder, p types.ParseResult, base string) {
	op := types.OpMovePath
	switch p.Verb {
	case "copy":
		op = types.OpCopyPath
	case "rename":
		op = types.OpRenamePath
	}
	dests := p.WithRole(types.RoleDestination)
	if len(dests) == 0 {
		return
	}
	dest := joinBase(base, dests[0].Value)

	for _, e := range p.WithRole(types.RoleSource) {
		g := newGenerator(e)
		for i := 0; i < g.count; i++ {
			src := joinBase(base, g.item(i).name)
			if _, ok := b.add(op, map[string]string{"source": src, "destination": dest}, nil,
				p.Verb+" "+src+" to "+dest); !ok {
				return
			}
		}
	}
}

// planWrite writes literal or generated content into existing files.
func (pl *Planner) planWrite(b *builder, p types.ParseResult, base string) {
	spec := contentSpec{}
	if cs := p.WithRole(types.RoleContent); len(cs) > 0 {
		spec = parseContent(cs[0].Value, cs[0].Depth)
	} else {
		for _, e := range p.EntitiesOf(types.KindParameter) {
			if e.Role == types.RoleNone {
				spec.literal = e.Value
				break
			}
		}
	}

	for _, e := range p.Entities {
		if !e.Kind.IsPathLike() && e.Quantity == nil {
			continue
		}
		g := newGenerator(e)
		for i := 0; i < g.count; i++ {
			it := g.item(i)
			number := it.number
			if number == 0 {
				number = i + 1
			}
			target := joinBase(base, it.name)
			text, n := spec.render(number)
			params := map[string]string{"path": target, "content": text}
			if spec.table {
				params["number"] = strconv.Itoa(n)
			}
			if _, ok := b.add(types.OpWriteContent, params, nil, "write content to "+target); !ok {
				return
			}
		}
	}
}

// location is the base directory of a command: its first location entity
// or the configured default.
func (pl *Planner) location(p types.ParseResult) string {
	for _, e := range p.Entities {
		if e.Role == types.RoleLocation && e.Value != "" {
			return joinBase(pl.base, e.Value)
		}
	}
	return pl.base
}

// subject is the path a query or analysis looks at.
func (pl *Planner) subject(p types.ParseResult, base string) string {
	for _, e := range p.Entities {
		if e.Role == types.RoleLocation || !e.Kind.IsPathLike() || e.Value == "" {
			continue
		}
		return joinBase(base, e.Value)
	}
	return base
}

// contentFor finds the content entity and the level it applies to: the level
// at the content's depth, else the deepest level.
func contentFor(p types.ParseResult, levels []level) (*contentSpec, int) {
	cs := p.WithRole(types.RoleContent)
	if len(cs) == 0 || len(levels) == 0 {
		return nil, -1
	}
	spec := parseContent(cs[0].Value, cs[0].Depth)
	for i, l := range levels {
		if l.depth == spec.depth {
			return &spec, i
		}
	}
	return &spec, len(levels) - 1
}

func joinBase(base, p string) string {
	if path.IsAbs(p) || strings.HasPrefix(p, "~") {
		return p
	}
	return path.Join(base, p)
}

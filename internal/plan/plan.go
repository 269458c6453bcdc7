package plan

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/gocontext-kb/pkg/types"
)

// ExecutionPlan is an immutable DAG of tasks grouped into levels. Every task's
// dependencies lie in strictly earlier levels.
type ExecutionPlan struct {
	tasks   map[string]Task
	levels  [][]string
	levelOf map[string]int
	skipped int
}

// New orders tasks into a plan. Dependencies must name tasks in the set; a
// cycle returns a *types.DependencyCycleError. skipped is reported by Preview.
func New(tasks []Task, skipped int) (*ExecutionPlan, error) {
	p := &ExecutionPlan{
		tasks:   make(map[string]Task, len(tasks)),
		levelOf: make(map[string]int, len(tasks)),
		skipped: skipped,
	}
	for _, t := range tasks {
		p.tasks[t.ID()] = t
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies() {
			if _, ok := p.tasks[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID(), dep)
			}
		}
	}

	levels, err := p.topoLevels()
	if err != nil {
		return nil, err
	}
	for _, level := range levels {
		p.levels = append(p.levels, p.splitConflicts(level)...)
	}
	for i, level := range p.levels {
		for _, id := range level {
			p.levelOf[id] = i
		}
	}
	return p, nil
}

// topoLevels groups tasks into waves with Kahn's algorithm. Each wave is sorted
// so the same task set always yields the same levels.
func (p *ExecutionPlan) topoLevels() ([][]string, error) {
	inDeg := make(map[string]int, len(p.tasks))
	blocks := make(map[string][]string, len(p.tasks))
	for id, t := range p.tasks {
		deps := t.Dependencies()
		inDeg[id] = len(deps)
		for _, dep := range deps {
			blocks[dep] = append(blocks[dep], id)
		}
	}

	var queue []string
	for id, deg := range inDeg {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		levels = append(levels, queue)
		processed += len(queue)

		var next []string
		for _, id := range queue {
			for _, blocked := range blocks[id] {
				inDeg[blocked]--
				if inDeg[blocked] == 0 {
					next = append(next, blocked)
				}
			}
		}
		queue = next
	}

	if processed != len(p.tasks) {
		var remaining []string
		for id, deg := range inDeg {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &types.DependencyCycleError{Nodes: remaining, Cycle: p.findCycle(remaining)}
	}
	return levels, nil
}

// findCycle walks dependency edges depth-first in sorted order and returns one
// cycle, first node repeated at the end.
func (p *ExecutionPlan) findCycle(candidates []string) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(candidates))
	parent := make(map[string]string, len(candidates))
	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range p.tasks[u].Dependencies() {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v: walk parents from u back to v.
				path := []string{u}
				for cur := u; cur != v; {
					cur = parent[cur]
					path = append(path, cur)
				}
				for i := len(path) - 1; i >= 0; i-- {
					cycle = append(cycle, path[i])
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, id := range candidates {
		if color[id] == white && dfs(id) {
			break
		}
	}
	return cycle
}

// splitConflicts partitions one level greedily so no two tasks that must not
// overlap share a sub-level. Order inside the level is kept.
func (p *ExecutionPlan) splitConflicts(level []string) [][]string {
	var groups [][]string
	for _, id := range level {
		t := p.tasks[id]
		placed := false
		for i, group := range groups {
			if p.compatible(t, group) {
				groups[i] = append(group, id)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []string{id})
		}
	}
	return groups
}

func (p *ExecutionPlan) compatible(t Task, group []string) bool {
	for _, id := range group {
		other := p.tasks[id]
		if !t.CanRunConcurrentlyWith(other) || !other.CanRunConcurrentlyWith(t) {
			return false
		}
	}
	return true
}

// Len returns the number of tasks
func (p *ExecutionPlan) Len() int { return len(p.tasks) }

// Skipped returns the number of skip decisions that produced no task
func (p *ExecutionPlan) Skipped() int { return p.skipped }

// Task returns a task by ID
func (p *ExecutionPlan) Task(id string) (Task, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

// LevelOf returns the level a task runs in
func (p *ExecutionPlan) LevelOf(id string) (int, bool) {
	l, ok := p.levelOf[id]
	return l, ok
}

// Levels returns the tasks grouped by level, in execution order
func (p *ExecutionPlan) Levels() [][]Task {
	out := make([][]Task, len(p.levels))
	for i, level := range p.levels {
		out[i] = make([]Task, len(level))
		for j, id := range level {
			out[i][j] = p.tasks[id]
		}
	}
	return out
}

// Tasks returns every task in execution order
func (p *ExecutionPlan) Tasks() []Task {
	out := make([]Task, 0, len(p.tasks))
	for _, level := range p.levels {
		for _, id := range level {
			out = append(out, p.tasks[id])
		}
	}
	return out
}

// Preview summarizes the plan without touching the file system
func (p *ExecutionPlan) Preview() types.PlanPreview {
	pv := types.PlanPreview{
		TaskCounts: make(map[types.TaskType]int),
		TotalTasks: len(p.tasks),
		Levels:     len(p.levels),
		Skipped:    p.skipped,
	}
	for _, t := range p.tasks {
		pv.TaskCounts[t.Type()]++
	}
	for _, level := range p.levels {
		if len(level) > pv.WidestLevel {
			pv.WidestLevel = len(level)
		}
	}
	pv.EstimatedServiceCalls = pv.TaskCounts[types.TaskAnalyzeFile] + pv.TaskCounts[types.TaskBuildKnowledgeBase]
	return pv
}

// Describe renders the levels as indented text
func (p *ExecutionPlan) Describe() string {
	if len(p.tasks) == 0 {
		return fmt.Sprintf("Nothing to do (%d up to date)\n", p.skipped)
	}
	var sb strings.Builder
	for i, level := range p.levels {
		fmt.Fprintf(&sb, "Level %d (%d tasks)\n", i, len(level))
		for _, id := range level {
			t := p.tasks[id]
			fmt.Fprintf(&sb, "  %s\n", id)
			if deps := t.Dependencies(); len(deps) > 0 {
				fmt.Fprintf(&sb, "    after: %s\n", strings.Join(deps, ", "))
			}
		}
	}
	return sb.String()
}

// Fingerprint is a SHA-256 over task IDs, types, edges and level assignment.
// Two plans with the same fingerprint execute the same tasks in the same order.
func (p *ExecutionPlan) Fingerprint() string {
	h := sha256.New()
	writeField := func(data string) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		h.Write(length[:])
		h.Write([]byte(data))
	}

	writeField(fmt.Sprint(len(p.levels)))
	for i, level := range p.levels {
		writeField(fmt.Sprint(i))
		writeField(fmt.Sprint(len(level)))
		for _, id := range level {
			t := p.tasks[id]
			writeField(id)
			writeField(string(t.Type()))
			deps := t.Dependencies()
			writeField(fmt.Sprint(len(deps)))
			for _, d := range deps {
				writeField(d)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

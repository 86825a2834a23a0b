package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

// node is the internal per-call graph entry; it is rebuilt fresh for every
// batch and never persisted.
type node struct {
	id        string
	call      Call
	resources []ResourceAccess
	deps      map[string]bool
	level     int
}

// Registry resolves ToolMetadata by name; the scheduler consults it while
// building the graph. A tool absent from the registry is treated as having
// side effects and no parallel safety — the conservative default.
type Registry interface {
	Lookup(toolName string) (ToolMetadata, bool)
}

// MapRegistry is the simplest Registry: a static map of tool name to
// metadata, the shape most callers construct at startup.
type MapRegistry map[string]ToolMetadata

func (m MapRegistry) Lookup(name string) (ToolMetadata, bool) {
	meta, ok := m[name]
	return meta, ok
}

func worstCaseMetadata(name string) ToolMetadata {
	return ToolMetadata{Name: name, HasSideEffects: true, ParallelSafe: false, Priority: 0}
}

// Plan builds an ExecutionPlan for a batch of calls. extractor may be nil,
// in which case DefaultExtractor is used.
func Plan(calls []Call, reg Registry, extractor ResourceExtractor) ExecutionPlan {
	if extractor == nil {
		extractor = DefaultExtractor
	}
	if len(calls) == 0 {
		return ExecutionPlan{Waves: nil, Parallelised: false, Explanation: "empty batch"}
	}

	nodes := make([]*node, len(calls))
	byID := make(map[string]*node, len(calls))
	metaByID := make(map[string]ToolMetadata, len(calls))

	for i, c := range calls {
		meta, ok := reg.Lookup(c.ToolName)
		if !ok {
			meta = worstCaseMetadata(c.ToolName)
		}
		metaByID[c.ID] = meta
		n := &node{id: c.ID, call: c, resources: extractor(c, meta), deps: map[string]bool{}}
		nodes[i] = n
		byID[c.ID] = n
	}

	// Build conflict edges i -> j for i before j in batch order.
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			if resourceConflict(a.resources, b.resources) {
				b.deps[a.id] = true
			}
			metaB := metaByID[b.id]
			if dependsOnByName(metaB, a.call.ToolName) {
				b.deps[a.id] = true
			}
		}
	}

	// Longest-path layering.
	var assignLevel func(n *node, visiting map[string]bool) int
	memo := map[string]int{}
	assignLevel = func(n *node, visiting map[string]bool) int {
		if lv, ok := memo[n.id]; ok {
			return lv
		}
		if len(n.deps) == 0 {
			memo[n.id] = 0
			return 0
		}
		visiting[n.id] = true
		maxDep := -1
		for depID := range n.deps {
			dep, ok := byID[depID]
			if !ok {
				continue
			}
			if visiting[depID] {
				continue // conflict edges are built i<j in batch order, so cycles cannot occur
			}
			lv := assignLevel(dep, visiting)
			if lv > maxDep {
				maxDep = lv
			}
		}
		delete(visiting, n.id)
		lv := maxDep + 1
		memo[n.id] = lv
		return lv
	}

	for _, n := range nodes {
		n.level = assignLevel(n, map[string]bool{})
	}

	maxLevel := 0
	for _, n := range nodes {
		if n.level > maxLevel {
			maxLevel = n.level
		}
	}

	waves := make([][]Call, maxLevel+1)
	waveNodes := make([][]*node, maxLevel+1)
	for _, n := range nodes {
		waveNodes[n.level] = append(waveNodes[n.level], n)
	}
	for lvl, ns := range waveNodes {
		sort.SliceStable(ns, func(i, j int) bool {
			pi := metaByID[ns[i].id].Priority
			pj := metaByID[ns[j].id].Priority
			return pi > pj
		})
		for _, n := range ns {
			waves[lvl] = append(waves[lvl], n.call)
		}
	}

	parallelised := false
	for _, w := range waves {
		if len(w) > 1 {
			parallelised = true
			break
		}
	}

	return ExecutionPlan{
		Waves:        waves,
		Parallelised: parallelised,
		Explanation:  explain(waves, parallelised),
	}
}

// CanRunInParallel reports whether a and b would land in the same wave if
// planned together as a two-call batch — the pairwise predicate spec'd to
// agree with Plan.
func CanRunInParallel(a, b Call, reg Registry, extractor ResourceExtractor) bool {
	plan := Plan([]Call{a, b}, reg, extractor)
	return len(plan.Waves) == 1 && len(plan.Waves[0]) == 2
}

func resourceConflict(as, bs []ResourceAccess) bool {
	for _, a := range as {
		for _, b := range bs {
			if a.Kind != b.Kind {
				continue
			}
			if a.Mode != ModeWrite && b.Mode != ModeWrite {
				continue
			}
			if identifiersOverlap(a.Identifier, b.Identifier) {
				return true
			}
		}
	}
	return false
}

func identifiersOverlap(a, b string) bool {
	if a == "*" || b == "*" {
		return true
	}
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func dependsOnByName(meta ToolMetadata, toolName string) bool {
	for _, name := range meta.ExplicitDependsOn {
		if name == toolName {
			return true
		}
	}
	return false
}

func explain(waves [][]Call, parallelised bool) string {
	if !parallelised {
		return fmt.Sprintf("%d wave(s), fully sequential", len(waves))
	}
	return fmt.Sprintf("%d wave(s), parallelised within waves", len(waves))
}

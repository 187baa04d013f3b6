// Package dag builds and validates the dependency graph of a Plan's
// work items, per spec.md §4.7 ("PlanDAG"). Grounded on sneller's
// query-plan validation style in vm/ssa.go (staged checks that
// collect every violation before returning, rather than failing
// fast on the first one).
package dag

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/fabricdb/qfabric/plan"
)

// postfixes is the set of naming-convention suffixes stripped,
// iteratively to a fixpoint, when the builder's column-linkage
// heuristic looks for a shared "base name" between an item's declared
// output column and a dependent item's declared input column
// (spec.md §4.7).
var postfixes = []string{
	"_idx_ext", "_sorted", "_result",
	"_idx", "_agg", "_pos", "_mask", "_out", "_in",
	"_left", "_right",
	"_i", "_o", "_l", "_r",
}

// DAG is the validated dependency graph of one plan.
type DAG struct {
	PlanID   uint32
	Items    map[uint32]*plan.WorkItem
	Children map[uint32][]uint32 // itemID -> items that depend on it
	Roots    []uint32            // items with no dependents (typically Result ops)
	// Root is the single designated root step 2 selects (spec.md §4.7
	// step 2): the lone Result item, or the resolution spec.md
	// documents when there is none or more than one. HasRoot is false
	// only when the plan has neither a Result item nor any terminal
	// item to fall back to.
	Root    uint32
	HasRoot bool
	// BaseColumns lists every column referenced with IsBase == true
	// across the plan, deduplicated, with its declared type.
	BaseColumns []plan.ColumnRef
}

// ValidationResult reports every problem found while building a DAG.
// A DAG with a non-empty ValidationResult is still returned so a
// caller can inspect both (spec.md §4.7: "the DAG is returned
// regardless so the router can still forward it when only warnings
// were raised"). Only Errors makes a DAG unusable; Warnings are
// advisory.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (v ValidationResult) OK() bool { return len(v.Errors) == 0 }

func (v *ValidationResult) addf(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) warnf(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Build runs the five-step builder/validator described in spec.md
// §4.7:
//  1. adjacency construction from DependsOn lists
//  2. root selection: count items with op == Result; exactly one is
//     the root, none warns and falls back to a terminal node, more
//     than one warns and picks the first
//  3. cycle detection via DFS with an explicit recursion stack
//  4. reachability: every item must transitively reach the single
//     designated root by walking DependsOn edges backwards from it
//  5. column-linkage: for every dependency edge, the dependent item
//     must reference at least one column whose name matches the
//     dependency's output column after stripping known postfixes to a
//     fixpoint
func Build(items []plan.WorkItem) (*DAG, ValidationResult) {
	var vr ValidationResult
	d := &DAG{
		Items:    make(map[uint32]*plan.WorkItem, len(items)),
		Children: make(map[uint32][]uint32),
	}
	if len(items) == 0 {
		vr.addf("plan has no work items")
		return d, vr
	}
	d.PlanID = items[0].PlanID

	for i := range items {
		it := &items[i]
		if it.PlanID != d.PlanID {
			vr.addf("item %d belongs to plan %d, expected %d", it.ItemID, it.PlanID, d.PlanID)
		}
		if _, dup := d.Items[it.ItemID]; dup {
			vr.addf("duplicate item id %d", it.ItemID)
			continue
		}
		d.Items[it.ItemID] = it
	}

	// Step 1: adjacency (Children is the reverse of DependsOn).
	hasDependent := make(map[uint32]bool)
	for id, it := range d.Items {
		for _, dep := range it.DependsOn {
			if _, ok := d.Items[dep]; !ok {
				vr.addf("item %d depends on unknown item %d", id, dep)
				continue
			}
			d.Children[dep] = append(d.Children[dep], id)
			hasDependent[dep] = true
		}
	}

	// Step 2: roots are items nothing depends on (informational — see
	// Root below for the single designated root step 4 anchors on).
	for id := range d.Items {
		if !hasDependent[id] {
			d.Roots = append(d.Roots, id)
		}
	}
	slices.Sort(d.Roots)
	if len(d.Roots) == 0 {
		vr.warnf("plan has no root item (every item has a dependent — likely a cycle)")
	}

	// Find the root by counting items with op == Result (spec.md §4.7
	// step 2): if exactly one, it is the root; if none, warn and fall
	// back to a terminal node; if multiple, warn and pick the first.
	var resultItems []uint32
	for id, it := range d.Items {
		if it.Operator == plan.OpResult {
			resultItems = append(resultItems, id)
		}
	}
	slices.Sort(resultItems)
	switch len(resultItems) {
	case 1:
		d.Root, d.HasRoot = resultItems[0], true
	case 0:
		vr.warnf("plan has no result operator; using a terminal node as root")
		if len(d.Roots) > 0 {
			d.Root, d.HasRoot = d.Roots[0], true
		}
	default:
		vr.warnf("plan has %d result operators; picking item %d as root", len(resultItems), resultItems[0])
		d.Root, d.HasRoot = resultItems[0], true
	}

	// Step 3: cycle detection, DFS with recursion stack, from every item
	// (not just roots) so a cycle disconnected from any root is still
	// caught.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uint32]int, len(d.Items))
	var visit func(id uint32) bool
	visit = func(id uint32) bool {
		color[id] = gray
		it := d.Items[id]
		for _, dep := range it.DependsOn {
			if _, ok := d.Items[dep]; !ok {
				continue // already reported in step 1
			}
			switch color[dep] {
			case gray:
				vr.addf("cycle detected: item %d depends (transitively) on itself via item %d", id, dep)
				return false
			case white:
				if !visit(dep) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}
	for id := range d.Items {
		if color[id] == white {
			visit(id)
		}
	}

	// Step 4: reachability. Every item must transitively reach the
	// single designated root (spec.md §4.7 step 4), walking DependsOn
	// edges backwards from it. A disconnected branch — even one that
	// is itself a structural root with no dependents — never gets
	// marked, since it isn't Root and nothing walks into it.
	reachesRoot := make(map[uint32]bool, len(d.Items))
	if d.HasRoot {
		var mark func(id uint32)
		mark = func(id uint32) {
			if reachesRoot[id] {
				return
			}
			reachesRoot[id] = true
			it, ok := d.Items[id]
			if !ok {
				return // unknown dependency, already reported in step 1
			}
			for _, dep := range it.DependsOn {
				mark(dep)
			}
		}
		mark(d.Root)
	}
	for id := range d.Items {
		if !reachesRoot[id] {
			vr.addf("item %d is not reachable from the root item (orphaned work)", id)
		}
	}

	// Step 5: column-linkage heuristic.
	for id, it := range d.Items {
		for _, dep := range it.DependsOn {
			depItem, ok := d.Items[dep]
			if !ok {
				continue
			}
			if !linked(depItem, it) {
				vr.addf("item %d declares a dependency on item %d but shares no recognizable column name", id, dep)
			}
		}
	}

	// Base column collection, sorted by table.column so callers get a
	// deterministic order regardless of map iteration.
	seen := make(map[string]bool)
	for _, it := range d.Items {
		for _, ref := range it.Inputs() {
			if ref.IsBase {
				key := ref.Table + "." + ref.Column
				if !seen[key] {
					seen[key] = true
					d.BaseColumns = append(d.BaseColumns, ref)
				}
			}
		}
	}
	slices.SortFunc(d.BaseColumns, func(a, b plan.ColumnRef) bool {
		ka, kb := a.Table+"."+a.Column, b.Table+"."+b.Column
		return ka < kb
	})

	return d, vr
}

// linked reports whether any output column of producer shares a base
// name (after iteratively stripping postfixes to a fixpoint) with any
// input column of consumer.
func linked(producer, consumer *plan.WorkItem) bool {
	for _, out := range producer.Outputs() {
		base := strip(out.Column)
		for _, in := range consumer.Inputs() {
			if strip(in.Column) == base {
				return true
			}
			// also accept an exact match pre-stripping, e.g. both
			// sides reuse the same literal column name.
			if in.Column == out.Column {
				return true
			}
		}
	}
	return false
}

// strip removes known postfixes from name, repeating until no
// postfix applies (spec.md §4.7's "iterated to a fixpoint").
func strip(name string) string {
	for {
		stripped := false
		for _, suf := range postfixes {
			if strings.HasSuffix(name, suf) && len(name) > len(suf) {
				name = name[:len(name)-len(suf)]
				stripped = true
			}
		}
		if !stripped {
			return name
		}
	}
}

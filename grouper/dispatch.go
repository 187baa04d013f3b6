package grouper

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/fabricdb/qfabric/dag"
	"github.com/fabricdb/qfabric/hwconfig"
	"github.com/fabricdb/qfabric/idgen"
	"github.com/fabricdb/qfabric/plan"
	"github.com/fabricdb/qfabric/window"
)

// QueryGroup is the dispatch unit the grouper emits for one cluster:
// a fresh group id, the member plans (with any staged base columns
// aliased to their staged table names), the column-transfer work
// items that must run before those plans, and the compute unit the
// whole group targets.
type QueryGroup struct {
	GroupID         uint64
	TargetCUUUID    uint64
	ColumnTransfers []plan.WorkItem
	Plans           []plan.Plan
}

// Analyze runs the full spec.md §4.8 pipeline over a sealed
// collection: cluster by superset absorption, decide transfers under
// the contention-aware cost model, alias each group's staged columns,
// and return one QueryGroup per cluster. Intended as a
// window.AnalyzeFunc: window.NewManager(d, func(c *window.Collection)
// { groups := grouper.Analyze(c, schema, cus, hw, gen); ... dispatch
// ... }).
func Analyze(col *window.Collection, schema Schema, cuTargets []uint64, hw hwconfig.Config, gen *idgen.GroupIDGenerator) []QueryGroup {
	dags := col.DAGs()
	if len(dags) == 0 {
		return nil
	}

	groups := groupBySupersetAbsorption(dags, hw.MaxMergeOverhead)
	decisions := decideTransfers(groups, dags, schema, cuTargets, hw.ChunkBytes, hw)

	result := make([]QueryGroup, len(groups))
	for gi, members := range groups {
		result[gi] = buildQueryGroup(gi, members, dags, decisions[gi], cuTargets, hw, gen)
	}
	return result
}

func buildQueryGroup(groupIdx int, members []int, dags []*dag.DAG, selectedNames []string, cuTargets []uint64, hw hwconfig.Config, gen *idgen.GroupIDGenerator) QueryGroup {
	id := gen.Next()
	prefix := fmt.Sprintf("%d_", id)

	qg := QueryGroup{GroupID: id}
	if len(cuTargets) > 0 {
		qg.TargetCUUUID = cuTargets[groupIdx%len(cuTargets)]
	}

	selected := make(map[string]bool, len(selectedNames))
	for _, name := range selectedNames {
		selected[name] = true
	}

	replacement := make(map[string]string)
	seen := make(map[string]bool)
	for _, dagIdx := range members {
		d := dags[dagIdx]
		for _, ref := range d.BaseColumns {
			key := ref.Table + "." + ref.Column
			if !selected[key] || seen[key] {
				continue
			}
			seen[key] = true
			newTable := prefix + ref.Table
			replacement[key] = newTable
			qg.ColumnTransfers = append(qg.ColumnTransfers, plan.WorkItem{
				Operator:    plan.OpDataTransfer,
				RequestCase: plan.RequestTransfer,
				DataTransfer: &plan.DataTransferPayload{
					Source:      plan.ColumnRef{Table: ref.Table, Column: ref.Column, Type: ref.Type, IsBase: true},
					Destination: plan.ColumnRef{Table: newTable, Column: ref.Column, Type: ref.Type, IsBase: true},
					ChunkBytes:  int(hw.ChunkBytes),
				},
			})
		}
	}

	for _, dagIdx := range members {
		qg.Plans = append(qg.Plans, renamePlan(dags[dagIdx], replacement))
	}
	return qg
}

// renamePlan rebuilds dagX's plan with every base-column reference
// named in replacement rewritten to its staged table name, leaving
// the original DAG untouched. Equivalent to DagCollection.cpp's
// renameTableNames, generalized from a per-protobuf-case switch to
// plan.WorkItem.RewriteInputs.
func renamePlan(d *dag.DAG, replacement map[string]string) plan.Plan {
	ids := make([]uint32, 0, len(d.Items))
	for id := range d.Items {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	items := make([]plan.WorkItem, 0, len(ids))
	for _, id := range ids {
		it := d.Items[id].Clone()
		it.RewriteInputs(func(ref plan.ColumnRef) plan.ColumnRef {
			if !ref.IsBase {
				return ref
			}
			if newTable, ok := replacement[ref.Table+"."+ref.Column]; ok {
				ref.Table = newTable
			}
			return ref
		})
		items = append(items, it)
	}
	return plan.Plan{PlanID: d.PlanID, Items: items}
}

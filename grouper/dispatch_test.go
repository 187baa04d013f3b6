package grouper

import (
	"testing"

	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/dag"
	"github.com/fabricdb/qfabric/hwconfig"
	"github.com/fabricdb/qfabric/idgen"
	"github.com/fabricdb/qfabric/plan"
	"github.com/fabricdb/qfabric/window"
)

func refA(table string) plan.ColumnRef { return plan.ColumnRef{Table: table, Column: "A", Type: column.F64, IsBase: true} }
func refB(table string) plan.ColumnRef { return plan.ColumnRef{Table: table, Column: "B", Type: column.F64, IsBase: true} }

// buildQueryGroup is exercised directly (rather than through the full
// cost model, which has its own dedicated tests in transfer_test.go)
// with a fixed transfer selection so the aliasing/rewrite behavior of
// spec.md §4.8's scenario S5 ("Emitted QueryGroup contains exactly one
// transfer work item aliasing A to <gid>_A, followed by both plans
// with their filter inputs referencing <gid>_A") is checked precisely.
func TestBuildQueryGroupAliasesSelectedColumn(t *testing.T) {
	d0 := &dag.DAG{
		PlanID: 1,
		Items: map[uint32]*plan.WorkItem{
			1: {PlanID: 1, ItemID: 1, Operator: plan.OpFilter, Filter: &plan.FilterPayload{
				Input: refA("orders"), Output: plan.ColumnRef{Table: "orders", Column: "A_idx"}, Op: plan.CmpGT,
			}},
		},
		BaseColumns: []plan.ColumnRef{refA("orders"), refB("orders")},
	}
	d1 := &dag.DAG{
		PlanID: 2,
		Items: map[uint32]*plan.WorkItem{
			1: {PlanID: 2, ItemID: 1, Operator: plan.OpFilter, Filter: &plan.FilterPayload{
				Input: refA("orders"), Output: plan.ColumnRef{Table: "orders", Column: "A_idx2"}, Op: plan.CmpLT,
			}},
		},
		BaseColumns: []plan.ColumnRef{refA("orders")},
	}

	gen := idgen.NewGroupIDGenerator(1)
	hw := hwconfig.Default()
	qg := buildQueryGroup(0, []int{0, 1}, []*dag.DAG{d0, d1}, []string{"orders.A"}, nil, hw, gen)

	if len(qg.ColumnTransfers) != 1 {
		t.Fatalf("column transfers = %d, want exactly 1 (only A selected)", len(qg.ColumnTransfers))
	}
	xfer := qg.ColumnTransfers[0]
	if xfer.Operator != plan.OpDataTransfer || xfer.RequestCase != plan.RequestTransfer {
		t.Fatalf("transfer item operator/request case wrong: %+v", xfer)
	}
	if xfer.DataTransfer.Source.Table != "orders" || xfer.DataTransfer.Source.Column != "A" {
		t.Fatalf("transfer source = %+v, want orders.A", xfer.DataTransfer.Source)
	}
	wantAlias := xfer.DataTransfer.Destination.Table
	if xfer.DataTransfer.Destination.Column != "A" {
		t.Fatalf("transfer destination column = %q, want A", xfer.DataTransfer.Destination.Column)
	}

	if len(qg.Plans) != 2 {
		t.Fatalf("plans = %d, want 2", len(qg.Plans))
	}
	for _, p := range qg.Plans {
		for _, it := range p.Items {
			if it.Operator != plan.OpFilter {
				continue
			}
			if it.Filter.Input.Table != wantAlias {
				t.Fatalf("filter input table = %q, want alias %q", it.Filter.Input.Table, wantAlias)
			}
		}
	}

	// B was never selected, so nothing aliases it and no transfer item
	// references it.
	for _, xfer := range qg.ColumnTransfers {
		if xfer.DataTransfer.Source.Column == "B" {
			t.Fatal("unselected column B should not produce a transfer item")
		}
	}
}

func TestBuildQueryGroupNoSelectionLeavesPlansUntouched(t *testing.T) {
	d0 := &dag.DAG{
		PlanID: 1,
		Items: map[uint32]*plan.WorkItem{
			1: {PlanID: 1, ItemID: 1, Operator: plan.OpFilter, Filter: &plan.FilterPayload{
				Input: refA("orders"), Output: plan.ColumnRef{Table: "orders", Column: "A_idx"}, Op: plan.CmpGT,
			}},
		},
		BaseColumns: []plan.ColumnRef{refA("orders")},
	}
	gen := idgen.NewGroupIDGenerator(1)
	hw := hwconfig.Default()
	qg := buildQueryGroup(0, []int{0}, []*dag.DAG{d0}, nil, nil, hw, gen)

	if len(qg.ColumnTransfers) != 0 {
		t.Fatalf("column transfers = %d, want 0", len(qg.ColumnTransfers))
	}
	if qg.Plans[0].Items[0].Filter.Input.Table != "orders" {
		t.Fatalf("filter input table rewritten without any selection: %+v", qg.Plans[0].Items[0].Filter.Input)
	}
}

func TestRenamePlanDoesNotMutateOriginalDAG(t *testing.T) {
	d0 := &dag.DAG{
		PlanID: 1,
		Items: map[uint32]*plan.WorkItem{
			1: {PlanID: 1, ItemID: 1, Operator: plan.OpFilter, Filter: &plan.FilterPayload{
				Input: refA("orders"), Output: plan.ColumnRef{Table: "orders", Column: "A_idx"},
			}},
		},
	}
	_ = renamePlan(d0, map[string]string{"orders.A": "7_orders"})
	if d0.Items[1].Filter.Input.Table != "orders" {
		t.Fatalf("renamePlan mutated the source DAG's item: %+v", d0.Items[1].Filter.Input)
	}
}

func TestAnalyzeReturnsOneQueryGroupPerCluster(t *testing.T) {
	d0 := &dag.DAG{PlanID: 1, Items: map[uint32]*plan.WorkItem{
		1: {PlanID: 1, ItemID: 1, Operator: plan.OpFilter, Filter: &plan.FilterPayload{Input: refA("orders")}},
	}, BaseColumns: []plan.ColumnRef{refA("orders")}}
	d1 := &dag.DAG{PlanID: 2, Items: map[uint32]*plan.WorkItem{
		1: {PlanID: 2, ItemID: 1, Operator: plan.OpFilter, Filter: &plan.FilterPayload{Input: refB("lineitem")}},
	}, BaseColumns: []plan.ColumnRef{refB("lineitem")}}

	col := window.NewCollection()
	_ = col.Add(d0)
	_ = col.Add(d1)
	_ = col.Seal()

	gen := idgen.NewGroupIDGenerator(0)
	hw := hwconfig.Default()
	groups := Analyze(col, Schema{"orders.A": 1 << 20, "lineitem.B": 1 << 20}, []uint64{1, 2}, hw, gen)

	// Disjoint column sets with maxMergeOverhead 1.5 stay as two
	// separate clusters.
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2 (disjoint column sets)", len(groups))
	}
	seen := map[uint64]bool{}
	for _, g := range groups {
		if seen[g.GroupID] {
			t.Fatalf("duplicate group id %d", g.GroupID)
		}
		seen[g.GroupID] = true
		if len(g.Plans) != 1 {
			t.Fatalf("group %d has %d plans, want 1", g.GroupID, len(g.Plans))
		}
	}
}

func TestAnalyzeEmptyCollectionReturnsNoGroups(t *testing.T) {
	col := window.NewCollection()
	_ = col.Seal()
	gen := idgen.NewGroupIDGenerator(0)
	groups := Analyze(col, Schema{}, nil, hwconfig.Default(), gen)
	if groups != nil {
		t.Fatalf("groups = %v, want nil for an empty collection", groups)
	}
}

package window

import (
	"testing"
	"time"

	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/dag"
	"github.com/fabricdb/qfabric/plan"
)

func testDAG(t *testing.T, planID, table string, id uint32) *dag.DAG {
	t.Helper()
	items := []plan.WorkItem{
		{PlanID: id, ItemID: 1, Operator: plan.OpFilter, Filter: &plan.FilterPayload{
			Input:  plan.ColumnRef{Table: table, Column: "a", Type: column.F64, IsBase: true},
			Output: plan.ColumnRef{Table: table, Column: "a_idx"},
			Op:     plan.CmpGT,
		}},
		{PlanID: id, ItemID: 2, Operator: plan.OpResult, DependsOn: []uint32{1}, Result: &plan.ResultPayload{
			Inputs: []plan.ColumnRef{{Table: table, Column: "a_idx"}},
		}},
	}
	d, vr := dag.Build(items)
	if !vr.OK() {
		t.Fatalf("dag.Build: %v", vr.Errors)
	}
	return d
}

func TestManagerSealsAfterWindowDuration(t *testing.T) {
	m := NewManager(30*time.Millisecond, nil)
	defer m.Shutdown()

	m.Add(testDAG(t, "p", "orders", 1))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && m.CompletedCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if m.CompletedCount() != 1 {
		t.Fatalf("CompletedCount = %d, want 1", m.CompletedCount())
	}
}

func TestManagerFlushClosesImmediately(t *testing.T) {
	m := NewManager(time.Hour, nil)
	defer m.Shutdown()

	m.Add(testDAG(t, "p", "orders", 1))
	m.Flush()
	if m.CompletedCount() != 1 {
		t.Fatalf("CompletedCount = %d, want 1 after Flush", m.CompletedCount())
	}
}

func TestManagerAnalyzeReceivesCollection(t *testing.T) {
	done := make(chan *Collection, 1)
	m := NewManager(10*time.Millisecond, func(c *Collection) { done <- c })
	defer m.Shutdown()

	d := testDAG(t, "p", "orders", 1)
	m.Add(d)

	select {
	case c := <-done:
		if c.Len() != 1 {
			t.Fatalf("sealed collection has %d dags, want 1", c.Len())
		}
		if !c.IsSealed() {
			t.Fatal("collection passed to analyze should be sealed")
		}
	case <-time.After(time.Second):
		t.Fatal("analyze was never called")
	}
}

func TestManagerShutdownSealsPendingWindow(t *testing.T) {
	m := NewManager(time.Hour, nil)
	m.Add(testDAG(t, "p", "orders", 1))
	m.Shutdown()
	if m.CompletedCount() != 1 {
		t.Fatalf("CompletedCount = %d, want 1 after Shutdown", m.CompletedCount())
	}
}

func TestCollectionDoubleSealFails(t *testing.T) {
	c := NewCollection()
	if err := c.Seal(); err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	if err := c.Seal(); err != ErrSealed {
		t.Fatalf("second Seal error = %v, want ErrSealed", err)
	}
}

func TestCollectionAddAfterSealFails(t *testing.T) {
	c := NewCollection()
	_ = c.Seal()
	if err := c.Add(nil); err != ErrSealed {
		t.Fatalf("Add after seal error = %v, want ErrSealed", err)
	}
}

package cu

import (
	"sync"
	"testing"
	"time"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/dispatch"
	"github.com/fabricdb/qfabric/orchestrator"
	"github.com/fabricdb/qfabric/plan"
	"github.com/fabricdb/qfabric/wire"
)

// planHarness lets a test decide exactly when each submitted plan item
// finishes, the same technique orchestrator's own tests use, so group
// retirement can be driven one plan at a time.
type planHarness struct {
	mu     sync.Mutex
	byItem map[[2]uint32]func(bool)
}

func newPlanHarness(orch *orchestrator.Orchestrator) *planHarness {
	h := &planHarness{byItem: make(map[[2]uint32]func(bool))}
	orch.SetDispatchFunc(func(item *plan.WorkItem, onDone func(success bool)) {
		h.mu.Lock()
		h.byItem[[2]uint32{item.PlanID, item.ItemID}] = onDone
		h.mu.Unlock()
	})
	return h
}

func (h *planHarness) finish(planID, itemID uint32, success bool) bool {
	h.mu.Lock()
	fn, ok := h.byItem[[2]uint32{planID, itemID}]
	h.mu.Unlock()
	if !ok {
		return false
	}
	fn(success)
	return true
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}

func wi(planID, itemID uint32, deps ...uint32) plan.WorkItem {
	return plan.WorkItem{PlanID: planID, ItemID: itemID, Operator: plan.OpFilter, DependsOn: deps,
		Filter: &plan.FilterPayload{}}
}

// sourceColumn registers a small, already-complete U64 column under
// (table, name) so a DataTransfer work item has something real to
// copy.
func sourceColumn(t *testing.T, cat *catalog.Catalog, table, name string) {
	t.Helper()
	col := column.New(name, column.U64)
	if err := col.Allocate(4); err != nil {
		t.Fatalf("allocating source column: %v", err)
	}
	buf := make([]byte, 32)
	col.AppendChunk(0, buf)
	col.MarkComplete()
	if err := cat.Add(table, name, col); err != nil {
		t.Fatalf("registering source column: %v", err)
	}
}

func transferItem(groupID uint64, planID uint32, stagedTable string) plan.WorkItem {
	return plan.WorkItem{
		PlanID:      planID,
		ItemID:      0,
		Operator:    plan.OpDataTransfer,
		RequestCase: plan.RequestTransfer,
		DataTransfer: &plan.DataTransferPayload{
			Source:      plan.ColumnRef{Table: "src", Column: "col", Type: column.U64, IsBase: true},
			Destination: plan.ColumnRef{Table: stagedTable, Column: "col", Type: column.U64},
		},
	}
}

// TestGroupIsolation exercises spec.md §4.8 step 5: a group's staged
// tables must stay in the catalog while any of its plans is still
// outstanding, and disappear the instant the last one reaches a
// terminal state.
func TestGroupIsolation(t *testing.T) {
	cat := catalog.New()
	sourceColumn(t, cat, "src", "col")

	dispatcher := dispatch.New()
	orch := orchestrator.New(nil, dispatcher, cat, orchestrator.Config{GCInterval: time.Hour, MaxPendingCleanup: 1000})
	defer orch.Shutdown()
	h := newPlanHarness(orch)

	front := New(nil, cat, dispatcher, nil, orch)

	const stagedTable = "g1_src"
	msg := wire.QueryGroupMsg{
		GroupID:         1,
		ColumnTransfers: []plan.WorkItem{transferItem(1, 100, stagedTable)},
		Plans: []plan.Plan{
			{PlanID: 101, Items: []plan.WorkItem{wi(101, 1)}},
			{PlanID: 102, Items: []plan.WorkItem{wi(102, 1)}},
		},
	}
	front.ReceiveQueryGroup(msg, 42)

	waitFor(t, time.Second, func() bool {
		return cat.Get(stagedTable, "col") != nil
	})

	waitFor(t, time.Second, func() bool { return h.finish(101, 1, true) })
	waitFor(t, time.Second, func() bool {
		s, _ := orch.PlanStatus(101)
		return s == orchestrator.PlanCompleted
	})
	time.Sleep(20 * time.Millisecond)
	if cat.Get(stagedTable, "col") == nil {
		t.Fatal("staged table dropped while plan 102 is still outstanding")
	}

	waitFor(t, time.Second, func() bool { return h.finish(102, 1, true) })
	waitFor(t, time.Second, func() bool {
		s, _ := orch.PlanStatus(102)
		return s == orchestrator.PlanCompleted
	})
	waitFor(t, time.Second, func() bool {
		return cat.Get(stagedTable, "col") == nil
	})
}

// TestGroupIsolationCancelledPlanStillRetires checks that a cancelled
// plan (not just a completed one) counts toward "last plan of the
// group finished" — retireGroupPlan is keyed on terminal status, not
// specifically success.
func TestGroupIsolationCancelledPlanStillRetires(t *testing.T) {
	cat := catalog.New()
	sourceColumn(t, cat, "src", "col")

	dispatcher := dispatch.New()
	orch := orchestrator.New(nil, dispatcher, cat, orchestrator.Config{GCInterval: time.Hour, MaxPendingCleanup: 1000})
	defer orch.Shutdown()
	h := newPlanHarness(orch)

	front := New(nil, cat, dispatcher, nil, orch)

	const stagedTable = "g2_src"
	msg := wire.QueryGroupMsg{
		GroupID:         2,
		ColumnTransfers: []plan.WorkItem{transferItem(2, 200, stagedTable)},
		Plans: []plan.Plan{
			{PlanID: 201, Items: []plan.WorkItem{wi(201, 1)}},
		},
	}
	front.ReceiveQueryGroup(msg, 7)

	waitFor(t, time.Second, func() bool { return cat.Get(stagedTable, "col") != nil })
	waitFor(t, time.Second, func() bool { return h.finish(201, 1, false) })
	waitFor(t, time.Second, func() bool {
		s, _ := orch.PlanStatus(201)
		return s == orchestrator.PlanCancelled
	})
	waitFor(t, time.Second, func() bool {
		return cat.Get(stagedTable, "col") == nil
	})
}

// TestApplyConfigurationActionResetCatalog checks ActionResetCatalog
// clears every registered column.
func TestApplyConfigurationActionResetCatalog(t *testing.T) {
	cat := catalog.New()
	sourceColumn(t, cat, "t", "c")

	dispatcher := dispatch.New()
	orch := orchestrator.New(nil, dispatcher, cat, orchestrator.DefaultConfig())
	defer orch.Shutdown()
	front := New(nil, cat, dispatcher, nil, orch)

	if err := front.ApplyConfigurationAction(wire.ConfigurationAction{Kind: wire.ActionResetCatalog}); err != nil {
		t.Fatalf("ApplyConfigurationAction: %v", err)
	}
	if len(cat.Tables()) != 0 {
		t.Fatalf("catalog not cleared: tables=%v", cat.Tables())
	}
}

// TestApplyConfigurationActionSetWorkerNoPool checks the documented
// error path when no worker pool is configured.
func TestApplyConfigurationActionSetWorkerNoPool(t *testing.T) {
	cat := catalog.New()
	dispatcher := dispatch.New()
	orch := orchestrator.New(nil, dispatcher, cat, orchestrator.DefaultConfig())
	defer orch.Shutdown()
	front := New(nil, cat, dispatcher, nil, orch)

	if err := front.ApplyConfigurationAction(wire.ConfigurationAction{Kind: wire.ActionSetWorker, Count: 4}); err == nil {
		t.Fatal("expected an error setting worker count with no pool configured")
	}
}

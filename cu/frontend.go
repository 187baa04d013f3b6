// Package cu implements the compute-unit front end of spec.md §4.8
// ("Compute unit reception"): receiving a QueryGroup, staging its
// column transfers, submitting its plans to the local
// orchestrator.Orchestrator, tracking group/plan/table ownership, and
// applying ConfigurationAction requests to the local workerpool.Pool
// and catalog.Catalog.
//
// Grounded on spec.md §4.8's five reception steps and
// original_source/computeUnit/ComputeUnit.cpp's onReceiveGroup /
// onReceiveConfigurationAction handlers.
package cu

import (
	"fmt"
	"log"
	"sync"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/dispatch"
	"github.com/fabricdb/qfabric/orchestrator"
	"github.com/fabricdb/qfabric/plan"
	"github.com/fabricdb/qfabric/wire"
	"github.com/fabricdb/qfabric/workerpool"
)

// FrontEnd is the compute unit's reception layer. It owns no network
// connection itself (cmd/computeunit wires SendResponse to the real
// one); this keeps FrontEnd testable without a socket.
type FrontEnd struct {
	logger     *log.Logger
	cat        *catalog.Catalog
	dispatcher *dispatch.Dispatcher
	pool       *workerpool.Pool
	orch       *orchestrator.Orchestrator

	// SendResponse delivers a terminal plan's PlanResponse back to
	// whatever connection owns targetUUID. nil is valid (e.g. in
	// tests that only check bookkeeping) and simply drops the
	// response.
	SendResponse func(targetUUID uint64, resp wire.PlanResponse)

	mu          sync.Mutex
	planGroup   map[uint32]uint64
	groupPlans  map[uint64]map[uint32]bool
	groupTables map[uint64]map[string]bool
}

// New creates a FrontEnd wired to cat/dispatcher/pool/orch and
// installs its terminal-plan hook on orch. pool may be nil, in which
// case staged transfers and ConfigurationAction{SetWorker} both run
// without a pool (transfers on an ad-hoc goroutine, SetWorker as an
// error).
func New(logger *log.Logger, cat *catalog.Catalog, dispatcher *dispatch.Dispatcher, pool *workerpool.Pool, orch *orchestrator.Orchestrator) *FrontEnd {
	if logger == nil {
		logger = log.Default()
	}
	f := &FrontEnd{
		logger:      logger,
		cat:         cat,
		dispatcher:  dispatcher,
		pool:        pool,
		orch:        orch,
		planGroup:   make(map[uint32]uint64),
		groupPlans:  make(map[uint64]map[uint32]bool),
		groupTables: make(map[uint64]map[string]bool),
	}
	orch.SetOnPlanTerminal(f.onPlanTerminal)
	return f
}

// ReceiveQueryGroup implements spec.md §4.8's compute-unit reception
// steps: pre-register a placeholder Column for every transfer
// destination, dispatch each transfer, record the group's plan/table
// bookkeeping, then submit every plan to the orchestrator with
// srcUUID as its target.
func (f *FrontEnd) ReceiveQueryGroup(msg wire.QueryGroupMsg, srcUUID uint64) {
	tables := make(map[string]bool, len(msg.ColumnTransfers))
	for i := range msg.ColumnTransfers {
		item := msg.ColumnTransfers[i]
		f.prestageTransfer(item)
		tables[item.DataTransfer.Destination.Table] = true
		f.runTransfer(item)
	}

	planIDs := make(map[uint32]bool, len(msg.Plans))
	for _, p := range msg.Plans {
		planIDs[p.PlanID] = true
	}

	f.mu.Lock()
	f.groupPlans[msg.GroupID] = planIDs
	f.groupTables[msg.GroupID] = tables
	for planID := range planIDs {
		f.planGroup[planID] = msg.GroupID
	}
	f.mu.Unlock()

	for _, p := range msg.Plans {
		f.orch.SubmitPlan(p, srcUUID)
	}
}

// prestageTransfer registers an empty placeholder Column under the
// transfer's destination name, before the transfer itself runs, so a
// dependent plan item that resolves the staged name through the
// catalog early gets a handle that fills in under it rather than one
// later replaced out from under it (spec.md §4.8's "pre-registered in
// the catalog under the aliased name").
func (f *FrontEnd) prestageTransfer(item plan.WorkItem) {
	dst := item.DataTransfer.Destination
	placeholder := column.New(dst.Column, dst.Type)
	if err := f.cat.Add(dst.Table, dst.Column, placeholder); err != nil {
		f.logger.Printf("cu: transfer destination %s.%s already registered: %v", dst.Table, dst.Column, err)
	}
}

func (f *FrontEnd) runTransfer(item plan.WorkItem) {
	it := item
	run := func() {
		if err := f.dispatcher.Execute(f.cat, &it); err != nil {
			f.logger.Printf("cu: transfer into %s.%s failed: %v", it.DataTransfer.Destination.Table, it.DataTransfer.Destination.Column, err)
		}
	}
	if f.pool != nil {
		f.pool.Enqueue(workerpool.Task{Run: run})
		return
	}
	go run()
}

// onPlanTerminal is orchestrator.Orchestrator's terminal-transition
// callback (spec.md §4.8 steps 3-5): it answers the plan's originator,
// finalizes the plan, and — once the last plan of its group has
// finished — drops every aliased table the group staged.
func (f *FrontEnd) onPlanTerminal(planID uint32, status orchestrator.PlanStatus, targetUUID uint64) {
	if f.SendResponse != nil {
		resp := wire.PlanResponse{PlanID: planID, Success: status == orchestrator.PlanCompleted}
		if status != orchestrator.PlanCompleted {
			resp.Info = "plan cancelled"
		}
		f.SendResponse(targetUUID, resp)
	}
	f.orch.FinalizePlan(planID)
	f.retireGroupPlan(planID)
}

// retireGroupPlan implements spec.md §4.8 step 5 and is the testable
// surface for "group isolation": once every plan submitted as part of
// a group has reached a terminal state, every table that group staged
// via ReceiveQueryGroup's transfers is dropped from the catalog.
func (f *FrontEnd) retireGroupPlan(planID uint32) {
	f.mu.Lock()
	groupID, ok := f.planGroup[planID]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(f.planGroup, planID)
	outstanding := f.groupPlans[groupID]
	delete(outstanding, planID)
	last := len(outstanding) == 0
	var tables map[string]bool
	if last {
		tables = f.groupTables[groupID]
		delete(f.groupPlans, groupID)
		delete(f.groupTables, groupID)
	}
	f.mu.Unlock()

	for table := range tables {
		f.cat.DropTable(table)
	}
}

// ApplyConfigurationAction implements spec.md §6's two compute-unit
// configuration actions.
func (f *FrontEnd) ApplyConfigurationAction(action wire.ConfigurationAction) error {
	switch action.Kind {
	case wire.ActionSetWorker:
		if f.pool == nil {
			return fmt.Errorf("cu: SetWorker: no worker pool configured")
		}
		f.pool.SetWorkers(action.Count)
		return nil
	case wire.ActionResetCatalog:
		f.cat.Clear()
		return nil
	default:
		return fmt.Errorf("cu: unknown configuration action kind %d", action.Kind)
	}
}

package orchestrator

import (
	"time"

	"github.com/fabricdb/qfabric/plan"
)

// eventLoop is the single goroutine that mutates plan state. It
// processes events strictly in delivery order (spec.md §4.5: "two
// completions for the same plan cannot race") and exits once it has
// both observed a shutdownEvent and drained every event already
// queued ahead of it.
func (o *Orchestrator) eventLoop() {
	defer close(o.doneLoop)
	shuttingDown := false
	for {
		if shuttingDown {
			select {
			case ev := <-o.events:
				o.process(ev)
			default:
				return
			}
			continue
		}
		ev := <-o.events
		if _, ok := ev.(shutdownEvent); ok {
			shuttingDown = true
			continue
		}
		o.process(ev)
	}
}

func (o *Orchestrator) process(ev any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch e := ev.(type) {
	case submitPlanEvent:
		o.handleSubmitPlan(e.plan, e.targetUUID)
	case itemCompletedEvent:
		o.handleItemCompleted(e.planID, e.itemID)
	case itemFailedEvent:
		o.handleItemFailed(e.planID, e.itemID)
	case cancelPlanEvent:
		o.handleCancelPlan(e.planID)
	case finalizePlanEvent:
		o.handleFinalizePlan(e.planID)
	}
}

func (o *Orchestrator) handleSubmitPlan(p plan.Plan, targetUUID uint64) {
	ctx := &planContext{
		planID:         p.PlanID,
		status:         PlanActive,
		targetUUID:     targetUUID,
		items:          make(map[uint32]*itemState),
		pendingItems:   make(map[uint32]bool),
		completedItems: make(map[uint32]bool),
	}
	for _, it := range p.Items {
		ctx.items[it.ItemID] = &itemState{item: it, status: ItemPending}
		ctx.pendingItems[it.ItemID] = true
	}
	for _, it := range p.Items {
		for _, dep := range it.DependsOn {
			if ds, ok := ctx.items[dep]; ok {
				ds.dependents = append(ds.dependents, it.ItemID)
			}
		}
	}
	o.plans[p.PlanID] = ctx
	o.scheduleReadyItems(ctx)
}

// scheduleReadyItems promotes every Pending item whose dependencies
// are all completed to Ready, then immediately to Dispatched
// (spec.md §4.5: "Pending→Ready and Ready→Dispatched happen
// back-to-back inside the same event").
func (o *Orchestrator) scheduleReadyItems(ctx *planContext) {
	if ctx.status != PlanActive {
		return
	}
	for id := range ctx.pendingItems {
		it := ctx.items[id]
		if it.status != ItemPending {
			continue
		}
		if !o.dependenciesMet(ctx, it) {
			continue
		}
		it.status = ItemReady
		o.dispatchItem(ctx, it)
	}
}

func (o *Orchestrator) dependenciesMet(ctx *planContext, it *itemState) bool {
	for _, dep := range it.item.DependsOn {
		if !ctx.completedItems[dep] {
			return false
		}
	}
	return true
}

func (o *Orchestrator) dispatchItem(ctx *planContext, it *itemState) {
	it.status = ItemDispatched
	delete(ctx.pendingItems, it.item.ItemID)
	planID, itemID := ctx.planID, it.item.ItemID
	item := it.item
	o.dispatchFn(&item, func(success bool) {
		if success {
			o.OnItemCompleted(planID, itemID)
		} else {
			o.OnItemFailed(planID, itemID)
		}
	})
}

func (o *Orchestrator) handleItemCompleted(planID, itemID uint32) {
	ctx, ok := o.plans[planID]
	if !ok {
		return
	}
	it, ok := ctx.items[itemID]
	if !ok || it.status != ItemDispatched {
		return // absorbed: unknown item, or an item not in the Dispatched state
	}
	it.status = ItemCompleted
	ctx.completedItems[itemID] = true

	if len(ctx.completedItems) == len(ctx.items) {
		ctx.status = PlanCompleted
		if o.onTerminal != nil {
			o.onTerminal(ctx.planID, PlanCompleted, ctx.targetUUID)
		}
		return
	}
	o.scheduleReadyItems(ctx)
}

// handleItemFailed implements spec.md §4.5's failure semantics: every
// Pending/Ready item in the plan is cancelled, the plan itself is
// cancelled, and it is pushed to the cleanup queue.
func (o *Orchestrator) handleItemFailed(planID, itemID uint32) {
	ctx, ok := o.plans[planID]
	if !ok {
		return
	}
	it, ok := ctx.items[itemID]
	if !ok || it.status != ItemDispatched {
		return
	}
	it.status = ItemFailed
	o.cancelPlanLocked(ctx)
}

func (o *Orchestrator) handleCancelPlan(planID uint32) {
	ctx, ok := o.plans[planID]
	if !ok {
		return
	}
	o.cancelPlanLocked(ctx)
}

func (o *Orchestrator) cancelPlanLocked(ctx *planContext) {
	if ctx.status != PlanActive {
		return
	}
	for _, it := range ctx.items {
		if it.status == ItemPending || it.status == ItemReady {
			it.status = ItemCancelled
		}
	}
	ctx.status = PlanCancelled
	if o.onTerminal != nil {
		o.onTerminal(ctx.planID, PlanCancelled, ctx.targetUUID)
	}
	o.pushCleanup(ctx.planID)
}

// handleFinalizePlan is a no-op while the plan is still Active (the
// resolved open question of spec.md §9): cleanup only happens once the
// plan has reached Completed or Cancelled on its own.
func (o *Orchestrator) handleFinalizePlan(planID uint32) {
	ctx, ok := o.plans[planID]
	if !ok {
		return
	}
	switch ctx.status {
	case PlanCompleted, PlanCancelled:
		ctx.status = PlanPendingCleanup
		o.pushCleanup(planID)
	}
}

func (o *Orchestrator) pushCleanup(planID uint32) {
	o.cleanupMu.Lock()
	o.cleanupQ = append(o.cleanupQ, planID)
	wake := len(o.cleanupQ) >= o.config.MaxPendingCleanup
	o.cleanupMu.Unlock()
	if wake {
		select {
		case o.wakeGC <- struct{}{}:
		default:
		}
	}
}

// gcLoop is the second owned goroutine: it sleeps for GCInterval, or
// wakes early once the cleanup queue reaches MaxPendingCleanup, then
// erases every PendingCleanup plan (spec.md §4.5). Go's idiomatic
// timer+channel select replaces the C++ condition_variable::wait_for
// here, since it also lets the GC thread observe the event loop's
// exit (via doneLoop) in the same select rather than needing a timed
// condvar wake to re-check a running flag.
func (o *Orchestrator) gcLoop() {
	defer close(o.doneGC)
	timer := time.NewTimer(o.config.GCInterval)
	defer timer.Stop()
	for {
		select {
		case <-o.doneLoop:
			o.drainCleanup()
			return
		case <-o.wakeGC:
		case <-timer.C:
		}
		o.drainCleanup()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(o.config.GCInterval)
	}
}

func (o *Orchestrator) drainCleanup() {
	o.cleanupMu.Lock()
	batch := o.cleanupQ
	o.cleanupQ = nil
	o.cleanupMu.Unlock()
	if len(batch) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range batch {
		if ctx, ok := o.plans[id]; ok && ctx.status == PlanPendingCleanup {
			delete(o.plans, id)
		}
	}
}

// Package orchestrator implements the per-compute-unit PlanOrchestrator
// described in spec.md §4.5: a dependency-driven scheduler running on
// exactly two owned goroutines (an event loop and a GC thread), with
// all plan state confined to the event loop and mutated only there.
// Grounded on
// original_source/computeUnit/include/infrastructure/PlanOrchestrator.hpp,
// transcribed state machine for state machine; the C++ mutex+condvar+
// std::queue event delivery becomes a single buffered Go channel
// (already FIFO and already safe for concurrent senders).
package orchestrator

import (
	"log"
	"sync"
	"time"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/dispatch"
	"github.com/fabricdb/qfabric/plan"
)

// PlanStatus mirrors spec.md §4.5's plan state machine.
type PlanStatus int

const (
	PlanActive PlanStatus = iota
	PlanCompleted
	PlanCancelled
	PlanPendingCleanup
)

func (s PlanStatus) String() string {
	switch s {
	case PlanActive:
		return "active"
	case PlanCompleted:
		return "completed"
	case PlanCancelled:
		return "cancelled"
	case PlanPendingCleanup:
		return "pending_cleanup"
	default:
		return "unknown"
	}
}

// ItemStatus mirrors spec.md §4.5's item state machine.
type ItemStatus int

const (
	ItemPending ItemStatus = iota
	ItemReady
	ItemDispatched
	ItemCompleted
	ItemFailed
	ItemCancelled
)

func (s ItemStatus) String() string {
	switch s {
	case ItemPending:
		return "pending"
	case ItemReady:
		return "ready"
	case ItemDispatched:
		return "dispatched"
	case ItemCompleted:
		return "completed"
	case ItemFailed:
		return "failed"
	case ItemCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type itemState struct {
	item       plan.WorkItem
	status     ItemStatus
	dependents []uint32
}

type planContext struct {
	planID        uint32
	status        PlanStatus
	targetUUID    uint64
	items         map[uint32]*itemState
	pendingItems  map[uint32]bool
	completedItems map[uint32]bool
}

// Config configures the GC thread's cadence and early-wake threshold.
type Config struct {
	GCInterval        time.Duration
	MaxPendingCleanup int
}

// DefaultConfig mirrors spec.md §4.5's "default order of seconds" GC
// interval and the teacher's 100-item default drain threshold.
func DefaultConfig() Config {
	return Config{GCInterval: 5 * time.Second, MaxPendingCleanup: 100}
}

// events

type submitPlanEvent struct {
	plan       plan.Plan
	targetUUID uint64
}

type itemCompletedEvent struct {
	planID, itemID uint32
}

type itemFailedEvent struct {
	planID, itemID uint32
}

type cancelPlanEvent struct{ planID uint32 }

type finalizePlanEvent struct{ planID uint32 }

type shutdownEvent struct{}

// Orchestrator is the per-compute-unit plan scheduler. All fields
// protected by mu are touched only from the event-loop goroutine,
// except for the status-query methods which take a read-only path
// through the same mutex (spec.md §4.5: "protected by a mutex that is
// acquired only by the event loop and by read-only status queries").
type Orchestrator struct {
	logger     *log.Logger
	config     Config
	dispatcher *dispatch.Dispatcher
	catalog    *catalog.Catalog
	// dispatchFn runs one work item to completion and reports the
	// outcome back via onDone. The default wraps o.dispatcher.Execute
	// on a fresh goroutine per item; tests override it to avoid
	// needing a real dispatcher/catalog pair.
	dispatchFn func(item *plan.WorkItem, onDone func(success bool))

	// onTerminal, if set, is invoked from the event-loop goroutine the
	// instant a plan first transitions into Completed or Cancelled
	// (never for PendingCleanup, which is a pure bookkeeping state).
	// The compute-unit front end uses this to send the plan's
	// PlanResponse to targetUUID and to drop a finished group's staged
	// tables (spec.md §4.8's "when the last plan of a group
	// completes"), then typically calls FinalizePlan itself once it
	// has done so — the resolved open question of spec.md §9.
	onTerminal func(planID uint32, status PlanStatus, targetUUID uint64)

	mu    sync.Mutex
	plans map[uint32]*planContext

	events chan any

	cleanupMu sync.Mutex
	cleanupQ  []uint32
	wakeGC    chan struct{}

	doneLoop chan struct{}
	doneGC   chan struct{}
}

// New creates an Orchestrator bound to dispatcher/cat and starts its
// two owned goroutines (event loop + GC). Callers must call Shutdown
// to release them.
func New(logger *log.Logger, dispatcher *dispatch.Dispatcher, cat *catalog.Catalog, cfg Config) *Orchestrator {
	o := &Orchestrator{
		logger:     logger,
		config:     cfg,
		dispatcher: dispatcher,
		catalog:    cat,
		plans:      make(map[uint32]*planContext),
		events:     make(chan any, 256),
		wakeGC:     make(chan struct{}, 1),
		doneLoop:   make(chan struct{}),
		doneGC:     make(chan struct{}),
	}
	o.dispatchFn = o.defaultDispatch
	go o.eventLoop()
	go o.gcLoop()
	return o
}

// SetDispatchFunc overrides how dispatched items are executed; the
// computeunit command uses this to route dispatch through a
// workerpool.Pool instead of the default ad-hoc goroutine-per-item
// fallback, giving items a true pinned-core execution context.
func (o *Orchestrator) SetDispatchFunc(fn func(item *plan.WorkItem, onDone func(success bool))) {
	o.dispatchFn = fn
}

// SetOnPlanTerminal installs fn as the terminal-transition callback. It
// must be set before any plan is submitted that should be observed by
// it; it is not safe to change concurrently with a running event loop.
func (o *Orchestrator) SetOnPlanTerminal(fn func(planID uint32, status PlanStatus, targetUUID uint64)) {
	o.onTerminal = fn
}

func (o *Orchestrator) defaultDispatch(item *plan.WorkItem, onDone func(success bool)) {
	go func() {
		err := o.dispatcher.Execute(o.catalog, item)
		if err != nil && o.logger != nil {
			o.logger.Printf("orchestrator: item %d/%d failed: %v", item.PlanID, item.ItemID, err)
		}
		onDone(err == nil)
	}()
}

// SubmitPlan enqueues a new plan for scheduling.
func (o *Orchestrator) SubmitPlan(p plan.Plan, targetUUID uint64) {
	o.events <- submitPlanEvent{plan: p, targetUUID: targetUUID}
}

// OnItemCompleted enqueues a completion notification; called by
// whatever ran the item (a workerpool.Task's OnFinish, or the network
// dispatch path for a remote item).
func (o *Orchestrator) OnItemCompleted(planID, itemID uint32) {
	o.events <- itemCompletedEvent{planID: planID, itemID: itemID}
}

// OnItemFailed enqueues a failure notification.
func (o *Orchestrator) OnItemFailed(planID, itemID uint32) {
	o.events <- itemFailedEvent{planID: planID, itemID: itemID}
}

// CancelPlan enqueues an explicit cancellation.
func (o *Orchestrator) CancelPlan(planID uint32) {
	o.events <- cancelPlanEvent{planID: planID}
}

// FinalizePlan enqueues a finalize request. Per spec.md §9's resolved
// open question, this is a no-op if the plan is still Active: cleanup
// only happens once the plan has reached Completed or Cancelled.
func (o *Orchestrator) FinalizePlan(planID uint32) {
	o.events <- finalizePlanEvent{planID: planID}
}

// Shutdown enqueues a Shutdown event and blocks until both owned
// goroutines have exited: the event loop drains whatever is already
// queued ahead of the shutdown marker, then exits; the GC thread
// observes the event loop's exit via doneLoop and performs one final
// drain before exiting itself (spec.md §4.5).
func (o *Orchestrator) Shutdown() {
	o.events <- shutdownEvent{}
	<-o.doneLoop
	<-o.doneGC
}

// PlanStatus returns the current status of planID, and whether it
// exists.
func (o *Orchestrator) PlanStatus(planID uint32) (PlanStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ctx, ok := o.plans[planID]
	if !ok {
		return 0, false
	}
	return ctx.status, true
}

// ItemStatus returns the current status of (planID, itemID), and
// whether it exists.
func (o *Orchestrator) ItemStatus(planID, itemID uint32) (ItemStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ctx, ok := o.plans[planID]
	if !ok {
		return 0, false
	}
	it, ok := ctx.items[itemID]
	if !ok {
		return 0, false
	}
	return it.status, true
}

// Package dispatch implements the OperatorDispatcher described in
// spec.md §4.4: a composite-id factory that maps (request case,
// operator) pairs to an executable operator body, plus a
// representative physical operator set. Grounded on
// original_source/computeUnit/include/infrastructure/OperatorDispatcher.hpp's
// "(request_case << 16) | operator_case" id scheme.
package dispatch

import (
	"fmt"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/plan"
)

// OperatorFunc executes one work item against cat, reading its input
// columns and registering its output columns.
type OperatorFunc func(cat *catalog.Catalog, item *plan.WorkItem) error

// compositeID mirrors the teacher header's bit-packing: the high bits
// carry the request case, the low bits the operator.
func compositeID(rc plan.RequestCase, op plan.Operator) uint32 {
	return (uint32(rc) << 16) | uint32(op)
}

// Dispatcher owns the factory map from composite id to OperatorFunc.
type Dispatcher struct {
	factory map[uint32]OperatorFunc
}

// New builds a Dispatcher pre-registered with every operator in
// SPEC_FULL.md §4.4, each bound to RequestWork. DataTransfer is also
// registered under RequestTransfer, matching the grouper's use of the
// same operator body for its own staged column copies.
func New() *Dispatcher {
	d := &Dispatcher{factory: make(map[uint32]OperatorFunc)}
	d.Register(plan.RequestWork, plan.OpFilter, execFilter)
	d.Register(plan.RequestWork, plan.OpMaterialize, execMaterialize)
	d.Register(plan.RequestWork, plan.OpAggregate, execAggregate)
	d.Register(plan.RequestWork, plan.OpMap, execMap)
	d.Register(plan.RequestWork, plan.OpHashJoin, execHashJoin)
	d.Register(plan.RequestWork, plan.OpSort, execSort)
	d.Register(plan.RequestWork, plan.OpGroup, execGroup)
	d.Register(plan.RequestWork, plan.OpSetUnion, execSetUnion)
	d.Register(plan.RequestWork, plan.OpSetIntersect, execSetIntersect)
	d.Register(plan.RequestWork, plan.OpResult, execResult)
	d.Register(plan.RequestWork, plan.OpDataTransfer, execDataTransfer)
	d.Register(plan.RequestTransfer, plan.OpDataTransfer, execDataTransfer)
	return d
}

// Register installs (or overwrites) the operator body for (rc, op).
func (d *Dispatcher) Register(rc plan.RequestCase, op plan.Operator, fn OperatorFunc) {
	d.factory[compositeID(rc, op)] = fn
}

// Lookup returns the operator body registered for item's (RequestCase,
// Operator) pair, or nil if none is registered.
func (d *Dispatcher) Lookup(item *plan.WorkItem) OperatorFunc {
	return d.factory[compositeID(item.RequestCase, item.Operator)]
}

// Execute resolves and immediately runs item's operator body against
// cat on the calling goroutine (the "SingleCPU" inline variant,
// spec.md §4.4 — the alternative multi-core dispatch path hands the
// same OperatorFunc to workerpool.Task.Run instead of calling it here).
func (d *Dispatcher) Execute(cat *catalog.Catalog, item *plan.WorkItem) error {
	fn := d.Lookup(item)
	if fn == nil {
		return fmt.Errorf("dispatch: no operator registered for request=%d operator=%s", item.RequestCase, item.Operator)
	}
	return fn(cat, item)
}

// SingleCPU wraps a Dispatcher and a Catalog so callers that always
// run work items on the calling goroutine (no workerpool involved —
// e.g. a compute unit configured with zero extra workers, spec.md
// §4.9's "SetWorker(0)" case) don't need to thread the catalog through
// every call.
type SingleCPU struct {
	Dispatcher *Dispatcher
	Catalog    *catalog.Catalog
}

// NewSingleCPU builds a SingleCPU executor bound to cat with the
// default operator set.
func NewSingleCPU(cat *catalog.Catalog) *SingleCPU {
	return &SingleCPU{Dispatcher: New(), Catalog: cat}
}

// Run executes item inline and returns its error, if any.
func (s *SingleCPU) Run(item *plan.WorkItem) error {
	return s.Dispatcher.Execute(s.Catalog, item)
}

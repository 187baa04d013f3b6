// Package plan defines the shared data model for a query plan: work
// items, their operator payloads, and the DAG they form, per spec.md
// §3 ("Work item descriptor", "Plan").
package plan

import "github.com/fabricdb/qfabric/column"

// Operator enumerates the physical operator kinds a work item may
// name. The out-of-scope physical-operator library (spec.md §1) is
// represented here only to the depth this module needs to exercise
// the orchestrator/dispatcher/grouper subsystems end to end (see
// SPEC_FULL.md §4.4).
type Operator int

const (
	OpUnknown Operator = iota
	OpFilter
	OpMaterialize
	OpAggregate
	OpMap
	OpHashJoin
	OpSort
	OpGroup
	OpSetUnion
	OpSetIntersect
	OpResult
	OpDataTransfer
)

func (o Operator) String() string {
	switch o {
	case OpFilter:
		return "filter"
	case OpMaterialize:
		return "materialize"
	case OpAggregate:
		return "aggregate"
	case OpMap:
		return "map"
	case OpHashJoin:
		return "hash_join"
	case OpSort:
		return "sort"
	case OpGroup:
		return "group"
	case OpSetUnion:
		return "set_union"
	case OpSetIntersect:
		return "set_intersect"
	case OpResult:
		return "result"
	case OpDataTransfer:
		return "data_transfer"
	default:
		return "unknown"
	}
}

// RequestCase distinguishes the outer message kind a work item arrived
// in; combined with Operator it forms the dispatcher's composite
// request-operator id (spec.md §4.4).
type RequestCase int

const (
	RequestWork RequestCase = iota
	RequestTransfer
)

// ColumnRef names one input or output column of a work item.
type ColumnRef struct {
	Table  string
	Column string
	Type   column.DataType
	// IsBase marks a reference as originating from ingested data
	// rather than another item's output (spec.md §3).
	IsBase bool
}

// CompareOp enumerates filter comparison operators.
type CompareOp int

const (
	CmpEQ CompareOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
	CmpLike
)

// FilterPayload is the operator payload for OpFilter.
type FilterPayload struct {
	Input  ColumnRef
	Output ColumnRef
	Op     CompareOp
	// Operand is used for numeric comparisons.
	Operand float64
	// Pattern is used when Op == CmpLike.
	Pattern string
	// AsBitmask selects bitmask output instead of a position list.
	AsBitmask bool
}

// MaterializePayload gathers Source by the positions named in
// Positions into Output.
type MaterializePayload struct {
	Source    ColumnRef
	Positions ColumnRef
	Output    ColumnRef
}

// AggregateFn enumerates supported aggregate functions.
type AggregateFn int

const (
	AggSum AggregateFn = iota
	AggCount
	AggMin
	AggMax
)

// AggregatePayload computes a single aggregate over Input.
type AggregatePayload struct {
	Input  ColumnRef
	Output ColumnRef
	Fn     AggregateFn
}

// MapFn enumerates scalar arithmetic operations for OpMap.
type MapFn int

const (
	MapAddScalar MapFn = iota
	MapMulScalar
)

// MapPayload applies a scalar arithmetic function element-wise.
type MapPayload struct {
	Input   ColumnRef
	Output  ColumnRef
	Fn      MapFn
	Operand float64
}

// HashJoinPayload performs an equi-join of Left and Right on their key
// columns, emitting matched position pairs.
type HashJoinPayload struct {
	LeftKey     ColumnRef
	RightKey    ColumnRef
	OutputLeft  ColumnRef
	OutputRight ColumnRef
}

// SortPayload sorts Input's positions by Key (ascending, or descending
// when Desc is set).
type SortPayload struct {
	Key    ColumnRef
	Output ColumnRef
	Desc   bool
}

// GroupPayload groups Key and computes Fn over Value per group, emitting parallel Keys/Values outputs.
type GroupPayload struct {
	Key        ColumnRef
	Value      ColumnRef
	Fn         AggregateFn
	OutputKeys ColumnRef
	OutputVals ColumnRef
}

// SetOpPayload computes the union or intersection of two position
// lists.
type SetOpPayload struct {
	Left   ColumnRef
	Right  ColumnRef
	Output ColumnRef
}

// ResultPayload is the terminal sink: it reads Inputs and, if
// WriteFile is set, writes a tab-separated file under the results
// directory.
type ResultPayload struct {
	Inputs    []ColumnRef
	WriteFile bool
}

// DataTransferPayload is the grouper's column-staging operator
// (spec.md §4.8): copy Source into Destination in ChunkBytes-sized
// chunks, advancing the watermark after each.
type DataTransferPayload struct {
	Source      ColumnRef
	Destination ColumnRef
	ChunkBytes  int
}

// WorkItem is one node of a plan (spec.md §3).
type WorkItem struct {
	PlanID             uint32
	ItemID             uint32
	Operator           Operator
	DependsOn          []uint32
	ReturnExtended     bool
	RequestCase        RequestCase
	Filter             *FilterPayload
	Materialize        *MaterializePayload
	Aggregate          *AggregatePayload
	Map                *MapPayload
	HashJoin           *HashJoinPayload
	Sort               *SortPayload
	Group              *GroupPayload
	SetOp              *SetOpPayload
	Result             *ResultPayload
	DataTransfer       *DataTransferPayload
}

// Inputs returns every input ColumnRef named by the item's operator
// payload.
func (w *WorkItem) Inputs() []ColumnRef {
	switch w.Operator {
	case OpFilter:
		return []ColumnRef{w.Filter.Input}
	case OpMaterialize:
		return []ColumnRef{w.Materialize.Source, w.Materialize.Positions}
	case OpAggregate:
		return []ColumnRef{w.Aggregate.Input}
	case OpMap:
		return []ColumnRef{w.Map.Input}
	case OpHashJoin:
		return []ColumnRef{w.HashJoin.LeftKey, w.HashJoin.RightKey}
	case OpSort:
		return []ColumnRef{w.Sort.Key}
	case OpGroup:
		return []ColumnRef{w.Group.Key, w.Group.Value}
	case OpSetUnion, OpSetIntersect:
		return []ColumnRef{w.SetOp.Left, w.SetOp.Right}
	case OpResult:
		return w.Result.Inputs
	case OpDataTransfer:
		return []ColumnRef{w.DataTransfer.Source}
	default:
		return nil
	}
}

// Outputs returns every output ColumnRef produced by the item's
// operator payload.
func (w *WorkItem) Outputs() []ColumnRef {
	switch w.Operator {
	case OpFilter:
		return []ColumnRef{w.Filter.Output}
	case OpMaterialize:
		return []ColumnRef{w.Materialize.Output}
	case OpAggregate:
		return []ColumnRef{w.Aggregate.Output}
	case OpMap:
		return []ColumnRef{w.Map.Output}
	case OpHashJoin:
		return []ColumnRef{w.HashJoin.OutputLeft, w.HashJoin.OutputRight}
	case OpSort:
		return []ColumnRef{w.Sort.Output}
	case OpGroup:
		return []ColumnRef{w.Group.OutputKeys, w.Group.OutputVals}
	case OpSetUnion, OpSetIntersect:
		return []ColumnRef{w.SetOp.Output}
	case OpDataTransfer:
		return []ColumnRef{w.DataTransfer.Destination}
	default:
		return nil
	}
}

// RewriteInputs applies fn to every input ColumnRef of w in place. The
// grouper uses this to alias a transferred base column to its staged
// table name without needing its own per-operator switch (spec.md
// §4.8's QueryGroup column aliasing).
func (w *WorkItem) RewriteInputs(fn func(ColumnRef) ColumnRef) {
	switch w.Operator {
	case OpFilter:
		w.Filter.Input = fn(w.Filter.Input)
	case OpMaterialize:
		w.Materialize.Source = fn(w.Materialize.Source)
		w.Materialize.Positions = fn(w.Materialize.Positions)
	case OpAggregate:
		w.Aggregate.Input = fn(w.Aggregate.Input)
	case OpMap:
		w.Map.Input = fn(w.Map.Input)
	case OpHashJoin:
		w.HashJoin.LeftKey = fn(w.HashJoin.LeftKey)
		w.HashJoin.RightKey = fn(w.HashJoin.RightKey)
	case OpSort:
		w.Sort.Key = fn(w.Sort.Key)
	case OpGroup:
		w.Group.Key = fn(w.Group.Key)
		w.Group.Value = fn(w.Group.Value)
	case OpSetUnion, OpSetIntersect:
		w.SetOp.Left = fn(w.SetOp.Left)
		w.SetOp.Right = fn(w.SetOp.Right)
	case OpResult:
		for i := range w.Result.Inputs {
			w.Result.Inputs[i] = fn(w.Result.Inputs[i])
		}
	case OpDataTransfer:
		w.DataTransfer.Source = fn(w.DataTransfer.Source)
	}
}

// Clone returns a deep copy of w: every payload pointer is duplicated
// so rewriting the copy (via RewriteInputs) never mutates the
// original. Mirrors original_source's renameTableNames, which always
// operated on a freshly-copied QueryPlan protobuf message.
func (w WorkItem) Clone() WorkItem {
	it := w
	it.DependsOn = append([]uint32(nil), w.DependsOn...)
	switch w.Operator {
	case OpFilter:
		p := *w.Filter
		it.Filter = &p
	case OpMaterialize:
		p := *w.Materialize
		it.Materialize = &p
	case OpAggregate:
		p := *w.Aggregate
		it.Aggregate = &p
	case OpMap:
		p := *w.Map
		it.Map = &p
	case OpHashJoin:
		p := *w.HashJoin
		it.HashJoin = &p
	case OpSort:
		p := *w.Sort
		it.Sort = &p
	case OpGroup:
		p := *w.Group
		it.Group = &p
	case OpSetUnion, OpSetIntersect:
		p := *w.SetOp
		it.SetOp = &p
	case OpResult:
		p := *w.Result
		p.Inputs = append([]ColumnRef(nil), w.Result.Inputs...)
		it.Result = &p
	case OpDataTransfer:
		p := *w.DataTransfer
		it.DataTransfer = &p
	}
	return it
}

// Plan is an ordered list of work items ending in a Result item
// (spec.md §3).
type Plan struct {
	PlanID uint32
	Items  []WorkItem
}

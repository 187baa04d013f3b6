package dispatch

import (
	"fmt"
	"unsafe"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/plan"
)

// resolve fetches ref's column from cat, failing loudly rather than
// silently treating a missing column as empty — every operator here
// runs after PlanDAG validation, so a miss means the catalog doesn't
// yet hold data the plan assumed was already ingested.
func resolve(cat *catalog.Catalog, ref plan.ColumnRef) (*column.Column, error) {
	col := cat.Get(ref.Table, ref.Column)
	if col == nil {
		return nil, fmt.Errorf("dispatch: column %s.%s not found in catalog", ref.Table, ref.Column)
	}
	return col, nil
}

// readAll blocks until col is fully populated and returns its entire
// contents decoded as []T. Operators in this package process whole
// (already-complete) columns rather than streaming chunk by chunk;
// streamed consumption is column.View's contract and is exercised
// directly by column's own tests.
func readAll[T column.Numeric](col *column.Column) ([]T, error) {
	col.WaitDataAllocated()
	n := col.Elements()
	if n == 0 {
		return nil, nil
	}
	v, err := column.NewView[T](col, n)
	if err != nil {
		return nil, err
	}
	return v.Chunk(), nil
}

func toBytes[T column.Numeric](xs []T) []byte {
	if len(xs) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&xs[0])), len(xs)*int(unsafe.Sizeof(zero)))
}

// publish allocates a new complete column of type t holding data and
// registers it into cat under ref, overwriting any existing entry of
// the same name (operators re-running over the same output name is
// expected during interactive development/testing; production plans
// name outputs uniquely per item).
func publish[T column.Numeric](cat *catalog.Catalog, ref plan.ColumnRef, t column.DataType, data []T) *column.Column {
	cat.Remove(ref.Table, ref.Column)
	out := column.New(ref.Column, t)
	if err := out.Allocate(len(data)); err != nil {
		// Allocate only errors on double-allocation of the same
		// *Column, which cannot happen for one freshly created here.
		panic(err)
	}
	if len(data) > 0 {
		out.AppendChunk(0, toBytes(data))
	}
	out.MarkComplete()
	_ = cat.Add(ref.Table, ref.Column, out)
	return out
}

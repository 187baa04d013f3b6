package dispatch

import (
	"fmt"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/plan"
)

// execFilter evaluates item.Filter.Op against every element of the
// input column and emits either a position list (default) or a packed
// bitmask (AsBitmask) of matches, grounded on
// original_source/computeUnit/include/infrastructure/Filter.hpp's
// split between the two output representations.
func execFilter(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.Filter
	in, err := resolve(cat, p.Input)
	if err != nil {
		return err
	}
	vals, err := readAll[float64](in)
	if err != nil {
		return err
	}
	match := func(v float64) bool {
		switch p.Op {
		case plan.CmpEQ:
			return v == p.Operand
		case plan.CmpNE:
			return v != p.Operand
		case plan.CmpLT:
			return v < p.Operand
		case plan.CmpLE:
			return v <= p.Operand
		case plan.CmpGT:
			return v > p.Operand
		case plan.CmpGE:
			return v >= p.Operand
		case plan.CmpLike:
			if in.Dictionary() == nil {
				return false
			}
			s, ok := in.Dictionary().Lookup(uint64(v))
			return ok && column.MatchLike(s, p.Pattern)
		default:
			return false
		}
	}

	if p.AsBitmask {
		bits := make([]byte, (len(vals)+7)/8)
		for i, v := range vals {
			if match(v) {
				bits[i/8] |= 1 << uint(i%8)
			}
		}
		out := column.New(p.Output.Column, column.Bitmask)
		if err := out.Allocate(len(vals)); err != nil {
			return err
		}
		if len(bits) > 0 {
			out.AppendChunk(0, bits)
		}
		out.MarkComplete()
		cat.Remove(p.Output.Table, p.Output.Column)
		return cat.Add(p.Output.Table, p.Output.Column, out)
	}

	var positions []uint64
	for i, v := range vals {
		if match(v) {
			positions = append(positions, uint64(i))
		}
	}
	publish(cat, p.Output, column.PositionList, positions)
	return nil
}

// execMap applies a scalar arithmetic function element-wise.
func execMap(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.Map
	in, err := resolve(cat, p.Input)
	if err != nil {
		return err
	}
	vals, err := readAll[float64](in)
	if err != nil {
		return err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		switch p.Fn {
		case plan.MapAddScalar:
			out[i] = v + p.Operand
		case plan.MapMulScalar:
			out[i] = v * p.Operand
		}
	}
	publish(cat, p.Output, column.F64, out)
	return nil
}

// execAggregate reduces the whole input column to a single scalar.
func execAggregate(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.Aggregate
	in, err := resolve(cat, p.Input)
	if err != nil {
		return err
	}
	vals, err := readAll[float64](in)
	if err != nil {
		return err
	}
	result, err := reduce(p.Fn, vals)
	if err != nil {
		return err
	}
	publish(cat, p.Output, column.F64, []float64{result})
	return nil
}

func reduce(fn plan.AggregateFn, vals []float64) (float64, error) {
	switch fn {
	case plan.AggCount:
		return float64(len(vals)), nil
	case plan.AggSum:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s, nil
	case plan.AggMin:
		if len(vals) == 0 {
			return 0, nil
		}
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case plan.AggMax:
		if len(vals) == 0 {
			return 0, nil
		}
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	default:
		return 0, fmt.Errorf("dispatch: unknown aggregate function %d", fn)
	}
}

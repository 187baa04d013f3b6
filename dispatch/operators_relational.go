package dispatch

import (
	"sort"

	"github.com/fabricdb/qfabric/catalog"
	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/plan"
)

// execMaterialize gathers Source at the positions named by Positions.
func execMaterialize(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.Materialize
	src, err := resolve(cat, p.Source)
	if err != nil {
		return err
	}
	posCol, err := resolve(cat, p.Positions)
	if err != nil {
		return err
	}
	vals, err := readAll[float64](src)
	if err != nil {
		return err
	}
	positions, err := readAll[uint64](posCol)
	if err != nil {
		return err
	}
	out := make([]float64, len(positions))
	for i, pos := range positions {
		if int(pos) < len(vals) {
			out[i] = vals[pos]
		}
	}
	publish(cat, p.Output, column.F64, out)
	return nil
}

// execHashJoin performs an equi-join of two key columns, emitting
// matched position pairs (the default "returns row indices" shape a
// caller's subsequent Materialize items use to pull actual payload
// columns), grounded on
// original_source/computeUnit/include/infrastructure/HashJoin.hpp's
// build-left/probe-right structure.
func execHashJoin(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.HashJoin
	left, err := resolve(cat, p.LeftKey)
	if err != nil {
		return err
	}
	right, err := resolve(cat, p.RightKey)
	if err != nil {
		return err
	}
	lvals, err := readAll[float64](left)
	if err != nil {
		return err
	}
	rvals, err := readAll[float64](right)
	if err != nil {
		return err
	}

	build := make(map[float64][]uint64, len(lvals))
	for i, v := range lvals {
		build[v] = append(build[v], uint64(i))
	}

	var outLeft, outRight []uint64
	for j, v := range rvals {
		for _, li := range build[v] {
			outLeft = append(outLeft, li)
			outRight = append(outRight, uint64(j))
		}
	}
	publish(cat, p.OutputLeft, column.PositionList, outLeft)
	publish(cat, p.OutputRight, column.PositionList, outRight)
	return nil
}

// execSort sorts Key's positions ascending (or descending) and emits
// the resulting permutation as a position list.
func execSort(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.Sort
	key, err := resolve(cat, p.Key)
	if err != nil {
		return err
	}
	vals, err := readAll[float64](key)
	if err != nil {
		return err
	}
	perm := make([]uint64, len(vals))
	for i := range perm {
		perm[i] = uint64(i)
	}
	sort.Slice(perm, func(i, j int) bool {
		a, b := vals[perm[i]], vals[perm[j]]
		if p.Desc {
			return a > b
		}
		return a < b
	})
	publish(cat, p.Output, column.PositionList, perm)
	return nil
}

// execGroup groups Key and reduces Value per group with Fn, emitting
// parallel (group key, aggregate) output columns ordered by first
// appearance of each key — a single-compute-unit analogue of the
// grouper's own cross-node clustering (spec.md §4.8), used when a plan
// groups data that already lives entirely within one compute unit.
func execGroup(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.Group
	keyCol, err := resolve(cat, p.Key)
	if err != nil {
		return err
	}
	valCol, err := resolve(cat, p.Value)
	if err != nil {
		return err
	}
	keys, err := readAll[float64](keyCol)
	if err != nil {
		return err
	}
	vals, err := readAll[float64](valCol)
	if err != nil {
		return err
	}

	order := make([]float64, 0)
	groups := make(map[float64][]float64)
	for i, k := range keys {
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		var v float64
		if i < len(vals) {
			v = vals[i]
		}
		groups[k] = append(groups[k], v)
	}

	outKeys := make([]float64, len(order))
	outVals := make([]float64, len(order))
	for i, k := range order {
		r, _ := reduce(p.Fn, groups[k])
		outKeys[i] = k
		outVals[i] = r
	}
	publish(cat, p.OutputKeys, column.F64, outKeys)
	publish(cat, p.OutputVals, column.F64, outVals)
	return nil
}

// execSetUnion emits the sorted, de-duplicated union of two position
// lists.
func execSetUnion(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.SetOp
	out, err := setOp(cat, p, func(a, b map[uint64]bool) []uint64 {
		merged := make(map[uint64]bool, len(a)+len(b))
		for k := range a {
			merged[k] = true
		}
		for k := range b {
			merged[k] = true
		}
		return sortedKeys(merged)
	})
	if err != nil {
		return err
	}
	publish(cat, p.Output, column.PositionList, out)
	return nil
}

// execSetIntersect emits the sorted intersection of two position
// lists.
func execSetIntersect(cat *catalog.Catalog, item *plan.WorkItem) error {
	p := item.SetOp
	out, err := setOp(cat, p, func(a, b map[uint64]bool) []uint64 {
		result := make(map[uint64]bool)
		for k := range a {
			if b[k] {
				result[k] = true
			}
		}
		return sortedKeys(result)
	})
	if err != nil {
		return err
	}
	publish(cat, p.Output, column.PositionList, out)
	return nil
}

func setOp(cat *catalog.Catalog, p *plan.SetOpPayload, combine func(a, b map[uint64]bool) []uint64) ([]uint64, error) {
	left, err := resolve(cat, p.Left)
	if err != nil {
		return nil, err
	}
	right, err := resolve(cat, p.Right)
	if err != nil {
		return nil, err
	}
	lvals, err := readAll[uint64](left)
	if err != nil {
		return nil, err
	}
	rvals, err := readAll[uint64](right)
	if err != nil {
		return nil, err
	}
	a := make(map[uint64]bool, len(lvals))
	for _, v := range lvals {
		a[v] = true
	}
	b := make(map[uint64]bool, len(rvals))
	for _, v := range rvals {
		b[v] = true
	}
	return combine(a, b), nil
}

func sortedKeys(m map[uint64]bool) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

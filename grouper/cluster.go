// Package grouper implements the window-collection analysis worker of
// spec.md §4.8: it clusters the plans of a sealed window.Collection by
// shared base columns, decides which of those columns are worth
// staging into CXL-local DRAM under contention, and emits the
// resulting QueryGroup messages.
//
// Grounded on original_source/grouper/include/Analysis.hpp
// (groupBySupersetAbsorption), original_source/grouper/src/
// TransferAnalysis.cpp (the cost model), and DAGCollection.cpp's
// analyze()/renameTableNames (group dispatch and column aliasing).
package grouper

import (
	"github.com/dchest/siphash"
	"golang.org/x/exp/slices"

	"github.com/fabricdb/qfabric/dag"
)

// groupInfo tracks one in-progress cluster during superset-absorption
// grouping: the member DAG indices, the union of their base columns,
// and the largest single member's column count (used by the
// merge-overhead ratio).
type groupInfo struct {
	indices       []int
	columns       map[string]bool
	fingerprint   uint64
	maxMemberSize int
}

func columnSetOf(d *dag.DAG) map[string]bool {
	s := make(map[string]bool, len(d.BaseColumns))
	for _, c := range d.BaseColumns {
		s[c.Table+"."+c.Column] = true
	}
	return s
}

// fingerprint builds a 64-bit bitmask over siphash-bucketed column
// names. It is a Bloom-filter-style prefilter only: a true superset
// relationship always passes the fingerprint's necessary condition
// (every subset bit must also be set in the superset's fingerprint),
// but a fingerprint pass does not itself prove the superset
// relationship — isSubset still runs the exact check. Its purpose is
// to let groupBySupersetAbsorption skip the O(|a|) exact membership
// walk for column sets that cannot possibly be subsets, which matters
// once a window holds hundreds of plans each referencing dozens of
// columns.
func fingerprintOf(cols map[string]bool) uint64 {
	var fp uint64
	for c := range cols {
		h := siphash.Hash(0x7265647563, 0x696e6772, []byte(c))
		fp |= uint64(1) << (h % 64)
	}
	return fp
}

func isSubset(a, b map[string]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func unionColumns(a, b map[string]bool) map[string]bool {
	r := make(map[string]bool, len(a)+len(b))
	for k := range a {
		r[k] = true
	}
	for k := range b {
		r[k] = true
	}
	return r
}

// mergeOverheadRatio is the ratio of the merged column-set size to the
// larger of the two groups' maxMemberSize: how much wider a single
// dispatched plan group becomes relative to its widest original
// member if a and b are merged.
func mergeOverheadRatio(a, b *groupInfo) float64 {
	merged := unionColumns(a.columns, b.columns)
	maxMember := a.maxMemberSize
	if b.maxMemberSize > maxMember {
		maxMember = b.maxMemberSize
	}
	if maxMember == 0 {
		return 1.0
	}
	return float64(len(merged)) / float64(maxMember)
}

// groupBySupersetAbsorption clusters dags into groups of overlapping
// base-column usage, per spec.md §4.8:
//
//  1. Sort DAGs by base-column count, descending. Each unabsorbed DAG
//     seeds a new group and absorbs every still-unabsorbed DAG whose
//     column set is a subset of the seed's.
//  2. Repeatedly merge the two groups with the lowest
//     mergeOverheadRatio, as long as that ratio stays at or below
//     maxMergeOverhead, until no more merges qualify.
func groupBySupersetAbsorption(dags []*dag.DAG, maxMergeOverhead float64) [][]int {
	n := len(dags)
	if n == 0 {
		return nil
	}

	sets := make([]map[string]bool, n)
	sizes := make([]int, n)
	fps := make([]uint64, n)
	for i, d := range dags {
		sets[i] = columnSetOf(d)
		sizes[i] = len(sets[i])
		fps[i] = fingerprintOf(sets[i])
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) bool { return sizes[a] > sizes[b] })

	assigned := make([]bool, n)
	var groups []*groupInfo
	for _, i := range order {
		if assigned[i] {
			continue
		}
		g := &groupInfo{indices: []int{i}, columns: sets[i], fingerprint: fps[i], maxMemberSize: sizes[i]}
		assigned[i] = true

		for _, j := range order {
			if assigned[j] {
				continue
			}
			// necessary-condition prefilter: every bit set in fps[j]
			// must also be set in g.fingerprint for j to be a subset.
			if fps[j]&^g.fingerprint != 0 {
				continue
			}
			if isSubset(sets[j], g.columns) {
				g.indices = append(g.indices, j)
				assigned[j] = true
			}
		}
		groups = append(groups, g)
	}

	for {
		bestRatio := maxMergeOverhead + 1.0
		bestI, bestJ := -1, -1
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				ratio := mergeOverheadRatio(groups[i], groups[j])
				if ratio <= maxMergeOverhead && ratio < bestRatio {
					bestRatio, bestI, bestJ = ratio, i, j
				}
			}
		}
		if bestI < 0 {
			break
		}
		groups[bestI].indices = append(groups[bestI].indices, groups[bestJ].indices...)
		groups[bestI].columns = unionColumns(groups[bestI].columns, groups[bestJ].columns)
		groups[bestI].fingerprint |= groups[bestJ].fingerprint
		if groups[bestJ].maxMemberSize > groups[bestI].maxMemberSize {
			groups[bestI].maxMemberSize = groups[bestJ].maxMemberSize
		}
		groups = append(groups[:bestJ], groups[bestJ+1:]...)
	}

	result := make([][]int, len(groups))
	for i, g := range groups {
		result[i] = g.indices
	}
	return result
}

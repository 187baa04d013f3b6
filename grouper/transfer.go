package grouper

import (
	"math"

	"golang.org/x/exp/slices"

	"github.com/fabricdb/qfabric/column"
	"github.com/fabricdb/qfabric/dag"
	"github.com/fabricdb/qfabric/hwconfig"
)

// Schema maps a "table.column" name to its on-disk size in bytes. The
// reference implementation derives this from a fixed TPC-H-style
// scale factor (original_source/grouper/include/ColumnSizes.hpp);
// here it is supplied by the caller (typically loaded once at
// compute-unit startup from the ingested catalog's column sizes).
type Schema map[string]int64

// columnAccess aggregates one base column's usage across every plan
// in a group: its declared size, how many operators read it, and at
// which DAG depths those reads occur.
type columnAccess struct {
	table, column string
	colType       column.DataType
	sizeBytes     int64
	accessCount   int
	accessDepths  []int
	earliestDepth int
	maxDepth      int
}

// systemLoadProfile tracks, per DAG depth, the total bytes of base
// columns accessed at that depth across every group — the contention
// signal the cost model discounts CXL bandwidth by.
type systemLoadProfile struct {
	bytesAtDepth    map[int]int64
	peakDepthDemand int64
	peakDepth       int
}

func (p *systemLoadProfile) recomputePeak() {
	p.peakDepthDemand = 0
	p.peakDepth = 0
	for d, bytes := range p.bytesAtDepth {
		if bytes > p.peakDepthDemand {
			p.peakDepthDemand = bytes
			p.peakDepth = d
		}
	}
}

// groupTransferContext is one group's column_accesses map, the input
// to selectTransfersForGroup.
type groupTransferContext struct {
	columnAccess map[string]*columnAccess
}

// computeDepths returns, for every item in d, its depth (the length
// of its longest dependency chain) and the plan's overall max depth.
// Equivalent to TransferAnalysis.cpp's computeDepths, adapted from a
// protobuf QueryPlan's flat item list to dag.DAG's adjacency.
func computeDepths(d *dag.DAG) (depths map[uint32]int, maxDepth int) {
	depths = make(map[uint32]int, len(d.Items))
	var get func(id uint32) int
	get = func(id uint32) int {
		if v, ok := depths[id]; ok {
			return v
		}
		best := 0
		for _, dep := range d.Items[id].DependsOn {
			if v := get(dep) + 1; v > best {
				best = v
			}
		}
		depths[id] = best
		if best > maxDepth {
			maxDepth = best
		}
		return best
	}
	for id := range d.Items {
		get(id)
	}
	return depths, maxDepth
}

// baseColumnUsers maps "table.column" to the ids of every item in d
// that reads it as a base input. Equivalent to plan::BasColMap.
func baseColumnUsers(d *dag.DAG) map[string][]uint32 {
	users := make(map[string][]uint32)
	for id, it := range d.Items {
		for _, in := range it.Inputs() {
			if in.IsBase {
				key := in.Table + "." + in.Column
				users[key] = append(users[key], id)
			}
		}
	}
	return users
}

func buildSystemLoadProfile(groups [][]int, dags []*dag.DAG, schema Schema) *systemLoadProfile {
	sl := &systemLoadProfile{bytesAtDepth: make(map[int]int64)}
	for _, group := range groups {
		for _, dagIdx := range group {
			d := dags[dagIdx]
			depths, _ := computeDepths(d)
			users := baseColumnUsers(d)
			for _, ref := range d.BaseColumns {
				key := ref.Table + "." + ref.Column
				size, ok := schema[key]
				if !ok {
					continue
				}
				for _, itemID := range users[key] {
					depth, ok := depths[itemID]
					if !ok {
						continue
					}
					sl.bytesAtDepth[depth] += size
				}
			}
		}
	}
	sl.recomputePeak()
	return sl
}

func buildGroupContexts(groups [][]int, dags []*dag.DAG, schema Schema) []*groupTransferContext {
	contexts := make([]*groupTransferContext, len(groups))
	for gi, group := range groups {
		ctx := &groupTransferContext{columnAccess: make(map[string]*columnAccess)}
		for _, dagIdx := range group {
			d := dags[dagIdx]
			depths, maxDepth := computeDepths(d)
			users := baseColumnUsers(d)
			for _, ref := range d.BaseColumns {
				key := ref.Table + "." + ref.Column
				info, ok := ctx.columnAccess[key]
				if !ok {
					info = &columnAccess{table: ref.Table, column: ref.Column, colType: ref.Type, earliestDepth: -1}
					if size, ok := schema[key]; ok {
						info.sizeBytes = size
					}
					ctx.columnAccess[key] = info
				}
				ids := users[key]
				info.accessCount += len(ids)
				if maxDepth > info.maxDepth {
					info.maxDepth = maxDepth
				}
				for _, id := range ids {
					depth, ok := depths[id]
					if !ok {
						continue
					}
					info.accessDepths = append(info.accessDepths, depth)
					if info.earliestDepth < 0 || depth < info.earliestDepth {
						info.earliestDepth = depth
					}
				}
			}
		}
		contexts[gi] = ctx
	}
	return contexts
}

func bytesToNs(bytes, bandwidthGBps float64) float64 {
	return bytes / bandwidthGBps
}

// contendedBW estimates the fair-share CXL bandwidth available to a
// column of size S at a given depth, given the total competing demand
// recorded in the system load profile at that depth.
func contendedBW(depth int, S float64, sl *systemLoadProfile, hw hwconfig.Config) float64 {
	totalDemand := S
	if v, ok := sl.bytesAtDepth[depth]; ok && float64(v) > totalDemand {
		totalDemand = float64(v)
	}
	bw := hw.CXLBandwidthGBps * (S / totalDemand)
	if bw < 0.001 {
		bw = 0.001
	}
	if bw > hw.CXLBandwidthGBps {
		bw = hw.CXLBandwidthGBps
	}
	return bw
}

// transferCostEstimate is the without/with/saving triple for one
// candidate column, all in nanoseconds.
type transferCostEstimate struct {
	costWithoutNs float64
	costWithNs    float64
	savingNs      float64
}

// estimateTransferCost transcribes TransferAnalysis.cpp's
// estimateTransferCost: the stall cost of reading a column over
// contended CXL at every depth it is accessed, versus staging it into
// DRAM once and reading the DRAM copy thereafter.
func estimateTransferCost(info *columnAccess, sl *systemLoadProfile, chunkSize uint64, hw hwconfig.Config) transferCostEstimate {
	var est transferCostEstimate
	S := float64(info.sizeBytes)
	if S <= 0 || info.accessCount == 0 {
		return est
	}
	C := float64(chunkSize)
	if info.sizeBytes < int64(chunkSize) {
		C = S
	}

	accessesPerDepth := make(map[int]int)
	if len(info.accessDepths) > 0 {
		for _, d := range info.accessDepths {
			accessesPerDepth[d]++
		}
	} else {
		fallback := info.earliestDepth
		if fallback < 0 {
			fallback = 0
		}
		accessesPerDepth[fallback] = info.accessCount
	}

	sumRatio, nDepths := 0.0, 0
	for d := range accessesPerDepth {
		totalDemand := S
		if v, ok := sl.bytesAtDepth[d]; ok && float64(v) > totalDemand {
			totalDemand = float64(v)
		}
		r := totalDemand / S
		if r < 1.0 {
			r = 1.0
		}
		sumRatio += r
		nDepths++
	}
	avgRatio := 1.0
	if nDepths > 0 {
		avgRatio = sumRatio / float64(nDepths)
	}
	aggressiveness := 0.0
	if avgRatio > 1.0 {
		aggressiveness = math.Log2(avgRatio)
	}

	totalCXLWaitNs := 0.0
	for d := range accessesPerDepth {
		bw := contendedBW(d, S, sl, hw)
		totalCXLWaitNs += bytesToNs(C, bw) + hw.CXLLatencyNs
	}

	transferBW := contendedBW(0, S, sl, hw)
	transferFirstChunkNs := hw.CopySetupNs + bytesToNs(C, transferBW) + hw.CXLLatencyNs

	remaining := S - C
	if remaining < 0 {
		remaining = 0
	}
	remainingCopyNs := bytesToNs(remaining, hw.CopyBandwidthGBps)
	interferenceFraction := 0.30 * math.Exp(-1.2*aggressiveness)
	interferenceNs := interferenceFraction * remainingCopyNs

	totalDramWaitNs := 0.0
	for range accessesPerDepth {
		totalDramWaitNs += bytesToNs(C, hw.DRAMBandwidthGBps) + hw.DRAMLatencyNs
	}

	est.costWithoutNs = totalCXLWaitNs
	est.costWithNs = transferFirstChunkNs + interferenceNs + totalDramWaitNs
	est.savingNs = est.costWithoutNs - est.costWithNs

	if math.IsNaN(est.costWithoutNs) || math.IsInf(est.costWithoutNs, 0) {
		est.costWithoutNs = math.Inf(1)
	}
	if math.IsNaN(est.costWithNs) || math.IsInf(est.costWithNs, 0) {
		est.costWithNs = math.Inf(1)
	}
	if math.IsNaN(est.savingNs) {
		est.savingNs = 0
	}
	return est
}

type transferCandidate struct {
	name   string
	saving float64
}

// selectTransfersForGroup picks which of ctx's candidate columns are
// worth staging, using adaptive thresholds that relax as contention
// (aggressiveness) grows: the more contended the system, the smaller
// a saving is still worth taking, since the background copy overlaps
// better with other traffic.
func selectTransfersForGroup(ctx *groupTransferContext, sl *systemLoadProfile, chunkSize uint64, hw hwconfig.Config) []string {
	var candidates []transferCandidate

	for name, info := range ctx.columnAccess {
		if info.sizeBytes < int64(chunkSize) {
			continue
		}
		if info.accessCount < 2 {
			continue
		}
		S := float64(info.sizeBytes)
		if S <= 0 {
			continue
		}

		uniqDepths := make(map[int]bool)
		for _, d := range info.accessDepths {
			uniqDepths[d] = true
		}
		if len(uniqDepths) == 0 {
			fallback := info.earliestDepth
			if fallback < 0 {
				fallback = 0
			}
			uniqDepths[fallback] = true
		}

		sumRatio := 0.0
		for d := range uniqDepths {
			totalDemand := S
			if v, ok := sl.bytesAtDepth[d]; ok && float64(v) > totalDemand {
				totalDemand = float64(v)
			}
			r := totalDemand / S
			if r < 1.0 {
				r = 1.0
			}
			sumRatio += r
		}
		avgRatio := sumRatio / float64(len(uniqDepths))
		aggressiveness := 0.0
		if avgRatio > 1.0 {
			aggressiveness = math.Log2(avgRatio)
		}

		minSavingNs := 5e6 * math.Exp(-0.6*aggressiveness)
		minImproveRatio := 0.20 * math.Exp(-0.6*aggressiveness)

		est := estimateTransferCost(info, sl, chunkSize, hw)
		improveRatio := 0.0
		if est.costWithoutNs > 0 {
			improveRatio = est.savingNs / est.costWithoutNs
		}

		if est.savingNs >= minSavingNs && improveRatio >= minImproveRatio {
			candidates = append(candidates, transferCandidate{name: name, saving: est.savingNs})
		}
	}

	slices.SortFunc(candidates, func(a, b transferCandidate) bool { return a.saving > b.saving })
	selected := make([]string, len(candidates))
	for i, c := range candidates {
		selected[i] = c.name
	}
	return selected
}

// decideTransfers processes groups heaviest-first (by total
// access_count*size), so the most impactful staging decisions are
// made against the freshest system load profile; each group's
// selections remove the staged columns' CXL demand at each of their
// access depths (they now read from DRAM) and add the one-shot
// transfer read at depth 0 before the next group is considered.
func decideTransfers(groups [][]int, dags []*dag.DAG, schema Schema, cuTargets []uint64, chunkSize uint64, hw hwconfig.Config) [][]string {
	sl := buildSystemLoadProfile(groups, dags, schema)
	contexts := buildGroupContexts(groups, dags, schema)

	order := make([]int, len(groups))
	load := make([]int64, len(groups))
	for gi, ctx := range contexts {
		order[gi] = gi
		var l int64
		for _, info := range ctx.columnAccess {
			l += int64(info.accessCount) * info.sizeBytes
		}
		load[gi] = l
	}
	slices.SortFunc(order, func(a, b int) bool { return load[a] > load[b] })

	decisions := make([][]string, len(groups))
	for _, gi := range order {
		selected := selectTransfersForGroup(contexts[gi], sl, chunkSize, hw)
		decisions[gi] = selected

		for _, name := range selected {
			info := contexts[gi].columnAccess[name]
			for _, d := range info.accessDepths {
				if v, ok := sl.bytesAtDepth[d]; ok {
					nv := v - info.sizeBytes
					if nv < 0 {
						nv = 0
					}
					sl.bytesAtDepth[d] = nv
				}
			}
			sl.bytesAtDepth[0] += info.sizeBytes
		}
		sl.recomputePeak()
	}
	return decisions
}

//go:build linux

package workerpool

import (
	"log"
	"runtime"

	"golang.org/x/sys/unix"
)

// applyAffinityToCurrentThread pins the calling OS thread to the cores
// named by sel, using sched_setaffinity via golang.org/x/sys/unix, as
// spec.md §4.3 requires ("affinity mask derived from either 'all cores
// on NUMA node k' or 'union of all configured nodes'"). Go schedules
// goroutines onto OS threads, not 1:1, so we lock the calling
// goroutine to its underlying OS thread first.
func applyAffinityToCurrentThread(sel NodeSelector, logger *log.Logger) {
	runtime.LockOSThread()
	mask, err := cpuSetForSelector(sel)
	if err != nil {
		logger.Printf("workerpool: affinity: %s", err)
		return
	}
	tid := unix.Gettid()
	if err := unix.SchedSetaffinity(tid, &mask); err != nil {
		logger.Printf("workerpool: sched_setaffinity: %s", err)
	}
}

// applyAffinityToAllThreads is a best-effort re-pin used by
// SetAffinityToNode; since Go does not expose a live worker's OS
// thread id outside of that worker's own goroutine, only newly
// scheduled/re-entrant workers (those that happen to call
// applyAffinityToCurrentThread again, e.g. on their next task loop
// iteration) pick up a change made here. For this pool's workers,
// which call applyAffinityToCurrentThread exactly once at startup,
// SetAffinityToNode is effective for *new* workers created after the
// call; fully live-migrating already-running workers would require
// each worker to poll its assigned affinity, which is left as a
// documented limitation.
func applyAffinityToAllThreads(sel NodeSelector, logger *log.Logger) {
	if _, err := cpuSetForSelector(sel); err != nil {
		logger.Printf("workerpool: affinity: %s", err)
	}
}

func cpuSetForSelector(sel NodeSelector) (unix.CPUSet, error) {
	var set unix.CPUSet
	nodes := sel.Nodes
	if sel.All {
		nodes = allConfiguredNodes()
	}
	for _, node := range nodes {
		cpus, err := cpusForNode(node)
		if err != nil {
			return set, err
		}
		for _, cpu := range cpus {
			set.Set(cpu)
		}
	}
	return set, nil
}

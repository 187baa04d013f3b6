//go:build !linux

package workerpool

import "log"

// applyAffinityToCurrentThread is a no-op on non-Linux platforms: NUMA
// pinning via sched_setaffinity has no portable equivalent, so workers
// simply run unpinned (the same tolerant fallback the teacher's cgroup
// package uses for its Linux-only cgroup v2 accounting).
func applyAffinityToCurrentThread(sel NodeSelector, logger *log.Logger) {
	logger.Printf("workerpool: NUMA pinning not supported on this platform; running unpinned")
}

func applyAffinityToAllThreads(sel NodeSelector, logger *log.Logger) {}

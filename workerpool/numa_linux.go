//go:build linux

package workerpool

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const sysNodeDir = "/sys/devices/system/node"

// cpusForNode returns the logical CPU ids belonging to a NUMA node, by
// reading /sys/devices/system/node/nodeN/cpulist. If the sysfs entry
// is unavailable (e.g. in a container without NUMA topology exposed),
// it falls back to every CPU visible to the process.
func cpusForNode(node int) ([]int, error) {
	path := filepath.Join(sysNodeDir, fmt.Sprintf("node%d", node), "cpulist")
	data, err := os.ReadFile(path)
	if err != nil {
		return allCPUsFallback(), nil
	}
	return parseCPUList(strings.TrimSpace(string(data)))
}

// LogicalCoresForNode returns how many logical CPUs are pinned to
// node, used by cmd/computeunit to size its default worker count
// (spec.md §6: "-worker <n> (default = logical cores per NUMA node)").
func LogicalCoresForNode(node int) int {
	cpus, err := cpusForNode(node)
	if err != nil || len(cpus) == 0 {
		return runtime.NumCPU()
	}
	return len(cpus)
}

// allConfiguredNodes enumerates the NUMA nodes sysfs exposes, falling
// back to a single node 0 if topology information isn't available.
func allConfiguredNodes() []int {
	entries, err := os.ReadDir(sysNodeDir)
	if err != nil {
		return []int{0}
	}
	var nodes []int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "node%d", &n); err == nil {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return []int{0}
	}
	return nodes
}

func allCPUsFallback() []int {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

// parseCPUList parses a Linux cpulist string such as "0-3,7,9-11".
func parseCPUList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			lo, err := strconv.Atoi(part[:idx])
			if err != nil {
				return nil, fmt.Errorf("workerpool: parsing cpulist %q: %w", s, err)
			}
			hi, err := strconv.Atoi(part[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("workerpool: parsing cpulist %q: %w", s, err)
			}
			for c := lo; c <= hi; c++ {
				out = append(out, c)
			}
		} else {
			c, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("workerpool: parsing cpulist %q: %w", s, err)
			}
			out = append(out, c)
		}
	}
	return out, nil
}

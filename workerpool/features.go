package workerpool

import (
	"log"

	"golang.org/x/sys/cpu"
)

// LogCPUFeatures reports a one-line feature summary at pool startup,
// mirroring cmd/snellerd/main.go's cpu.X86.HasAVX512 gate. qfabric's
// operators are plain Go (no hand-written SIMD), so missing AVX2/AVX512
// is only logged, never fatal.
func LogCPUFeatures(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("workerpool: cpu features: avx2=%v avx512f=%v", cpu.X86.HasAVX2, cpu.X86.HasAVX512F)
}

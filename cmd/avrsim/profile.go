package main

import (
	"fmt"
	"os"
	"runtime/pprof"
)

// profiler writes CPU and heap profiles of the simulator itself.
type profiler struct {
	cpuFile *os.File
	memPath string
}

// startProfiling starts CPU profiling to cpuPath when it is set. The heap
// profile is written to memPath by stop.
func startProfiling(cpuPath, memPath string) (*profiler, error) {
	p := &profiler{memPath: memPath}

	if cpuPath == "" {
		return p, nil
	}

	f, err := os.Create(cpuPath)
	if err != nil {
		return nil, fmt.Errorf("creating CPU profile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("starting CPU profile: %w", err)
	}
	p.cpuFile = f

	return p, nil
}

func (p *profiler) stop() error {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
	}

	if p.memPath == "" {
		return nil
	}

	f, err := os.Create(p.memPath)
	if err != nil {
		return fmt.Errorf("creating memory profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}

	return nil
}

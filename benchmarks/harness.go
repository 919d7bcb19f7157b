// Package benchmarks runs AVR microbenchmarks on the emulator and reports
// their cycle counts.
package benchmarks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/avrsim/emu"
)

// DefaultMaxInstructions bounds every benchmark run.
const DefaultMaxInstructions = 1_000_000

// BenchmarkResult holds the results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// Cycles is the total cycle count charged by the emulator
	Cycles uint64 `json:"cycles"`

	// InstructionsRetired is the number of completed instructions
	InstructionsRetired uint64 `json:"instructions_retired"`

	// CPI is cycles per instruction
	CPI float64 `json:"cpi"`

	// Reason is why the run stopped
	Reason string `json:"reason"`

	// ExitCode is the program's exit status, or -1 if it did not exit
	ExitCode int `json:"exit_code"`

	// Passed reports whether the exit status and cycle count matched
	Passed bool `json:"passed"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Setup prepares machine state after the program is loaded
	Setup func(rf *emu.RegFile, memory *emu.Memory)

	// Program is the AVR flash image, loaded at address 0
	Program []byte

	// ExpectedExit is the expected exit status
	ExpectedExit int

	// ExpectedCycles is the expected cycle count with two-byte return
	// addresses, 0 to skip the check
	ExpectedCycles uint64
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// PC22 runs the programs with three-byte return addresses
	PC22 bool

	// MaxInstructions bounds each run
	MaxInstructions uint64

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives per-benchmark progress
	Logger logrus.FieldLogger

	// Verbose traces every retired instruction to Logger
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		MaxInstructions: DefaultMaxInstructions,
		Output:          os.Stdout,
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		config.Logger = l
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll() []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		result := h.runBenchmark(bench)
		h.config.Logger.WithFields(logrus.Fields{
			"benchmark": result.Name,
			"cycles":    result.Cycles,
			"passed":    result.Passed,
		}).Info("benchmark done")
		results = append(results, result)
	}

	return results
}

func (h *Harness) runBenchmark(bench Benchmark) BenchmarkResult {
	opts := []emu.EmulatorOption{
		emu.WithHost(emu.NewDefaultHost(nil, io.Discard, io.Discard)),
		emu.WithPC22(h.config.PC22),
		emu.WithMaxInstructions(h.config.MaxInstructions),
		emu.WithLogger(h.config.Logger),
	}
	if h.config.Verbose {
		opts = append(opts, emu.WithObserver(emu.NewLogObserver(h.config.Logger)))
	}

	e := emu.NewEmulator(opts...)
	e.LoadProgram(emu.Image{Segments: []emu.Segment{{Data: bench.Program}}})

	if bench.Setup != nil {
		bench.Setup(e.RegFile(), e.Memory())
	}

	start := time.Now()
	reason := e.Run(emu.ModeContinuous)
	wallTime := time.Since(start)

	result := BenchmarkResult{
		Name:                bench.Name,
		Description:         bench.Description,
		Cycles:              e.Cycles(),
		InstructionsRetired: e.InstructionCount(),
		Reason:              reason.String(),
		ExitCode:            -1,
		WallTime:            wallTime,
	}
	if result.InstructionsRetired > 0 {
		result.CPI = float64(result.Cycles) / float64(result.InstructionsRetired)
	}
	if reason.Kind == emu.Exited {
		result.ExitCode = reason.Code
	}

	checkCycles := bench.ExpectedCycles != 0 && !e.PC22()
	result.Passed = result.ExitCode == bench.ExpectedExit &&
		(!checkCycles || result.Cycles == bench.ExpectedCycles)

	return result
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "=== AVR Benchmark Results ===")
	_, _ = fmt.Fprintln(h.config.Output, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(h.config.Output, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(h.config.Output, "  Stop Reason: %s\n", r.Reason)
		_, _ = fmt.Fprintf(h.config.Output, "  Exit Code: %d\n", r.ExitCode)
		_, _ = fmt.Fprintf(h.config.Output, "  Cycles:               %d\n", r.Cycles)
		_, _ = fmt.Fprintf(h.config.Output, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(h.config.Output, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(h.config.Output, "  Passed: %v\n", r.Passed)
		_, _ = fmt.Fprintf(h.config.Output, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(h.config.Output, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "name,cycles,instructions,cpi,exit_code,passed")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%d,%d,%.3f,%d,%v\n",
			r.Name,
			r.Cycles,
			r.InstructionsRetired,
			r.CPI,
			r.ExitCode,
			r.Passed,
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	// Metadata about the benchmark run
	Metadata ReportMetadata `json:"metadata"`

	// Results is the list of individual benchmark results
	Results []BenchmarkResult `json:"results"`

	// Summary contains aggregate statistics
	Summary ReportSummary `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	// Timestamp when the benchmark was run
	Timestamp string `json:"timestamp"`

	// PC22 records the return address width used
	PC22 bool `json:"pc22"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks   int           `json:"total_benchmarks"`
	Passed            int           `json:"passed"`
	TotalCycles       uint64        `json:"total_cycles"`
	TotalInstructions uint64        `json:"total_instructions"`
	AverageCPI        float64       `json:"average_cpi"`
	TotalWallTime     time.Duration `json:"total_wall_time_ns"`
}

// Summarize computes aggregate statistics over results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		s.TotalCycles += r.Cycles
		s.TotalInstructions += r.InstructionsRetired
		s.TotalWallTime += r.WallTime
		if r.Passed {
			s.Passed++
		}
	}

	if s.TotalInstructions > 0 {
		s.AverageCPI = float64(s.TotalCycles) / float64(s.TotalInstructions)
	}

	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			PC22:      h.config.PC22,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/avrsim/benchmarks"
)

func newBenchCmd(logLevel *string, status *int) *cobra.Command {
	var (
		csvOutput  bool
		jsonOutput bool
		core       bool
		pc22       bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the built-in AVR microbenchmarks",
		Long: `Bench runs a fixed set of AVR microbenchmarks and reports cycles,
instructions and CPI for each. The exit status is 1 if any benchmark
produced an unexpected exit status or cycle count.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if csvOutput && jsonOutput {
				return fmt.Errorf("--csv and --json are mutually exclusive")
			}

			logger, err := newLogger(*logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			config := benchmarks.DefaultConfig()
			config.Output = cmd.OutOrStdout()
			config.Logger = logger
			config.PC22 = pc22
			config.Verbose = verbose

			harness := benchmarks.NewHarness(config)
			if core {
				harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
			} else {
				harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
			}

			results := harness.RunAll()

			switch {
			case csvOutput:
				harness.PrintCSV(results)
			case jsonOutput:
				if err := harness.PrintJSON(results); err != nil {
					return err
				}
			default:
				harness.PrintResults(results)
			}

			summary := benchmarks.Summarize(results)
			if summary.Passed != summary.TotalBenchmarks {
				*status = 1
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&csvOutput, "csv", false, "output results in CSV format")
	flags.BoolVar(&jsonOutput, "json", false, "output results in JSON format")
	flags.BoolVar(&core, "core", false, "run only the core benchmarks")
	flags.BoolVar(&pc22, "pc22", false, "use three-byte return addresses")
	flags.BoolVar(&verbose, "verbose", false, "log every retired instruction at debug level")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/k0kubun/pp/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/avrsim/emu"
	"github.com/sarchlab/avrsim/engine"
	"github.com/sarchlab/avrsim/loader"
)

// runConfig holds the run subcommand flags.
type runConfig struct {
	raw          bool
	pc22         bool
	alignStrict  bool
	maxInsns     uint64
	stopAtCycle  uint64
	progress     uint64
	pollInterval uint64
	trace        bool
	dump         bool
	cpuProfile   string
	memProfile   string
}

func newRunCmd(logLevel *string, status *int) *cobra.Command {
	var cfg runConfig

	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run an AVR program",
		Long: `Run loads an AVR ELF executable (or a flat binary with --raw) and
executes it until it exits or stops. The process exit status is the
program's exit status, or 128 plus the signal number when it stops.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := *logLevel
			if cfg.trace {
				level = logrus.DebugLevel.String()
			}

			logger, err := newLogger(level, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			prof, err := startProfiling(cfg.cpuProfile, cfg.memProfile)
			if err != nil {
				return err
			}

			*status, err = runProgram(cmd.Context(), args[0], cfg,
				cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
			if perr := prof.stop(); err == nil {
				err = perr
			}

			return err
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&cfg.raw, "raw", false, "load a flat binary at flash address 0")
	flags.BoolVar(&cfg.pc22, "pc22", false, "force three-byte return addresses")
	flags.BoolVar(&cfg.alignStrict, "align-strict", false, "fault on misaligned stack slots")
	flags.Uint64Var(&cfg.maxInsns, "max-insns", 0, "stop after this many instructions (0 = no limit)")
	flags.Uint64Var(&cfg.stopAtCycle, "stop-at-cycle", 0, "stop at this cycle (0 = never)")
	flags.Uint64Var(&cfg.progress, "progress", 0, "log progress every this many cycles (0 = off)")
	flags.Uint64Var(&cfg.pollInterval, "poll-interval", emu.DefaultPollInterval,
		"instructions between interrupt checks")
	flags.BoolVar(&cfg.trace, "trace", false, "log every retired instruction")
	flags.BoolVar(&cfg.dump, "dump", false, "print the machine state when the run ends")
	flags.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write a CPU profile of the simulator to this file")
	flags.StringVar(&cfg.memProfile, "memprofile", "", "write a heap profile of the simulator to this file")

	return cmd
}

// runProgram loads and runs one program and returns the process exit
// status. Cancelling ctx stops the simulation at the next poll.
func runProgram(
	ctx context.Context,
	path string,
	cfg runConfig,
	stdin io.Reader,
	stdout, stderr io.Writer,
	logger logrus.FieldLogger,
) (int, error) {
	prog, err := loadProgram(path, cfg.raw)
	if err != nil {
		return 1, err
	}

	logger.WithFields(logrus.Fields{
		"program":  path,
		"entry":    fmt.Sprintf("0x%X", prog.EntryPoint),
		"machine":  prog.Machine,
		"segments": len(prog.Segments),
	}).Info("loaded")

	sched := engine.NewScheduler(engine.WithLogger(logger))

	opts := []emu.EmulatorOption{
		emu.WithHost(emu.NewDefaultHost(stdin, stdout, stderr)),
		emu.WithLogger(logger),
		emu.WithTicker(sched),
		emu.WithPC22(cfg.pc22),
		emu.WithMaxInstructions(cfg.maxInsns),
		emu.WithPollInterval(cfg.pollInterval),
	}
	if cfg.alignStrict {
		opts = append(opts, emu.WithAlignment(emu.AlignStrict))
	}
	if cfg.trace {
		opts = append(opts, emu.WithObserver(emu.NewLogObserver(logger)))
	}

	e := emu.NewEmulator(opts...)
	e.LoadProgram(prog.Image())

	if cfg.stopAtCycle > 0 {
		sched.StopAt(cfg.stopAtCycle)
	}
	if cfg.progress > 0 {
		sched.Every(cfg.progress, func(cycle uint64) {
			logger.WithFields(logrus.Fields{
				"cycle":        cycle,
				"instructions": e.InstructionCount(),
			}).Info("progress")
		})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.RequestStop()
		case <-done:
		}
	}()

	reason := e.Run(emu.ModeContinuous)

	logger.WithFields(logrus.Fields{
		"reason":       reason.String(),
		"instructions": e.InstructionCount(),
		"cycles":       e.Cycles(),
	}).Info("finished")

	if cfg.dump {
		printer := pp.New()
		printer.SetOutput(stdout)
		printer.SetColoringEnabled(isTerminal(stdout))
		printer.Println(snapshot(e))
	}

	if err := sched.Err(); err != nil {
		return 1, err
	}

	return exitStatus(reason), nil
}

func loadProgram(path string, raw bool) (*loader.Program, error) {
	if raw {
		return loader.LoadRaw(path)
	}

	return loader.Load(path)
}

// exitStatus maps a stop reason onto a process exit status.
func exitStatus(reason emu.StopReason) int {
	if reason.Kind == emu.Exited {
		return reason.Code & 0xFF
	}

	return 128 + reason.Code
}

// machineState is the --dump view of the emulator.
type machineState struct {
	Reason       string
	PC           string
	SP           string
	SREG         string
	Registers    [32]uint8
	Instructions uint64
	Cycles       uint64
}

func snapshot(e *emu.Emulator) machineState {
	rf := e.RegFile()

	s := machineState{
		Reason:       e.StopReason().String(),
		PC:           fmt.Sprintf("0x%06X", rf.PCGet()),
		SP:           fmt.Sprintf("0x%04X", rf.SP()),
		SREG:         rf.SREG().String(),
		Instructions: e.InstructionCount(),
		Cycles:       e.Cycles(),
	}
	for i := range s.Registers {
		s.Registers[i] = rf.Byte(uint8(i))
	}

	return s
}

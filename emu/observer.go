package emu

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/avrsim/insts"
)

// Retirement describes one retired instruction.
type Retirement struct {
	PC     uint32 // Flash byte address of the instruction
	Inst   insts.Instruction
	SREG   SREG   // Status register after the instruction
	Cycles uint64 // Cycle counter after the instruction
}

// Observer is notified of every retired instruction.
type Observer interface {
	Retired(r Retirement)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Retirement)

// Retired calls f(r).
func (f ObserverFunc) Retired(r Retirement) {
	f(r)
}

// Ticker is given the cycle counter after each retired instruction and
// returns true to stop the run.
type Ticker interface {
	Tick(cycles uint64) bool
}

type logObserver struct {
	logger logrus.FieldLogger
}

// NewLogObserver returns an Observer that logs each retirement at debug
// level.
func NewLogObserver(logger logrus.FieldLogger) Observer {
	return &logObserver{logger: logger}
}

func (o *logObserver) Retired(r Retirement) {
	o.logger.WithFields(logrus.Fields{
		"pc":     fmt.Sprintf("0x%06X", r.PC),
		"word":   fmt.Sprintf("0x%04X", r.Inst.Word),
		"op":     r.Inst.Op.String(),
		"sreg":   r.SREG.String(),
		"cycles": r.Cycles,
	}).Debug("retired")
}

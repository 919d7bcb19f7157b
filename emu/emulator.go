package emu

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/avrsim/insts"
)

// DefaultPollInterval is how many instructions run between checks for an
// external stop request.
const DefaultPollInterval = 1024

var (
	errIllegal = errors.New("illegal instruction")
	errBreak   = errors.New("break")
)

// State is the dispatcher state.
type State int

// Dispatcher states.
const (
	StateFetching State = iota
	StateDispatching
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateDispatching:
		return "dispatching"
	case StateHalted:
		return "halted"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Mode selects how far Run executes.
type Mode int

const (
	// ModeContinuous runs until the program halts.
	ModeContinuous Mode = iota

	// ModeStep runs one instruction.
	ModeStep
)

// StopKind classifies why the dispatcher halted.
type StopKind int

// Stop kinds.
const (
	Exited StopKind = iota + 1
	Stopped
	Signalled
)

func (k StopKind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Stopped:
		return "stopped"
	case Signalled:
		return "signalled"
	}

	return fmt.Sprintf("StopKind(%d)", int(k))
}

// Signal numbers reported with Stopped and Signalled halts.
const (
	SigInt  = 2
	SigIll  = 4
	SigTrap = 5
	SigBus  = 7
	SigXCPU = 24
)

// StopReason tells the harness why Run returned. Code is the exit status
// for Exited and the signal number otherwise.
type StopReason struct {
	Kind StopKind
	Code int
}

func (r StopReason) String() string {
	return fmt.Sprintf("%s(%d)", r.Kind, r.Code)
}

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Halted is true if the dispatcher stopped on this step.
	Halted bool

	// Reason is set if Halted is true.
	Reason StopReason

	// Err carries the fault behind a Signalled halt.
	Err error
}

// Segment is a block of bytes at a harness address: flash below
// DataSpaceBase, data space above.
type Segment struct {
	Addr uint32
	Data []byte
}

// Image describes a program to load.
type Image struct {
	Entry    uint32 // Flash byte address
	Machine  int    // AVR machine number from the object file
	PC22     bool   // Three-byte return addresses
	Segments []Segment
}

// Emulator executes AVR instructions functionally.
type Emulator struct {
	regFile        *RegFile
	memory         *Memory
	syscallHandler SyscallHandler
	host           Host

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit

	observer Observer
	ticker   Ticker
	logger   logrus.FieldLogger

	// Configuration
	flashWords    int
	dataSize      int
	align         AlignmentPolicy
	pc22          bool
	forcePC22     bool
	customSyscall bool

	// Execution state
	state            State
	stop             StopReason
	pending          *StopReason
	loaded           bool
	instructionCount uint64
	cycles           uint64
	maxInstructions  uint64 // 0 means no limit
	pollInterval     uint64
	pollCountdown    uint64
	stopRequested    atomic.Bool
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithHost sets the host services.
func WithHost(host Host) EmulatorOption {
	return func(e *Emulator) {
		e.host = host
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
		e.customSyscall = true
	}
}

// WithPC22 forces three-byte return addresses for every loaded image.
func WithPC22(pc22 bool) EmulatorOption {
	return func(e *Emulator) {
		e.forcePC22 = pc22
	}
}

// WithFlashWords sets the flash size in words. It must be a power of two.
func WithFlashWords(words int) EmulatorOption {
	return func(e *Emulator) {
		e.flashWords = words
	}
}

// WithDataSize sets the data space size in bytes. It must be a power of two.
func WithDataSize(size int) EmulatorOption {
	return func(e *Emulator) {
		e.dataSize = size
	}
}

// WithAlignment sets the alignment policy for multi-byte accesses.
func WithAlignment(policy AlignmentPolicy) EmulatorOption {
	return func(e *Emulator) {
		e.align = policy
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithPollInterval sets how many instructions run between stop-request
// checks.
func WithPollInterval(n uint64) EmulatorOption {
	return func(e *Emulator) {
		if n == 0 {
			n = 1
		}
		e.pollInterval = n
	}
}

// WithObserver sets the retirement observer.
func WithObserver(o Observer) EmulatorOption {
	return func(e *Emulator) {
		e.observer = o
	}
}

// WithTicker sets the per-instruction ticker.
func WithTicker(t Ticker) EmulatorOption {
	return func(e *Emulator) {
		e.ticker = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}

// NewEmulator creates a new AVR emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		flashWords:   DefaultFlashWords,
		dataSize:     DefaultDataSize,
		pollInterval: DefaultPollInterval,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.host == nil {
		e.host = NewDefaultHost(os.Stdin, os.Stdout, os.Stderr)
	}
	if e.logger == nil {
		e.logger = discardLogger()
	}

	e.build()

	return e
}

// build creates the machine state and the execution units.
func (e *Emulator) build() {
	e.pc22 = e.forcePC22
	e.memory = NewMemory(e.flashWords, e.dataSize, e.align)
	e.regFile = NewRegFile(e.memory.Data, e.memory.Code.Mask())
	e.regFile.SetSP(uint16(e.dataSize - 1))

	e.alu = NewALU(e.regFile)
	e.lsu = NewLoadStoreUnit(e.regFile, e.memory)
	e.branchUnit = NewBranchUnit(e.regFile, e.lsu, e.pc22)

	if !e.customSyscall {
		e.syscallHandler = NewDefaultSyscallHandler(e.regFile, e.memory, e.host, e.logger)
	}

	e.state = StateFetching
	e.stop = StopReason{}
	e.pending = nil
	e.loaded = false
	e.instructionCount = 0
	e.cycles = 0
	e.pollCountdown = e.pollInterval
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// Host returns the host services.
func (e *Emulator) Host() Host {
	return e.host
}

// InstructionCount returns the number of instructions retired.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Cycles returns the advisory cycle counter.
func (e *Emulator) Cycles() uint64 {
	return e.cycles
}

// State returns the dispatcher state.
func (e *Emulator) State() State {
	return e.state
}

// StopReason returns the reason of the last halt.
func (e *Emulator) StopReason() StopReason {
	return e.stop
}

// PC22 reports whether return addresses are three bytes wide.
func (e *Emulator) PC22() bool {
	return e.pc22
}

// Load writes data at a harness address and returns the number of bytes
// stored.
func (e *Emulator) Load(addr uint32, data []byte) int {
	e.loaded = true
	return e.memory.WriteBuffer(addr, data)
}

// LoadProgram loads every segment of img and sets the entry point. The
// image's PC22 selects three-byte return addresses; WithPC22(true) forces
// them regardless.
func (e *Emulator) LoadProgram(img Image) {
	e.pc22 = e.forcePC22 || img.PC22
	e.branchUnit = NewBranchUnit(e.regFile, e.lsu, e.pc22)

	for _, seg := range img.Segments {
		e.memory.WriteBuffer(seg.Addr, seg.Data)
	}

	e.regFile.PCSet(img.Entry)
	e.loaded = true
	e.state = StateFetching
}

// Reset discards all machine state. Options are kept; the program must be
// loaded again.
func (e *Emulator) Reset() {
	if h, ok := e.host.(*DefaultHost); ok {
		h.CloseAll()
	}

	e.build()
}

// ErrBadRegister is returned for register numbers outside 0..NumRegs-1.
var ErrBadRegister = errors.New("no such register")

// FetchRegister returns harness register i as little-endian bytes.
func (e *Emulator) FetchRegister(i int) ([]byte, error) {
	width := RegWidth(i)
	if width == 0 {
		return nil, fmt.Errorf("fetch register %d: %w", i, ErrBadRegister)
	}

	v := e.regFile.Get(i)
	buf := make([]byte, width)
	for j := range buf {
		buf[j] = byte(v >> (8 * j))
	}

	return buf, nil
}

// StoreRegister sets harness register i from little-endian bytes and returns
// the number of bytes consumed. buf must be exactly the register's width;
// otherwise nothing is stored and 0 is returned.
func (e *Emulator) StoreRegister(i int, buf []byte) (int, error) {
	width := RegWidth(i)
	if width == 0 {
		return 0, fmt.Errorf("store register %d: %w", i, ErrBadRegister)
	}

	if len(buf) != width {
		return 0, fmt.Errorf("store register %d with %d bytes: %w", i, len(buf), ErrBadWidth)
	}

	var v uint32
	for j := width - 1; j >= 0; j-- {
		v = v<<8 | uint32(buf[j])
	}

	e.regFile.Set(i, v)

	return width, nil
}

// ReadMemory reads up to n bytes at a harness address.
func (e *Emulator) ReadMemory(addr uint32, n int) []byte {
	return e.memory.ReadBuffer(addr, n)
}

// WriteMemory writes bytes at a harness address and returns the count
// written.
func (e *Emulator) WriteMemory(addr uint32, data []byte) int {
	return e.memory.WriteBuffer(addr, data)
}

// RequestStop asks a running Run to stop at the next poll. It is safe to
// call from any goroutine.
func (e *Emulator) RequestStop() {
	e.stopRequested.Store(true)
}

// Run executes instructions until the program halts, or one instruction in
// ModeStep. Run panics if no program was loaded.
func (e *Emulator) Run(mode Mode) StopReason {
	if !e.loaded {
		panic("emu: Run called before a program was loaded")
	}

	if e.state == StateHalted && e.stop.Kind == Exited {
		return e.stop
	}

	e.state = StateFetching

	for {
		if e.pollQuit() {
			return e.halt(StopReason{Kind: Stopped, Code: SigInt}, nil).Reason
		}

		result := e.Step()
		if result.Halted {
			return result.Reason
		}

		if mode == ModeStep {
			return e.halt(StopReason{Kind: Stopped, Code: SigTrap}, nil).Reason
		}
	}
}

func (e *Emulator) pollQuit() bool {
	e.pollCountdown--
	if e.pollCountdown > 0 {
		return false
	}

	e.pollCountdown = e.pollInterval

	if e.stopRequested.Swap(false) {
		return true
	}

	return e.host.PollQuit()
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return e.halt(StopReason{Kind: Stopped, Code: SigXCPU}, nil)
	}

	pc := e.regFile.PC()
	cycles := e.cycles

	e.state = StateFetching
	inst := e.memory.Code.Fetch(pc)

	e.state = StateDispatching
	if err := e.execute(pc, inst); err != nil {
		e.regFile.SetPC(pc)
		e.cycles = cycles
		e.pending = nil

		return e.halt(faultReason(err), err)
	}

	e.instructionCount++

	if e.observer != nil {
		e.observer.Retired(Retirement{
			PC:     pc << 1,
			Inst:   *inst,
			SREG:   e.regFile.SREG(),
			Cycles: e.cycles,
		})
	}

	if e.pending != nil {
		reason := *e.pending
		e.pending = nil

		return e.halt(reason, nil)
	}

	if e.ticker != nil && e.ticker.Tick(e.cycles) {
		return e.halt(StopReason{Kind: Stopped, Code: SigInt}, nil)
	}

	e.state = StateFetching

	return StepResult{}
}

func faultReason(err error) StopReason {
	var busErr *BusError

	switch {
	case errors.Is(err, errBreak):
		return StopReason{Kind: Stopped, Code: SigTrap}
	case errors.As(err, &busErr):
		return StopReason{Kind: Signalled, Code: SigBus}
	default:
		return StopReason{Kind: Signalled, Code: SigIll}
	}
}

func (e *Emulator) halt(reason StopReason, err error) StepResult {
	e.state = StateHalted
	e.stop = reason

	entry := e.logger.WithFields(logrus.Fields{
		"pc":     fmt.Sprintf("0x%06X", e.regFile.PCGet()),
		"reason": reason.String(),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("halted")

	return StepResult{Halted: true, Reason: reason, Err: err}
}

// skip returns the width of the instruction at next, which a taken skip
// jumps over.
func (e *Emulator) skip(next uint32) uint32 {
	words := uint32(e.memory.Code.Fetch(next).Words())
	e.cycles += uint64(words)

	return words
}

// execute dispatches and executes a decoded instruction at word index pc.
func (e *Emulator) execute(pc uint32, inst *insts.Instruction) error {
	next := pc + uint32(inst.Words())
	e.cycles++

	var err error

	switch inst.Op {
	case insts.OpIllegal:
		return fmt.Errorf("%w 0x%04X at 0x%06X", errIllegal, inst.Word, pc<<1)
	case insts.OpBREAK:
		return errBreak
	case insts.OpNOP, insts.OpSLEEP, insts.OpWDR:
	case insts.OpRJMP, insts.OpJMP, insts.OpIJMP, insts.OpEIJMP,
		insts.OpRCALL, insts.OpCALL, insts.OpICALL, insts.OpEICALL,
		insts.OpRET, insts.OpRETI, insts.OpBRBS, insts.OpBRBC:
		next, err = e.executeBranch(pc, next, inst)
	case insts.OpCPSE, insts.OpSBRC, insts.OpSBRS, insts.OpSBIC, insts.OpSBIS:
		next = e.executeSkip(next, inst)
	case insts.OpLDX, insts.OpLDXInc, insts.OpLDXDec,
		insts.OpLDYInc, insts.OpLDYDec, insts.OpLDZInc, insts.OpLDZDec,
		insts.OpLDDY, insts.OpLDDZ, insts.OpLDS,
		insts.OpSTX, insts.OpSTXInc, insts.OpSTXDec,
		insts.OpSTYInc, insts.OpSTYDec, insts.OpSTZInc, insts.OpSTZDec,
		insts.OpSTDY, insts.OpSTDZ, insts.OpSTS,
		insts.OpPUSH, insts.OpPOP:
		e.executeLoadStore(pc, inst)
	case insts.OpLPM, insts.OpLPMZ, insts.OpLPMZInc,
		insts.OpELPM, insts.OpELPMZ, insts.OpELPMZInc:
		e.executeProgramLoad(inst)
	case insts.OpIN, insts.OpOUT, insts.OpCBI, insts.OpSBI:
		e.executeIO(inst)
	case insts.OpMUL, insts.OpMULS, insts.OpMULSU,
		insts.OpFMUL, insts.OpFMULS, insts.OpFMULSU:
		e.executeMul(inst)
	case insts.OpBSET, insts.OpBCLR, insts.OpBLD, insts.OpBST:
		e.executeBit(inst)
	default:
		e.executeALU(inst)
	}

	if err != nil {
		return err
	}

	e.regFile.SetPC(next)

	return nil
}

// executeALU executes register and immediate arithmetic and logic.
func (e *Emulator) executeALU(inst *insts.Instruction) {
	rf := e.regFile
	rd := inst.Rd

	switch inst.Op {
	case insts.OpADD:
		e.alu.Add(rd, rf.Byte(inst.Rr), false)
	case insts.OpADC:
		e.alu.Add(rd, rf.Byte(inst.Rr), true)
	case insts.OpSUB:
		e.alu.Sub(rd, rf.Byte(inst.Rr), false, false)
	case insts.OpSBC:
		e.alu.Sub(rd, rf.Byte(inst.Rr), true, false)
	case insts.OpSUBI:
		e.alu.Sub(rd, inst.K, false, false)
	case insts.OpSBCI:
		e.alu.Sub(rd, inst.K, true, false)
	case insts.OpCP:
		e.alu.Sub(rd, rf.Byte(inst.Rr), false, true)
	case insts.OpCPC:
		e.alu.Sub(rd, rf.Byte(inst.Rr), true, true)
	case insts.OpCPI:
		e.alu.Sub(rd, inst.K, false, true)
	case insts.OpAND:
		e.alu.Logic(rd, rf.Byte(rd)&rf.Byte(inst.Rr))
	case insts.OpANDI:
		e.alu.Logic(rd, rf.Byte(rd)&inst.K)
	case insts.OpOR:
		e.alu.Logic(rd, rf.Byte(rd)|rf.Byte(inst.Rr))
	case insts.OpORI:
		e.alu.Logic(rd, rf.Byte(rd)|inst.K)
	case insts.OpEOR:
		e.alu.Logic(rd, rf.Byte(rd)^rf.Byte(inst.Rr))
	case insts.OpMOV:
		rf.SetByte(rd, rf.Byte(inst.Rr))
	case insts.OpMOVW:
		rf.SetWord(rd, rf.Word(inst.Rr))
	case insts.OpLDI:
		rf.SetByte(rd, inst.K)
	case insts.OpCOM:
		e.alu.Unary(rd, MaskShift, Com)
	case insts.OpNEG:
		e.alu.Unary(rd, MaskArith, Neg)
	case insts.OpSWAP:
		v := rf.Byte(rd)
		rf.SetByte(rd, v<<4|v>>4)
	case insts.OpINC:
		e.alu.Unary(rd, MaskLogic, Inc)
	case insts.OpDEC:
		e.alu.Unary(rd, MaskLogic, Dec)
	case insts.OpASR:
		e.alu.Unary(rd, MaskShift, func(a uint8) (uint8, SREG) { return ShiftRight(a, true) })
	case insts.OpLSR:
		e.alu.Unary(rd, MaskShift, func(a uint8) (uint8, SREG) { return ShiftRight(a, false) })
	case insts.OpROR:
		carry := rf.SREG().Has(FlagC)
		e.alu.Unary(rd, MaskShift, func(a uint8) (uint8, SREG) { return RotateRight(a, carry) })
	case insts.OpADIW:
		r, flags := AddWord(rf.Word(rd), inst.K)
		rf.SetWord(rd, r)
		rf.UpdateSREG(MaskShift, flags)
		e.cycles++
	case insts.OpSBIW:
		r, flags := SubWord(rf.Word(rd), inst.K)
		rf.SetWord(rd, r)
		rf.UpdateSREG(MaskShift, flags)
		e.cycles++
	}
}

// executeMul executes the multiply family. Products land in r1:r0.
func (e *Emulator) executeMul(inst *insts.Instruction) {
	rf := e.regFile
	d, r := rf.Byte(inst.Rd), rf.Byte(inst.Rr)
	sd, sr := int16(rf.SignedByte(inst.Rd)), int16(rf.SignedByte(inst.Rr))

	var res uint16
	switch inst.Op {
	case insts.OpMUL:
		res = uint16(d) * uint16(r)
	case insts.OpMULS:
		res = uint16(sd * sr)
	case insts.OpMULSU:
		res = uint16(sd * int16(r))
	case insts.OpFMUL:
		res = (uint16(d) * uint16(r)) << 1
	case insts.OpFMULS:
		res = uint16(sd*sr) << 1
	case insts.OpFMULSU:
		res = uint16(sd*int16(r)) << 1
	}

	e.alu.Mul(res)
	e.cycles++
}

// executeBit executes SREG and T-flag bit instructions.
func (e *Emulator) executeBit(inst *insts.Instruction) {
	rf := e.regFile
	mask := uint8(1) << inst.Bit

	switch inst.Op {
	case insts.OpBSET:
		rf.SetSREG(rf.SREG() | SREG(mask))
	case insts.OpBCLR:
		rf.SetSREG(rf.SREG() &^ SREG(mask))
	case insts.OpBLD:
		if rf.SREG().Has(FlagT) {
			rf.SetByte(inst.Rd, rf.Byte(inst.Rd)|mask)
		} else {
			rf.SetByte(inst.Rd, rf.Byte(inst.Rd)&^mask)
		}
	case insts.OpBST:
		var t SREG
		if rf.Byte(inst.Rd)&mask != 0 {
			t = FlagT
		}
		rf.UpdateSREG(FlagT, t)
	}
}

// executeSkip executes the compare-and-skip instructions.
func (e *Emulator) executeSkip(next uint32, inst *insts.Instruction) uint32 {
	rf := e.regFile
	mask := uint8(1) << inst.Bit

	var taken bool
	switch inst.Op {
	case insts.OpCPSE:
		taken = rf.Byte(inst.Rd) == rf.Byte(inst.Rr)
	case insts.OpSBRC:
		taken = rf.Byte(inst.Rd)&mask == 0
	case insts.OpSBRS:
		taken = rf.Byte(inst.Rd)&mask != 0
	case insts.OpSBIC:
		taken = e.lsu.Load(IOBase+uint32(inst.A))&mask == 0
	case insts.OpSBIS:
		taken = e.lsu.Load(IOBase+uint32(inst.A))&mask != 0
	}

	if taken {
		next += e.skip(next)
	}

	return next
}

// executeIO executes the I/O space instructions.
func (e *Emulator) executeIO(inst *insts.Instruction) {
	addr := IOBase + uint32(inst.A)
	mask := uint8(1) << inst.Bit

	switch inst.Op {
	case insts.OpIN:
		e.regFile.SetByte(inst.Rd, e.lsu.Load(addr))
	case insts.OpOUT:
		e.store(addr, e.regFile.Byte(inst.Rd))
	case insts.OpCBI:
		e.store(addr, e.lsu.Load(addr)&^mask)
	case insts.OpSBI:
		e.store(addr, e.lsu.Load(addr)|mask)
	}
}

// executeLoadStore executes data-space loads, stores, PUSH and POP. Each
// costs one extra cycle.
func (e *Emulator) executeLoadStore(pc uint32, inst *insts.Instruction) {
	rf := e.regFile
	lsu := e.lsu
	e.cycles++

	switch inst.Op {
	case insts.OpLDS:
		rf.SetByte(inst.Rd, lsu.Load(uint32(e.memory.Code.Word(pc+1))))
	case insts.OpLDX:
		rf.SetByte(inst.Rd, lsu.Load(lsu.Indirect(RegX)))
	case insts.OpLDXInc:
		rf.SetByte(inst.Rd, lsu.Load(lsu.PostInc(RegX)))
	case insts.OpLDXDec:
		rf.SetByte(inst.Rd, lsu.Load(lsu.PreDec(RegX)))
	case insts.OpLDYInc:
		rf.SetByte(inst.Rd, lsu.Load(lsu.PostInc(RegY)))
	case insts.OpLDYDec:
		rf.SetByte(inst.Rd, lsu.Load(lsu.PreDec(RegY)))
	case insts.OpLDZInc:
		rf.SetByte(inst.Rd, lsu.Load(lsu.PostInc(RegZ)))
	case insts.OpLDZDec:
		rf.SetByte(inst.Rd, lsu.Load(lsu.PreDec(RegZ)))
	case insts.OpLDDY:
		rf.SetByte(inst.Rd, lsu.Load(lsu.Displaced(RegY, inst.Q)))
	case insts.OpLDDZ:
		rf.SetByte(inst.Rd, lsu.Load(lsu.Displaced(RegZ, inst.Q)))
	case insts.OpSTS:
		e.store(uint32(e.memory.Code.Word(pc+1)), rf.Byte(inst.Rd))
	case insts.OpSTX:
		e.store(lsu.Indirect(RegX), rf.Byte(inst.Rd))
	case insts.OpSTXInc:
		e.store(lsu.PostInc(RegX), rf.Byte(inst.Rd))
	case insts.OpSTXDec:
		e.store(lsu.PreDec(RegX), rf.Byte(inst.Rd))
	case insts.OpSTYInc:
		e.store(lsu.PostInc(RegY), rf.Byte(inst.Rd))
	case insts.OpSTYDec:
		e.store(lsu.PreDec(RegY), rf.Byte(inst.Rd))
	case insts.OpSTZInc:
		e.store(lsu.PostInc(RegZ), rf.Byte(inst.Rd))
	case insts.OpSTZDec:
		e.store(lsu.PreDec(RegZ), rf.Byte(inst.Rd))
	case insts.OpSTDY:
		e.store(lsu.Displaced(RegY, inst.Q), rf.Byte(inst.Rd))
	case insts.OpSTDZ:
		e.store(lsu.Displaced(RegZ, inst.Q), rf.Byte(inst.Rd))
	case insts.OpPUSH:
		lsu.Push(rf.Byte(inst.Rd))
	case insts.OpPOP:
		rf.SetByte(inst.Rd, lsu.Pop())
	}
}

// executeProgramLoad executes LPM and ELPM. Each costs two extra cycles.
func (e *Emulator) executeProgramLoad(inst *insts.Instruction) {
	rf := e.regFile
	lsu := e.lsu
	e.cycles += 2

	switch inst.Op {
	case insts.OpLPM:
		rf.SetByte(0, lsu.ProgramByte(uint32(rf.Z())))
	case insts.OpLPMZ:
		rf.SetByte(inst.Rd, lsu.ProgramByte(uint32(rf.Z())))
	case insts.OpLPMZInc:
		rf.SetByte(inst.Rd, lsu.ProgramByte(lsu.PostInc(RegZ)))
	case insts.OpELPM:
		rf.SetByte(0, lsu.ProgramByte(lsu.ExtendedZ()))
	case insts.OpELPMZ:
		rf.SetByte(inst.Rd, lsu.ProgramByte(lsu.ExtendedZ()))
	case insts.OpELPMZInc:
		z := lsu.ExtendedZ()
		rf.SetByte(inst.Rd, lsu.ProgramByte(z))
		lsu.SetExtendedZ(z + 1)
	}
}

// executeBranch executes jumps, calls, returns and conditional branches and
// returns the new PC.
func (e *Emulator) executeBranch(pc, next uint32, inst *insts.Instruction) (uint32, error) {
	rf := e.regFile
	bu := e.branchUnit

	switch inst.Op {
	case insts.OpRJMP:
		e.cycles++
		return bu.Relative(next, inst.Offset), nil
	case insts.OpJMP:
		e.cycles += 2
		return e.longTarget(pc, inst), nil
	case insts.OpIJMP:
		e.cycles++
		return uint32(rf.Z()), nil
	case insts.OpEIJMP:
		e.cycles += 2
		return uint32(rf.EIND())<<16 | uint32(rf.Z()), nil
	case insts.OpBRBS, insts.OpBRBC:
		if bu.CheckCondition(inst.Bit, inst.Op == insts.OpBRBS) {
			e.cycles++
			return bu.Relative(next, inst.Offset), nil
		}
		return next, nil
	case insts.OpRET, insts.OpRETI:
		ret, extra, err := bu.Return()
		if err != nil {
			return 0, err
		}
		if inst.Op == insts.OpRETI {
			rf.SetSREG(rf.SREG() | FlagI)
		}
		e.cycles += extra
		return ret, nil
	}

	var target uint32
	switch inst.Op {
	case insts.OpRCALL:
		target = bu.Relative(next, inst.Offset)
	case insts.OpCALL:
		target = e.longTarget(pc, inst)
	case insts.OpICALL:
		target = uint32(rf.Z())
	case insts.OpEICALL:
		target = uint32(rf.EIND())<<16 | uint32(rf.Z())
	}

	extra, err := bu.Call(next)
	if err != nil {
		return 0, err
	}
	e.cycles += extra

	return target, nil
}

func (e *Emulator) longTarget(pc uint32, inst *insts.Instruction) uint32 {
	return uint32(inst.High)<<16 | uint32(e.memory.Code.Word(pc+1))
}

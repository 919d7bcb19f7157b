package emu_test

import (
	"bytes"
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/avrsim/emu"
)

var _ = Describe("Emulator", func() {
	var (
		e         *emu.Emulator
		stdoutBuf *bytes.Buffer
		host      *emu.DefaultHost
	)

	BeforeEach(func() {
		stdoutBuf = &bytes.Buffer{}
		host = emu.NewDefaultHost(nil, stdoutBuf, &bytes.Buffer{})
		e = emu.NewEmulator(emu.WithHost(host))
	})

	Describe("NewEmulator", func() {
		It("should create an emulator with initialized components", func() {
			Expect(e).NotTo(BeNil())
			Expect(e.RegFile()).NotTo(BeNil())
			Expect(e.Memory()).NotTo(BeNil())
			Expect(e.State()).To(Equal(emu.StateFetching))
		})

		It("should start with the stack at the top of the data space", func() {
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFF)))
		})

		It("should panic when run before a program is loaded", func() {
			Expect(func() { e.Run(emu.ModeContinuous) }).To(Panic())
		})
	})

	Describe("LoadProgram", func() {
		It("should set the PC to the entry point", func() {
			e.LoadProgram(emu.Image{
				Entry:    0x10,
				Segments: []emu.Segment{{Addr: 0x10, Data: program(encodeLDI(16, 1))}},
			})

			Expect(e.RegFile().PCGet()).To(Equal(uint32(0x10)))
			Expect(e.RegFile().PC()).To(Equal(uint32(0x08)))
		})

		It("should load flash and data segments", func() {
			e.LoadProgram(emu.Image{
				Segments: []emu.Segment{
					{Addr: 0, Data: program(0xE005)},
					{Addr: emu.DataSpaceBase + 0x100, Data: []byte{0xDE, 0xAD}},
				},
			})

			Expect(e.Memory().Code.Word(0)).To(Equal(uint16(0xE005)))
			Expect(e.Memory().Data.Read8(0x100)).To(Equal(uint8(0xDE)))
			Expect(e.Memory().Data.Read8(0x101)).To(Equal(uint8(0xAD)))
		})

		It("should select three-byte return addresses from the image", func() {
			e.LoadProgram(emu.Image{PC22: true, Segments: []emu.Segment{{Data: program(0)}}})

			Expect(e.PC22()).To(BeTrue())
		})
	})

	Describe("Run", func() {
		It("should exit with the status in r25:r24 through the exit port", func() {
			load(e,
				encodeLDI(24, 5),
				encodeLDI(25, 0),
				encodeOUT(0x2F, 24),
			)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Exited, Code: 5}))
			Expect(e.State()).To(Equal(emu.StateHalted))
			Expect(e.StopReason()).To(Equal(reason))
			Expect(e.InstructionCount()).To(Equal(uint64(3)))
			Expect(e.RegFile().PCGet()).To(Equal(uint32(6)))
		})

		It("should report a negative exit status", func() {
			load(e,
				encodeLDI(24, 0xFF),
				encodeLDI(25, 0xFF),
				encodeOUT(0x2F, 24),
			)

			Expect(e.Run(emu.ModeContinuous)).To(Equal(emu.StopReason{Kind: emu.Exited, Code: -1}))
		})

		It("should keep reporting the exit once the program has exited", func() {
			load(e, encodeLDI(24, 3), encodeOUT(0x2F, 24))

			first := e.Run(emu.ModeContinuous)
			second := e.Run(emu.ModeContinuous)

			Expect(second).To(Equal(first))
			Expect(e.InstructionCount()).To(Equal(uint64(2)))
		})

		It("should write console port bytes and exit 1 on abort", func() {
			load(e,
				encodeLDI(16, 'H'),
				encodeOUT(0x32, 16),
				encodeLDI(16, 'i'),
				encodeOUT(0x32, 16),
				encodeOUT(0x29, 16),
			)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Exited, Code: 1}))
			Expect(stdoutBuf.String()).To(Equal("Hi"))
		})

		It("should stop with SIGTRAP after one instruction in step mode", func() {
			load(e, encodeLDI(16, 1), encodeLDI(17, 2))

			reason := e.Run(emu.ModeStep)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Stopped, Code: emu.SigTrap}))
			Expect(e.RegFile().PCGet()).To(Equal(uint32(2)))
			Expect(e.RegFile().Byte(16)).To(Equal(uint8(1)))
			Expect(e.RegFile().Byte(17)).To(Equal(uint8(0)))

			e.Run(emu.ModeStep)
			Expect(e.RegFile().PCGet()).To(Equal(uint32(4)))
			Expect(e.RegFile().Byte(17)).To(Equal(uint8(2)))
		})

		It("should stop with SIGTRAP at a break instruction", func() {
			load(e, opNOP, opBREAK)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Stopped, Code: emu.SigTrap}))
			Expect(e.RegFile().PCGet()).To(Equal(uint32(2)))
			Expect(e.InstructionCount()).To(Equal(uint64(1)))
			Expect(e.Cycles()).To(Equal(uint64(1)))
		})

		It("should signal SIGILL and leave the PC at an illegal instruction", func() {
			load(e, 0xFFFF)

			step := e.Step()

			Expect(step.Halted).To(BeTrue())
			Expect(step.Reason).To(Equal(emu.StopReason{Kind: emu.Signalled, Code: emu.SigIll}))
			Expect(step.Err).To(HaveOccurred())
			Expect(e.RegFile().PCGet()).To(Equal(uint32(0)))
			Expect(e.InstructionCount()).To(Equal(uint64(0)))
			Expect(e.Cycles()).To(Equal(uint64(0)))
		})

		It("should stop with SIGXCPU at the instruction limit", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithMaxInstructions(10))
			load(e, encodeRJMP(-1))

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Stopped, Code: emu.SigXCPU}))
			Expect(e.InstructionCount()).To(Equal(uint64(10)))
		})

		It("should honour an external stop request", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithPollInterval(1))
			load(e, encodeRJMP(-1))

			e.RequestStop()
			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Stopped, Code: emu.SigInt}))
			Expect(e.InstructionCount()).To(Equal(uint64(0)))
		})

		It("should poll the host for a quit request", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithPollInterval(4))
			load(e, encodeRJMP(-1))

			host.RequestQuit()
			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Stopped, Code: emu.SigInt}))
			Expect(e.InstructionCount()).To(Equal(uint64(3)))
		})

		It("should stop when the ticker asks to", func() {
			ticker := tickerFunc(func(cycles uint64) bool { return cycles >= 20 })
			e = emu.NewEmulator(emu.WithHost(host), emu.WithTicker(ticker))
			load(e, encodeRJMP(-1))

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Stopped, Code: emu.SigInt}))
			Expect(e.InstructionCount()).To(Equal(uint64(10)))
			Expect(e.Cycles()).To(Equal(uint64(20)))
		})

		It("should report every retired instruction to the observer", func() {
			var retired []emu.Retirement
			observer := emu.ObserverFunc(func(r emu.Retirement) { retired = append(retired, r) })
			e = emu.NewEmulator(emu.WithHost(host), emu.WithObserver(observer))
			load(e, encodeLDI(16, 0xFF), encodeReg2(0x0C00, 16, 16), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(retired).To(HaveLen(2))
			Expect(retired[0].PC).To(Equal(uint32(0)))
			Expect(retired[1].PC).To(Equal(uint32(2)))
			Expect(retired[1].SREG.Has(emu.FlagC)).To(BeTrue())
			Expect(retired[1].Cycles).To(Equal(uint64(2)))
		})

		It("should run independent instances side by side", func() {
			other := emu.NewEmulator(emu.WithHost(emu.NewDefaultHost(nil, nil, nil)))
			load(e, encodeLDI(24, 1), encodeOUT(0x2F, 24))
			load(other, encodeLDI(24, 2), encodeOUT(0x2F, 24))

			Expect(e.Run(emu.ModeStep).Kind).To(Equal(emu.Stopped))
			Expect(other.Run(emu.ModeContinuous).Code).To(Equal(2))
			Expect(e.Run(emu.ModeContinuous).Code).To(Equal(1))
		})
	})

	Describe("Arithmetic", func() {
		It("should set Z, C and H when ADD wraps to zero", func() {
			load(e, encodeLDI(16, 0xFF), encodeLDI(17, 0x01), encodeReg2(0x0C00, 16, 17), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(16)).To(Equal(uint8(0)))
			Expect(e.RegFile().SREG()).To(Equal(emu.FlagH | emu.FlagZ | emu.FlagC))
		})

		It("should chain Z through a multi-byte compare", func() {
			load(e,
				encodeLDI(16, 0x00),
				encodeLDI(17, 0x01),
				encodeLDI(18, 0x01),
				encodeLDI(19, 0x00),
				encodeReg2(0x1400, 16, 18), // cp r16, r18
				encodeReg2(0x0400, 17, 19), // cpc r17, r19
				opBREAK,
			)

			e.Run(emu.ModeContinuous)

			sreg := e.RegFile().SREG()
			Expect(sreg.Has(emu.FlagZ)).To(BeFalse())
			Expect(sreg.Has(emu.FlagC)).To(BeFalse())
			Expect(e.RegFile().Byte(16)).To(Equal(uint8(0x00)))
		})

		It("should multiply into r1:r0", func() {
			load(e, encodeLDI(16, 200), encodeLDI(17, 3), encodeReg2(0x9C00, 16, 17), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Word(0)).To(Equal(uint16(600)))
			Expect(e.Cycles()).To(Equal(uint64(4)))
		})

		It("should multiply signed operands", func() {
			load(e, encodeLDI(16, 0xFF), encodeLDI(17, 2), 0x0201, opBREAK) // muls r16, r17

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Word(0)).To(Equal(uint16(0xFFFE)))
			Expect(e.RegFile().SREG().Has(emu.FlagC)).To(BeTrue())
		})

		It("should add an immediate to a register pair", func() {
			load(e, encodeLDI(24, 0xFF), encodeLDI(25, 0xFF), encodeADIW(0x9600, 24, 1), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Word(24)).To(Equal(uint16(0)))
			Expect(e.RegFile().SREG().Has(emu.FlagZ | emu.FlagC)).To(BeTrue())
			Expect(e.Cycles()).To(Equal(uint64(4)))
		})
	})

	Describe("Control flow", func() {
		It("should jump forward over an instruction", func() {
			load(e, encodeRJMP(1), encodeLDI(16, 1), encodeLDI(17, 2), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(16)).To(Equal(uint8(0)))
			Expect(e.RegFile().Byte(17)).To(Equal(uint8(2)))
		})

		It("should loop on a backward branch", func() {
			load(e,
				encodeLDI(16, 3),
				encodeOne(0x940A, 16), // dec r16
				encodeBRBC(1, -2),     // brne .-4
				opBREAK,
			)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(16)).To(Equal(uint8(0)))
			Expect(e.InstructionCount()).To(Equal(uint64(7)))
			Expect(e.Cycles()).To(Equal(uint64(9)))
			Expect(e.RegFile().PCGet()).To(Equal(uint32(6)))
		})

		It("should take a branch on a set flag", func() {
			load(e, 0x9408, encodeBRBS(0, 1), encodeLDI(16, 1), opBREAK) // sec; brcs .+2

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(16)).To(Equal(uint8(0)))
		})

		It("should skip a two-word instruction", func() {
			jmpHi, jmpLo := encodeJMP(0)
			load(e,
				encodeLDI(16, 1),
				encodeLDI(17, 1),
				encodeReg2(0x1000, 16, 17), // cpse r16, r17
				jmpHi, jmpLo,
				encodeLDI(18, 7),
				opBREAK,
			)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(18)).To(Equal(uint8(7)))
			Expect(e.RegFile().PCGet()).To(Equal(uint32(12)))
			Expect(e.Cycles()).To(Equal(uint64(6)))
		})

		It("should not skip when the registers differ", func() {
			load(e,
				encodeLDI(16, 1),
				encodeLDI(17, 2),
				encodeReg2(0x1000, 16, 17),
				encodeLDI(18, 9),
				opBREAK,
			)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(18)).To(Equal(uint8(9)))
		})

		It("should skip when a register bit is set", func() {
			load(e, encodeLDI(16, 0x80), encodeBitReg(0xFE00, 16, 7), encodeLDI(18, 9), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(18)).To(Equal(uint8(0)))
		})

		It("should skip when an I/O bit is set", func() {
			load(e,
				encodeBitIO(0x9A00, 0x10, 3), // sbi 0x10, 3
				encodeBitIO(0x9B00, 0x10, 3), // sbis 0x10, 3
				encodeLDI(18, 9),
				opBREAK,
			)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(18)).To(Equal(uint8(0)))
			Expect(e.Memory().Data.Read8(0x30)).To(Equal(uint8(0x08)))
		})

		It("should call and return with two-byte return addresses", func() {
			load(e,
				encodeLDI(24, 0),
				encodeRCALL(2),
				encodeOUT(0x2F, 24),
				opNOP,
				encodeLDI(24, 9),
				opRET,
			)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Exited, Code: 9}))
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFF)))
			Expect(e.Memory().Data.Read8(0xFFFF)).To(Equal(uint8(0x02)))
			Expect(e.Memory().Data.Read8(0xFFFE)).To(Equal(uint8(0x00)))
			Expect(e.Cycles()).To(Equal(uint64(11)))
		})

		It("should push three bytes and spend an extra cycle with a 22-bit PC", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithPC22(true))
			load(e,
				encodeLDI(24, 0),
				encodeRCALL(2),
				encodeOUT(0x2F, 24),
				opNOP,
				encodeLDI(24, 9),
				opRET,
			)

			e.Run(emu.ModeStep)
			e.Run(emu.ModeStep)
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFC)))
			Expect(e.RegFile().PCGet()).To(Equal(uint32(8)))

			reason := e.Run(emu.ModeContinuous)

			Expect(reason.Code).To(Equal(9))
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFF)))
			Expect(e.Cycles()).To(Equal(uint64(13)))
		})

		It("should call a long address", func() {
			callHi, callLo := encodeCALL(4)
			load(e,
				callHi, callLo,
				encodeOUT(0x2F, 24),
				opNOP,
				encodeLDI(24, 3),
				opRET,
			)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason.Code).To(Equal(3))
			Expect(e.Cycles()).To(Equal(uint64(10)))
		})

		It("should jump through Z", func() {
			load(e,
				encodeLDI(24, 6),
				encodeLDI(30, 5),
				encodeLDI(31, 0),
				0x9409, // ijmp
				encodeLDI(24, 1),
				encodeOUT(0x2F, 24),
			)

			Expect(e.Run(emu.ModeContinuous).Code).To(Equal(6))
		})
	})

	Describe("Loads and stores", func() {
		It("should store through X with post-increment", func() {
			load(e,
				encodeLDI(26, 0x00),
				encodeLDI(27, 0x02),
				encodeLDI(16, 0xAA),
				encodeOne(0x920D, 16), // st X+, r16
				encodeOne(0x920D, 16),
				opBREAK,
			)

			e.Run(emu.ModeContinuous)

			Expect(e.Memory().Data.Read8(0x200)).To(Equal(uint8(0xAA)))
			Expect(e.Memory().Data.Read8(0x201)).To(Equal(uint8(0xAA)))
			Expect(e.RegFile().X()).To(Equal(uint16(0x0202)))
		})

		It("should push and pop through the stack", func() {
			load(e, encodeLDI(16, 0x42), encodeOne(0x920F, 16), encodeOne(0x900F, 17), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(17)).To(Equal(uint8(0x42)))
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFF)))
			Expect(e.Memory().Data.Read8(0xFFFF)).To(Equal(uint8(0x42)))
		})

		It("should load and store direct addresses", func() {
			load(e,
				encodeLDI(16, 0x5A),
				encodeOne(0x9200, 16), 0x0300, // sts 0x0300, r16
				encodeOne(0x9000, 17), 0x0300, // lds r17, 0x0300
				opBREAK,
			)

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(17)).To(Equal(uint8(0x5A)))
			Expect(e.Cycles()).To(Equal(uint64(5)))
		})

		It("should read program memory with LPM Z+", func() {
			e.LoadProgram(emu.Image{Segments: []emu.Segment{
				{Addr: 0, Data: program(encodeLDI(30, 0x21), encodeLDI(31, 0), encodeOne(0x9005, 16), opBREAK)},
				{Addr: 0x20, Data: []byte{0x34, 0x12}},
			}})

			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(16)).To(Equal(uint8(0x12)))
			Expect(e.RegFile().Z()).To(Equal(uint16(0x22)))
			Expect(e.Cycles()).To(Equal(uint64(5)))
		})
	})

	Describe("Decode cache", func() {
		It("should re-decode flash rewritten through the harness", func() {
			load(e, encodeLDI(16, 1), opBREAK)
			e.Run(emu.ModeContinuous)
			Expect(e.Memory().Code.Cached(0)).To(BeTrue())

			n := e.WriteMemory(0, program(encodeLDI(16, 2)))
			Expect(n).To(Equal(2))
			Expect(e.Memory().Code.Cached(0)).To(BeFalse())

			e.RegFile().PCSet(0)
			e.Run(emu.ModeContinuous)

			Expect(e.RegFile().Byte(16)).To(Equal(uint8(2)))
		})
	})

	Describe("Alignment", func() {
		It("should signal SIGBUS on a misaligned stack slot under strict alignment", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithAlignment(emu.AlignStrict))
			load(e, encodeRCALL(0), opBREAK)
			e.RegFile().SetSP(0x0100)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Signalled, Code: emu.SigBus}))
			Expect(e.RegFile().PCGet()).To(Equal(uint32(0)))
			Expect(e.RegFile().SP()).To(Equal(uint16(0x0100)))
		})

		It("should leave the interrupt flag clear when RETI faults", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithAlignment(emu.AlignStrict))
			load(e, opRETI)
			e.RegFile().SetSP(0x0100)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Signalled, Code: emu.SigBus}))
			Expect(e.RegFile().SREG().Has(emu.FlagI)).To(BeFalse())
			Expect(e.RegFile().PCGet()).To(Equal(uint32(0)))
			Expect(e.Cycles()).To(Equal(uint64(0)))
		})

		It("should accept an aligned stack slot under strict alignment", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithAlignment(emu.AlignStrict))
			load(e, encodeRCALL(0), opBREAK)

			reason := e.Run(emu.ModeContinuous)

			Expect(reason.Code).To(Equal(emu.SigTrap))
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFD)))
		})
	})

	Describe("Syscall port", func() {
		It("should forward write to the host and return the count", func() {
			e.WriteMemory(emu.DataSpaceBase+0x200, []byte("ok"))
			load(e,
				encodeLDI(24, 1),
				encodeLDI(25, 0),
				encodeLDI(22, 0x00),
				encodeLDI(23, 0x02),
				encodeLDI(20, 2),
				encodeLDI(21, 0),
				encodeLDI(16, emu.SyscallWrite),
				encodeOUT(0x31, 16),
				encodeOUT(0x2F, 24),
			)

			reason := e.Run(emu.ModeContinuous)

			Expect(stdoutBuf.String()).To(Equal("ok"))
			Expect(reason).To(Equal(emu.StopReason{Kind: emu.Exited, Code: 2}))
		})

		It("should exit through the exit syscall", func() {
			load(e, encodeLDI(24, 42), encodeLDI(16, emu.SyscallExit), encodeOUT(0x31, 16), opBREAK)

			Expect(e.Run(emu.ModeContinuous)).To(Equal(emu.StopReason{Kind: emu.Exited, Code: 42}))
		})

		It("should call a custom syscall handler", func() {
			handler := &countingHandler{}
			e = emu.NewEmulator(emu.WithHost(host), emu.WithSyscallHandler(handler))
			load(e, encodeOUT(0x31, 16), encodeOUT(0x31, 16), opBREAK)

			e.Run(emu.ModeContinuous)

			Expect(handler.calls).To(Equal(2))
		})
	})

	Describe("Harness access", func() {
		BeforeEach(func() {
			e.LoadProgram(emu.Image{Entry: 0x10, Segments: []emu.Segment{{Addr: 0x10, Data: program(opNOP)}}})
		})

		It("should fetch the PC as a four-byte byte address", func() {
			buf, err := e.FetchRegister(emu.RegPC)

			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(Equal([]byte{0x10, 0, 0, 0}))
		})

		It("should store the PC", func() {
			n, err := e.StoreRegister(emu.RegPC, []byte{0x20, 0, 0, 0})

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(4))
			Expect(e.RegFile().PC()).To(Equal(uint32(0x10)))
		})

		It("should round-trip SP and SREG", func() {
			_, err := e.StoreRegister(emu.RegSP, []byte{0x34, 0x12})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.StoreRegister(emu.RegSREG, []byte{0x83})
			Expect(err).NotTo(HaveOccurred())

			sp, _ := e.FetchRegister(emu.RegSP)
			sreg, _ := e.FetchRegister(emu.RegSREG)

			Expect(sp).To(Equal([]byte{0x34, 0x12}))
			Expect(sreg).To(Equal([]byte{0x83}))
			Expect(e.RegFile().SP()).To(Equal(uint16(0x1234)))
		})

		It("should reject a store of the wrong width", func() {
			n, err := e.StoreRegister(emu.RegSP, []byte{0x01})

			Expect(n).To(Equal(0))
			Expect(err).To(MatchError(emu.ErrBadWidth))
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFF)))
		})

		It("should reject unknown registers", func() {
			_, err := e.FetchRegister(emu.NumRegs)
			Expect(err).To(MatchError(emu.ErrBadRegister))

			_, err = e.StoreRegister(-1, []byte{0})
			Expect(err).To(MatchError(emu.ErrBadRegister))
		})

		It("should read and write the data space above DataSpaceBase", func() {
			n := e.WriteMemory(emu.DataSpaceBase+0x100, []byte{1, 2, 3})

			Expect(n).To(Equal(3))
			Expect(e.ReadMemory(emu.DataSpaceBase+0x100, 3)).To(Equal([]byte{1, 2, 3}))
			Expect(e.RegFile().Get(0)).To(Equal(uint32(0)))
		})

		It("should expose general registers at the bottom of the data space", func() {
			e.WriteMemory(emu.DataSpaceBase+5, []byte{0x77})

			buf, err := e.FetchRegister(5)

			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(Equal([]byte{0x77}))
		})
	})

	Describe("Reset", func() {
		It("should drop a 22-bit PC selected by the previous image", func() {
			e.LoadProgram(emu.Image{PC22: true, Segments: []emu.Segment{{Data: program(opBREAK)}}})
			Expect(e.PC22()).To(BeTrue())

			e.Reset()
			load(e, encodeRCALL(0), opBREAK)
			e.Run(emu.ModeContinuous)

			Expect(e.PC22()).To(BeFalse())
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFD)))
		})

		It("should keep a forced 22-bit PC", func() {
			e = emu.NewEmulator(emu.WithHost(host), emu.WithPC22(true))
			load(e, opBREAK)

			e.Reset()
			load(e, encodeRCALL(0), opBREAK)
			e.Run(emu.ModeContinuous)

			Expect(e.PC22()).To(BeTrue())
			Expect(e.RegFile().SP()).To(Equal(uint16(0xFFFC)))
		})

		It("should reject a data space without room for the I/O registers", func() {
			Expect(func() { emu.NewEmulator(emu.WithHost(host), emu.WithDataSize(64)) }).To(Panic())
		})

		It("should discard the program and counters", func() {
			load(e, encodeLDI(24, 1), encodeOUT(0x2F, 24))
			e.Run(emu.ModeContinuous)

			e.Reset()

			Expect(e.InstructionCount()).To(Equal(uint64(0)))
			Expect(e.Cycles()).To(Equal(uint64(0)))
			Expect(e.State()).To(Equal(emu.StateFetching))
			Expect(e.Memory().Code.Word(0)).To(Equal(uint16(0)))
			Expect(func() { e.Run(emu.ModeContinuous) }).To(Panic())
		})
	})
})

type tickerFunc func(cycles uint64) bool

func (f tickerFunc) Tick(cycles uint64) bool {
	return f(cycles)
}

type countingHandler struct {
	calls int
}

func (h *countingHandler) Handle() emu.SyscallResult {
	h.calls++
	return emu.SyscallResult{}
}

// AVR opcodes without operands.
const (
	opNOP   uint16 = 0x0000
	opRET   uint16 = 0x9508
	opRETI  uint16 = 0x9518
	opBREAK uint16 = 0x9598
)

// Helper functions to build AVR programs.

func program(words ...uint16) []byte {
	buf := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], w)
	}

	return buf
}

func load(e *emu.Emulator, words ...uint16) {
	e.LoadProgram(emu.Image{Segments: []emu.Segment{{Addr: 0, Data: program(words...)}}})
}

// encodeLDI encodes LDI Rd, K (Rd in r16..r31).
func encodeLDI(d, k uint8) uint16 {
	return encodeImm(0xE000, d, k)
}

// encodeImm encodes the register-immediate group: xxxx KKKK dddd KKKK.
func encodeImm(base uint16, d, k uint8) uint16 {
	return base | uint16(k&0xF0)<<4 | uint16(d-16)<<4 | uint16(k&0x0F)
}

// encodeReg2 encodes the two-register group: xxxx xxrd dddd rrrr.
func encodeReg2(base uint16, d, r uint8) uint16 {
	return base | uint16(r&0x10)<<5 | uint16(d&0x1F)<<4 | uint16(r&0x0F)
}

// encodeOne encodes a single-register instruction: xxxx xxxd dddd xxxx.
func encodeOne(base uint16, d uint8) uint16 {
	return base | uint16(d&0x1F)<<4
}

// encodeOUT encodes OUT A, Rr.
func encodeOUT(a, r uint8) uint16 {
	return 0xB800 | uint16(a&0x30)<<5 | uint16(r&0x1F)<<4 | uint16(a&0x0F)
}

func encodeRJMP(k int16) uint16 {
	return 0xC000 | uint16(k)&0x0FFF
}

func encodeRCALL(k int16) uint16 {
	return 0xD000 | uint16(k)&0x0FFF
}

func encodeBRBS(s uint8, k int16) uint16 {
	return 0xF000 | (uint16(k)&0x7F)<<3 | uint16(s&7)
}

func encodeBRBC(s uint8, k int16) uint16 {
	return 0xF400 | (uint16(k)&0x7F)<<3 | uint16(s&7)
}

// encodeBitReg encodes BLD/BST/SBRC/SBRS Rd, b.
func encodeBitReg(base uint16, d, b uint8) uint16 {
	return base | uint16(d&0x1F)<<4 | uint16(b&7)
}

// encodeBitIO encodes CBI/SBIC/SBI/SBIS A, b.
func encodeBitIO(base uint16, a, b uint8) uint16 {
	return base | uint16(a&0x1F)<<3 | uint16(b&7)
}

// encodeADIW encodes ADIW/SBIW Rd, K (Rd in r24, r26, r28, r30).
func encodeADIW(base uint16, d, k uint8) uint16 {
	return base | uint16(k&0x30)<<2 | uint16((d-24)/2)<<4 | uint16(k&0x0F)
}

func encodeLong(base uint16, target uint32) (uint16, uint16) {
	hi := uint16(target>>16&0x3E)<<3 | uint16(target>>16&1)
	return base | hi, uint16(target)
}

func encodeJMP(target uint32) (uint16, uint16) {
	return encodeLong(0x940C, target)
}

func encodeCALL(target uint32) (uint16, uint16) {
	return encodeLong(0x940E, target)
}

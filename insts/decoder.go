package insts

// Op represents an AVR operation tag.
type Op uint8

// AVR operations. The order is not significant except that OpIllegal is the
// zero value, so an uninitialized Instruction never looks executable.
const (
	OpIllegal Op = iota
	OpNOP

	// Arithmetic and logic, two registers.
	OpADD
	OpADC
	OpSUB
	OpSBC
	OpAND
	OpOR
	OpEOR
	OpMOV
	OpMOVW
	OpCP
	OpCPC
	OpCPSE

	// Register and immediate.
	OpLDI
	OpCPI
	OpSUBI
	OpSBCI
	OpORI
	OpANDI
	OpADIW
	OpSBIW

	// Single register.
	OpCOM
	OpNEG
	OpSWAP
	OpINC
	OpDEC
	OpASR
	OpLSR
	OpROR

	// Multiplication.
	OpMUL
	OpMULS
	OpMULSU
	OpFMUL
	OpFMULS
	OpFMULSU

	// Status register and bit manipulation.
	OpBSET
	OpBCLR
	OpBLD
	OpBST
	OpSBRC
	OpSBRS

	// I/O space.
	OpIN
	OpOUT
	OpCBI
	OpSBI
	OpSBIC
	OpSBIS

	// Data space loads and stores.
	OpLDX
	OpLDXInc
	OpLDXDec
	OpLDYInc
	OpLDYDec
	OpLDZInc
	OpLDZDec
	OpLDDY
	OpLDDZ
	OpSTX
	OpSTXInc
	OpSTXDec
	OpSTYInc
	OpSTYDec
	OpSTZInc
	OpSTZDec
	OpSTDY
	OpSTDZ
	OpPUSH
	OpPOP

	// Program memory loads.
	OpLPM
	OpLPMZ
	OpLPMZInc
	OpELPM
	OpELPMZ
	OpELPMZInc

	// Control flow.
	OpRJMP
	OpRCALL
	OpIJMP
	OpEIJMP
	OpICALL
	OpEICALL
	OpRET
	OpRETI
	OpBRBS
	OpBRBC

	// MCU control.
	OpBREAK
	OpSLEEP
	OpWDR

	// Two-word instructions.
	OpJMP
	OpCALL
	OpLDS
	OpSTS

	numOps
)

var opNames = [numOps]string{
	OpIllegal:  "(illegal)",
	OpNOP:      "nop",
	OpADD:      "add",
	OpADC:      "adc",
	OpSUB:      "sub",
	OpSBC:      "sbc",
	OpAND:      "and",
	OpOR:       "or",
	OpEOR:      "eor",
	OpMOV:      "mov",
	OpMOVW:     "movw",
	OpCP:       "cp",
	OpCPC:      "cpc",
	OpCPSE:     "cpse",
	OpLDI:      "ldi",
	OpCPI:      "cpi",
	OpSUBI:     "subi",
	OpSBCI:     "sbci",
	OpORI:      "ori",
	OpANDI:     "andi",
	OpADIW:     "adiw",
	OpSBIW:     "sbiw",
	OpCOM:      "com",
	OpNEG:      "neg",
	OpSWAP:     "swap",
	OpINC:      "inc",
	OpDEC:      "dec",
	OpASR:      "asr",
	OpLSR:      "lsr",
	OpROR:      "ror",
	OpMUL:      "mul",
	OpMULS:     "muls",
	OpMULSU:    "mulsu",
	OpFMUL:     "fmul",
	OpFMULS:    "fmuls",
	OpFMULSU:   "fmulsu",
	OpBSET:     "bset",
	OpBCLR:     "bclr",
	OpBLD:      "bld",
	OpBST:      "bst",
	OpSBRC:     "sbrc",
	OpSBRS:     "sbrs",
	OpIN:       "in",
	OpOUT:      "out",
	OpCBI:      "cbi",
	OpSBI:      "sbi",
	OpSBIC:     "sbic",
	OpSBIS:     "sbis",
	OpLDX:      "ld X",
	OpLDXInc:   "ld X+",
	OpLDXDec:   "ld -X",
	OpLDYInc:   "ld Y+",
	OpLDYDec:   "ld -Y",
	OpLDZInc:   "ld Z+",
	OpLDZDec:   "ld -Z",
	OpLDDY:     "ldd Y+q",
	OpLDDZ:     "ldd Z+q",
	OpSTX:      "st X",
	OpSTXInc:   "st X+",
	OpSTXDec:   "st -X",
	OpSTYInc:   "st Y+",
	OpSTYDec:   "st -Y",
	OpSTZInc:   "st Z+",
	OpSTZDec:   "st -Z",
	OpSTDY:     "std Y+q",
	OpSTDZ:     "std Z+q",
	OpPUSH:     "push",
	OpPOP:      "pop",
	OpLPM:      "lpm",
	OpLPMZ:     "lpm Z",
	OpLPMZInc:  "lpm Z+",
	OpELPM:     "elpm",
	OpELPMZ:    "elpm Z",
	OpELPMZInc: "elpm Z+",
	OpRJMP:     "rjmp",
	OpRCALL:    "rcall",
	OpIJMP:     "ijmp",
	OpEIJMP:    "eijmp",
	OpICALL:    "icall",
	OpEICALL:   "eicall",
	OpRET:      "ret",
	OpRETI:     "reti",
	OpBRBS:     "brbs",
	OpBRBC:     "brbc",
	OpBREAK:    "break",
	OpSLEEP:    "sleep",
	OpWDR:      "wdr",
	OpJMP:      "jmp",
	OpCALL:     "call",
	OpLDS:      "lds",
	OpSTS:      "sts",
}

// String returns the mnemonic of the operation.
func (op Op) String() string {
	if op >= numOps {
		return "(illegal)"
	}
	return opNames[op]
}

// Words returns the instruction length in 16-bit words.
func (op Op) Words() int {
	switch op {
	case OpJMP, OpCALL, OpLDS, OpSTS:
		return 2
	default:
		return 1
	}
}

// Instruction represents a decoded AVR instruction.
type Instruction struct {
	Op   Op     // Operation tag
	Word uint16 // Raw first opcode word

	Rd uint8 // Destination (or only) register
	Rr uint8 // Source register

	K   uint8 // 8-bit immediate, or the 6-bit constant of ADIW/SBIW
	A   uint8 // I/O address (add 0x20 for the data-space address)
	Q   uint8 // Displacement for LDD/STD
	Bit uint8 // Bit number (SREG bit for BSET/BCLR/BRBS/BRBC)

	// Offset is the signed word displacement of RJMP, RCALL, BRBS and BRBC,
	// relative to the address of the next instruction.
	Offset int16

	// High holds address bits 21:16 of JMP and CALL.
	High uint8
}

// Words returns the instruction length in 16-bit words.
func (i *Instruction) Words() int {
	return i.Op.Words()
}

// Decoder decodes AVR machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new AVR instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 16-bit AVR opcode word. Unknown encodings return an
// Instruction with Op == OpIllegal.
func (d *Decoder) Decode(word uint16) Instruction {
	inst := Instruction{Op: OpIllegal, Word: word}

	switch word >> 12 {
	case 0x0:
		d.decodeGroup0(word, &inst)
	case 0x1:
		inst.Rd, inst.Rr = fieldD(word), fieldR(word)
		inst.Op = [4]Op{OpCPSE, OpCP, OpSUB, OpADC}[(word>>10)&0x3]
	case 0x2:
		inst.Rd, inst.Rr = fieldD(word), fieldR(word)
		inst.Op = [4]Op{OpAND, OpEOR, OpOR, OpMOV}[(word>>10)&0x3]
	case 0x3, 0x4, 0x5, 0x6, 0x7:
		inst.Rd, inst.K = fieldD16(word), fieldK(word)
		inst.Op = [8]Op{3: OpCPI, 4: OpSBCI, 5: OpSUBI, 6: OpORI, 7: OpANDI}[word>>12]
	case 0x8, 0xA:
		d.decodeDisplacement(word, &inst)
	case 0x9:
		d.decodeGroup9(word, &inst)
	case 0xB:
		inst.Rd, inst.A = fieldD(word), fieldA(word)
		if word&0x0800 == 0 {
			inst.Op = OpIN
		} else {
			inst.Op = OpOUT
		}
	case 0xC, 0xD:
		inst.Offset = signExtend(word&0x0FFF, 12)
		if word>>12 == 0xC {
			inst.Op = OpRJMP
		} else {
			inst.Op = OpRCALL
		}
	case 0xE:
		inst.Op = OpLDI
		inst.Rd, inst.K = fieldD16(word), fieldK(word)
	case 0xF:
		d.decodeGroupF(word, &inst)
	}

	return inst
}

// decodeGroup0 decodes 0000 xxxx xxxx xxxx: NOP, MOVW, the signed and
// fractional multiplies, CPC, SBC and ADD.
func (d *Decoder) decodeGroup0(word uint16, inst *Instruction) {
	switch (word >> 10) & 0x3 {
	case 0x0:
		switch (word >> 8) & 0x3 {
		case 0x0:
			if word == 0 {
				inst.Op = OpNOP
			}
		case 0x1:
			inst.Op = OpMOVW
			inst.Rd = uint8((word & 0xF0) >> 3)
			inst.Rr = uint8((word & 0x0F) << 1)
		case 0x2:
			inst.Op = OpMULS
			inst.Rd = 16 + uint8((word>>4)&0xF)
			inst.Rr = 16 + uint8(word&0xF)
		case 0x3:
			inst.Rd = 16 + uint8((word>>4)&0x7)
			inst.Rr = 16 + uint8(word&0x7)
			switch {
			case word&0x80 != 0 && word&0x08 != 0:
				inst.Op = OpFMULSU
			case word&0x80 != 0:
				inst.Op = OpFMULS
			case word&0x08 != 0:
				inst.Op = OpFMUL
			default:
				inst.Op = OpMULSU
			}
		}
	case 0x1:
		inst.Op = OpCPC
		inst.Rd, inst.Rr = fieldD(word), fieldR(word)
	case 0x2:
		inst.Op = OpSBC
		inst.Rd, inst.Rr = fieldD(word), fieldR(word)
	case 0x3:
		inst.Op = OpADD
		inst.Rd, inst.Rr = fieldD(word), fieldR(word)
	}
}

// decodeDisplacement decodes 10q0 qqxd dddd yqqq: LDD/STD with Y or Z.
// LD Y / LD Z / ST Y / ST Z are the q=0 forms.
func (d *Decoder) decodeDisplacement(word uint16, inst *Instruction) {
	inst.Rd = fieldD(word)
	inst.Q = uint8(word&0x7) | uint8((word>>7)&0x18) | uint8((word>>8)&0x20)

	store := word&0x0200 != 0
	useY := word&0x0008 != 0

	switch {
	case store && useY:
		inst.Op = OpSTDY
	case store:
		inst.Op = OpSTDZ
	case useY:
		inst.Op = OpLDDY
	default:
		inst.Op = OpLDDZ
	}
}

// decodeGroup9 decodes 1001 xxxx xxxx xxxx.
func (d *Decoder) decodeGroup9(word uint16, inst *Instruction) {
	switch (word >> 8) & 0xF {
	case 0x0, 0x1:
		inst.Rd = fieldD(word)
		inst.Op = [16]Op{
			0x0: OpLDS, 0x1: OpLDZInc, 0x2: OpLDZDec,
			0x4: OpLPMZ, 0x5: OpLPMZInc, 0x6: OpELPMZ, 0x7: OpELPMZInc,
			0x9: OpLDYInc, 0xA: OpLDYDec,
			0xC: OpLDX, 0xD: OpLDXInc, 0xE: OpLDXDec, 0xF: OpPOP,
		}[word&0xF]
	case 0x2, 0x3:
		inst.Rd = fieldD(word)
		inst.Op = [16]Op{
			0x0: OpSTS, 0x1: OpSTZInc, 0x2: OpSTZDec,
			0x9: OpSTYInc, 0xA: OpSTYDec,
			0xC: OpSTX, 0xD: OpSTXInc, 0xE: OpSTXDec, 0xF: OpPUSH,
		}[word&0xF]
	case 0x4, 0x5:
		d.decodeGroup94(word, inst)
	case 0x6, 0x7:
		inst.Rd = 24 + uint8((word>>3)&0x6)
		inst.K = uint8(word&0xF) | uint8((word>>2)&0x30)
		if (word>>8)&0xF == 0x6 {
			inst.Op = OpADIW
		} else {
			inst.Op = OpSBIW
		}
	case 0x8, 0x9, 0xA, 0xB:
		inst.A = uint8((word >> 3) & 0x1F)
		inst.Bit = uint8(word & 0x7)
		inst.Op = [4]Op{OpCBI, OpSBIC, OpSBI, OpSBIS}[(word>>8)&0x3]
	default:
		inst.Op = OpMUL
		inst.Rd, inst.Rr = fieldD(word), fieldR(word)
	}
}

// decodeGroup94 decodes 1001 010x xxxx xxxx: one-operand ALU instructions,
// SREG bit set/clear, returns, indirect jumps and the long JMP/CALL.
func (d *Decoder) decodeGroup94(word uint16, inst *Instruction) {
	inst.Rd = fieldD(word)

	switch word & 0xF {
	case 0x0:
		inst.Op = OpCOM
	case 0x1:
		inst.Op = OpNEG
	case 0x2:
		inst.Op = OpSWAP
	case 0x3:
		inst.Op = OpINC
	case 0x5:
		inst.Op = OpASR
	case 0x6:
		inst.Op = OpLSR
	case 0x7:
		inst.Op = OpROR
	case 0x8:
		inst.Rd = 0
		sel := (word >> 4) & 0x1F
		switch {
		case sel < 0x08:
			inst.Op = OpBSET
			inst.Bit = uint8(sel & 0x7)
		case sel < 0x10:
			inst.Op = OpBCLR
			inst.Bit = uint8(sel & 0x7)
		case sel == 0x10:
			inst.Op = OpRET
		case sel == 0x11:
			inst.Op = OpRETI
		case sel == 0x18:
			inst.Op = OpSLEEP
		case sel == 0x19:
			inst.Op = OpBREAK
		case sel == 0x1A:
			inst.Op = OpWDR
		case sel == 0x1C:
			inst.Op = OpLPM
		case sel == 0x1D:
			inst.Op = OpELPM
		}
	case 0x9:
		inst.Rd = 0
		switch (word >> 4) & 0x1F {
		case 0x00:
			inst.Op = OpIJMP
		case 0x01:
			inst.Op = OpEIJMP
		case 0x10:
			inst.Op = OpICALL
		case 0x11:
			inst.Op = OpEICALL
		}
	case 0xA:
		inst.Op = OpDEC
	case 0xC, 0xD:
		inst.Rd = 0
		inst.Op = OpJMP
		inst.High = uint8((word&0x1F0)>>3) | uint8(word&1)
	case 0xE, 0xF:
		inst.Rd = 0
		inst.Op = OpCALL
		inst.High = uint8((word&0x1F0)>>3) | uint8(word&1)
	}
}

// decodeGroupF decodes 1111 xxxx xxxx xxxx: conditional branches on SREG
// bits and the T-flag / register-bit instructions.
func (d *Decoder) decodeGroupF(word uint16, inst *Instruction) {
	inst.Bit = uint8(word & 0x7)

	switch (word >> 9) & 0x7 {
	case 0, 1:
		inst.Op = OpBRBS
		inst.Offset = signExtend((word&0x3F8)>>3, 7)
	case 2, 3:
		inst.Op = OpBRBC
		inst.Offset = signExtend((word&0x3F8)>>3, 7)
	default:
		if word&0x8 != 0 {
			inst.Bit = 0
			return
		}
		inst.Rd = fieldD(word)
		inst.Op = [8]Op{4: OpBLD, 5: OpBST, 6: OpSBRC, 7: OpSBRS}[(word>>9)&0x7]
	}
}

// fieldD extracts xxxx xxxD DDDD xxxx.
func fieldD(word uint16) uint8 {
	return uint8((word >> 4) & 0x1F)
}

// fieldR extracts xxxx xxRx xxxx RRRR.
func fieldR(word uint16) uint8 {
	return uint8(word&0xF) | uint8((word>>5)&0x10)
}

// fieldD16 extracts xxxx xxxx DDDD xxxx as r16..r31.
func fieldD16(word uint16) uint8 {
	return 16 + uint8((word>>4)&0xF)
}

// fieldK extracts xxxx KKKK xxxx KKKK.
func fieldK(word uint16) uint8 {
	return uint8(word&0xF) | uint8((word&0xF00)>>4)
}

// fieldA extracts xxxx xAAx xxxx AAAA.
func fieldA(word uint16) uint8 {
	return uint8(word&0xF) | uint8((word&0x600)>>5)
}

func signExtend(val uint16, bits uint) int16 {
	shift := 16 - bits
	return int16(val<<shift) >> shift
}

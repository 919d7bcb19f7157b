package emu

// SREG is the AVR status register.
type SREG uint8

// SREG bits.
const (
	FlagC SREG = 1 << iota // Carry
	FlagZ                  // Zero
	FlagN                  // Negative
	FlagV                  // Two's complement overflow
	FlagS                  // Sign, N xor V
	FlagH                  // Half carry
	FlagT                  // Bit copy storage
	FlagI                  // Global interrupt enable
)

// Flag sets written by each instruction class.
const (
	MaskArith = FlagH | FlagS | FlagV | FlagN | FlagZ | FlagC
	MaskLogic = FlagS | FlagV | FlagN | FlagZ
	MaskShift = FlagS | FlagV | FlagN | FlagZ | FlagC
	MaskMul   = FlagZ | FlagC
)

// Has reports whether every bit of f is set.
func (s SREG) Has(f SREG) bool {
	return s&f == f
}

// Update replaces the bits selected by mask with those of flags.
func (s SREG) Update(mask, flags SREG) SREG {
	return s&^mask | flags&mask
}

func (s SREG) String() string {
	const names = "CZNVSHTI"

	out := []byte("--------")
	for i := 0; i < 8; i++ {
		if s&(1<<i) != 0 {
			out[7-i] = names[i]
		}
	}

	return string(out)
}

func signFlags(flags SREG) SREG {
	if flags.Has(FlagN) != flags.Has(FlagV) {
		flags |= FlagS
	}

	return flags
}

// Add computes a + b + carry and the H S V N Z C flags.
func Add(a, b uint8, carry bool) (uint8, SREG) {
	r := a + b
	if carry {
		r++
	}

	var flags SREG
	if r&0x80 != 0 {
		flags |= FlagN
	}

	c := a&b | a&^r | b&^r
	if c&0x08 != 0 {
		flags |= FlagH
	}
	if c&0x80 != 0 {
		flags |= FlagC
	}
	if (a&b&^r|^a&^b&r)&0x80 != 0 {
		flags |= FlagV
	}
	if r == 0 {
		flags |= FlagZ
	}

	return r, signFlags(flags)
}

// Sub computes a - b - borrow and the H S V N Z C flags. When chainZ is set
// (SBC, SBCI, CPC) a zero result only keeps Z if prevZ was already set, so
// multi-byte compares see the whole value.
func Sub(a, b uint8, borrow, prevZ, chainZ bool) (uint8, SREG) {
	r := a - b
	if borrow {
		r--
	}

	var flags SREG
	if r&0x80 != 0 {
		flags |= FlagN
	}

	c := ^a&b | b&r | r&^a
	if c&0x08 != 0 {
		flags |= FlagH
	}
	if c&0x80 != 0 {
		flags |= FlagC
	}
	if (a&^b&^r|^a&b&r)&0x80 != 0 {
		flags |= FlagV
	}
	if r == 0 && (!chainZ || prevZ) {
		flags |= FlagZ
	}

	return r, signFlags(flags)
}

// Logic computes the S V N Z flags of a logical result. V is always clear.
func Logic(r uint8) SREG {
	var flags SREG
	if r == 0 {
		flags |= FlagZ
	}
	if r&0x80 != 0 {
		flags |= FlagN | FlagS
	}

	return flags
}

// Com computes the one's complement. C is always set.
func Com(a uint8) (uint8, SREG) {
	r := ^a
	return r, Logic(r) | FlagC
}

// Neg computes the two's complement.
func Neg(a uint8) (uint8, SREG) {
	r := -a

	var flags SREG
	if r == 0 {
		flags |= FlagZ
	} else {
		flags |= FlagC
	}

	switch {
	case r == 0x80:
		flags |= FlagV | FlagN
	case r&0x80 != 0:
		flags |= FlagN | FlagS
	}

	if (r|a)&0x08 != 0 {
		flags |= FlagH
	}

	return r, flags
}

// Inc computes a + 1 and the S V N Z flags.
func Inc(a uint8) (uint8, SREG) {
	r := a + 1

	switch {
	case r == 0x80:
		return r, FlagV | FlagN
	case r&0x80 != 0:
		return r, FlagN | FlagS
	case r == 0:
		return r, FlagZ
	}

	return r, 0
}

// Dec computes a - 1 and the S V N Z flags.
func Dec(a uint8) (uint8, SREG) {
	r := a - 1

	switch {
	case r == 0x7F:
		return r, FlagV | FlagS
	case r&0x80 != 0:
		return r, FlagN | FlagS
	case r == 0:
		return r, FlagZ
	}

	return r, 0
}

func shiftFlags(a, r uint8) SREG {
	var flags SREG
	if a&1 != 0 {
		flags |= FlagC | FlagS
	}
	if r&0x80 != 0 {
		flags |= FlagN
	}
	if flags.Has(FlagN) != flags.Has(FlagC) {
		flags |= FlagV
	}
	if r == 0 {
		flags |= FlagZ
	}

	return flags
}

// ShiftRight computes LSR, or ASR when arith is set.
func ShiftRight(a uint8, arith bool) (uint8, SREG) {
	r := a >> 1
	if arith {
		r |= a & 0x80
	}

	return r, shiftFlags(a, r)
}

// RotateRight computes ROR through the carry.
func RotateRight(a uint8, carry bool) (uint8, SREG) {
	r := a >> 1
	if carry {
		r |= 0x80
	}

	return r, shiftFlags(a, r)
}

// AddWord computes the ADIW result and its S V N Z C flags.
func AddWord(a uint16, k uint8) (uint16, SREG) {
	r := a + uint16(k)

	var flags SREG
	if r == 0 {
		flags |= FlagZ
	}
	if r&0x8000 != 0 {
		flags |= FlagN
	}
	if ^r&a&0x8000 != 0 {
		flags |= FlagC
	}
	if r&^a&0x8000 != 0 {
		flags |= FlagV
	}
	if ((r&^a)^r)&0x8000 != 0 {
		flags |= FlagS
	}

	return r, flags
}

// SubWord computes the SBIW result and its S V N Z C flags.
func SubWord(a uint16, k uint8) (uint16, SREG) {
	r := a - uint16(k)

	var flags SREG
	if r == 0 {
		flags |= FlagZ
	}
	if r&0x8000 != 0 {
		flags |= FlagN
	}
	if r&^a&0x8000 != 0 {
		flags |= FlagC
	}
	if ^r&a&0x8000 != 0 {
		flags |= FlagV
	}
	if ((^r&a)^r)&0x8000 != 0 {
		flags |= FlagS
	}

	return r, flags
}

// Mul computes the Z and C flags of a 16-bit product.
func Mul(res uint16) SREG {
	var flags SREG
	if res == 0 {
		flags |= FlagZ
	}
	if res&0x8000 != 0 {
		flags |= FlagC
	}

	return flags
}

// ALU applies the flag evaluator to the register file.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// Add performs Rd = Rd + v (+ C when withCarry).
func (a *ALU) Add(rd uint8, v uint8, withCarry bool) {
	sreg := a.regFile.SREG()
	r, flags := Add(a.regFile.Byte(rd), v, withCarry && sreg.Has(FlagC))
	a.regFile.SetByte(rd, r)
	a.regFile.SetSREG(sreg.Update(MaskArith, flags))
}

// Sub performs Rd - v (- C when withCarry) and stores the result unless
// compareOnly is set.
func (a *ALU) Sub(rd uint8, v uint8, withCarry, compareOnly bool) {
	sreg := a.regFile.SREG()
	r, flags := Sub(a.regFile.Byte(rd), v,
		withCarry && sreg.Has(FlagC), sreg.Has(FlagZ), withCarry)
	if !compareOnly {
		a.regFile.SetByte(rd, r)
	}
	a.regFile.SetSREG(sreg.Update(MaskArith, flags))
}

// Logic stores a logical result into Rd and updates S V N Z.
func (a *ALU) Logic(rd uint8, r uint8) {
	a.regFile.SetByte(rd, r)
	a.regFile.UpdateSREG(MaskLogic, Logic(r))
}

// Unary applies a one-operand operation to Rd and merges the flags in mask.
func (a *ALU) Unary(rd uint8, mask SREG, op func(uint8) (uint8, SREG)) {
	r, flags := op(a.regFile.Byte(rd))
	a.regFile.SetByte(rd, r)
	a.regFile.UpdateSREG(mask, flags)
}

// Mul stores a product in r1:r0 and updates Z and C.
func (a *ALU) Mul(res uint16) {
	a.regFile.SetWord(0, res)
	a.regFile.UpdateSREG(MaskMul, Mul(res))
}

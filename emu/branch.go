package emu

// BranchUnit implements AVR control transfer. All addresses are flash word
// indices.
type BranchUnit struct {
	regFile *RegFile
	lsu     *LoadStoreUnit
	pc22    bool
}

// NewBranchUnit creates a new BranchUnit connected to the given register
// file and stack.
func NewBranchUnit(regFile *RegFile, lsu *LoadStoreUnit, pc22 bool) *BranchUnit {
	return &BranchUnit{regFile: regFile, lsu: lsu, pc22: pc22}
}

// PC22 reports whether return addresses are three bytes wide.
func (b *BranchUnit) PC22() bool {
	return b.pc22
}

// CheckCondition reports whether SREG bit is set (set == true) or clear.
func (b *BranchUnit) CheckCondition(bit uint8, set bool) bool {
	return b.regFile.SREG().Has(1<<(bit&7)) == set
}

// Relative returns next + offset.
func (b *BranchUnit) Relative(next uint32, offset int16) uint32 {
	return uint32(int32(next) + int32(offset))
}

// Call pushes ret and returns the extra cycles the call costs beyond the
// base cycle.
func (b *BranchUnit) Call(ret uint32) (uint64, error) {
	if err := b.lsu.PushReturn(ret, b.pc22); err != nil {
		return 0, err
	}

	return b.callCycles(), nil
}

// Return pops a return address and reports the extra cycles of RET.
func (b *BranchUnit) Return() (uint32, uint64, error) {
	ret, err := b.lsu.PopReturn(b.pc22)
	if err != nil {
		return 0, 0, err
	}

	return ret, b.callCycles(), nil
}

func (b *BranchUnit) callCycles() uint64 {
	if b.pc22 {
		return 4
	}

	return 3
}

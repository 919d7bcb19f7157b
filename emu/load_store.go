package emu

// LoadStoreUnit implements AVR data-space addressing and the stack.
type LoadStoreUnit struct {
	regFile *RegFile
	memory  *Memory
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and memory.
func NewLoadStoreUnit(regFile *RegFile, memory *Memory) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		memory:  memory,
	}
}

// Indirect returns the address held by pointer pair ptr (X, Y or Z).
func (lsu *LoadStoreUnit) Indirect(ptr uint8) uint32 {
	return uint32(lsu.regFile.Word(ptr))
}

// PostInc returns the pointer value and then increments the pointer.
func (lsu *LoadStoreUnit) PostInc(ptr uint8) uint32 {
	v := lsu.regFile.Word(ptr)
	lsu.regFile.SetWord(ptr, v+1)

	return uint32(v)
}

// PreDec decrements the pointer and returns the new value.
func (lsu *LoadStoreUnit) PreDec(ptr uint8) uint32 {
	v := lsu.regFile.Word(ptr) - 1
	lsu.regFile.SetWord(ptr, v)

	return uint32(v)
}

// Displaced returns pointer + q.
func (lsu *LoadStoreUnit) Displaced(ptr uint8, q uint8) uint32 {
	return uint32(lsu.regFile.Word(ptr)) + uint32(q)
}

// Load reads one data-space byte.
func (lsu *LoadStoreUnit) Load(addr uint32) uint8 {
	return lsu.memory.Data.Read8(addr)
}

// ExtendedZ returns RAMPZ:Z.
func (lsu *LoadStoreUnit) ExtendedZ() uint32 {
	return uint32(lsu.regFile.RAMPZ())<<16 | uint32(lsu.regFile.Z())
}

// SetExtendedZ writes RAMPZ:Z.
func (lsu *LoadStoreUnit) SetExtendedZ(v uint32) {
	lsu.regFile.SetWord(RegZ, uint16(v))
	lsu.memory.Data.Write8(AddrRAMPZ, uint8(v>>16))
}

// ProgramByte reads a flash byte for LPM/ELPM.
func (lsu *LoadStoreUnit) ProgramByte(addr uint32) uint8 {
	return lsu.memory.Code.Byte(addr)
}

// Push stores v at SP and decrements SP.
func (lsu *LoadStoreUnit) Push(v uint8) {
	sp := lsu.regFile.SP()
	lsu.memory.Data.Write8(uint32(sp), v)
	lsu.regFile.SetSP(sp - 1)
}

// Pop increments SP and loads the byte there.
func (lsu *LoadStoreUnit) Pop() uint8 {
	sp := lsu.regFile.SP() + 1
	lsu.regFile.SetSP(sp)

	return lsu.memory.Data.Read8(uint32(sp))
}

// PushReturn pushes a word-index return address, high byte at the lower
// address. With pc22 a third byte carries bits 23:16. The two low bytes
// move as one 16-bit access, so a strict alignment policy faults on an odd
// stack slot.
func (lsu *LoadStoreUnit) PushReturn(ret uint32, pc22 bool) error {
	sp := uint32(lsu.regFile.SP())

	// The 16-bit little-endian store puts the high byte at sp-1.
	slot := uint64(ret>>8&0xFF) | uint64(ret&0xFF)<<8
	if err := lsu.memory.Data.Write((sp-1)&0xFFFF, 2, slot); err != nil {
		return err
	}

	sp -= 2
	if pc22 {
		lsu.memory.Data.Write8(sp&0xFFFF, uint8(ret>>16))
		sp--
	}

	lsu.regFile.SetSP(uint16(sp))

	return nil
}

// PopReturn pops a return address pushed by PushReturn.
func (lsu *LoadStoreUnit) PopReturn(pc22 bool) (uint32, error) {
	sp := uint32(lsu.regFile.SP())

	var ret uint32
	if pc22 {
		sp++
		ret = uint32(lsu.memory.Data.Read8(sp&0xFFFF)) << 16
	}

	slot, err := lsu.memory.Data.Read((sp+1)&0xFFFF, 2)
	if err != nil {
		return 0, err
	}

	ret |= uint32(slot&0xFF)<<8 | uint32(slot>>8)
	lsu.regFile.SetSP(uint16(sp + 2))

	return ret, nil
}

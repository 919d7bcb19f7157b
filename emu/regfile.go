// Package emu provides functional AVR emulation.
package emu

import "fmt"

// Data-space addresses of the memory-mapped CPU registers.
const (
	IOBase    = 0x20 // I/O register n lives at IOBase+n
	AddrRAMPZ = 0x5B
	AddrEIND  = 0x5C
	AddrSPL   = 0x5D
	AddrSPH   = 0x5E
	AddrSREG  = 0x5F

	RegX = 26
	RegY = 28
	RegZ = 30
)

// Harness register numbers.
const (
	RegSREG = 32
	RegSP   = 33
	RegPC   = 34
	NumRegs = 35
)

// RegFile is a view of the AVR register state. The general registers, SP
// and SREG are memory mapped, so they are read and written through the
// data space. Only the PC lives outside it.
type RegFile struct {
	data *DataMemory
	pc   uint32 // word index
	mask uint32 // flash word mask
}

// NewRegFile creates a register file over the given data space. flashMask
// is applied to every PC update.
func NewRegFile(data *DataMemory, flashMask uint32) *RegFile {
	return &RegFile{data: data, mask: flashMask}
}

// RegWidth returns the width in bytes of harness register i, or 0 if i is
// not a register.
func RegWidth(i int) int {
	switch {
	case i >= 0 && i < 32:
		return 1
	case i == RegSREG:
		return 1
	case i == RegSP:
		return 2
	case i == RegPC:
		return 4
	default:
		return 0
	}
}

// Get reads harness register i. PC reads as a byte address.
func (r *RegFile) Get(i int) uint32 {
	switch {
	case i >= 0 && i < 32:
		return uint32(r.data.Read8(uint32(i)))
	case i == RegSREG:
		return uint32(r.SREG())
	case i == RegSP:
		return uint32(r.SP())
	case i == RegPC:
		return r.PCGet()
	}

	panic(fmt.Sprintf("register %d out of range", i))
}

// Set writes harness register i, truncating the value to its width.
func (r *RegFile) Set(i int, v uint32) {
	switch {
	case i >= 0 && i < 32:
		r.data.Write8(uint32(i), uint8(v))
	case i == RegSREG:
		r.SetSREG(SREG(v))
	case i == RegSP:
		r.SetSP(uint16(v))
	case i == RegPC:
		r.PCSet(v)
	default:
		panic(fmt.Sprintf("register %d out of range", i))
	}
}

// PCGet returns the PC as a flash byte address.
func (r *RegFile) PCGet() uint32 {
	return r.pc << 1
}

// PCSet sets the PC from a flash byte address.
func (r *RegFile) PCSet(byteAddr uint32) {
	r.pc = (byteAddr >> 1) & r.mask
}

// PC returns the PC as a word index.
func (r *RegFile) PC() uint32 {
	return r.pc
}

// SetPC sets the PC from a word index.
func (r *RegFile) SetPC(word uint32) {
	r.pc = word & r.mask
}

// Byte reads general register n.
func (r *RegFile) Byte(n uint8) uint8 {
	return r.data.Read8(uint32(n & 0x1F))
}

// SetByte writes general register n.
func (r *RegFile) SetByte(n uint8, v uint8) {
	r.data.Write8(uint32(n&0x1F), v)
}

// SignedByte reads general register n as a signed value.
func (r *RegFile) SignedByte(n uint8) int8 {
	return int8(r.Byte(n))
}

// Word reads the register pair r[n+1]:r[n].
func (r *RegFile) Word(n uint8) uint16 {
	return uint16(r.Byte(n)) | uint16(r.Byte(n+1))<<8
}

// SignedWord reads the register pair r[n+1]:r[n] as a signed value.
func (r *RegFile) SignedWord(n uint8) int16 {
	return int16(r.Word(n))
}

// SetWord writes the register pair r[n+1]:r[n].
func (r *RegFile) SetWord(n uint8, v uint16) {
	r.SetByte(n, uint8(v))
	r.SetByte(n+1, uint8(v>>8))
}

// X returns the X pointer (r27:r26).
func (r *RegFile) X() uint16 { return r.Word(RegX) }

// Y returns the Y pointer (r29:r28).
func (r *RegFile) Y() uint16 { return r.Word(RegY) }

// Z returns the Z pointer (r31:r30).
func (r *RegFile) Z() uint16 { return r.Word(RegZ) }

// SP returns the stack pointer.
func (r *RegFile) SP() uint16 {
	return uint16(r.data.Read8(AddrSPL)) | uint16(r.data.Read8(AddrSPH))<<8
}

// SetSP sets the stack pointer.
func (r *RegFile) SetSP(v uint16) {
	r.data.Write8(AddrSPL, uint8(v))
	r.data.Write8(AddrSPH, uint8(v>>8))
}

// SREG returns the status register.
func (r *RegFile) SREG() SREG {
	return SREG(r.data.Read8(AddrSREG))
}

// SetSREG sets the status register.
func (r *RegFile) SetSREG(s SREG) {
	r.data.Write8(AddrSREG, uint8(s))
}

// UpdateSREG replaces the bits selected by mask with those of flags.
func (r *RegFile) UpdateSREG(mask, flags SREG) {
	r.SetSREG(r.SREG().Update(mask, flags))
}

// RAMPZ returns the extended Z pointer byte used by ELPM.
func (r *RegFile) RAMPZ() uint8 {
	return r.data.Read8(AddrRAMPZ)
}

// EIND returns the extended indirect jump byte used by EIJMP and EICALL.
func (r *RegFile) EIND() uint8 {
	return r.data.Read8(AddrEIND)
}

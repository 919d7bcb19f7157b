package benchmarks

import (
	"encoding/binary"

	"github.com/sarchlab/avrsim/emu"
)

// Helper functions for building AVR programs

// BuildProgram assembles opcode words into a little-endian flash image.
func BuildProgram(words ...uint16) []byte {
	program := make([]byte, 0, len(words)*2)
	for _, w := range words {
		program = binary.LittleEndian.AppendUint16(program, w)
	}
	return program
}

// Concat joins instruction sequences.
func Concat(seqs ...[]uint16) []uint16 {
	var out []uint16
	for _, s := range seqs {
		out = append(out, s...)
	}
	return out
}

// Repeat returns n copies of seq.
func Repeat(n int, seq ...uint16) []uint16 {
	out := make([]uint16, 0, n*len(seq))
	for i := 0; i < n; i++ {
		out = append(out, seq...)
	}
	return out
}

func encodeReg2(base uint16, d, r uint8) uint16 {
	return base | uint16(r&0x10)<<5 | uint16(d&0x1F)<<4 | uint16(r&0xF)
}

func encodeImm(base uint16, d, k uint8) uint16 {
	return base | uint16(k&0xF0)<<4 | uint16((d-16)&0xF)<<4 | uint16(k&0xF)
}

func encodeOne(base uint16, d uint8) uint16 {
	return base | uint16(d&0x1F)<<4
}

// EncodeADD encodes ADD Rd, Rr.
func EncodeADD(d, r uint8) uint16 { return encodeReg2(0x0C00, d, r) }

// EncodeEOR encodes EOR Rd, Rr.
func EncodeEOR(d, r uint8) uint16 { return encodeReg2(0x2400, d, r) }

// EncodeMOV encodes MOV Rd, Rr.
func EncodeMOV(d, r uint8) uint16 { return encodeReg2(0x2C00, d, r) }

// EncodeMUL encodes MUL Rd, Rr.
func EncodeMUL(d, r uint8) uint16 { return encodeReg2(0x9C00, d, r) }

// EncodeLDI encodes LDI Rd, K for r16..r31.
func EncodeLDI(d, k uint8) uint16 { return encodeImm(0xE000, d, k) }

// EncodeSUBI encodes SUBI Rd, K for r16..r31.
func EncodeSUBI(d, k uint8) uint16 { return encodeImm(0x5000, d, k) }

// EncodeINC encodes INC Rd.
func EncodeINC(d uint8) uint16 { return encodeOne(0x9403, d) }

// EncodeDEC encodes DEC Rd.
func EncodeDEC(d uint8) uint16 { return encodeOne(0x940A, d) }

// EncodePUSH encodes PUSH Rr.
func EncodePUSH(r uint8) uint16 { return encodeOne(0x920F, r) }

// EncodePOP encodes POP Rd.
func EncodePOP(d uint8) uint16 { return encodeOne(0x900F, d) }

// EncodeSTXInc encodes ST X+, Rr.
func EncodeSTXInc(r uint8) uint16 { return encodeOne(0x920D, r) }

// EncodeLDXInc encodes LD Rd, X+.
func EncodeLDXInc(d uint8) uint16 { return encodeOne(0x900D, d) }

// EncodeSBIW encodes SBIW Rd+1:Rd, K for the pairs r24, X, Y and Z.
func EncodeSBIW(d, k uint8) uint16 {
	return 0x9700 | uint16(k&0x30)<<2 | uint16((d-24)/2)<<4 | uint16(k&0xF)
}

// EncodeRJMP encodes RJMP with a word offset from the next instruction.
func EncodeRJMP(offset int16) uint16 { return 0xC000 | uint16(offset)&0x0FFF }

// EncodeRCALL encodes RCALL with a word offset from the next instruction.
func EncodeRCALL(offset int16) uint16 { return 0xD000 | uint16(offset)&0x0FFF }

// EncodeBRNE encodes BRNE with a word offset from the next instruction.
func EncodeBRNE(offset int8) uint16 { return 0xF401 | (uint16(offset)&0x7F)<<3 }

// EncodeRET encodes RET.
func EncodeRET() uint16 { return 0x9508 }

// EncodeOUT encodes OUT A, Rr.
func EncodeOUT(a, r uint8) uint16 {
	return 0xB800 | uint16(a&0x30)<<5 | uint16(r&0x1F)<<4 | uint16(a&0xF)
}

// EncodeExit stores r24 to the exit port, which ends the program with
// status r25:r24.
func EncodeExit() uint16 { return EncodeOUT(emu.PortExit-emu.IOBase, 24) }

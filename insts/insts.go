// Package insts provides AVR instruction definitions and decoding.
//
// This package turns 16-bit AVR opcode words into structured instruction
// representations. Every operand field is extracted once at decode time, so
// the dispatcher switches on the small Op tag and never looks at the raw
// bits again. Decoding is pure: the same word always yields the same
// Instruction, which is what lets the emulator memoize it per flash slot.
//
// Two-word instructions (JMP, CALL, LDS, STS) decode from their first word
// only; Words reports 2 so the caller knows to consume the following word.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0xE005) // LDI R16, 0x05
//	fmt.Printf("Op: %v, Rd: %d, K: %d\n", inst.Op, inst.Rd, inst.K)
package insts

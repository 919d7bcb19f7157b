package benchmarks

import "github.com/sarchlab/avrsim/emu"

// GetMicrobenchmarks returns the standard set of AVR microbenchmarks. Each
// one targets a class of instructions and its cycle cost.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchTaken(),
		mixedOperations(),
		matrixMultiply2x2(),
		loopSimulation(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation: a loop,
// multiplies and branches.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		loopSimulation(),
		matrixMultiply2x2(),
		branchTaken(),
	}
}

// 1. Arithmetic Sequential - independent ADDs rotating over five registers
func arithmeticSequential() Benchmark {
	var adds []uint16
	for i := 0; i < 20; i++ {
		adds = append(adds, EncodeADD(20+uint8(i%5), 16))
	}

	return Benchmark{
		Name:        "arithmetic_sequential",
		Description: "20 independent ADD operations",
		Program: BuildProgram(Concat(
			[]uint16{EncodeLDI(16, 1)},
			adds,
			[]uint16{EncodeExit()},
		)...),
		ExpectedExit:   4, // r24 is added to 4 times
		ExpectedCycles: 22,
	}
}

// 2. Dependency Chain - every INC reads the previous result
func dependencyChain() Benchmark {
	return Benchmark{
		Name:        "dependency_chain",
		Description: "20 dependent INCs of r24",
		Setup: func(rf *emu.RegFile, _ *emu.Memory) {
			rf.SetByte(24, 0)
		},
		Program:        BuildProgram(append(Repeat(20, EncodeINC(24)), EncodeExit())...),
		ExpectedExit:   20,
		ExpectedCycles: 21,
	}
}

// 3. Memory Sequential - stores a run of bytes through X+, then sums them
func memorySequential() Benchmark {
	return Benchmark{
		Name:        "memory_sequential",
		Description: "10 ST X+ then 10 LD X+ over consecutive SRAM bytes",
		Setup: func(rf *emu.RegFile, _ *emu.Memory) {
			rf.SetWord(emu.RegX, 0x0200)
			rf.SetByte(24, 42)
		},
		Program: BuildProgram(Concat(
			Repeat(10, EncodeSTXInc(24), EncodeINC(24)),
			[]uint16{EncodeSBIW(emu.RegX, 10), EncodeEOR(24, 24)},
			Repeat(10, EncodeLDXInc(16), EncodeADD(24, 16)),
			[]uint16{EncodeExit()},
		)...),
		ExpectedExit:   (42 + 51) * 10 / 2 % 256,
		ExpectedCycles: 64,
	}
}

// 4. Function Calls - RCALL/RET pairs around a one-instruction body
func functionCalls() Benchmark {
	// Five calls at words 0..4, exit at 5, the function at 6.
	var calls []uint16
	for i := 0; i < 5; i++ {
		calls = append(calls, EncodeRCALL(int16(5-i)))
	}

	return Benchmark{
		Name:        "function_calls",
		Description: "5 RCALL/RET pairs",
		Program: BuildProgram(Concat(
			calls,
			[]uint16{EncodeExit(), EncodeINC(24), EncodeRET()},
		)...),
		ExpectedExit:   5,
		ExpectedCycles: 46,
	}
}

// 5. Branch Taken - RJMP over a poisoning LDI
func branchTaken() Benchmark {
	return Benchmark{
		Name:        "branch_taken",
		Description: "5 taken RJMPs that skip an instruction",
		Program: BuildProgram(Concat(
			Repeat(5, EncodeRJMP(1), EncodeLDI(24, 0xFF), EncodeINC(24)),
			[]uint16{EncodeExit()},
		)...),
		ExpectedExit:   5,
		ExpectedCycles: 16,
	}
}

// 6. Mixed Operations - stack, immediate and logic instructions
func mixedOperations() Benchmark {
	return Benchmark{
		Name:        "mixed_operations",
		Description: "PUSH, SUBI, POP and EOR",
		Program: BuildProgram(
			EncodeLDI(24, 100),
			EncodePUSH(24),
			EncodeSUBI(24, 30),
			EncodePOP(16),
			EncodeEOR(24, 16),
			EncodeExit(),
		),
		ExpectedExit:   70 ^ 100,
		ExpectedCycles: 8,
	}
}

// 7. Matrix Multiply - trace of the product of [[1,2],[3,4]] and [[5,6],[7,8]]
func matrixMultiply2x2() Benchmark {
	mulAdd := func(a, b uint8) []uint16 {
		return []uint16{EncodeLDI(16, a), EncodeLDI(17, b), EncodeMUL(16, 17), EncodeADD(24, 0)}
	}

	return Benchmark{
		Name:        "matrix_multiply_2x2",
		Description: "Trace of a 2x2 matrix product using MUL",
		Program: BuildProgram(Concat(
			mulAdd(1, 5), mulAdd(2, 7),
			mulAdd(3, 6), mulAdd(4, 8),
			[]uint16{EncodeExit()},
		)...),
		ExpectedExit:   19 + 50,
		ExpectedCycles: 21,
	}
}

// 8. Loop Simulation - DEC/BRNE counted loop
func loopSimulation() Benchmark {
	return Benchmark{
		Name:        "loop_simulation",
		Description: "10 iterations of INC, DEC and BRNE",
		Program: BuildProgram(
			EncodeLDI(16, 10),
			EncodeINC(24), // loop:
			EncodeDEC(16),
			EncodeBRNE(-3),
			EncodeExit(),
		),
		ExpectedExit:   10,
		ExpectedCycles: 41,
	}
}

// Package loader reads AVR programs for the emulator.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/avrsim/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// AVR ELF header details.
const (
	machMask  = 0x7F // EF_AVR_MACH
	MachAVR6  = 6    // first machine with a 22-bit PC
	flagsOff  = 36   // e_flags in an ELF32 header
	flagsSize = 4
)

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// Addr is the load (physical) address in the harness address map:
	// flash bytes below emu.DataSpaceBase, data space above.
	Addr uint32
	// VirtAddr is the run-time address. It differs from Addr for
	// initialized data that startup code copies out of flash.
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded AVR program ready for execution.
type Program struct {
	// EntryPoint is the flash byte address where execution begins.
	EntryPoint uint32
	// Machine is the AVR machine number from e_flags, 0 if unknown.
	Machine int
	// Segments contains all loadable segments.
	Segments []Segment
}

// PC22 reports whether the machine pushes three-byte return addresses.
func (p *Program) PC22() bool {
	return p.Machine >= MachAVR6
}

// Image converts the program for emu.Emulator.LoadProgram. Segments are
// zero-filled up to their memory size.
func (p *Program) Image() emu.Image {
	img := emu.Image{
		Entry:   p.EntryPoint,
		Machine: p.Machine,
		PC22:    p.PC22(),
	}

	for _, seg := range p.Segments {
		data := seg.Data
		if int(seg.MemSize) > len(data) {
			data = make([]byte, seg.MemSize)
			copy(data, seg.Data)
		}

		img.Segments = append(img.Segments, emu.Segment{Addr: seg.Addr, Data: data})
	}

	return img
}

// Load parses an AVR ELF binary and returns a Program struct ready for
// loading into the emulator's memory.
func Load(path string) (*Program, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = file.Close() }()

	f, err := elf.NewFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}

	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}

	if f.Machine != elf.EM_AVR {
		return nil, fmt.Errorf("not an AVR ELF file (machine type: %v)", f.Machine)
	}

	var flags [flagsSize]byte
	if _, err := file.ReadAt(flags[:], flagsOff); err != nil {
		return nil, fmt.Errorf("failed to read ELF flags: %w", err)
	}

	prog := &Program{
		EntryPoint: uint32(f.Entry),
		Machine:    int(f.ByteOrder.Uint32(flags[:]) & machMask),
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Paddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Paddr, n, phdr.Filesz)
			}
		}

		prog.Segments = append(prog.Segments, Segment{
			Addr:     uint32(phdr.Paddr),
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    segmentFlags(phdr.Flags),
		})
	}

	return prog, nil
}

// LoadRaw reads a flat binary image that starts at flash address 0.
func LoadRaw(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read binary: %w", err)
	}

	return &Program{
		Segments: []Segment{{
			Data:    data,
			MemSize: uint32(len(data)),
			Flags:   SegmentFlagRead | SegmentFlagExecute,
		}},
	}, nil
}

func segmentFlags(pf elf.ProgFlag) SegmentFlags {
	var flags SegmentFlags
	if pf&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if pf&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if pf&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}

	return flags
}
